// Package diag turns arena and slab bookkeeping into renderable
// snapshots: a human dump (go-spew), a compact wire encoding
// (hand-written msgp, mirroring the teacher's own binary wire structs
// in its module registry loader), and a live push over a
// brotli-compressed websocket connection.
package diag

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/nyxkernel/vmem/arena"
	"github.com/nyxkernel/vmem/slab"
)

// ArenaSnapshot is the wire/dump form of arena.Snapshot. No go:generate
// codegen runs in this environment, so MarshalMsg/UnmarshalMsg below are
// hand-written against the msgp runtime package rather than produced by
// the msgp tool, using an array encoding (field order is part of the
// wire contract, not a map keyed by field name) to keep the payload
// small for the websocket push path.
type ArenaSnapshot arena.Snapshot

// SegmentSnapshot is the wire form of arena.SegmentSnapshot.
type SegmentSnapshot arena.SegmentSnapshot

// FromArena builds an ArenaSnapshot from a live arena.
func FromArena(a *arena.Arena) ArenaSnapshot {
	return ArenaSnapshot(a.Snapshot())
}

// MarshalMsg appends the msgpack encoding of s to b.
func (s *ArenaSnapshot) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendArrayHeader(b, 10)
	o = msgp.AppendString(o, s.Name)
	o = msgp.AppendUint64(o, uint64(s.Quantum))
	o = msgp.AppendBool(o, s.IsBase)
	o = msgp.AppendString(o, s.SourceName)
	o = msgp.AppendUint64(o, uint64(s.AmtTotal))
	o = msgp.AppendUint64(o, uint64(s.AmtAllocated))
	o = msgp.AppendUint64(o, uint64(s.AmtFree))
	o = msgp.AppendUint64(o, uint64(s.NrAllocs))
	o = msgp.AppendUint64(o, uint64(s.NrSegs))
	o = msgp.AppendArrayHeader(o, uint32(len(s.Segments)))
	for _, seg := range s.Segments {
		o = msgp.AppendUint64(o, uint64(seg.Start))
		o = msgp.AppendUint64(o, uint64(seg.Size))
		o = msgp.AppendString(o, seg.Status)
	}
	return o, nil
}

// UnmarshalMsg decodes an ArenaSnapshot from the front of bts, returning
// the remaining unread bytes.
func (s *ArenaSnapshot) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, o, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	if sz != 10 {
		return bts, msgp.ArrayError{Wanted: 10, Got: sz}
	}
	if s.Name, o, err = msgp.ReadStringBytes(o); err != nil {
		return bts, err
	}
	var u uint64
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.Quantum = uintptr(u)
	if s.IsBase, o, err = msgp.ReadBoolBytes(o); err != nil {
		return bts, err
	}
	if s.SourceName, o, err = msgp.ReadStringBytes(o); err != nil {
		return bts, err
	}
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.AmtTotal = uintptr(u)
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.AmtAllocated = uintptr(u)
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.AmtFree = uintptr(u)
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.NrAllocs = uintptr(u)
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.NrSegs = uintptr(u)
	var segCount uint32
	if segCount, o, err = msgp.ReadArrayHeaderBytes(o); err != nil {
		return bts, err
	}
	s.Segments = make([]arena.SegmentSnapshot, segCount)
	for i := range s.Segments {
		if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
			return bts, err
		}
		s.Segments[i].Start = uintptr(u)
		if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
			return bts, err
		}
		s.Segments[i].Size = uintptr(u)
		if s.Segments[i].Status, o, err = msgp.ReadStringBytes(o); err != nil {
			return bts, err
		}
	}
	return o, nil
}

// CacheSnapshot is the wire/dump form of slab.CacheSnapshot.
type CacheSnapshot slab.CacheSnapshot

// FromCache builds a CacheSnapshot from a live cache.
func FromCache(c *slab.Cache) CacheSnapshot {
	return CacheSnapshot(c.Snapshot())
}

// MarshalMsg appends the msgpack encoding of s to b.
func (s *CacheSnapshot) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendArrayHeader(b, 11)
	o = msgp.AppendString(o, s.Name)
	o = msgp.AppendUint64(o, uint64(s.ObjSize))
	o = msgp.AppendUint64(o, uint64(s.Align))
	o = msgp.AppendUint64(o, uint64(s.SlotSize))
	o = msgp.AppendBool(o, s.Large)
	o = msgp.AppendUint64(o, uint64(s.Order))
	o = msgp.AppendUint64(o, uint64(s.NumTotal))
	o = msgp.AppendUint64(o, uint64(s.NrCurAlloc))
	o = msgp.AppendInt(o, s.NrEmpty)
	o = msgp.AppendInt(o, s.NrPartial)
	o = msgp.AppendInt(o, s.NrFull)
	return o, nil
}

// UnmarshalMsg decodes a CacheSnapshot from the front of bts, returning
// the remaining unread bytes.
func (s *CacheSnapshot) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, o, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	if sz != 11 {
		return bts, msgp.ArrayError{Wanted: 11, Got: sz}
	}
	if s.Name, o, err = msgp.ReadStringBytes(o); err != nil {
		return bts, err
	}
	var u uint64
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.ObjSize = uintptr(u)
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.Align = uintptr(u)
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.SlotSize = uintptr(u)
	if s.Large, o, err = msgp.ReadBoolBytes(o); err != nil {
		return bts, err
	}
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.Order = uint(u)
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.NumTotal = uint(u)
	if u, o, err = msgp.ReadUint64Bytes(o); err != nil {
		return bts, err
	}
	s.NrCurAlloc = uintptr(u)
	if s.NrEmpty, o, err = msgp.ReadIntBytes(o); err != nil {
		return bts, err
	}
	if s.NrPartial, o, err = msgp.ReadIntBytes(o); err != nil {
		return bts, err
	}
	if s.NrFull, o, err = msgp.ReadIntBytes(o); err != nil {
		return bts, err
	}
	return o, nil
}
