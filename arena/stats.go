package arena

import "fmt"

// AmtTotal returns the total bytes this arena has ever added via a
// span, own or imported, currently outstanding.
func (a *Arena) AmtTotal() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.amtTotalSegs
}

// AmtAllocated returns bytes currently handed out and not yet freed.
func (a *Arena) AmtAllocated() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.amtAllocSegs
}

// AmtFree returns bytes currently sitting on a free list.
func (a *Arena) AmtFree() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.amtTotalSegs - a.amtAllocSegs
}

// Snapshot is a point-in-time rendering of an arena's bookkeeping,
// shaped for diag's three render paths (spew dump, msgp wire encode,
// websocket push) rather than for the tree itself.
type Snapshot struct {
	Name         string
	Quantum      uintptr
	IsBase       bool
	SourceName   string
	AmtTotal     uintptr
	AmtAllocated uintptr
	AmtFree      uintptr
	NrAllocs     uintptr
	NrSegs       uintptr
	Segments     []SegmentSnapshot
}

// SegmentSnapshot describes one boundary tag.
type SegmentSnapshot struct {
	Start  uintptr
	Size   uintptr
	Status string
}

// Snapshot walks all_segs in address order and renders it, the
// structured replacement for a raw print_arena_stats dump.
func (a *Arena) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Name:         a.name,
		Quantum:      a.quantum,
		IsBase:       a.isBase,
		AmtTotal:     a.amtTotalSegs,
		AmtAllocated: a.amtAllocSegs,
		AmtFree:      a.amtTotalSegs - a.amtAllocSegs,
		NrAllocs:     a.nrAllocs,
		NrSegs:       a.nrSegs,
	}
	if a.source != nil {
		snap.SourceName = a.source.name
	}
	for n := treeFirst(a.root); n != nil; n = treeNext(n) {
		snap.Segments = append(snap.Segments, SegmentSnapshot{Start: n.start, Size: n.size, Status: n.status.String()})
	}
	return snap
}

// checkInvariants walks all_segs verifying the bookkeeping is
// internally consistent: segments are disjoint and ordered, amtTotal
// matches the sum of segment sizes, amtAlloc matches the sum of ALLOC
// segment sizes, nrAllocs matches the count of ALLOC segments, and every
// free segment sits in the free_segs bucket its size class names. It is
// the Go analogue of __arena_asserter, called from tests rather than on
// every hot-path operation.
func (a *Arena) checkInvariants() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var totalSeen, allocSeen, allocCount uintptr
	var prevEnd uintptr
	first := true
	for n := treeFirst(a.root); n != nil; n = treeNext(n) {
		// A SPAN shares its range with the segments carved from it,
		// so only non-span segments take part in the overlap check.
		if n.status == Span {
			continue
		}
		if !first && n.start < prevEnd {
			return fmt.Errorf("arena %q: overlapping segments at %#x", a.name, n.start)
		}
		first = false
		prevEnd = n.end()
		totalSeen += n.size
		if n.status == Alloc {
			allocSeen += n.size
			allocCount++
		}
	}
	if totalSeen != a.amtTotalSegs {
		return fmt.Errorf("arena %q: amtTotalSegs %d != observed %d", a.name, a.amtTotalSegs, totalSeen)
	}
	if allocSeen != a.amtAllocSegs {
		return fmt.Errorf("arena %q: amtAllocSegs %d != observed %d", a.name, a.amtAllocSegs, allocSeen)
	}
	if allocCount != a.nrAllocs {
		return fmt.Errorf("arena %q: nrAllocs %d != observed %d", a.name, a.nrAllocs, allocCount)
	}
	for idx := 0; idx < NumFreeLists; idx++ {
		lo := uintptr(1) << uint(idx)
		for bt := a.freeSegs[idx].head; bt != nil; bt = bt.miscNext {
			if bt.size < lo {
				return fmt.Errorf("arena %q: segment at %#x size %d too small for bucket %d", a.name, bt.start, bt.size, idx)
			}
			if idx < NumFreeLists-1 && bt.size >= lo<<1 {
				return fmt.Errorf("arena %q: segment at %#x size %d too large for bucket %d", a.name, bt.start, bt.size, idx)
			}
		}
	}
	return nil
}
