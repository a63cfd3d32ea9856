package slab

// CacheSnapshot is a point-in-time rendering of a cache's bookkeeping,
// the structured replacement for a raw print_kmem_cache dump.
type CacheSnapshot struct {
	Name       string
	ObjSize    uintptr
	Align      uintptr
	SlotSize   uintptr
	Large      bool
	Order      uint
	NumTotal   uint
	NrCurAlloc uintptr
	NrEmpty    int
	NrPartial  int
	NrFull     int
}

// SlabSnapshot describes one slab's base address and total, busy and
// free object counts, the structured replacement for print_kmem_slab.
type SlabSnapshot struct {
	Base     uintptr
	NumTotal uint
	NumBusy  uint
	NumFree  uint
}

// Snapshot renders the cache's current state.
func (c *Cache) Snapshot() CacheSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheSnapshot{
		Name:       c.name,
		ObjSize:    c.objSize,
		Align:      c.align,
		SlotSize:   c.slotSize,
		Large:      c.large,
		Order:      c.order,
		NumTotal:   c.numTotal,
		NrCurAlloc: c.nrCurAlloc,
		NrEmpty:    c.empty.len(),
		NrPartial:  c.partial.len(),
		NrFull:     c.full.len(),
	}
}

// DumpSlab renders one slab's free/busy counts, the per-slab detail
// print_kmem_cache's cache-wide summary doesn't carry.
func (c *Cache) DumpSlab(rec *slabRecord) SlabSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	numFree := rec.numTotal - rec.numBusy
	return SlabSnapshot{Base: rec.base, NumTotal: rec.numTotal, NumBusy: rec.numBusy, NumFree: numFree}
}

// Slabs returns a snapshot of every slab currently on the empty,
// partial, or full list, in that order.
func (c *Cache) Slabs() []SlabSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []SlabSnapshot
	for _, l := range []*slabList{&c.empty, &c.partial, &c.full} {
		for r := l.head; r != nil; r = r.next {
			numFree := r.numTotal - r.numBusy
			out = append(out, SlabSnapshot{Base: r.base, NumTotal: r.numTotal, NumBusy: r.numBusy, NumFree: numFree})
		}
	}
	return out
}
