package arena

import (
	"github.com/nyxkernel/vmem/internal/kerr"
	"github.com/nyxkernel/vmem/internal/klog"
)

// Constraints narrows an XAlloc search. Zero values mean "unconstrained"
// except Align, which defaults to the arena's quantum.
type Constraints struct {
	Align   uintptr
	Phase   uintptr
	Nocross uintptr // 0: no boundary the segment must not straddle
	MinAddr uintptr // 0: no lower bound
	MaxAddr uintptr // 0: no upper bound
}

// XAlloc reserves size bytes satisfying c, ignoring the fit-policy
// bits of flags: alignment, phase, nocross, and address-range
// constraints make the bucket-cursor optimizations fit policy
// ordinarily uses unreliable, so this always runs a full
// constraint-satisfying scan.
func (a *Arena) XAlloc(size uintptr, c Constraints, flags Flags) (uintptr, error) {
	if size == 0 {
		panic(kerr.Fatalf("arena: zero-size xalloc", map[string]any{"name": a.name}))
	}
	if c.Align == 0 {
		c.Align = a.quantum
	}
	if !isPowerOfTwo(c.Align) {
		panic(kerr.Fatalf("arena: xalloc align must be a power of two", map[string]any{"name": a.name, "align": c.Align}))
	}
	if c.Phase >= c.Align {
		panic(kerr.Fatalf("arena: xalloc phase must be < align", map[string]any{"name": a.name, "phase": c.Phase, "align": c.Align}))
	}
	if c.MaxAddr != 0 && c.MinAddr > c.MaxAddr {
		panic(kerr.Fatalf("arena: xalloc minaddr > maxaddr", map[string]any{"name": a.name}))
	}
	if c.MinAddr+size < c.MinAddr {
		panic(kerr.Fatalf("arena: xalloc minaddr+size overflows", map[string]any{"name": a.name}))
	}
	size = roundUp(size, a.quantum)

	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		if bt, start, ok := a.findSufficient(size, c); ok {
			return a.carveXAlloc(bt, start, size), nil
		}
		if !a.getMoreResources(size+c.Align, flags) {
			if flags.ErrorOK() || flags.IsAtomic() {
				return 0, kerr.ErrOutOfMemory
			}
			a.log.Fatal("arena xalloc out of memory", klog.String("arena", a.name), klog.Uintptr("size", size))
		}
	}
}

// findSufficient scans free segments from the bucket that could
// possibly hold size upward, returning the first segment with room
// for an aligned, phased, nocross-respecting placement.
func (a *Arena) findSufficient(size uintptr, c Constraints) (*boundaryTag, uintptr, bool) {
	for idx := log2Floor(size); idx < NumFreeLists; idx++ {
		for bt := a.freeSegs[idx].head; bt != nil; bt = bt.miscNext {
			if c.MaxAddr != 0 && bt.start >= c.MaxAddr {
				continue
			}
			lo := bt.start
			if c.MinAddr > lo {
				lo = c.MinAddr
			}
			start, ok := placeWithin(lo, bt.end()-lo, size, c.Align, c.Phase, c.Nocross)
			if !ok {
				continue
			}
			if c.MaxAddr != 0 && start+size > c.MaxAddr {
				continue
			}
			return bt, start, true
		}
	}
	return nil, 0, false
}

// placeWithin finds an aligned, phased start within [btStart,
// btStart+btSize) that fits size. If the natural candidate straddles a
// nocross boundary, it retries once from the nocross boundary at or
// after btStart, treating that as a new effective start with nocross
// disabled, matching __find_sufficient's single-retry recursion. A
// retried placement that still straddles a boundary is rejected.
func placeWithin(btStart, btSize, size, align, phase, nocross uintptr) (uintptr, bool) {
	try := roundUp(btStart, align) + phase
	if try < btStart || try+size < try || try+size > btStart+btSize {
		return 0, false
	}
	if nocross == 0 {
		return try, true
	}
	if roundUp(try, nocross) >= try+size {
		return try, true
	}
	try = roundUp(btStart, nocross)
	trySize := btSize - (try - btStart)
	if trySize > btSize || try+trySize < try {
		return 0, false
	}
	start, ok := placeWithin(try, trySize, size, align, phase, 0)
	if !ok || start/nocross != (start+size-1)/nocross {
		return 0, false
	}
	return start, true
}

// carveXAlloc splits bt into up to three pieces: a front remainder, the
// allocated middle (reusing bt itself), and a rear remainder. Because
// the middle's start generally differs from bt's original start, bt is
// re-keyed in the tree rather than left in place.
func (a *Arena) carveXAlloc(bt *boundaryTag, allocStart, size uintptr) uintptr {
	a.getEnoughBTags(2)
	a.freeSegs[log2Floor(bt.size)].remove(bt)
	eraseBT(&a.root, bt)

	frontSize := allocStart - bt.start
	rearStart := allocStart + size
	rearSize := bt.end() - rearStart

	if frontSize > 0 {
		front := a.popUnused()
		front.start, front.size, front.status = bt.start, frontSize, Free
		insertBT(&a.root, front)
		a.freeSegs[log2Floor(frontSize)].pushFront(front)
	}
	if rearSize > 0 {
		rear := a.popUnused()
		rear.start, rear.size, rear.status = rearStart, rearSize, Free
		insertBT(&a.root, rear)
		a.freeSegs[log2Floor(rearSize)].pushFront(rear)
	}

	bt.start, bt.size, bt.status = allocStart, size, Alloc
	insertBT(&a.root, bt)
	a.allocHash[a.hashBucket(bt.start)].pushFront(bt)

	a.amtAllocSegs += size
	a.nrAllocs++
	return allocStart
}
