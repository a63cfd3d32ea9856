package arena

import (
	"github.com/nyxkernel/vmem/internal/kerr"
	"github.com/nyxkernel/vmem/internal/klog"
)

// Alloc reserves size bytes (rounded up to the arena's quantum) using
// the fit policy named in flags, defaulting to instant fit. It blocks
// only by recursing into the source arena's own Alloc via the import
// path; it never waits on another goroutine.
func (a *Arena) Alloc(size uintptr, flags Flags) (uintptr, error) {
	if size == 0 {
		panic(kerr.Fatalf("arena: zero-size allocation", map[string]any{"name": a.name}))
	}
	size = roundUp(size, a.quantum)

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocLocked(size, flags)
}

func (a *Arena) allocLocked(size uintptr, flags Flags) (uintptr, error) {
	nextFit := flags.fitStyle() == NextFit
	for {
		var bt *boundaryTag
		switch flags.fitStyle() {
		case BestFit:
			bt = a.bestFit(size)
		case NextFit:
			bt = a.nextFit(size)
		default:
			bt = a.instantFit(size)
		}
		if bt != nil {
			addr := a.carveAlloc(bt, size)
			if nextFit {
				a.nextfitCursor = addr + size
				a.haveCursor = true
			}
			return addr, nil
		}
		if !a.getMoreResources(size, flags) {
			if flags.ErrorOK() || flags.IsAtomic() {
				return 0, kerr.ErrOutOfMemory
			}
			a.log.Fatal("arena out of memory", klog.String("arena", a.name), klog.Uintptr("size", size))
		}
		// A successful import retries with best fit, matching the
		// original's fallback once more resources are on hand.
		flags = (flags &^ fitStyleMask) | BestFit
	}
}

// instantFit returns the first free segment from the bucket holding
// segments >= size, without scanning within it: any segment in bucket
// ceil(log2(size)) or higher is already big enough.
func (a *Arena) instantFit(size uintptr) *boundaryTag {
	for idx := log2Ceil(size); idx < NumFreeLists; idx++ {
		if bt := a.freeSegs[idx].head; bt != nil {
			return bt
		}
	}
	return nil
}

// bestFit scans bucket k = floor(log2(size)), which holds segments in
// [2^k, 2^(k+1)), for the smallest segment >= size, falling back to
// instant fit if that bucket has nothing big enough.
func (a *Arena) bestFit(size uintptr) *boundaryTag {
	var best *boundaryTag
	for bt := a.freeSegs[log2Floor(size)].head; bt != nil; bt = bt.miscNext {
		if bt.size >= size && (best == nil || bt.size < best.size) {
			best = bt
		}
	}
	if best != nil {
		return best
	}
	return a.instantFit(size)
}

// nextFit walks all_segs by address starting from the cursor left by
// the previous next-fit allocation, wrapping once.
func (a *Arena) nextFit(size uintptr) *boundaryTag {
	if a.root == nil {
		return nil
	}
	start := treeCeiling(a.root, a.nextfitCursor)
	if start == nil {
		start = treeFirst(a.root)
	}
	// The wrap check below (next == start) guarantees each node is
	// visited at most once, so this always terminates without needing
	// an iteration-count bound.
	n := start
	for n != nil {
		if n.status == Free && n.size >= size {
			return n
		}
		next := treeNext(n)
		if next == nil {
			next = treeFirst(a.root)
		}
		if next == start {
			break
		}
		n = next
	}
	return nil
}

// carveAlloc removes bt from its free bucket, splits off a remainder
// if bt is larger than needed, converts bt (or the carved-out head of
// it) to ALLOC, and files it on the address hash table.
func (a *Arena) carveAlloc(bt *boundaryTag, size uintptr) uintptr {
	a.getEnoughBTags(1)
	a.freeSegs[log2Floor(bt.size)].remove(bt)

	addr := bt.start
	if remainder := bt.size - size; remainder > 0 {
		rem := a.popUnused()
		rem.start, rem.size, rem.status = bt.start+size, remainder, Free
		insertBT(&a.root, rem)
		a.freeSegs[log2Floor(remainder)].pushFront(rem)
		bt.size = size
	}
	bt.status = Alloc
	a.allocHash[a.hashBucket(bt.start)].pushFront(bt)

	a.amtAllocSegs += size
	a.nrAllocs++
	return addr
}

func (a *Arena) hashBucket(addr uintptr) int {
	return int(a.hasher.Hash(addr) % NumHashLists)
}

// getMoreResources pulls a span from source (via the circuit-breaker
// wrapped import function) and folds it in. It returns false if there
// is no source, no importer, or the import itself failed.
func (a *Arena) getMoreResources(size uintptr, flags Flags) bool {
	if a.source == nil || a.importFn == nil {
		return false
	}
	importSize := roundUp(size, a.quantum)
	if a.qcacheMax > importSize {
		importSize = a.qcacheMax
	}

	attempt := func() (importedSpan, error) {
		base, ok := a.importFn(a.source, importSize, flags)
		if !ok {
			return importedSpan{}, kerr.ErrOutOfMemory
		}
		return importedSpan{base: base, size: importSize}, nil
	}

	var span importedSpan
	var err error
	if a.breaker != nil {
		span, err = a.breaker.Execute(attempt)
	} else {
		span, err = attempt()
	}
	if err != nil {
		return false
	}
	return a.addSpanLocked(span.base, span.size) == nil
}
