package arena

import (
	"fmt"

	"github.com/nyxkernel/vmem/internal/kerr"
)

// Free releases a previously allocated address, found by an O(1)
// lookup in the allocation hash table.
func (a *Arena) Free(addr uintptr) error {
	return a.free(addr, 0, false)
}

// XFree is Free for callers who tracked the original size themselves;
// it verifies size matches before releasing, catching a class of bug
// plain Free cannot.
func (a *Arena) XFree(addr, size uintptr) error {
	return a.free(addr, roundUp(size, a.quantum), true)
}

func (a *Arena) free(addr, size uintptr, checkSize bool) error {
	a.mu.Lock()

	var bt *boundaryTag
	bucket := a.hashBucket(addr)
	for n := a.allocHash[bucket].head; n != nil; n = n.miscNext {
		if n.start == addr {
			bt = n
			break
		}
	}
	if bt == nil {
		a.mu.Unlock()
		return kerr.Wrap(kerr.ErrUnknownSegment, fmt.Sprintf("arena %q: free of unknown address %#x", a.name, addr))
	}
	if checkSize && bt.size != size {
		a.mu.Unlock()
		return kerr.Wrap(kerr.ErrSizeMismatch, fmt.Sprintf("arena %q: xfree size %d does not match allocation size %d", a.name, size, bt.size))
	}

	a.allocHash[bucket].remove(bt)
	a.amtAllocSegs -= bt.size
	a.nrAllocs--
	bt.status = Free
	a.freeSegs[log2Floor(bt.size)].pushFront(bt)

	merged := a.coalesce(bt)

	var exportBase, exportSize uintptr
	doExport := false
	if a.source != nil && a.exportFn != nil {
		if span := a.spanFullyFree(merged); span != nil {
			exportBase, exportSize = span.start, span.size
			a.releaseFullSpan(merged, span)
			doExport = true
		}
	}
	a.mu.Unlock()

	// ffunc runs with the lock released: it recurses into source's own
	// locking, and source is always a distinct arena, so this can never
	// deadlock against a.mu, but holding a.mu across it would serialize
	// unrelated frees behind someone else's import/export traffic.
	if doExport {
		a.exportFn(a.source, exportBase, exportSize)
	}
	return nil
}

// coalesce merges bt with any adjacent FREE neighbor to its right, then
// left. A SPAN or ALLOC neighbor, or an address gap, stops the merge in
// that direction; spans never merge into anything.
func (a *Arena) coalesce(bt *boundaryTag) *boundaryTag {
	if right := treeNext(bt); right != nil && right.status == Free && right.start == bt.end() {
		a.mergeInto(bt, right)
	}
	if left := treePrev(bt); left != nil && left.status == Free && left.end() == bt.start {
		bt = a.mergeInto(left, bt)
	}
	return bt
}

// mergeInto absorbs src into dst (dst.start < src.start, contiguous),
// returning dst. src's tag is erased and recycled onto the unused list.
func (a *Arena) mergeInto(dst, src *boundaryTag) *boundaryTag {
	a.freeSegs[log2Floor(src.size)].remove(src)
	a.freeSegs[log2Floor(dst.size)].remove(dst)
	eraseBT(&a.root, src)
	dst.size += src.size
	a.freeSegs[log2Floor(dst.size)].pushFront(dst)
	a.pushUnused(src)
	return dst
}

// spanFullyFree reports whether merged exactly covers the SPAN
// immediately preceding it in address order, meaning the whole
// imported span is now free and can be handed back to source.
func (a *Arena) spanFullyFree(merged *boundaryTag) *boundaryTag {
	prev := treePrev(merged)
	if prev != nil && prev.status == Span && prev.start == merged.start && prev.size == merged.size {
		return prev
	}
	return nil
}

func (a *Arena) releaseFullSpan(merged, span *boundaryTag) {
	a.freeSegs[log2Floor(merged.size)].remove(merged)
	eraseBT(&a.root, merged)
	eraseBT(&a.root, span)
	a.amtTotalSegs -= span.size
	a.nrSegs--
	a.pushUnused(merged)
	a.pushUnused(span)
}
