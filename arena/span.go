package arena

import (
	"fmt"

	"github.com/nyxkernel/vmem/internal/kerr"
)

// AddSpan grows a source-less arena with a span of raw address space
// directly, rather than through import: the initial span of a base
// arena, or a manual top-up of one. It is rejected on an arena that
// has a source, which must grow only through its import path.
// base and size must both be quantum-aligned.
func (a *Arena) AddSpan(base, size uintptr) error {
	if size == 0 {
		panic(kerr.Fatalf("arena: zero-size span", map[string]any{"name": a.name}))
	}
	a.assertQuantumAligned(base, size)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.source != nil {
		panic(kerr.Fatalf("arena: AddSpan on an arena with a source", map[string]any{"name": a.name}))
	}
	return a.addSpanLocked(base, size)
}

// addSpanLocked records [base, base+size) as a FREE BT. If the arena
// has a source, the range is also a SPAN: the marker coalescing stops
// at and a later full-span free recognizes for export back to source.
// A source-less arena's own static span needs no such marker, since
// it is never exported anywhere.
func (a *Arena) addSpanLocked(base, size uintptr) error {
	want := 1
	if a.source != nil {
		want = 2
	}
	a.getEnoughBTags(want)

	if a.source != nil {
		span := a.popUnused()
		span.start, span.size, span.status = base, size, Span
		insertBT(&a.root, span)
	}

	free := a.popUnused()
	free.start, free.size, free.status = base, size, Free
	insertBT(&a.root, free)
	a.freeSegs[log2Floor(size)].pushFront(free)

	a.amtTotalSegs += size
	a.nrSegs++
	return nil
}

func (a *Arena) assertQuantumAligned(base, size uintptr) {
	if base%a.quantum != 0 || size%a.quantum != 0 {
		panic(kerr.Fatalf("arena: span not quantum-aligned", map[string]any{
			"name": a.name, "base": fmt.Sprintf("%#x", base), "size": size, "quantum": a.quantum,
		}))
	}
}
