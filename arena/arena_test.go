package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxkernel/vmem/internal/kerr"
)

func newTestArena(t *testing.T, size uintptr) *Arena {
	t.Helper()
	a, err := New(Config{Name: t.Name(), Quantum: 8, Base: 0x1000, Size: size})
	require.NoError(t, err)
	return a
}

func TestBestFitSelectsSmallest(t *testing.T) {
	a := newTestArena(t, 4096)

	// ALLOC walls between each candidate gap so freeing one never
	// coalesces it into its neighbor and hides the size class we're
	// testing for.
	p1, err := a.Alloc(512, BestFit)
	require.NoError(t, err)
	wallA, err := a.Alloc(8, BestFit)
	require.NoError(t, err)
	p2, err := a.Alloc(256, BestFit)
	require.NoError(t, err)
	wallB, err := a.Alloc(8, BestFit)
	require.NoError(t, err)
	p3, err := a.Alloc(128, BestFit)
	require.NoError(t, err)

	require.NoError(t, a.Free(p2)) // 256-byte gap
	require.NoError(t, a.Free(p1)) // 512-byte gap

	// A request that fits both gaps should land in the tighter 256
	// one rather than the looser 512 one.
	p4, err := a.Alloc(200, BestFit)
	require.NoError(t, err)
	assert.Equal(t, p2, p4, "best fit should reuse the tightest sufficient gap")

	require.NoError(t, a.Free(p3))
	require.NoError(t, a.Free(p4))
	require.NoError(t, a.Free(wallA))
	require.NoError(t, a.Free(wallB))
	require.NoError(t, a.checkInvariants())
}

func TestInstantFitIgnoresTighterFit(t *testing.T) {
	a := newTestArena(t, 1<<16)

	// p1 and p2 both fall in the same size class (floor(log2) == 6),
	// isolated from each other and from the big remainder by ALLOC
	// walls so freeing them doesn't coalesce the gaps away.
	p1, err := a.Alloc(64, BestFit)
	require.NoError(t, err)
	wallA, err := a.Alloc(8, BestFit)
	require.NoError(t, err)
	p2, err := a.Alloc(100, BestFit)
	require.NoError(t, err)
	wallB, err := a.Alloc(8, BestFit)
	require.NoError(t, err)

	require.NoError(t, a.Free(p1)) // exact-size gap, freed first
	require.NoError(t, a.Free(p2)) // larger same-class gap, freed second -> bucket head

	// Instant fit takes whatever sits at the head of the matching
	// bucket without comparing sizes, unlike best fit's smallest-
	// sufficient scan; it should return p2's gap even though p1's is
	// the tighter fit.
	p3, err := a.Alloc(64, InstantFit)
	require.NoError(t, err)
	assert.Equal(t, p2, p3, "instant fit should take the bucket head, not the tightest gap")

	require.NoError(t, a.Free(p3))
	require.NoError(t, a.Free(wallA))
	require.NoError(t, a.Free(wallB))
	require.NoError(t, a.checkInvariants())
}

func TestNextFitWraps(t *testing.T) {
	// Exactly four 512-byte allocations' worth of space so the 4th consumes the
	// arena to its last byte and leaves the cursor with nothing ahead
	// of it to find.
	a := newTestArena(t, 2048)

	p1, err := a.Alloc(512, NextFit)
	require.NoError(t, err)
	_, err = a.Alloc(512, NextFit)
	require.NoError(t, err)
	_, err = a.Alloc(512, NextFit)
	require.NoError(t, err)
	_, err = a.Alloc(512, NextFit)
	require.NoError(t, err)

	require.NoError(t, a.Free(p1))

	// The cursor sits at the arena's end with no free segment ahead of
	// it; next fit must wrap around to the earlier, now-free p1 gap
	// rather than report failure.
	p5, err := a.Alloc(256, NextFit)
	require.NoError(t, err)
	assert.Equal(t, p1, p5)
	require.NoError(t, a.checkInvariants())
}

func TestXAllocAlignmentAndNocross(t *testing.T) {
	a := newTestArena(t, 1<<20)

	addr, err := a.XAlloc(300, Constraints{Align: 256, Phase: 0}, BestFit)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0), addr%256)

	addr2, err := a.XAlloc(128, Constraints{Align: 64, Nocross: 4096}, BestFit)
	require.NoError(t, err)
	boundary := roundUp(addr2+1, 4096)
	assert.LessOrEqual(t, addr2+128, boundary)

	require.NoError(t, a.Free(addr))
	require.NoError(t, a.Free(addr2))
	require.NoError(t, a.checkInvariants())
}

func TestSourceImportAndExportRoundTrip(t *testing.T) {
	source := newTestArena(t, 1<<20)

	var exported []uintptr
	imported, err := New(Config{
		Name:    "imported",
		Quantum: 8,
		Source:  source,
		Import: func(src *Arena, size uintptr, flags Flags) (uintptr, bool) {
			addr, err := src.Alloc(size, BestFit)
			if err != nil {
				return 0, false
			}
			return addr, true
		},
		Export: func(src *Arena, base, size uintptr) {
			exported = append(exported, base)
			_ = src.Free(base)
		},
	})
	require.NoError(t, err)

	p, err := imported.Alloc(1024, BestFit)
	require.NoError(t, err)
	assert.Equal(t, uintptr(1024), imported.AmtTotal())

	require.NoError(t, imported.Free(p))
	assert.Len(t, exported, 1, "fully-freed imported span should be returned to source")
	assert.Equal(t, uintptr(0), imported.AmtTotal(), "span bookkeeping released with the export")
	require.NoError(t, imported.checkInvariants())
	require.NoError(t, source.checkInvariants())
}

func TestXFreeSizeMismatch(t *testing.T) {
	a := newTestArena(t, 4096)
	p, err := a.Alloc(128, BestFit)
	require.NoError(t, err)

	err = a.XFree(p, 64)
	assert.ErrorIs(t, err, kerr.ErrSizeMismatch)

	require.NoError(t, a.XFree(p, 128))
	require.NoError(t, a.checkInvariants())
}

func TestFreeUnknownAddress(t *testing.T) {
	a := newTestArena(t, 4096)
	err := a.Free(0xdeadbeef)
	assert.ErrorIs(t, err, kerr.ErrUnknownSegment)
}
