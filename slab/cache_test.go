package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxkernel/vmem/arena"
	"github.com/nyxkernel/vmem/pages"
)

// newTestHarness wires a pages.Allocator through a self-sufficient base
// arena into a page-granular arena a Cache can grow from, the same
// chain cmd/vmemdiagd builds at startup, scaled down for tests.
func newTestHarness(t *testing.T, totalPages uint) (*arena.Arena, *pages.Allocator) {
	t.Helper()
	mem, err := pages.New(totalPages)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	base := arena.Builder(t.Name()+".base", uintptr(pages.PageSize), nil)
	require.NoError(t, base.AddSpan(mem.Base(), uintptr(mem.TotalPages())*pages.PageSize))

	kpages, err := arena.New(arena.Config{
		Name:    t.Name() + ".kpages",
		Quantum: uintptr(pages.PageSize),
		Source:  base,
		Import: func(source *arena.Arena, size uintptr, flags arena.Flags) (uintptr, bool) {
			addr, err := source.Alloc(size, flags)
			return addr, err == nil
		},
		Export: func(source *arena.Arena, addr, size uintptr) {
			_ = source.Free(addr)
		},
	})
	require.NoError(t, err)
	return kpages, mem
}

func TestSmallObjectRoundTrip(t *testing.T) {
	kpages, mem := newTestHarness(t, 64)
	c, err := New(Config{
		Name: "smallobj", ObjSize: 32, Align: 8,
		PageArena: kpages, Mem: mem,
	})
	require.NoError(t, err)

	const n = 200
	bufs := make([][]byte, n)
	seen := make(map[uintptr]bool, n)
	for i := range bufs {
		buf, err := c.Alloc(arena.Wait)
		require.NoError(t, err)
		addr := bufAddr(buf)
		assert.False(t, seen[addr], "address handed out twice while still live")
		seen[addr] = true
		assert.Zero(t, addr%8, "buffer must be 8-byte aligned")
		assert.Len(t, buf, 32)
		bufs[i] = buf
	}
	assert.EqualValues(t, n, c.nrCurAlloc)

	for i := n - 1; i >= 0; i-- {
		require.NoError(t, c.Free(bufs[i]))
	}
	assert.EqualValues(t, 0, c.nrCurAlloc)
	assert.True(t, c.partial.empty())
	assert.True(t, c.full.empty())
	assert.False(t, c.empty.empty())

	require.NoError(t, c.Destroy())
}

func TestLargeObjectRoundTrip(t *testing.T) {
	kpages, mem := newTestHarness(t, 256)
	c, err := New(Config{
		Name: "largeobj", ObjSize: LargeCutoff + 256, Align: 8,
		PageArena: kpages, Mem: mem,
	})
	require.NoError(t, err)
	require.True(t, c.large)

	bufs := make([][]byte, c.numTotal)
	for i := range bufs {
		buf, err := c.Alloc(arena.Wait)
		require.NoError(t, err)
		bufs[i] = buf
	}
	assert.True(t, c.empty.empty())
	assert.False(t, c.full.empty())

	require.NoError(t, c.Free(bufs[0]))
	assert.False(t, c.partial.empty())
	assert.True(t, c.full.empty())

	for _, buf := range bufs[1:] {
		require.NoError(t, c.Free(buf))
	}
	assert.EqualValues(t, 0, c.nrCurAlloc)
	require.NoError(t, c.Destroy())
}

func TestFreeUnownedBuffer(t *testing.T) {
	kpages, mem := newTestHarness(t, 16)
	c, err := New(Config{
		Name: "owner-check", ObjSize: 16, Align: 8,
		PageArena: kpages, Mem: mem,
	})
	require.NoError(t, err)

	foreign := make([]byte, 16)
	err = c.Free(foreign)
	assert.Error(t, err)
}

func TestDestroyRefusesNonEmptyCache(t *testing.T) {
	kpages, mem := newTestHarness(t, 16)
	c, err := New(Config{
		Name: "busy", ObjSize: 16, Align: 8,
		PageArena: kpages, Mem: mem,
	})
	require.NoError(t, err)

	buf, err := c.Alloc(arena.Wait)
	require.NoError(t, err)

	err = c.Destroy()
	assert.Error(t, err)

	require.NoError(t, c.Free(buf))
	require.NoError(t, c.Destroy())
}

func TestConstructorAndDestructorRunOnce(t *testing.T) {
	kpages, mem := newTestHarness(t, 16)
	var ctorCalls, dtorCalls int
	c, err := New(Config{
		Name: "ctordtor", ObjSize: 16, Align: 8,
		Ctor: func(buf []byte) { ctorCalls++ },
		Dtor: func(buf []byte) { dtorCalls++ },
		PageArena: kpages, Mem: mem,
	})
	require.NoError(t, err)

	buf, err := c.Alloc(arena.Wait)
	require.NoError(t, err)
	require.NoError(t, c.Free(buf))
	assert.Equal(t, int(c.numTotal), ctorCalls)

	c.Reap()
	assert.Equal(t, int(c.numTotal), dtorCalls)
}
