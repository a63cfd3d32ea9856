package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocFree(t *testing.T) {
	a, err := New(16)
	require.NoError(t, err)
	defer a.Close()

	p1, ok := a.Alloc()
	require.True(t, ok)
	p2, ok := a.Alloc()
	require.True(t, ok)
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, uintptr(PageSize), p2-p1)

	require.NoError(t, a.Free(p1))
	require.NoError(t, a.Free(p2))
	assert.Error(t, a.Free(p1), "double free must error")
}

func TestAllocContig(t *testing.T) {
	a, err := New(32)
	require.NoError(t, err)
	defer a.Close()

	base, ok := a.AllocContig(2) // 4 pages
	require.True(t, ok)

	idx, ok := a.KVA2Index(base)
	require.True(t, ok)
	assert.Equal(t, uint(0), idx)

	require.NoError(t, a.FreeCont(base, 2))

	base2, ok := a.AllocContig(2)
	require.True(t, ok)
	assert.Equal(t, base, base2, "freed run should be reused")
}

func TestExhaustion(t *testing.T) {
	a, err := New(4)
	require.NoError(t, err)
	defer a.Close()

	for i := 0; i < 4; i++ {
		_, ok := a.Alloc()
		require.True(t, ok)
	}
	_, ok := a.Alloc()
	assert.False(t, ok)
}
