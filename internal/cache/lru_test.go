package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRU_GetSet(t *testing.T) {
	c := NewLRU(1024)

	_, ok := c.Get(Key{Offset: 0})
	require.False(t, ok)

	c.Set(Key{Offset: 0}, []byte("hello"))
	val, ok := c.Get(Key{Offset: 0})
	require.True(t, ok)
	require.Equal(t, []byte("hello"), val)
	require.Equal(t, int64(5), c.Size())

	hits, misses := c.Stats()
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(1), misses)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(10)

	c.Set(Key{Offset: 0}, []byte("aaaa"))
	c.Set(Key{Offset: 4}, []byte("bbbb"))

	// Touch the first entry so the second becomes the eviction victim.
	_, ok := c.Get(Key{Offset: 0})
	require.True(t, ok)

	c.Set(Key{Offset: 8}, []byte("cccc"))

	_, ok = c.Get(Key{Offset: 0})
	require.True(t, ok)
	_, ok = c.Get(Key{Offset: 4})
	require.False(t, ok)
	_, ok = c.Get(Key{Offset: 8})
	require.True(t, ok)
}

func TestLRU_RejectsOversizedValue(t *testing.T) {
	c := NewLRU(4)

	c.Set(Key{Offset: 0}, []byte("too large"))
	_, ok := c.Get(Key{Offset: 0})
	require.False(t, ok)
	require.Zero(t, c.Size())
}

func TestLRU_UpdateAdjustsSize(t *testing.T) {
	c := NewLRU(100)

	c.Set(Key{Offset: 0}, []byte("short"))
	c.Set(Key{Offset: 0}, []byte("considerably longer"))
	require.Equal(t, int64(19), c.Size())

	val, ok := c.Get(Key{Offset: 0})
	require.True(t, ok)
	require.Equal(t, []byte("considerably longer"), val)
}

func TestLRU_InvalidateBefore(t *testing.T) {
	c := NewLRU(1024)

	c.Set(Key{Generation: 1, Offset: 0}, []byte("old"))
	c.Set(Key{Generation: 1, Offset: 8}, []byte("old2"))
	c.Set(Key{Generation: 2, Offset: 0}, []byte("new"))

	c.InvalidateBefore(2)

	_, ok := c.Get(Key{Generation: 1, Offset: 0})
	require.False(t, ok)
	_, ok = c.Get(Key{Generation: 1, Offset: 8})
	require.False(t, ok)

	val, ok := c.Get(Key{Generation: 2, Offset: 0})
	require.True(t, ok)
	require.Equal(t, []byte("new"), val)
}
