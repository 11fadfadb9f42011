package keyindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedListRebuildsOnlyAfterWrites(t *testing.T) {
	c := NewCachedList()
	assert.False(t, c.Clean())

	_, err := c.Add([]Pair{{1, 0}, {2, 0}}, []float64{0.1, 0.2})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.Query([]int64{0, 1})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, c.Rebuilds())
	assert.True(t, c.Clean())

	_, err = c.Add([]Pair{{3, 4}}, []float64{0.7})
	require.NoError(t, err)
	assert.False(t, c.Clean())

	got, err := c.Query([]int64{2})
	require.NoError(t, err)
	assert.Equal(t, []Record{{3, 4, 0.7}}, got)
	assert.Equal(t, 2, c.Rebuilds())
}

func TestCachedListCoherentWithList(t *testing.T) {
	c := NewCachedList()
	l := NewList()

	for i, b := range randomBatches(21, 30, 20) {
		_, err := c.Add(b.pairs, b.weights)
		require.NoError(t, err)
		_, err = l.Add(b.pairs, b.weights)
		require.NoError(t, err)

		if l.Size() == 0 {
			continue
		}
		keys := []int64{0, int64(l.Size() - 1), int64(l.Size() / 2)}
		for q := 0; q < i%3; q++ {
			_, err := c.Query(keys[:1])
			require.NoError(t, err)
		}
		want, err := l.Query(keys)
		require.NoError(t, err)
		got, err := c.Query(keys)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestCachedListFailedAddStillAnswersQueries(t *testing.T) {
	c := NewCachedList()
	_, err := c.Add([]Pair{{9, 9}}, []float64{0.9})
	require.NoError(t, err)
	_, err = c.Query([]int64{0})
	require.NoError(t, err)

	_, err = c.Add([]Pair{{1, 1}}, nil)
	require.Error(t, err)

	got, err := c.Query([]int64{0})
	require.NoError(t, err)
	assert.Equal(t, []Record{{9, 9, 0.9}}, got)
	assert.Equal(t, 1, c.Size())
}
