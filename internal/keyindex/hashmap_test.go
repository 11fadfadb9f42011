package keyindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
)

func TestHashMapLastWriteWins(t *testing.T) {
	h := NewHashMap()
	n, err := h.Add([]Pair{{1, 10}, {2, 20}, {1, 11}}, []float64{0.1, 0.2, 0.3})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := h.Query([]int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []Record{{1, 11, 0.3}, {2, 20, 0.2}}, got)
	assert.Equal(t, 2, h.ChunkCount())
}

func TestHashMapTruncatesToShorterInput(t *testing.T) {
	h := NewHashMap()
	n, err := h.Add([]Pair{{1, 0}, {2, 0}, {3, 0}}, []float64{0.5, 0.6})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = h.Query([]int64{3})
	assert.ErrorIs(t, err, apperrors.ErrKeyNotFound)

	n, err = h.Add([]Pair{{4, 0}}, []float64{0.1, 0.2, 0.3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestHashMapQueryFailsWithoutPartialResult(t *testing.T) {
	h := NewHashMap()
	_, err := h.Add([]Pair{{5, 1}}, []float64{1})
	require.NoError(t, err)

	got, err := h.Query([]int64{5, 6, 5})
	assert.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	assert.ErrorContains(t, err, "key 6")
	assert.Nil(t, got)
}

func TestHashMapDocumentCountIsKeyCount(t *testing.T) {
	h := NewHashMap()
	_, err := h.Add([]Pair{{0, 0}, {0, 1}, {1, 0}}, []float64{0.5, 0.4, 0.9})
	require.NoError(t, err)

	assert.Equal(t, 2, h.DocumentCount())
	assert.Equal(t, 2, h.ChunkCount())
	avg, err := h.AverageChunksPerDocument()
	require.NoError(t, err)
	assert.Equal(t, 1.0, avg)
}
