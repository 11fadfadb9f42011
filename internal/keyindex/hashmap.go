package keyindex

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
)

type hashEntry struct {
	offset int64
	weight float64
}

// HashMap keys each record by its document id. A repeated key overwrites
// the earlier entry (last write wins), so ChunkCount and DocumentCount are
// both the number of distinct keys held.
type HashMap struct {
	entries map[int64]hashEntry
}

func NewHashMap() *HashMap {
	return &HashMap{entries: make(map[int64]hashEntry)}
}

func (h *HashMap) Kind() Kind { return KindHashMap }

// Add stores every pair under its DocID. Pairs and weights are matched
// positionally and the longer of the two is truncated; Add never fails.
func (h *HashMap) Add(pairs []Pair, weights []float64) (int, error) {
	n := min(len(pairs), len(weights))
	for i := 0; i < n; i++ {
		h.entries[pairs[i].DocID] = hashEntry{offset: pairs[i].Offset, weight: weights[i]}
	}
	return len(h.entries), nil
}

// Query fails on the first key that was never added.
func (h *HashMap) Query(keys []int64) ([]Record, error) {
	out := make([]Record, len(keys))
	for i, k := range keys {
		e, ok := h.entries[k]
		if !ok {
			return nil, fmt.Errorf("%w: key %d", apperrors.ErrKeyNotFound, k)
		}
		out[i] = Record{DocID: k, Offset: e.offset, Weight: e.weight}
	}
	return out, nil
}

func (h *HashMap) ChunkCount() int { return len(h.entries) }

// DocumentCount is the distinct key count, which differs from the other
// backends when one document contributes several chunks.
func (h *HashMap) DocumentCount() int { return len(h.entries) }

func (h *HashMap) AverageChunksPerDocument() (float64, error) {
	return average(len(h.entries), len(h.entries))
}
