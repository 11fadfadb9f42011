package keyindex

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
)

// stats tracks the running chunk count and the set of document ids seen.
// Document ids are stored by their two's-complement bit pattern.
type stats struct {
	chunks int
	docs   *roaring64.Bitmap
}

func newStats() stats {
	return stats{docs: roaring64.New()}
}

func (s *stats) observe(docID int64) {
	s.docs.Add(uint64(docID))
}

func (s *stats) ChunkCount() int {
	return s.chunks
}

func (s *stats) DocumentCount() int {
	return int(s.docs.GetCardinality())
}

func (s *stats) AverageChunksPerDocument() (float64, error) {
	return average(s.chunks, s.DocumentCount())
}

func average(chunks, docs int) (float64, error) {
	if docs == 0 {
		return 0, apperrors.ErrDivisionUndefined
	}
	return float64(chunks) / float64(docs), nil
}
