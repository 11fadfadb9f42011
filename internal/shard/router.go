// Package shard hosts one key indexer per shard. Each Shard serialises
// access to its indexer, which the indexers themselves do not, and the
// Router resolves shard IDs to Shards.
package shard

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/keyindex"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/metrics"
)

// Stats is a point-in-time view of one shard. Average is nil while the
// shard holds no documents; Capacity and Growths are set for columnar shards.
type Stats struct {
	ShardID       int           `json:"shard_id"`
	Backend       keyindex.Kind `json:"backend"`
	ChunkCount    int           `json:"chunk_count"`
	DocumentCount int           `json:"document_count"`
	Average       *float64      `json:"average_chunks_per_document"`
	Capacity      *int          `json:"capacity,omitempty"`
	Growths       *int          `json:"growths,omitempty"`
}

// Shard wraps a KeyIndexer behind a mutex. Queries take the same exclusive
// lock as writes because the cached backend rebuilds its buffers on read.
type Shard struct {
	id      int
	label   string
	mu      sync.Mutex
	idx     keyindex.KeyIndexer
	growths int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newShard(id int, idx keyindex.KeyIndexer, m *metrics.Metrics) *Shard {
	return &Shard{
		id:      id,
		label:   strconv.Itoa(id),
		idx:     idx,
		metrics: m,
		logger:  logger.WithShard("shard", id),
	}
}

func (s *Shard) ID() int { return s.id }

func (s *Shard) Kind() keyindex.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Kind()
}

// Add forwards a batch to the indexer and returns the new chunk count.
func (s *Shard) Add(pairs []keyindex.Pair, weights []float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.idx.Add(pairs, weights)
	if err != nil {
		if s.metrics != nil {
			s.metrics.AddErrorsTotal.WithLabelValues(s.label, errorReason(err)).Inc()
		}
		return 0, fmt.Errorf("shard %d add: %w", s.id, err)
	}
	added := min(len(pairs), len(weights))
	s.observeLocked(added)
	s.logger.Debug("batch added", "batch_size", added, "chunk_count", n)
	return n, nil
}

// Query resolves keys against the indexer, in order.
func (s *Shard) Query(keys []int64) ([]keyindex.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.idx.Query(keys)
	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "miss"
		}
		s.metrics.QueriesTotal.WithLabelValues(s.label, outcome).Inc()
		s.metrics.QueryKeys.Observe(float64(len(keys)))
	}
	if err != nil {
		return nil, fmt.Errorf("shard %d query: %w", s.id, err)
	}
	return records, nil
}

func (s *Shard) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Shard) statsLocked() Stats {
	st := Stats{
		ShardID:       s.id,
		Backend:       s.idx.Kind(),
		ChunkCount:    s.idx.ChunkCount(),
		DocumentCount: s.idx.DocumentCount(),
	}
	if avg, err := s.idx.AverageChunksPerDocument(); err == nil {
		st.Average = &avg
	}
	if c, ok := s.idx.(*keyindex.Columnar); ok {
		capacity, growths := c.Capacity(), c.Growths()
		st.Capacity = &capacity
		st.Growths = &growths
	}
	return st
}

// Snapshot encodes the indexer to w and returns the statistics of exactly
// the state that was encoded.
func (s *Shard) Snapshot(w io.Writer) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := keyindex.Encode(w, s.idx); err != nil {
		return Stats{}, err
	}
	return s.statsLocked(), nil
}

// Restore replaces the indexer with one decoded from r. The snapshot must
// hold the shard's configured backend.
func (s *Shard) Restore(r io.Reader) error {
	restored, err := keyindex.Decode(r)
	if err != nil {
		return fmt.Errorf("shard %d restore: %w", s.id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if restored.Kind() != s.idx.Kind() {
		return fmt.Errorf("shard %d restore: %w: snapshot holds %s, shard runs %s",
			s.id, apperrors.ErrInvalidInput, restored.Kind(), s.idx.Kind())
	}
	s.idx = restored
	s.growths = 0
	if c, ok := restored.(*keyindex.Columnar); ok {
		s.growths = c.Growths()
	}
	s.observeLocked(0)
	s.logger.Info("shard restored", "chunk_count", restored.ChunkCount())
	return nil
}

func (s *Shard) observeLocked(added int) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordsAddedTotal.WithLabelValues(s.label).Add(float64(added))
	s.metrics.ChunkCount.WithLabelValues(s.label).Set(float64(s.idx.ChunkCount()))
	s.metrics.DocumentCount.WithLabelValues(s.label).Set(float64(s.idx.DocumentCount()))
	if c, ok := s.idx.(*keyindex.Columnar); ok {
		s.metrics.BufferCapacity.WithLabelValues(s.label).Set(float64(c.Capacity()))
		if delta := c.Growths() - s.growths; delta > 0 {
			s.metrics.BufferGrowthsTotal.WithLabelValues(s.label).Add(float64(delta))
			s.logger.Info("columnar buffer grew", "capacity", c.Capacity(), "size", c.Size())
		}
		s.growths = c.Growths()
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid_input"
	default:
		return "other"
	}
}

// Router maps shard IDs to Shards. The shard set is fixed at construction.
type Router struct {
	shards []*Shard
	logger *slog.Logger
}

// NewRouter creates cfg.NumShards empty shards running cfg.Backend. m may
// be nil.
func NewRouter(cfg config.KeyIndexConfig, m *metrics.Metrics) (*Router, error) {
	kind, err := keyindex.ParseKind(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if cfg.NumShards <= 0 {
		return nil, fmt.Errorf("%w: %d shards", apperrors.ErrInvalidInput, cfg.NumShards)
	}
	opts := []keyindex.Option{
		keyindex.WithInitialCapacity(cfg.InitialCapacity),
		keyindex.WithGrowthChunk(cfg.GrowthChunk),
		keyindex.WithColumnWidth(cfg.ColumnWidth),
	}
	r := &Router{
		shards: make([]*Shard, cfg.NumShards),
		logger: logger.WithComponent("shard-router"),
	}
	for i := range r.shards {
		idx, err := keyindex.New(kind, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating indexer for shard %d: %w", i, err)
		}
		r.shards[i] = newShard(i, idx, m)
	}
	r.logger.Info("shard router ready", "num_shards", cfg.NumShards, "backend", kind)
	return r, nil
}

// Route returns the Shard for shardID.
func (r *Router) Route(shardID int) (*Shard, error) {
	if shardID < 0 || shardID >= len(r.shards) {
		return nil, fmt.Errorf("%w: unknown shard ID %d (valid range: 0-%d)",
			apperrors.ErrShardUnavailable, shardID, len(r.shards)-1)
	}
	return r.shards[shardID], nil
}

// Shards returns every shard in ID order.
func (r *Router) Shards() []*Shard {
	out := make([]*Shard, len(r.shards))
	copy(out, r.shards)
	return out
}

func (r *Router) NumShards() int {
	return len(r.shards)
}
