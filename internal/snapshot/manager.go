package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/shard"
	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/tracing"
)

const finalSnapshotTimeout = 30 * time.Second

// Recorder persists snapshot metadata. *Registry implements it.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Publisher announces completed snapshots. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Options configures a Manager. Recorder, Publisher and Metrics may be nil.
type Options struct {
	Codec         Codec
	Interval      time.Duration
	MaxConcurrent int
	Recorder      Recorder
	Publisher     Publisher
	Metrics       *metrics.Metrics
}

// Manager snapshots the shards of a Router into a Store and restores them.
type Manager struct {
	router *shard.Router
	store  Store
	opts   Options
	logger *slog.Logger
}

func NewManager(router *shard.Router, store Store, opts Options) *Manager {
	if opts.Codec == "" {
		opts.Codec = CodecNone
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Manager{
		router: router,
		store:  store,
		opts:   opts,
		logger: slog.Default().With("component", "snapshot-manager", "store", store.Name()),
	}
}

// Name returns the blob name under which shard id is stored.
func Name(id int) string {
	return fmt.Sprintf("shard-%d.kidx", id)
}

// SnapshotShard encodes, compresses and stores one shard.
func (m *Manager) SnapshotShard(ctx context.Context, s *shard.Shard) (e Entry, err error) {
	ctx, span := tracing.StartChildSpan(ctx, "snapshot_shard")
	span.SetAttr("shard_id", s.ID())
	defer func() {
		span.SetAttr("bytes", e.Bytes)
		span.End(err)
	}()
	return m.snapshotShard(ctx, s)
}

func (m *Manager) snapshotShard(ctx context.Context, s *shard.Shard) (Entry, error) {
	start := time.Now()
	var buf bytes.Buffer
	stats, err := s.Snapshot(&buf)
	if err != nil {
		m.count("save", "error")
		return Entry{}, fmt.Errorf("encoding shard %d: %w", s.ID(), err)
	}
	raw := buf.Len()

	data, err := Compress(buf.Bytes(), m.opts.Codec)
	if err != nil {
		m.count("save", "error")
		return Entry{}, fmt.Errorf("compressing shard %d: %w", s.ID(), err)
	}
	name := Name(s.ID())
	if err := m.store.Put(ctx, name, data); err != nil {
		m.count("save", "error")
		return Entry{}, fmt.Errorf("storing shard %d: %w", s.ID(), err)
	}

	e := Entry{
		ShardID:    s.ID(),
		Name:       name,
		Store:      m.store.Name(),
		Backend:    string(stats.Backend),
		Codec:      m.opts.Codec,
		ChunkCount: stats.ChunkCount,
		DocCount:   stats.DocumentCount,
		Bytes:      len(data),
		CreatedAt:  time.Now().UTC(),
	}
	m.count("save", "ok")
	if m.opts.Metrics != nil {
		m.opts.Metrics.SnapshotBytes.WithLabelValues(strconv.Itoa(s.ID())).Set(float64(len(data)))
	}
	if m.opts.Recorder != nil {
		if err := m.opts.Recorder.Record(ctx, e); err != nil {
			m.logger.Warn("failed to record snapshot", "shard_id", e.ShardID, "error", err)
		}
	}
	if m.opts.Publisher != nil {
		event := kafka.Event{Key: strconv.Itoa(e.ShardID), Value: e}
		if err := m.opts.Publisher.Publish(ctx, event); err != nil {
			m.logger.Warn("failed to publish snapshot event", "shard_id", e.ShardID, "error", err)
		}
	}
	m.logger.Debug("shard snapshotted",
		"shard_id", e.ShardID,
		"chunk_count", e.ChunkCount,
		"raw_bytes", raw,
		"stored_bytes", e.Bytes,
		"duration", time.Since(start),
	)
	return e, nil
}

// SnapshotAll snapshots every shard, at most MaxConcurrent at a time. It
// returns the first error; entries for shards that succeeded are still
// returned in shard order.
func (m *Manager) SnapshotAll(ctx context.Context) ([]Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot_all", "")
	shards := m.router.Shards()
	entries := make([]Entry, len(shards))
	done := make([]bool, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.MaxConcurrent)
	for i, s := range shards {
		g.Go(func() error {
			e, err := m.SnapshotShard(gctx, s)
			if err != nil {
				return err
			}
			entries[i] = e
			done[i] = true
			return nil
		})
	}
	err := g.Wait()

	out := make([]Entry, 0, len(shards))
	for i, ok := range done {
		if ok {
			out = append(out, entries[i])
		}
	}
	span.SetAttr("saved", len(out))
	span.End(err)
	span.Log(ctx, m.logger, slog.LevelDebug)
	return out, err
}

// RestoreAll loads every shard that has a stored snapshot and returns how
// many were restored. Shards without one are left empty.
func (m *Manager) RestoreAll(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "restore_all", "")
	var restored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.MaxConcurrent)
	for _, s := range m.router.Shards() {
		g.Go(func() error {
			ok, err := m.restoreShard(gctx, s)
			if ok {
				restored.Add(1)
			}
			return err
		})
	}
	err := g.Wait()
	span.SetAttr("restored", restored.Load())
	span.End(err)
	span.Log(ctx, m.logger, slog.LevelDebug)
	m.logger.Info("restore finished", "restored", restored.Load(), "num_shards", m.router.NumShards())
	return int(restored.Load()), err
}

func (m *Manager) restoreShard(ctx context.Context, s *shard.Shard) (restored bool, err error) {
	ctx, span := tracing.StartChildSpan(ctx, "restore_shard")
	span.SetAttr("shard_id", s.ID())
	defer func() {
		span.SetAttr("restored", restored)
		span.End(err)
	}()

	data, err := m.store.Get(ctx, Name(s.ID()))
	if errors.Is(err, apperrors.ErrSnapshotNotFound) {
		m.count("restore", "missing")
		m.logger.Info("no snapshot for shard, starting empty", "shard_id", s.ID())
		return false, nil
	}
	if err != nil {
		m.count("restore", "error")
		return false, fmt.Errorf("fetching snapshot for shard %d: %w", s.ID(), err)
	}
	raw, err := Decompress(data)
	if err != nil {
		m.count("restore", "error")
		return false, fmt.Errorf("decompressing snapshot for shard %d: %w", s.ID(), err)
	}
	if err := s.Restore(bytes.NewReader(raw)); err != nil {
		m.count("restore", "error")
		return false, err
	}
	m.count("restore", "ok")
	return true, nil
}

// StartLoop snapshots all shards every Interval until ctx is cancelled,
// then takes one final snapshot. The returned channel closes once that
// final snapshot has finished.
func (m *Manager) StartLoop(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if m.opts.Interval <= 0 {
			<-ctx.Done()
			m.final()
			return
		}
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		m.logger.Info("snapshot loop started", "interval", m.opts.Interval, "codec", m.opts.Codec)
		for {
			select {
			case <-ctx.Done():
				m.final()
				return
			case <-ticker.C:
				if _, err := m.SnapshotAll(ctx); err != nil && ctx.Err() == nil {
					m.logger.Error("periodic snapshot failed", "error", err)
				}
			}
		}
	}()
	return done
}

func (m *Manager) final() {
	ctx, cancel := context.WithTimeout(context.Background(), finalSnapshotTimeout)
	defer cancel()
	entries, err := m.SnapshotAll(ctx)
	if err != nil {
		m.logger.Error("final snapshot failed", "error", err, "saved", len(entries))
		return
	}
	m.logger.Info("final snapshot written", "shards", len(entries))
}

func (m *Manager) count(op, status string) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.SnapshotsTotal.WithLabelValues(op, status).Inc()
	}
}
