// Package snapshot persists encoded shards to a Store and restores them,
// optionally recording each snapshot in PostgreSQL and announcing it on
// Kafka.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/resilience"
)

// Store holds snapshot blobs by name. Get returns ErrSnapshotNotFound for a
// name that was never written.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Name() string
}

// FileStore writes one file per snapshot under a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Name() string { return "file" }

// Put writes data to a .tmp file, syncs it and renames it over name, so a
// reader never sees a partial snapshot.
func (s *FileStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finalPath, err := s.path(name)
	if err != nil {
		return err
	}
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing snapshot %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing snapshot %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", name, err)
	}
	return data, nil
}

// Ping reports whether the snapshot directory is still usable.
func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

func (s *FileStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: bad snapshot name %q", apperrors.ErrInvalidInput, name)
	}
	return filepath.Join(s.dir, name), nil
}

// BlobClient is the subset of the Redis client RedisStore needs.
type BlobClient interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// RedisStore keeps snapshots as Redis string values. Calls go through a
// circuit breaker and are retried with backoff; a missing key is neither
// retried nor counted against the breaker.
type RedisStore struct {
	client  BlobClient
	prefix  string
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

func NewRedisStore(client BlobClient, prefix string, ttl time.Duration) *RedisStore {
	cb := resilience.NewCircuitBreaker("redis-snapshot-store", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	})
	cb.IgnoreErrors(func(err error) bool { return errors.Is(err, apperrors.ErrSnapshotNotFound) })
	s := &RedisStore{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		breaker: cb,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
		},
		logger: slog.Default().With("component", "redis-snapshot-store"),
	}
	cb.OnStateChange(func(name string, from, to resilience.State) {
		level := slog.LevelInfo
		if to == resilience.StateOpen {
			level = slog.LevelWarn
		}
		s.logger.Log(context.Background(), level, "snapshot store circuit changed",
			"breaker", name, "from", from.String(), "to", to.String())
	})
	return s
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Put(ctx context.Context, name string, data []byte) error {
	key := s.prefix + name
	return resilience.Retry(ctx, "snapshot put", s.retry, func() error {
		err := s.breaker.Execute(func() error {
			return s.client.Set(ctx, key, data, s.ttl)
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return resilience.Permanent(err)
		}
		return err
	})
}

func (s *RedisStore) Get(ctx context.Context, name string) ([]byte, error) {
	key := s.prefix + name
	var data []byte
	err := resilience.Retry(ctx, "snapshot get", s.retry, func() error {
		err := s.breaker.Execute(func() error {
			b, err := s.client.GetBytes(ctx, key)
			if redis.IsNilError(err) {
				return fmt.Errorf("%w: %s", apperrors.ErrSnapshotNotFound, key)
			}
			data = b
			return err
		})
		if errors.Is(err, apperrors.ErrSnapshotNotFound) || errors.Is(err, resilience.ErrCircuitOpen) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// NoopStore drops every snapshot. It backs the "none" store setting.
type NoopStore struct{}

func (NoopStore) Name() string { return "none" }

func (NoopStore) Put(context.Context, string, []byte) error { return nil }

func (NoopStore) Get(_ context.Context, name string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", apperrors.ErrSnapshotNotFound, name)
}
