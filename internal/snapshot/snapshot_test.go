package snapshot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/keyindex"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/resilience"
)

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	fail  error
}

func newMemStore() *memStore { return &memStore{blobs: make(map[string][]byte)} }

func (s *memStore) Name() string { return "mem" }

func (s *memStore) Put(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[name]
	if !ok {
		return nil, apperrors.ErrSnapshotNotFound
	}
	return b, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *fakeRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (p *fakePublisher) Publish(_ context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newRouter(t *testing.T, backend string) *shard.Router {
	t.Helper()
	r, err := shard.NewRouter(config.KeyIndexConfig{
		Backend:         backend,
		NumShards:       3,
		InitialCapacity: 2,
		GrowthChunk:     8,
		ColumnWidth:     3,
	}, nil)
	require.NoError(t, err)
	return r
}

func fill(t *testing.T, r *shard.Router) {
	t.Helper()
	for _, s := range r.Shards() {
		n := s.ID() + 2
		pairs := make([]keyindex.Pair, n)
		weights := make([]float64, n)
		for i := range pairs {
			pairs[i] = keyindex.Pair{DocID: int64(100*s.ID() + i/2), Offset: int64(i)}
			weights[i] = float64(i) / 10
		}
		_, err := s.Add(pairs, weights)
		require.NoError(t, err)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("KIDX chunk rows "), 512)
	for _, c := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(string(c), func(t *testing.T) {
			packed, err := Compress(data, c)
			require.NoError(t, err)
			assert.Equal(t, c, Detect(packed))
			if c != CodecNone {
				assert.Less(t, len(packed), len(data))
			}
			out, err := Decompress(packed)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestDecompressCorruptZstd(t *testing.T) {
	bad := append([]byte{0x28, 0xB5, 0x2F, 0xFD}, 0xFF, 0xFF, 0xFF)
	_, err := Decompress(bad)
	assert.ErrorIs(t, err, apperrors.ErrSnapshotCorrupt)
}

func TestParseCodec(t *testing.T) {
	for in, want := range map[string]Codec{"": CodecNone, "none": CodecNone, "zstd": CodecZstd, "lz4": CodecLZ4} {
		got, err := ParseCodec(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCodec("snappy")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snaps")
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = fs.Get(ctx, "shard-0.kidx")
	assert.ErrorIs(t, err, apperrors.ErrSnapshotNotFound)

	require.NoError(t, fs.Put(ctx, "shard-0.kidx", []byte("first")))
	require.NoError(t, fs.Put(ctx, "shard-0.kidx", []byte("second")))
	got, err := fs.Get(ctx, "shard-0.kidx")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	_, err = os.Stat(filepath.Join(dir, "shard-0.kidx.tmp"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, fs.Ping(ctx))

	assert.ErrorIs(t, fs.Put(ctx, "../escape", nil), apperrors.ErrInvalidInput)
	_, err = fs.Get(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

type fakeBlobClient struct {
	mu    sync.Mutex
	data  map[string][]byte
	fails int
	calls int
}

func (c *fakeBlobClient) GetBytes(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	b, ok := c.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return b, nil
}

func (c *fakeBlobClient) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fails > 0 {
		c.fails--
		return errors.New("connection reset")
	}
	c.data[key] = value.([]byte)
	return nil
}

func (c *fakeBlobClient) Ping(context.Context) error { return nil }

func TestRedisStore(t *testing.T) {
	client := &fakeBlobClient{data: make(map[string][]byte), fails: 1}
	s := NewRedisStore(client, "keyindex:", 0)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "shard-1.kidx", []byte("blob")))
	assert.Equal(t, []byte("blob"), client.data["keyindex:shard-1.kidx"])
	assert.Equal(t, 2, client.calls, "one failed attempt then a retry")

	got, err := s.Get(ctx, "shard-1.kidx")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	client.calls = 0
	_, err = s.Get(ctx, "shard-9.kidx")
	assert.ErrorIs(t, err, apperrors.ErrSnapshotNotFound)
	assert.Equal(t, 1, client.calls, "missing keys are not retried")
	assert.Equal(t, "redis", s.Name())
}

func TestRedisStoreLogsCircuitTransitions(t *testing.T) {
	client := &fakeBlobClient{data: make(map[string][]byte), fails: 100}
	s := NewRedisStore(client, "keyindex:", 0)
	s.retry.InitialDelay = time.Millisecond
	s.retry.MaxDelay = time.Millisecond
	var logs bytes.Buffer
	s.logger = slog.New(slog.NewJSONHandler(&logs, nil))
	ctx := context.Background()

	err := s.Put(ctx, "shard-0.kidx", []byte("blob"))
	require.Error(t, err)
	assert.NotContains(t, logs.String(), "snapshot store circuit changed")

	err = s.Put(ctx, "shard-0.kidx", []byte("blob"))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 5, client.calls, "the breaker stops calls once open")
	assert.Contains(t, logs.String(), `"msg":"snapshot store circuit changed"`)
	assert.Contains(t, logs.String(), `"from":"closed"`)
	assert.Contains(t, logs.String(), `"to":"open"`)
}

func TestManagerSnapshotAndRestore(t *testing.T) {
	for _, backend := range []string{"hashmap", "list", "cached", "columnar"} {
		t.Run(backend, func(t *testing.T) {
			store := newMemStore()
			rec := &fakeRecorder{}
			pub := &fakePublisher{}
			m := metrics.New(prometheus.NewRegistry())

			src := newRouter(t, backend)
			fill(t, src)
			mgr := NewManager(src, store, Options{Codec: CodecZstd, MaxConcurrent: 2, Recorder: rec, Publisher: pub, Metrics: m})
			entries, err := mgr.SnapshotAll(context.Background())
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Len(t, rec.entries, 3)
			assert.Len(t, pub.events, 3)
			for i, e := range entries {
				assert.Equal(t, i, e.ShardID)
				assert.Equal(t, Name(i), e.Name)
				assert.Equal(t, CodecZstd, e.Codec)
				assert.Equal(t, CodecZstd, Detect(store.blobs[e.Name]))
			}

			dst := newRouter(t, backend)
			n, err := NewManager(dst, store, Options{}).RestoreAll(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			for i, s := range src.Shards() {
				want := s.Stats()
				got := dst.Shards()[i].Stats()
				assert.Equal(t, want.ChunkCount, got.ChunkCount)
				assert.Equal(t, want.DocumentCount, got.DocumentCount)

				keys := []int64{0, 1}
				if backend == "hashmap" {
					keys = []int64{int64(100 * i)}
				}
				wantRecs, err := s.Query(keys)
				require.NoError(t, err)
				gotRecs, err := dst.Shards()[i].Query(keys)
				require.NoError(t, err)
				assert.Equal(t, wantRecs, gotRecs)
			}
		})
	}
}

func TestRestoreAllSkipsMissing(t *testing.T) {
	store := newMemStore()
	src := newRouter(t, "list")
	fill(t, src)
	mgr := NewManager(src, store, Options{})
	s1, _ := src.Route(1)
	_, err := mgr.SnapshotShard(context.Background(), s1)
	require.NoError(t, err)

	dst := newRouter(t, "list")
	n, err := NewManager(dst, store, Options{MaxConcurrent: 3}).RestoreAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, dst.Shards()[0].Stats().ChunkCount)
	assert.Equal(t, 3, dst.Shards()[1].Stats().ChunkCount)
}

func TestRestoreAllRejectsBackendMismatch(t *testing.T) {
	store := newMemStore()
	src := newRouter(t, "list")
	fill(t, src)
	_, err := NewManager(src, store, Options{}).SnapshotAll(context.Background())
	require.NoError(t, err)

	_, err = NewManager(newRouter(t, "columnar"), store, Options{}).RestoreAll(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRestoreAllCorruptBlob(t *testing.T) {
	store := newMemStore()
	store.blobs[Name(0)] = []byte("not a snapshot")
	_, err := NewManager(newRouter(t, "list"), store, Options{}).RestoreAll(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrSnapshotCorrupt)
}

func TestSnapshotAllStoreFailure(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("disk full")
	entries, err := NewManager(newRouter(t, "list"), store, Options{}).SnapshotAll(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, entries)
}

func TestStartLoopWritesFinalSnapshot(t *testing.T) {
	store := newMemStore()
	r := newRouter(t, "cached")
	fill(t, r)
	mgr := NewManager(r, store, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := mgr.StartLoop(ctx)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot loop did not stop")
	}
	assert.Len(t, store.blobs, 3)
}

func TestStartLoopTicks(t *testing.T) {
	store := newMemStore()
	rec := &fakeRecorder{}
	mgr := NewManager(newRouter(t, "list"), store, Options{Interval: 5 * time.Millisecond, Recorder: rec})

	ctx, cancel := context.WithCancel(context.Background())
	done := mgr.StartLoop(ctx)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.entries) >= 6
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
