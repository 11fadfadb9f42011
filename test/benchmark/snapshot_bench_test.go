// Package benchmark contains Go benchmarks for the snapshot path and for
// shards under concurrent load, measuring throughput and allocation
// behaviour.
package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/keyindex"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/config"
)

func filledIndex(b *testing.B, kind keyindex.Kind, rows int) keyindex.KeyIndexer {
	b.Helper()
	idx, err := keyindex.New(kind)
	if err != nil {
		b.Fatal(err)
	}
	pairs := make([]keyindex.Pair, rows)
	weights := make([]float64, rows)
	for i := range pairs {
		pairs[i] = keyindex.Pair{DocID: int64(i / 16), Offset: int64(i % 16)}
		weights[i] = float64(i%1000) / 1000
	}
	if _, err := idx.Add(pairs, weights); err != nil {
		b.Fatal(err)
	}
	return idx
}

// BenchmarkSnapshotEncode measures encoding plus compression of a 100 000
// row columnar index under each codec.
func BenchmarkSnapshotEncode(b *testing.B) {
	idx := filledIndex(b, keyindex.KindColumnar, 100_000)
	for _, codec := range []snapshot.Codec{snapshot.CodecNone, snapshot.CodecZstd, snapshot.CodecLZ4} {
		b.Run(string(codec), func(b *testing.B) {
			var buf bytes.Buffer
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				buf.Reset()
				if err := keyindex.Encode(&buf, idx); err != nil {
					b.Fatal(err)
				}
				out, err := snapshot.Compress(buf.Bytes(), codec)
				if err != nil {
					b.Fatal(err)
				}
				b.SetBytes(int64(buf.Len()))
				b.ReportMetric(float64(len(out))/float64(buf.Len()), "ratio")
			}
		})
	}
}

// BenchmarkSnapshotDecode measures decompression plus decoding for every
// backend.
func BenchmarkSnapshotDecode(b *testing.B) {
	for _, kind := range []keyindex.Kind{keyindex.KindHashMap, keyindex.KindList, keyindex.KindColumnar} {
		b.Run(string(kind), func(b *testing.B) {
			var buf bytes.Buffer
			if err := keyindex.Encode(&buf, filledIndex(b, kind, 50_000)); err != nil {
				b.Fatal(err)
			}
			data, err := snapshot.Compress(buf.Bytes(), snapshot.CodecZstd)
			if err != nil {
				b.Fatal(err)
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				raw, err := snapshot.Decompress(data)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := keyindex.Decode(bytes.NewReader(raw)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkShardParallelAdd measures contended adds across four shards.
func BenchmarkShardParallelAdd(b *testing.B) {
	router, err := shard.NewRouter(config.KeyIndexConfig{
		Backend:         "columnar",
		NumShards:       4,
		InitialCapacity: 10000,
		GrowthChunk:     10000,
		ColumnWidth:     3,
	}, nil)
	if err != nil {
		b.Fatal(err)
	}
	pairs := make([]keyindex.Pair, 64)
	weights := make([]float64, 64)
	for i := range pairs {
		pairs[i] = keyindex.Pair{DocID: int64(i), Offset: 0}
		weights[i] = 1
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			s, _ := router.Route(i % router.NumShards())
			if _, err := s.Add(pairs, weights); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}

// BenchmarkSnapshotAll measures a full manager pass into an in-memory store.
func BenchmarkSnapshotAll(b *testing.B) {
	for _, shards := range []int{1, 8} {
		b.Run(fmt.Sprintf("shards_%d", shards), func(b *testing.B) {
			router, err := shard.NewRouter(config.KeyIndexConfig{
				Backend:         "list",
				NumShards:       shards,
				InitialCapacity: 1,
				GrowthChunk:     1,
				ColumnWidth:     3,
			}, nil)
			if err != nil {
				b.Fatal(err)
			}
			for _, s := range router.Shards() {
				pairs := make([]keyindex.Pair, 10_000)
				weights := make([]float64, len(pairs))
				for i := range pairs {
					pairs[i] = keyindex.Pair{DocID: int64(i / 4), Offset: int64(i % 4)}
				}
				if _, err := s.Add(pairs, weights); err != nil {
					b.Fatal(err)
				}
			}
			mgr := snapshot.NewManager(router, snapshot.NoopStore{}, snapshot.Options{Codec: snapshot.CodecLZ4, MaxConcurrent: 4})
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := mgr.SnapshotAll(context.Background()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
