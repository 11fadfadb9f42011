package keyindex

import (
	"fmt"
	"testing"
)

func benchBatch(n int) ([]Pair, []float64) {
	pairs := make([]Pair, n)
	weights := make([]float64, n)
	for i := range pairs {
		pairs[i] = Pair{DocID: int64(i / 8), Offset: int64(i % 8)}
		weights[i] = float64(i%100) / 100
	}
	return pairs, weights
}

// BenchmarkAdd measures per-batch insert throughput for every backend.
func BenchmarkAdd(b *testing.B) {
	for _, kind := range []Kind{KindHashMap, KindList, KindCached, KindColumnar} {
		for _, size := range []int{1, 64, 1024} {
			b.Run(fmt.Sprintf("%s/batch_%d", kind, size), func(b *testing.B) {
				idx, err := New(kind)
				if err != nil {
					b.Fatal(err)
				}
				pairs, weights := benchBatch(size)
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := idx.Add(pairs, weights); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkQuery measures batched lookups of 256 keys over 100 000 records.
func BenchmarkQuery(b *testing.B) {
	for _, kind := range []Kind{KindList, KindCached, KindColumnar} {
		b.Run(string(kind), func(b *testing.B) {
			idx, err := New(kind)
			if err != nil {
				b.Fatal(err)
			}
			pairs, weights := benchBatch(100000)
			if _, err := idx.Add(pairs, weights); err != nil {
				b.Fatal(err)
			}
			keys := make([]int64, 256)
			for i := range keys {
				keys[i] = int64((i * 389) % 100000)
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := idx.Query(keys); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkCachedWriteThenQuery measures the rebuild paid by the first query
// after each write.
func BenchmarkCachedWriteThenQuery(b *testing.B) {
	c := NewCachedList()
	pairs, weights := benchBatch(10000)
	if _, err := c.Add(pairs, weights); err != nil {
		b.Fatal(err)
	}
	one, oneWeight := benchBatch(1)
	keys := []int64{0, 1, 2, 3}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Add(one, oneWeight); err != nil {
			b.Fatal(err)
		}
		if _, err := c.Query(keys); err != nil {
			b.Fatal(err)
		}
	}
}
