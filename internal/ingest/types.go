// Package ingest defines the wire types for adding and querying chunk
// records, validates inbound batches and consumes chunk batches from Kafka.
package ingest

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/keyindex"
)

// ChunkBatchEvent is the Kafka payload carrying one batch for one shard.
// Pairs are [doc_id, offset]; Weights run parallel to Pairs.
type ChunkBatchEvent struct {
	BatchID    string     `json:"batch_id"`
	ShardID    int        `json:"shard_id"`
	Pairs      [][2]int64 `json:"pairs"`
	Weights    []float64  `json:"weights"`
	ProducedAt time.Time  `json:"produced_at"`
}

// AddRequest is the JSON body of POST /api/v1/shards/{shard}/records.
type AddRequest struct {
	Pairs   [][2]int64 `json:"pairs"`
	Weights []float64  `json:"weights"`
}

// AddResponse reports the shard's chunk count after the add.
type AddResponse struct {
	ShardID    int `json:"shard_id"`
	Added      int `json:"added"`
	ChunkCount int `json:"chunk_count"`
}

// QueryRequest is the JSON body of POST /api/v1/shards/{shard}/query.
type QueryRequest struct {
	Keys []int64 `json:"keys"`
}

type QueryResponse struct {
	ShardID int               `json:"shard_id"`
	Records []keyindex.Record `json:"records"`
}

// ToPairs converts wire pairs to keyindex pairs.
func ToPairs(raw [][2]int64) []keyindex.Pair {
	pairs := make([]keyindex.Pair, len(raw))
	for i, p := range raw {
		pairs[i] = keyindex.Pair{DocID: p[0], Offset: p[1]}
	}
	return pairs
}
