package ingest

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
)

const (
	MaxBatchPairs  = 1 << 20
	MaxQueryKeys   = 1 << 20
	maxBatchIDSize = 255
)

// ValidationError holds per-field validation failure messages. It unwraps
// to ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		names = append(names, field)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, field := range names {
		parts[i] = fmt.Sprintf("%s: %s", field, e.Fields[field])
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

// ValidateAdd enforces size limits only. Pair and weight lengths are left to
// the indexer, since the hash-map backend truncates where the others reject.
func ValidateAdd(pairs [][2]int64, weights []float64) error {
	errs := make(map[string]string)
	if len(pairs) > MaxBatchPairs {
		errs["pairs"] = fmt.Sprintf("at most %d pairs per batch", MaxBatchPairs)
	}
	if len(weights) > MaxBatchPairs {
		errs["weights"] = fmt.Sprintf("at most %d weights per batch", MaxBatchPairs)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateEvent checks a Kafka batch before it reaches a shard.
func ValidateEvent(e ChunkBatchEvent) error {
	errs := make(map[string]string)
	if err := ValidateAdd(e.Pairs, e.Weights); err != nil {
		for k, v := range err.(*ValidationError).Fields {
			errs[k] = v
		}
	}
	if e.ShardID < 0 {
		errs["shard_id"] = "shard_id must not be negative"
	}
	if len(e.BatchID) > maxBatchIDSize {
		errs["batch_id"] = fmt.Sprintf("batch_id must be at most %d characters", maxBatchIDSize)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func ValidateQuery(keys []int64) error {
	if len(keys) > MaxQueryKeys {
		return &ValidationError{Fields: map[string]string{
			"keys": fmt.Sprintf("at most %d keys per query", MaxQueryKeys),
		}}
	}
	return nil
}
