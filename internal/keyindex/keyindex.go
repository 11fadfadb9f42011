// Package keyindex assigns sequential integer keys to batches of
// (document id, offset, weight) records and serves batched lookups by key.
//
// Four backends implement KeyIndexer with different cost profiles:
//   - HashMap keys records by document id with last-write-wins semantics.
//   - List appends to two lock-step slices; the key is the insertion index.
//   - CachedList extends List with a dense buffer rebuilt lazily after writes.
//   - Columnar writes straight into a preallocated row-major float64 buffer
//     that grows in fixed chunks.
//
// None of the backends synchronise access. Callers serialise writes and must
// not read while an Add is in progress.
package keyindex

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
)

// Pair is an inbound (document id, offset-within-document) pair.
type Pair struct {
	DocID  int64 `json:"doc_id"`
	Offset int64 `json:"offset"`
}

// Record is one indexed unit together with its relevance weight.
type Record struct {
	DocID  int64   `json:"doc_id"`
	Offset int64   `json:"offset"`
	Weight float64 `json:"weight"`
}

// Kind names a backend.
type Kind string

const (
	KindHashMap  Kind = "hashmap"
	KindList     Kind = "list"
	KindCached   Kind = "cached"
	KindColumnar Kind = "columnar"
)

// ParseKind resolves a backend name, ignoring case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindHashMap, KindList, KindCached, KindColumnar:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown backend %q", apperrors.ErrInvalidInput, s)
}

// KeyIndexer is the contract shared by every backend.
type KeyIndexer interface {
	// Add indexes a batch and returns the total record count afterwards.
	Add(pairs []Pair, weights []float64) (int, error)
	// Query returns one record per key, in the order the keys were given.
	Query(keys []int64) ([]Record, error)
	// ChunkCount is the number of records added so far.
	ChunkCount() int
	// DocumentCount is the number of distinct documents seen.
	DocumentCount() int
	// AverageChunksPerDocument fails with ErrDivisionUndefined while no
	// document has been seen.
	AverageChunksPerDocument() (float64, error)
	Kind() Kind
}

const (
	DefaultInitialCapacity = 10000
	DefaultGrowthChunk     = 10000
	DefaultColumnWidth     = 3
)

type options struct {
	initialCapacity int
	growthChunk     int
	columnWidth     int
}

func defaultOptions() options {
	return options{
		initialCapacity: DefaultInitialCapacity,
		growthChunk:     DefaultGrowthChunk,
		columnWidth:     DefaultColumnWidth,
	}
}

// Option configures the Columnar backend. Other backends ignore options.
type Option func(*options)

// WithInitialCapacity sets the number of rows allocated up front.
func WithInitialCapacity(rows int) Option {
	return func(o *options) { o.initialCapacity = rows }
}

// WithGrowthChunk sets the minimum number of rows added per reallocation.
func WithGrowthChunk(rows int) Option {
	return func(o *options) { o.growthChunk = rows }
}

// WithColumnWidth sets the row width: width-1 identity columns and one
// weight column.
func WithColumnWidth(width int) Option {
	return func(o *options) { o.columnWidth = width }
}

// New builds an empty indexer of the given kind.
func New(kind Kind, opts ...Option) (KeyIndexer, error) {
	switch kind {
	case KindHashMap:
		return NewHashMap(), nil
	case KindList:
		return NewList(), nil
	case KindCached:
		return NewCachedList(), nil
	case KindColumnar:
		return NewColumnar(opts...)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", apperrors.ErrInvalidInput, kind)
}

func lengthMismatch(pairs, weights int) error {
	return fmt.Errorf("%w: %d pairs, %d weights", apperrors.ErrLengthMismatch, pairs, weights)
}

func outOfRange(key int64, size int) error {
	return fmt.Errorf("%w: key %d, size %d", apperrors.ErrKeyOutOfRange, key, size)
}
