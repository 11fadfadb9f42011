package keyindex

import (
	"fmt"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
)

// maxExact bounds identity values that survive a float64 column unchanged.
const maxExact = 1 << 53

// MaxColumnWidth is the widest row a Columnar accepts.
const MaxColumnWidth = 1 << 16

// Columnar stores every record as one row of a preallocated, row-major
// float64 buffer laid out as [doc_id, offset, ..., weight]. Rows
// [size, capacity) are zero and never read.
//
// When a batch does not fit, the buffer grows by max(batch, growthChunk)
// rows. The floor is fixed, not proportional to capacity, so copy work tends
// towards quadratic once batches routinely exceed growthChunk.
type Columnar struct {
	stats
	buf         []float64
	width       int
	size        int
	capacity    int
	growthChunk int
	growths     int
}

// NewColumnar allocates an empty buffer. Defaults: 10000 rows of width 3,
// growing in chunks of 10000 rows.
func NewColumnar(opts ...Option) (*Columnar, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.columnWidth < 2 || o.columnWidth > MaxColumnWidth {
		return nil, fmt.Errorf("%w: column width %d, need 2 to %d", apperrors.ErrInvalidInput, o.columnWidth, MaxColumnWidth)
	}
	if o.initialCapacity < 0 || o.initialCapacity > math.MaxInt/o.columnWidth {
		return nil, fmt.Errorf("%w: initial capacity %d", apperrors.ErrInvalidInput, o.initialCapacity)
	}
	if o.growthChunk <= 0 {
		return nil, fmt.Errorf("%w: growth chunk %d", apperrors.ErrInvalidInput, o.growthChunk)
	}
	return &Columnar{
		stats:       newStats(),
		buf:         make([]float64, o.initialCapacity*o.columnWidth),
		width:       o.columnWidth,
		capacity:    o.initialCapacity,
		growthChunk: o.growthChunk,
	}, nil
}

func (c *Columnar) Kind() Kind { return KindColumnar }

// Add writes the batch into rows [size, size+len(pairs)). It needs an
// offset column, so the width must be at least 3; wider layouts leave the
// extra identity columns zero.
func (c *Columnar) Add(pairs []Pair, weights []float64) (int, error) {
	if len(pairs) != len(weights) {
		return 0, lengthMismatch(len(pairs), len(weights))
	}
	if c.width < 3 {
		return 0, fmt.Errorf("%w: width %d has no offset column, use AddRows", apperrors.ErrInvalidInput, c.width)
	}
	for _, p := range pairs {
		if err := checkExact(p.DocID); err != nil {
			return 0, err
		}
		if err := checkExact(p.Offset); err != nil {
			return 0, err
		}
	}
	c.reserve(len(pairs))
	w := c.width
	for i, p := range pairs {
		row := c.buf[(c.size+i)*w : (c.size+i+1)*w]
		row[0] = float64(p.DocID)
		row[1] = float64(p.Offset)
		row[w-1] = weights[i]
		c.observe(p.DocID)
	}
	c.size += len(pairs)
	c.chunks += len(pairs)
	return c.size, nil
}

// AddRows is Add for arbitrary widths. Each ids row holds width-1 identity
// values; the first is the document id.
func (c *Columnar) AddRows(ids [][]int64, weights []float64) (int, error) {
	if len(ids) != len(weights) {
		return 0, lengthMismatch(len(ids), len(weights))
	}
	for i, row := range ids {
		if len(row) != c.width-1 {
			return 0, fmt.Errorf("%w: row %d has %d identity values, want %d", apperrors.ErrInvalidInput, i, len(row), c.width-1)
		}
		for _, v := range row {
			if err := checkExact(v); err != nil {
				return 0, err
			}
		}
	}
	c.reserve(len(ids))
	w := c.width
	for i, ident := range ids {
		row := c.buf[(c.size+i)*w : (c.size+i+1)*w]
		for j, v := range ident {
			row[j] = float64(v)
		}
		row[w-1] = weights[i]
		c.observe(ident[0])
	}
	c.size += len(ids)
	c.chunks += len(ids)
	return c.size, nil
}

// Query gathers the identity and weight columns for keys. With width 2 the
// offset reads back as 0.
func (c *Columnar) Query(keys []int64) ([]Record, error) {
	if err := c.checkKeys(keys); err != nil {
		return nil, err
	}
	w := c.width
	out := make([]Record, len(keys))
	for i, k := range keys {
		row := c.buf[int(k)*w : int(k+1)*w]
		out[i].DocID = int64(row[0])
		if w > 2 {
			out[i].Offset = int64(row[1])
		}
		out[i].Weight = row[w-1]
	}
	return out, nil
}

// QueryRows returns the full identity columns and the weights for keys.
func (c *Columnar) QueryRows(keys []int64) ([][]int64, []float64, error) {
	if err := c.checkKeys(keys); err != nil {
		return nil, nil, err
	}
	w := c.width
	ids := make([][]int64, len(keys))
	flat := make([]int64, len(keys)*(w-1))
	weights := make([]float64, len(keys))
	for i, k := range keys {
		row := c.buf[int(k)*w : int(k+1)*w]
		ident := flat[i*(w-1) : (i+1)*(w-1) : (i+1)*(w-1)]
		for j := range ident {
			ident[j] = int64(row[j])
		}
		ids[i] = ident
		weights[i] = row[w-1]
	}
	return ids, weights, nil
}

// reserve makes room for n more rows, reallocating at most once.
func (c *Columnar) reserve(n int) {
	if c.size+n <= c.capacity {
		return
	}
	extend := max(n, c.growthChunk)
	grown := make([]float64, (c.capacity+extend)*c.width)
	copy(grown, c.buf)
	c.buf = grown
	c.capacity += extend
	c.growths++
}

func (c *Columnar) checkKeys(keys []int64) error {
	for _, k := range keys {
		if k < 0 || k >= int64(c.size) {
			return outOfRange(k, c.size)
		}
	}
	return nil
}

func checkExact(v int64) error {
	if v > maxExact || v < -maxExact {
		return fmt.Errorf("%w: identity value %d exceeds float64 precision", apperrors.ErrInvalidInput, v)
	}
	return nil
}

// Capacity is the number of rows allocated.
func (c *Columnar) Capacity() int { return c.capacity }

// Size is the number of rows occupied.
func (c *Columnar) Size() int { return c.size }

// Growths is the number of reallocations so far.
func (c *Columnar) Growths() int { return c.growths }

func (c *Columnar) Width() int { return c.width }

func (c *Columnar) GrowthChunk() int { return c.growthChunk }
