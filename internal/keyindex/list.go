package keyindex

// List keeps pairs and weights in two append-only slices. The key of a
// record is its zero-based insertion index.
type List struct {
	stats
	pairs   []Pair
	weights []float64
}

func NewList() *List {
	return &List{stats: newStats()}
}

func (l *List) Kind() Kind { return KindList }

// Add appends the batch. It fails with ErrLengthMismatch, leaving the list
// untouched, when pairs and weights differ in length.
func (l *List) Add(pairs []Pair, weights []float64) (int, error) {
	if len(pairs) != len(weights) {
		return 0, lengthMismatch(len(pairs), len(weights))
	}
	l.pairs = append(l.pairs, pairs...)
	l.weights = append(l.weights, weights...)
	for _, p := range pairs {
		l.observe(p.DocID)
	}
	l.chunks += len(pairs)
	return len(l.pairs), nil
}

func (l *List) Query(keys []int64) ([]Record, error) {
	out := make([]Record, len(keys))
	for i, k := range keys {
		if k < 0 || k >= int64(len(l.pairs)) {
			return nil, outOfRange(k, len(l.pairs))
		}
		p := l.pairs[k]
		out[i] = Record{DocID: p.DocID, Offset: p.Offset, Weight: l.weights[k]}
	}
	return out, nil
}

// Size is the number of records held.
func (l *List) Size() int { return len(l.pairs) }
