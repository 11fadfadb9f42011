package keyindex

type cacheState uint8

const (
	cacheDirty cacheState = iota
	cacheClean
)

func (s cacheState) String() string {
	if s == cacheClean {
		return "clean"
	}
	return "dirty"
}

// CachedList is a List that answers queries from dense buffers built from
// the append-only slices. Every Add marks the cache dirty; the next Query
// rebuilds it in O(n) and later queries gather from it directly.
//
// The buffers are derived state and are never part of a snapshot.
type CachedList struct {
	List
	state        cacheState
	cacheIDs     []int64 // doc id, offset per row
	cacheWeights []float64
	rebuilds     int
}

func NewCachedList() *CachedList {
	return &CachedList{List: *NewList()}
}

func (c *CachedList) Kind() Kind { return KindCached }

func (c *CachedList) Add(pairs []Pair, weights []float64) (int, error) {
	c.state = cacheDirty
	return c.List.Add(pairs, weights)
}

// Query rebuilds the cache if needed and gathers the requested rows. Query
// mutates the cache, so it needs the same exclusion as Add.
func (c *CachedList) Query(keys []int64) ([]Record, error) {
	if c.state == cacheDirty {
		c.rebuild()
	}
	n := int64(len(c.cacheWeights))
	for _, k := range keys {
		if k < 0 || k >= n {
			return nil, outOfRange(k, int(n))
		}
	}
	out := make([]Record, len(keys))
	for i, k := range keys {
		out[i] = Record{DocID: c.cacheIDs[2*k], Offset: c.cacheIDs[2*k+1], Weight: c.cacheWeights[k]}
	}
	return out, nil
}

func (c *CachedList) rebuild() {
	n := len(c.pairs)
	if cap(c.cacheIDs) >= 2*n {
		c.cacheIDs = c.cacheIDs[:2*n]
	} else {
		c.cacheIDs = make([]int64, 2*n)
	}
	for i, p := range c.pairs {
		c.cacheIDs[2*i] = p.DocID
		c.cacheIDs[2*i+1] = p.Offset
	}
	c.cacheWeights = append(c.cacheWeights[:0], c.weights...)
	c.state = cacheClean
	c.rebuilds++
}

// Rebuilds reports how many times the cache has been rebuilt.
func (c *CachedList) Rebuilds() int { return c.rebuilds }

// Clean reports whether the next Query can reuse the cache.
func (c *CachedList) Clean() bool { return c.state == cacheClean }
