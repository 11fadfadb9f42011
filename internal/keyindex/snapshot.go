package keyindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"slices"

	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
)

// Snapshot layout, little endian:
//
//	header  40 bytes  magic, version, kind, reserved, rows, capacity,
//	                  growth chunk, width (uint32), reserved
//	body    rows      hashmap/list/cached: doc id, offset, weight (24 bytes)
//	                  columnar: width float64 values per occupied row
//	footer  4 bytes   CRC32 (IEEE) of header and body
//
// Version 1 headers are 32 bytes and carry the width in byte 7. Decode
// still reads them.
const (
	SnapshotMagic   uint32 = 0x5844494B // "KIDX"
	SnapshotVersion uint16 = 2
	headerSize             = 40
	headerSizeV1           = 32
	footerSize             = 4
	maxSnapshotRows        = 1 << 32

	// Row counts are untrusted until the footer checks out.
	preallocRows = 1 << 20
)

var kindCodes = map[Kind]byte{
	KindHashMap:  1,
	KindList:     2,
	KindCached:   3,
	KindColumnar: 4,
}

func kindFromCode(code byte) (Kind, bool) {
	for k, c := range kindCodes {
		if c == code {
			return k, true
		}
	}
	return "", false
}

type snapshotHeader struct {
	kind        Kind
	width       int
	rows        int
	capacity    int
	growthChunk int
}

func (h snapshotHeader) marshal() []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(b[0:4], SnapshotMagic)
	binary.LittleEndian.PutUint16(b[4:6], SnapshotVersion)
	b[6] = kindCodes[h.kind]
	binary.LittleEndian.PutUint64(b[8:16], uint64(h.rows))
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.capacity))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.growthChunk))
	binary.LittleEndian.PutUint32(b[32:36], uint32(h.width))
	return b
}

// readHeader reads a version 1 or version 2 header from r.
func readHeader(r io.Reader) (snapshotHeader, error) {
	b := make([]byte, headerSize)
	if _, err := io.ReadFull(r, b[:headerSizeV1]); err != nil {
		return snapshotHeader{}, fmt.Errorf("%w: reading header: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != SnapshotMagic {
		return snapshotHeader{}, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrSnapshotCorrupt, magic)
	}
	var width int
	switch v := binary.LittleEndian.Uint16(b[4:6]); v {
	case 1:
		width = int(b[7])
	case SnapshotVersion:
		if _, err := io.ReadFull(r, b[headerSizeV1:]); err != nil {
			return snapshotHeader{}, fmt.Errorf("%w: reading header: %v", apperrors.ErrSnapshotCorrupt, err)
		}
		width = int(binary.LittleEndian.Uint32(b[32:36]))
	default:
		return snapshotHeader{}, fmt.Errorf("%w: unsupported version %d", apperrors.ErrSnapshotCorrupt, v)
	}
	kind, ok := kindFromCode(b[6])
	if !ok {
		return snapshotHeader{}, fmt.Errorf("%w: unknown kind code %d", apperrors.ErrSnapshotCorrupt, b[6])
	}
	h := snapshotHeader{
		kind:        kind,
		width:       width,
		rows:        int(binary.LittleEndian.Uint64(b[8:16])),
		capacity:    int(binary.LittleEndian.Uint64(b[16:24])),
		growthChunk: int(binary.LittleEndian.Uint64(b[24:32])),
	}
	if h.rows < 0 || h.rows > maxSnapshotRows || h.capacity < 0 || h.capacity > maxSnapshotRows {
		return snapshotHeader{}, fmt.Errorf("%w: rows %d, capacity %d", apperrors.ErrSnapshotCorrupt, h.rows, h.capacity)
	}
	if h.kind == KindColumnar {
		if h.width < 2 || h.width > MaxColumnWidth {
			return snapshotHeader{}, fmt.Errorf("%w: column width %d", apperrors.ErrSnapshotCorrupt, h.width)
		}
		if h.capacity < h.rows {
			return snapshotHeader{}, fmt.Errorf("%w: capacity %d below row count %d", apperrors.ErrSnapshotCorrupt, h.capacity, h.rows)
		}
		if h.capacity > math.MaxInt/h.width {
			return snapshotHeader{}, fmt.Errorf("%w: capacity %d overflows width %d", apperrors.ErrSnapshotCorrupt, h.capacity, h.width)
		}
	}
	return h, nil
}

// Encode writes a snapshot of idx to w. A CachedList contributes only its
// append-only slices; a Columnar only its occupied rows.
func Encode(w io.Writer, idx KeyIndexer) error {
	bw := bufio.NewWriter(w)
	sum := crc32.NewIEEE()
	enc := &rowWriter{w: io.MultiWriter(bw, sum)}

	switch x := idx.(type) {
	case *HashMap:
		enc.raw(snapshotHeader{kind: KindHashMap, rows: len(x.entries)}.marshal())
		keys := make([]int64, 0, len(x.entries))
		for k := range x.entries {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			e := x.entries[k]
			enc.putInt(k)
			enc.putInt(e.offset)
			enc.putFloat(e.weight)
		}
	case *CachedList:
		encodeList(enc, &x.List, KindCached)
	case *List:
		encodeList(enc, x, KindList)
	case *Columnar:
		enc.raw(snapshotHeader{
			kind:        KindColumnar,
			width:       x.width,
			rows:        x.size,
			capacity:    x.capacity,
			growthChunk: x.growthChunk,
		}.marshal())
		for _, v := range x.buf[:x.size*x.width] {
			enc.putFloat(v)
		}
	default:
		return fmt.Errorf("%w: cannot snapshot %T", apperrors.ErrInvalidInput, idx)
	}
	if enc.err != nil {
		return fmt.Errorf("writing snapshot body: %w", enc.err)
	}
	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint32(footer, sum.Sum32())
	if _, err := bw.Write(footer); err != nil {
		return fmt.Errorf("writing snapshot footer: %w", err)
	}
	return bw.Flush()
}

func encodeList(enc *rowWriter, l *List, kind Kind) {
	enc.raw(snapshotHeader{kind: kind, rows: len(l.pairs)}.marshal())
	for i, p := range l.pairs {
		enc.putInt(p.DocID)
		enc.putInt(p.Offset)
		enc.putFloat(l.weights[i])
	}
}

// Decode rebuilds an indexer from a snapshot written by Encode. Statistics
// are recomputed from the rows; a decoded CachedList starts dirty. Nothing
// sized by the header's capacity is allocated before the checksum matches.
func Decode(r io.Reader) (KeyIndexer, error) {
	sum := crc32.NewIEEE()
	br := bufio.NewReader(r)
	dec := &rowReader{r: io.TeeReader(br, sum)}

	h, err := readHeader(dec.r)
	if err != nil {
		return nil, err
	}

	var (
		idx  KeyIndexer
		body []float64
	)
	switch h.kind {
	case KindHashMap:
		m := &HashMap{entries: make(map[int64]hashEntry, min(h.rows, preallocRows))}
		for i := 0; i < h.rows && dec.err == nil; i++ {
			k, off, wt := dec.readInt(), dec.readInt(), dec.readFloat()
			m.entries[k] = hashEntry{offset: off, weight: wt}
		}
		idx = m
	case KindList, KindCached:
		l := decodeList(dec, h.rows)
		if h.kind == KindCached {
			idx = &CachedList{List: *l}
		} else {
			idx = l
		}
	case KindColumnar:
		n := h.rows * h.width
		body = make([]float64, 0, min(n, preallocRows))
		for i := 0; i < n && dec.err == nil; i++ {
			body = append(body, dec.readFloat())
		}
	}
	if dec.err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", apperrors.ErrSnapshotCorrupt, dec.err)
	}
	if err := verifyFooter(br, sum); err != nil {
		return nil, err
	}
	if h.kind == KindColumnar {
		c, err := decodeColumnar(h, body)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return idx, nil
}

func decodeColumnar(h snapshotHeader, body []float64) (*Columnar, error) {
	c, err := NewColumnar(
		WithInitialCapacity(h.capacity),
		WithGrowthChunk(h.growthChunk),
		WithColumnWidth(h.width),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	copy(c.buf, body)
	for row := 0; row < h.rows; row++ {
		c.observe(int64(c.buf[row*h.width]))
	}
	c.size = h.rows
	c.chunks = h.rows
	return c, nil
}

func decodeList(dec *rowReader, rows int) *List {
	l := NewList()
	l.pairs = make([]Pair, 0, min(rows, preallocRows))
	l.weights = make([]float64, 0, min(rows, preallocRows))
	for i := 0; i < rows && dec.err == nil; i++ {
		p := Pair{DocID: dec.readInt(), Offset: dec.readInt()}
		l.pairs = append(l.pairs, p)
		l.weights = append(l.weights, dec.readFloat())
		l.observe(p.DocID)
	}
	l.chunks = len(l.pairs)
	return l
}

func verifyFooter(r io.Reader, sum hash.Hash32) error {
	footer := make([]byte, footerSize)
	if _, err := io.ReadFull(r, footer); err != nil {
		return fmt.Errorf("%w: reading footer: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	if want, got := binary.LittleEndian.Uint32(footer), sum.Sum32(); want != got {
		return fmt.Errorf("%w: checksum %08x, computed %08x", apperrors.ErrSnapshotCorrupt, want, got)
	}
	return nil
}

// rowWriter and rowReader latch the first error so row loops stay flat.
type rowWriter struct {
	w   io.Writer
	buf [8]byte
	err error
}

func (e *rowWriter) raw(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *rowWriter) putInt(v int64) {
	binary.LittleEndian.PutUint64(e.buf[:], uint64(v))
	e.raw(e.buf[:])
}

func (e *rowWriter) putFloat(v float64) {
	binary.LittleEndian.PutUint64(e.buf[:], math.Float64bits(v))
	e.raw(e.buf[:])
}

type rowReader struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *rowReader) readUint() uint64 {
	if d.err != nil {
		return 0
	}
	if _, err := io.ReadFull(d.r, d.buf[:]); err != nil {
		d.err = err
		return 0
	}
	return binary.LittleEndian.Uint64(d.buf[:])
}

func (d *rowReader) readInt() int64 { return int64(d.readUint()) }

func (d *rowReader) readFloat() float64 { return math.Float64frombits(d.readUint()) }
