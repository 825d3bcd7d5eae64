// Package blocktree implements the ordered logical-offset-to-block-range
// map (spec.md §3 "Block range" / §4.2) used by every sparse or
// segmented data stream in the core engine: image-layer cluster maps,
// ext inode extent lists, NTFS data-runs, FAT cluster chains.
//
// The structure is grounded on the teacher's lib/ranges package: a
// sorted, non-overlapping slice of intervals searched by binary search,
// generalized here to carry an opaque value and a range Type per entry
// and to be built strictly in increasing-offset order (spec.md's
// "insert(off, len, value) appends in order").
package blocktree

import (
	"sort"
	"sync"

	"github.com/keramics/keramics/internal/kerr"
)

// Type classifies how a Range's Value should be interpreted.
type Type int

const (
	// InFile means Value is a physical offset; read from the
	// underlying stream there.
	InFile Type = iota
	// Sparse means the range reads as zero and has no backing bytes.
	Sparse
	// Uninitialized means the range reads as zero but is allocated
	// (ext4 uninitialized extents).
	Uninitialized
	// Compressed means Value identifies a compressed payload that
	// must be decoded before reads are satisfied.
	Compressed
	// Inline means the range's bytes are Value itself ([]byte).
	Inline
)

// Range is one (logical_offset, length, value, type) tuple.
type Range struct {
	Offset int64
	Length int64
	Value  any
	Type   Type
}

// End returns the exclusive end of the logical range.
func (r Range) End() int64 { return r.Offset + r.Length }

// Tree is an ordered, immutable-after-construction map from logical
// offset to the Range covering it. Safe for concurrent read-only use
// from many goroutines once construction (via Insert) is done; spec.md
// §5 requires the tree be "traversable read-only from many threads".
type Tree struct {
	mu              sync.RWMutex
	totalSize       int64
	minGranularity  int64
	ranges          []Range
	lastEnd         int64
}

// New constructs an empty tree declared to span [0, totalSize).
// itemCountHint preallocates the backing slice; minGranularity is
// stored on the tree but Get does not read it, so it never affects
// lookup results.
func New(totalSize int64, itemCountHint int, minGranularity int64) *Tree {
	if minGranularity <= 0 {
		minGranularity = 1
	}
	return &Tree{
		totalSize:      totalSize,
		minGranularity: minGranularity,
		ranges:         make([]Range, 0, itemCountHint),
	}
}

// TotalSize returns the tree's declared logical size.
func (t *Tree) TotalSize() int64 { return t.totalSize }

// Insert appends a new range in increasing-offset order. It rejects the
// insertion with kerr.ErrInvalidMetadata if off overlaps the previously
// inserted range or if off+length exceeds the tree's declared total
// size.
func (t *Tree) Insert(off, length int64, value any, typ Type) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if length < 0 {
		return kerr.Frame(kerr.ErrInvalidMetadata, "negative range length %d at offset %d", length, off)
	}
	if off < t.lastEnd {
		return kerr.Frame(kerr.ErrInvalidMetadata, "range at %d overlaps previous range ending at %d", off, t.lastEnd)
	}
	if off+length > t.totalSize {
		return kerr.Frame(kerr.ErrInvalidMetadata, "range [%d,%d) exceeds declared total size %d", off, off+length, t.totalSize)
	}
	t.ranges = append(t.ranges, Range{Offset: off, Length: length, Value: value, Type: typ})
	t.lastEnd = off + length
	return nil
}

// Get returns the range covering off, or (Range{}, false) if off falls
// in a gap (a gap is legal only up to the declared total size; beyond
// it Get always fails, per spec.md §4.2).
func (t *Tree) Get(off int64) (Range, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if off < 0 || off >= t.totalSize {
		return Range{}, false
	}
	// Binary search for the last range whose Offset <= off.
	i := sort.Search(len(t.ranges), func(i int) bool {
		return t.ranges[i].Offset > off
	})
	if i == 0 {
		return Range{}, false
	}
	r := t.ranges[i-1]
	if off >= r.End() {
		return Range{}, false
	}
	return r, true
}

// Len returns the number of inserted ranges.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ranges)
}
