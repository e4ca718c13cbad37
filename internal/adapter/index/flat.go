// Package index provides a flat in-memory vector index with exact
// k-nearest-neighbor search by squared Euclidean distance.
package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// SlotDistance is one raw nearest-neighbor hit.
type SlotDistance struct {
	Slot     int
	Distance float32
}

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("k must be positive")

// ErrDimensionMismatch indicates a vector or query whose length does not
// match the index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrSlotOutOfRange indicates a slot beyond the stored vector count.
type ErrSlotOutOfRange struct {
	Slot  int
	Count int
}

func (e *ErrSlotOutOfRange) Error() string {
	return fmt.Sprintf("slot %d out of range: %d vectors stored", e.Slot, e.Count)
}

// Flat is an append-only flat index. Slots are assigned contiguously in
// insertion order and never reused; deletions are tombstones recorded in a
// roaring bitmap and filtered at search time. Compaction is the caller's
// concern and produces a fresh index.
//
// Flat is safe for concurrent use.
type Flat struct {
	mu        sync.RWMutex
	vectors   [][]float32
	deleted   *roaring.Bitmap
	dimension int
}

// New creates an empty flat index. The dimension is fixed by the first Add.
func New() *Flat {
	return &Flat{deleted: roaring.New()}
}

// Restore rebuilds an index from snapshot state. Every vector must have the
// same length.
func Restore(vectors [][]float32, deleted *roaring.Bitmap) (*Flat, error) {
	f := New()
	if _, err := f.Add(vectors); err != nil {
		return nil, err
	}
	if deleted != nil {
		if !deleted.IsEmpty() && int(deleted.Maximum()) >= len(vectors) {
			return nil, &ErrSlotOutOfRange{Slot: int(deleted.Maximum()), Count: len(vectors)}
		}
		f.deleted = deleted.Clone()
	}
	return f, nil
}

// Add appends vectors in order and returns the assigned slots, contiguous
// and strictly increasing. All dimensions are validated before anything is
// stored, so a failed add leaves the index unchanged.
func (f *Flat) Add(vectors [][]float32) ([]int, error) {
	if len(vectors) == 0 {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dim := f.dimension
	if dim == 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return nil, &ErrDimensionMismatch{Expected: 1, Actual: 0}
		}
	}
	for _, v := range vectors {
		if len(v) != dim {
			return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
		}
	}

	f.dimension = dim
	slots := make([]int, len(vectors))
	for i, v := range vectors {
		stored := make([]float32, dim)
		copy(stored, v)
		slots[i] = len(f.vectors)
		f.vectors = append(f.vectors, stored)
	}

	return slots, nil
}

// Search returns up to k live (slot, distance) pairs in ascending distance
// order, ties broken by ascending slot. An empty index returns an empty
// slice.
func (f *Flat) Search(query []float32, k int) ([]SlotDistance, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.vectors) == 0 {
		return nil, nil
	}
	if len(query) != f.dimension {
		return nil, &ErrDimensionMismatch{Expected: f.dimension, Actual: len(query)}
	}

	hits := make([]SlotDistance, 0, len(f.vectors))
	for slot, v := range f.vectors {
		if f.deleted.ContainsInt(slot) {
			continue
		}
		hits = append(hits, SlotDistance{Slot: slot, Distance: squaredL2(query, v)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Slot < hits[j].Slot
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Delete tombstones a slot. Deleting an already-deleted slot is a no-op.
func (f *Flat) Delete(slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if slot < 0 || slot >= len(f.vectors) {
		return &ErrSlotOutOfRange{Slot: slot, Count: len(f.vectors)}
	}
	f.deleted.AddInt(slot)
	return nil
}

// Deleted reports whether a slot has been tombstoned.
func (f *Flat) Deleted(slot int) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.deleted.ContainsInt(slot)
}

// Vector returns a copy of the stored vector at the given slot, tombstoned
// or not.
func (f *Flat) Vector(slot int) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if slot < 0 || slot >= len(f.vectors) {
		return nil, &ErrSlotOutOfRange{Slot: slot, Count: len(f.vectors)}
	}
	v := make([]float32, len(f.vectors[slot]))
	copy(v, f.vectors[slot])
	return v, nil
}

// Count returns the number of stored vectors, tombstoned included.
func (f *Flat) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// DeletedCount returns the number of tombstoned slots.
func (f *Flat) DeletedCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(f.deleted.GetCardinality())
}

// Dimension returns the fixed vector dimension, or 0 while empty.
func (f *Flat) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dimension
}

// Vectors returns a copy of all stored vectors in slot order.
func (f *Flat) Vectors() [][]float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([][]float32, len(f.vectors))
	for i, v := range f.vectors {
		out[i] = make([]float32, len(v))
		copy(out[i], v)
	}
	return out
}

// DeletedBitmap returns a copy of the tombstone set.
func (f *Flat) DeletedBitmap() *roaring.Bitmap {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.deleted.Clone()
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
