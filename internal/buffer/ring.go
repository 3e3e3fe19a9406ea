// Package buffer provides the bounded FIFO used to hold operations until the
// pipeline is wired to its components.
package buffer

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 100

// Ring is a fixed-capacity FIFO. Writing to a full ring overwrites the oldest
// entry, so producers are never blocked; the cost is bounded loss.
//
// Ring is not safe for concurrent use. The owning stage serializes access.
type Ring[T any] struct {
	items []T
	read  int // index of the oldest item
	count int
}

// NewRing creates a ring holding at most capacity items.
// Non-positive capacities fall back to DefaultCapacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Write appends item. Returns false when the oldest item was overwritten.
func (r *Ring[T]) Write(item T) bool {
	capacity := len(r.items)
	if r.count == capacity {
		r.items[r.read] = item
		r.read = (r.read + 1) % capacity
		return false
	}
	r.items[(r.read+r.count)%capacity] = item
	r.count++
	return true
}

// Read removes and returns the oldest item.
func (r *Ring[T]) Read() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	item := r.items[r.read]
	r.items[r.read] = zero
	r.read = (r.read + 1) % len(r.items)
	r.count--
	return item, true
}

// Len returns the number of retained items.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// IsEmpty reports whether nothing is retained.
func (r *Ring[T]) IsEmpty() bool { return r.count == 0 }

// IsFull reports whether the next Write overwrites.
func (r *Ring[T]) IsFull() bool { return r.count == len(r.items) }
