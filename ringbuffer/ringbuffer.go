// Package ringbuffer provides a fixed-capacity FIFO store that evicts its
// oldest element when a push would exceed capacity.
package ringbuffer

import (
	"errors"
	"fmt"
)

// ErrInvalidCapacity is returned when a RingBuffer would be given a capacity < 1.
var ErrInvalidCapacity = errors.New("ring buffer capacity must be at least 1")

// RingBuffer is a fixed-capacity, resizable FIFO. It is not safe for
// concurrent use; the owner must serialize access.
type RingBuffer[T any] struct {
	data     []T // len(data) <= capacity
	head     int // index in data of the oldest element (nonzero only when full)
	capacity int
}

// New returns an empty RingBuffer with the given capacity.
func New[T any](capacity int) (*RingBuffer[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &RingBuffer[T]{data: make([]T, 0, capacity), capacity: capacity}, nil
}

// Push appends item, evicting the oldest element first if the buffer is full.
func (rb *RingBuffer[T]) Push(item T) {
	if len(rb.data) < rb.capacity {
		rb.data = append(rb.data, item)
		return
	}
	rb.data[rb.head] = item
	rb.head++
	if rb.head == rb.capacity {
		rb.head = 0
	}
}

// At returns the i-th element counting from the oldest. ok is false when
// i is out of range.
func (rb *RingBuffer[T]) At(i int) (item T, ok bool) {
	if i < 0 || i >= len(rb.data) {
		return item, false
	}
	return rb.data[(rb.head+i)%len(rb.data)], true
}

// Snapshot returns a copy of the contents in oldest-to-newest order.
func (rb *RingBuffer[T]) Snapshot() []T {
	out := make([]T, len(rb.data))
	n := copy(out, rb.data[rb.head:])
	copy(out[n:], rb.data[:rb.head])
	return out
}

// Resize changes the capacity. Shrinking keeps the most recent
// min(Len(), capacity) elements in order; growing never fills.
func (rb *RingBuffer[T]) Resize(capacity int) error {
	if capacity < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	contents := rb.Snapshot()
	if len(contents) > capacity {
		contents = contents[len(contents)-capacity:]
	}
	data := make([]T, len(contents), capacity)
	copy(data, contents)
	rb.data = data
	rb.head = 0
	rb.capacity = capacity
	return nil
}

// Clear empties the buffer without changing its capacity.
func (rb *RingBuffer[T]) Clear() {
	clear(rb.data)
	rb.data = rb.data[:0]
	rb.head = 0
}

// Len returns the number of stored elements.
func (rb *RingBuffer[T]) Len() int {
	return len(rb.data)
}

// Cap returns the capacity.
func (rb *RingBuffer[T]) Cap() int {
	return rb.capacity
}

// IsFull is true when Len() == Cap().
func (rb *RingBuffer[T]) IsFull() bool {
	return len(rb.data) == rb.capacity
}
