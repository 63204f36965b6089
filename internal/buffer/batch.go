// Package buffer provides the bounded batch buffer shared by the buffered
// transports. Entries are appended in call order and taken in that order;
// a failed batch can be requeued at the front so ordering survives retries.
package buffer

import "sync"

// Batch accumulates items until a size threshold is reached.
type Batch[T any] struct {
	mu    sync.Mutex
	items []T
	max   int
}

// New creates a batch buffer that reports full at max items.
func New[T any](max int) *Batch[T] {
	if max <= 0 {
		max = 1
	}
	return &Batch[T]{items: make([]T, 0, max), max: max}
}

// Append adds an item and reports whether the buffer has reached its
// threshold.
func (b *Batch[T]) Append(item T) (full bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, item)
	return len(b.items) >= b.max
}

// Take removes and returns everything currently buffered, preserving order.
func (b *Batch[T]) Take() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	b.items = make([]T, 0, b.max)
	return out
}

// Requeue puts items back at the front of the buffer, ahead of anything
// appended since they were taken.
func (b *Batch[T]) Requeue(items []T) {
	if len(items) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	combined := make([]T, 0, len(items)+len(b.items))
	combined = append(combined, items...)
	combined = append(combined, b.items...)
	b.items = combined
}

// Len returns the number of buffered items.
func (b *Batch[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// TrimOldest drops items from the front until at most max remain. It
// returns how many were dropped.
func (b *Batch[T]) TrimOldest(max int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if max < 0 || len(b.items) <= max {
		return 0
	}
	dropped := len(b.items) - max
	b.items = append(b.items[:0:0], b.items[dropped:]...)
	return dropped
}
