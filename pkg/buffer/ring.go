// Package buffer provides a bounded drop-oldest ring used to decouple
// slow consumers from the transport. When the ring is full the oldest
// item is discarded so consumers always see the freshest data.
package buffer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/HomoYouDidnt/kloros-sub007/errors"
)

// Statistics tracks ring activity. All counters are cumulative since
// creation and safe for concurrent reads.
type Statistics struct {
	pushed  atomic.Int64
	popped  atomic.Int64
	dropped atomic.Int64
}

// Pushed returns the total number of items written to the ring.
func (s *Statistics) Pushed() int64 { return s.pushed.Load() }

// Popped returns the total number of items read from the ring.
func (s *Statistics) Popped() int64 { return s.popped.Load() }

// Dropped returns the total number of items discarded due to overflow.
func (s *Statistics) Dropped() int64 { return s.dropped.Load() }

// Option configures a Ring.
type Option[T any] func(*Ring[T])

// WithDropCallback registers a callback invoked after an item is
// discarded due to overflow. The callback runs outside the ring lock.
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(r *Ring[T]) {
		r.dropFn = fn
	}
}

// Ring is a fixed-capacity FIFO with a drop-oldest overflow policy.
// Push never blocks; Pop blocks until an item arrives, the context is
// cancelled, or the ring is closed. Single-writer/single-reader use
// requires no external locking; concurrent writers are also safe.
type Ring[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool
	stats    Statistics
	dropFn   func(T)
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing[T any](capacity int, opts ...Option[T]) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
	r.notEmpty = sync.NewCond(&r.mu)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Push adds an item, discarding the oldest queued item when full.
// Returns errors.ErrAlreadyStopped if the ring has been closed.
func (r *Ring[T]) Push(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "Push", "ring closed")
	}

	var dropped T
	var didDrop bool
	if r.size == r.capacity {
		dropped = r.items[r.tail]
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.dropped.Add(1)
		didDrop = true
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.pushed.Add(1)

	r.notEmpty.Signal()
	r.mu.Unlock()

	if didDrop && r.dropFn != nil {
		r.dropFn(dropped)
	}
	return nil
}

// Pop removes and returns the oldest item, blocking until one is
// available. Returns the context error on cancellation, or
// errors.ErrAlreadyStopped once the ring is closed and drained.
func (r *Ring[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	// Wake the waiter when the context is cancelled.
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.notEmpty.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.size == 0 {
		if r.closed {
			return zero, errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "Pop", "ring closed")
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		r.notEmpty.Wait()
	}

	item := r.items[r.tail]
	var clear T
	r.items[r.tail] = clear
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.popped.Add(1)
	return item, nil
}

// TryPop removes and returns the oldest item without blocking.
func (r *Ring[T]) TryPop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.popped.Add(1)
	return item, true
}

// Len returns the number of queued items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Stats returns the ring statistics.
func (r *Ring[T]) Stats() *Statistics {
	return &r.stats
}

// Close marks the ring closed. Queued items remain readable via Pop or
// TryPop; subsequent Push calls fail. Close is idempotent.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.notEmpty.Broadcast()
}
