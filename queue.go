package ledger

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// ArenaQueue is a bounded FIFO handoff over a fixed pool of reusable
// buffers. Writers block while every buffer is in flight, so memory stays
// bounded by the capacity no matter how far the reader falls behind. One
// reader at a time is expected
type ArenaQueue[T any] struct {
	slots  []T
	reset  func(*T)
	free   chan int
	ready  chan int
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// ErrQueueClosed is returned by Write once the queue has been closed
var ErrQueueClosed = errors.New("queue closed")

// NewArenaQueue creates a queue of capacity buffers. reset, if not nil,
// prepares a recycled buffer before each Write populates it
func NewArenaQueue[T any](capacity int, reset func(*T)) *ArenaQueue[T] {
	capacity = max(capacity, 1)
	q := &ArenaQueue[T]{
		slots: make([]T, capacity),
		reset: reset,
		free:  make(chan int, capacity),
		ready: make(chan int, capacity),
		done:  make(chan struct{}),
	}
	for i := range capacity {
		q.free <- i
	}
	return q
}

// Write acquires a free buffer, fills it with populate, and publishes it.
// It blocks until a buffer is free, the context ends, or the queue is
// closed. If populate fails or the context ends in the meantime, the
// buffer goes back to the pool unpublished
func (q *ArenaQueue[T]) Write(
	ctx context.Context, populate func(*T) error,
) error {
	var idx int
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	case idx = <-q.free:
	}

	slot := &q.slots[idx]
	if q.reset != nil {
		q.reset(slot)
	}
	if err := populate(slot); err != nil {
		q.free <- idx
		return err
	}
	if err := ctx.Err(); err != nil {
		q.free <- idx
		return err
	}
	return q.publish(idx)
}

func (q *ArenaQueue[T]) publish(idx int) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.free <- idx
		return ErrQueueClosed
	}
	q.ready <- idx
	return nil
}

// ReadAll returns a lazy sequence over published buffers in FIFO order.
// Each buffer is returned to the pool when the loop body it was yielded to
// returns, so callers must copy anything they keep. The sequence ends when
// the context ends, or when the queue is closed and drained
func (q *ArenaQueue[T]) ReadAll(ctx context.Context) iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case idx, ok := <-q.ready:
				if !ok {
					return
				}
				if ctx.Err() != nil {
					q.free <- idx
					return
				}
				if !q.yieldSlot(idx, yield) {
					return
				}
			}
		}
	}
}

func (q *ArenaQueue[T]) yieldSlot(idx int, yield func(*T) bool) bool {
	defer func() { q.free <- idx }()
	return yield(&q.slots[idx])
}

// Len returns the number of published buffers waiting to be read
func (q *ArenaQueue[_]) Len() int {
	return len(q.ready)
}

// Cap returns the number of buffers in the pool
func (q *ArenaQueue[_]) Cap() int {
	return len(q.slots)
}

// Close stops further writes and unblocks pending ones. Buffers already
// published can still be read
func (q *ArenaQueue[_]) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		close(q.done)
		close(q.ready)
	})
}
