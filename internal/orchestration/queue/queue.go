// Package queue provides the per-instance mailbox that feeds an engine actor.
//
// A Mailbox is a bounded, thread-safe FIFO. Producers Enqueue from any
// goroutine; the single consumer waits on Ready and then Drains everything
// queued so far, which lets it observe all pending signals before deciding.
package queue

import (
	"errors"
	"sync"
)

// DefaultMaxSize is the default maximum number of messages a mailbox can hold.
const DefaultMaxSize = 100

var (
	// ErrQueueFull is returned when attempting to enqueue to a full mailbox.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueClosed is returned when attempting to enqueue to a closed mailbox.
	ErrQueueClosed = errors.New("queue is closed")
)

// Mailbox is a bounded FIFO with a readiness notification.
type Mailbox[T any] struct {
	mu      sync.Mutex
	entries []T
	maxSize int
	closed  bool
	ready   chan struct{}
}

// NewMailbox creates a Mailbox with the specified maximum size.
// If maxSize is <= 0, DefaultMaxSize is used.
func NewMailbox[T any](maxSize int) *Mailbox[T] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Mailbox[T]{
		entries: make([]T, 0),
		maxSize: maxSize,
		ready:   make(chan struct{}, 1),
	}
}

// Enqueue adds a message to the back of the mailbox and wakes the consumer.
func (q *Mailbox[T]) Enqueue(msg T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.entries) >= q.maxSize {
		return ErrQueueFull
	}

	q.entries = append(q.entries, msg)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Ready returns a channel that receives a value whenever messages may be
// waiting. One notification can cover several enqueued messages.
func (q *Mailbox[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes and returns all messages in arrival order, leaving the
// mailbox empty. Returns an empty slice if the mailbox was already empty.
func (q *Mailbox[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return []T{}
	}

	result := q.entries
	q.entries = make([]T, 0)
	return result
}

// Len returns the current number of messages in the mailbox.
func (q *Mailbox[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Close rejects further messages. Messages already queued can still be drained.
func (q *Mailbox[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
}
