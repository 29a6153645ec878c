// ABOUTME: Unbounded FIFO work queue feeding the sequential Claude worker.
// ABOUTME: Safe for many producers and a single consumer; dequeue supports a timeout.

package queue

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Dequeue when the wait exceeded the given timeout.
var ErrTimeout = errors.New("queue: dequeue timed out")

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("queue: closed")

// Source identifies where a work item came from.
type Source string

const (
	SourceUserText   Source = "user_text"
	SourceAttachment Source = "attachment_notice"
	SourceHeartbeat  Source = "heartbeat"
	SourceWakeUp     Source = "wake_up"
)

// Item is one unit of work destined for the Claude executor.
// Immutable once enqueued.
type Item struct {
	Prompt string
	ChatID int64
	UserID int64
	Source Source
}

// Queue is an unbounded multi-producer/single-consumer FIFO of work items.
// Enqueue never blocks. Items are delivered strictly in arrival order,
// synthetic heartbeat items included.
type Queue struct {
	mu     sync.Mutex
	items  *list.List
	wake   chan struct{}
	closed bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		items: list.New(),
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue appends an item to the tail of the queue and wakes the consumer.
func (q *Queue) Enqueue(item *Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items.PushBack(item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the item at the head of the queue, blocking
// until one is available. A timeout of zero means wait indefinitely; a
// positive timeout yields ErrTimeout when it elapses with the queue still
// empty. Cancelling ctx returns ctx.Err().
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Item, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		if front := q.items.Front(); front != nil {
			q.items.Remove(front)
			q.mu.Unlock()
			return front.Value.(*Item), nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.wake:
		case <-deadline:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of items currently waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close marks the queue closed. Pending items remain dequeueable until the
// queue drains; further enqueues fail with ErrClosed. Safe to call twice.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
