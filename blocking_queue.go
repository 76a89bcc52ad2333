package pdfviewport

import (
	"time"

	"github.com/eapache/queue/v2"
)

// blockingQueue is the FIFO backing RenderExecutor's inbound and outbound
// queues (spec §5: "unbounded queue acceptable; bounded=2·N also valid").
// Push never blocks. Pop blocks until an item arrives, the queue is closed,
// or timeout elapses — callers on the result side use a short timeout so
// shutdown stays responsive (spec §5: "Result reads block with a short
// timeout (≤100 ms)"), while the executor's inbound read uses a long
// timeout since it has nothing else to do while idle.
//
// The ring buffer itself is github.com/eapache/queue/v2; this type adds the
// mutex/wakeup discipline queue.Queue does not provide on its own.
type blockingQueue[T any] struct {
	mu     chanMutex
	items  *queue.Queue[T]
	wake   chan struct{}
	closed bool
}

// chanMutex is a channel-based mutex so blockingQueue can be built without
// importing sync just for one lock — kept consistent with the
// channel-centric style the rest of the executor/controller actors use.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

func newBlockingQueue[T any]() *blockingQueue[T] {
	return &blockingQueue[T]{
		mu:    newChanMutex(),
		items: queue.New[T](),
		wake:  make(chan struct{}, 1),
	}
}

// Push appends an item and wakes at most one blocked Pop. It is a no-op
// after Close.
func (q *blockingQueue[T]) Push(item T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items.Add(item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop waits up to timeout for an item. ok is false on timeout; closed is
// true if the queue was closed and drained.
func (q *blockingQueue[T]) Pop(timeout time.Duration) (item T, ok bool, closed bool) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if q.items.Length() > 0 {
			v := q.items.Peek()
			q.items.Remove()
			q.mu.Unlock()
			return v, true, false
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, false, true
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			var zero T
			return zero, false, false
		}
		select {
		case <-q.wake:
		case <-time.After(remaining):
			var zero T
			return zero, false, false
		}
	}
}

// Close marks the queue closed; any items still queued are still returned
// by Pop until drained, after which Pop reports closed=true.
func (q *blockingQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued items.
func (q *blockingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
