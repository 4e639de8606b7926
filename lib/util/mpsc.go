package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// MPSCQueue is an unbounded lock-free multi-producer single-consumer queue.
// Producers append to a linked list with atomic operations; a consumer goroutine
// moves the items into the channel returned by Recv.
type MPSCQueue[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan T
	consumer sync.WaitGroup
	closed   atomic.Bool
	err      atomic.Pointer[error]

	// wakes the consumer, Signal is always sent under mu so no wakeup is lost
	mu   sync.Mutex
	cond *sync.Cond
}

// NewMPSCQueue creates a new queue and starts its consumer goroutine
func NewMPSCQueue[T any]() *MPSCQueue[T] {
	// head always points to the last consumed node
	sentinel := &node[T]{}

	q := &MPSCQueue[T]{
		out: make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)

	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push appends an item to the queue.
// Returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *MPSCQueue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}

	var backoff uint8 = 0
	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already moved the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.wake()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin for low contention, yield for high contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

func (q *MPSCQueue[T]) wake() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume moves the items from the linked list into the output channel
func (q *MPSCQueue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	var zero T
	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value

			// help go gc, next is the new sentinel
			next.value = zero
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the items are delivered on. The channel is closed after
// the queue was closed and every item pushed before was delivered.
func (q *MPSCQueue[T]) Recv() <-chan T {
	return q.out
}

// Close closes the queue, preventing further pushes.
// Items already in the queue are still delivered.
func (q *MPSCQueue[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// CloseWithError closes the queue and records why the stream ended. Only the first
// error is kept.
func (q *MPSCQueue[T]) CloseWithError(err error) {
	if err != nil {
		q.err.CompareAndSwap(nil, &err)
	}
	q.Close()
}

// Err returns the error the queue was closed with, nil after a regular Close
func (q *MPSCQueue[T]) Err() error {
	if p := q.err.Load(); p != nil {
		return *p
	}
	return nil
}

// IsClosed returns true if the queue is closed
func (q *MPSCQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of the queued items. O(n), debugging only.
func (q *MPSCQueue[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
