package channel

import (
	"runtime"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Pending request queue
// --------------------------------------------------------------------------

// pendingNode represents a single element in the pending queue
type pendingNode struct {
	future *ResponseFuture
	next   atomic.Pointer[pendingNode]
}

// pendingQueue is an unbounded lock-free multi-producer single-consumer FIFO of
// requests waiting for a slot. Any goroutine may push; only the holder of the
// pairing lock pops.
type pendingQueue struct {
	head atomic.Pointer[pendingNode]
	tail atomic.Pointer[pendingNode]
}

func newPendingQueue() *pendingQueue {
	// sentinel node, head always points to the last consumed node
	sentinel := &pendingNode{}

	q := &pendingQueue{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// push appends a future to the queue
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *pendingQueue) push(f *ResponseFuture) {
	newNode := &pendingNode{future: f}

	var backoff uint8 = 0
	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already helped, tail moves on either way
				q.tail.CompareAndSwap(tailNode, newNode)
				return
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff under contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// tryPop removes the oldest future, it must only be called by the single consumer
func (q *pendingQueue) tryPop() (*ResponseFuture, bool) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, false
	}

	f := next.future
	q.head.Store(next)

	// help go gc, next is the new sentinel
	next.future = nil
	return f, true
}

// --------------------------------------------------------------------------
// Pairing
// --------------------------------------------------------------------------

// runPairing matches free slots with pending requests until no pair is left.
// At most one goroutine pairs at a time; the others return at once and rely on the
// runner, which re-checks both queues after unlocking so nothing is stranded.
func (p *SlotPool) runPairing() {
	for {
		if !p.pairing.TryLock() {
			return
		}
		p.pairLocked()
		p.pairing.Unlock()

		if !p.matchable() {
			return
		}
	}
}

// matchable reports whether a pairing pass could make progress
func (p *SlotPool) matchable() bool {
	if p.pendingCount.Load() <= 0 {
		return false
	}
	return p.closed.Load() || p.freeCount.Load() > 0
}

// pairLocked runs one pass to a fixpoint, p.pairing must be held
func (p *SlotPool) pairLocked() {
	if p.closed.Load() {
		p.drainPendingLocked(p.shutdownError())
		return
	}

	for {
		slot, ok := p.free.TryDequeue()
		if !ok {
			return
		}
		p.freeCount.Add(-1)

		if !p.pairSlotLocked(slot) {
			// no request for this slot, keep it for the next pass
			p.pushFree(slot)
			return
		}
	}
}

// pairSlotLocked dispatches the oldest request that accepts the slot. Requests that
// were cancelled meanwhile refuse the slot and complete without touching the transport.
func (p *SlotPool) pairSlotLocked(slot int) bool {
	for {
		f, ok := p.pending.tryPop()
		if !ok {
			return false
		}
		p.pendingCount.Add(-1)

		if p.closed.Load() {
			f.fail(p.shutdownError())
			continue
		}

		if !f.assignSlot(slot) {
			p.metrics.cancelled.Inc()
			Logger.Debugf("Skipping locally cancelled request, slot %d stays free", slot)
			continue
		}

		p.bind(slot, f)
		p.dispatch(slot, f)
		return true
	}
}

// drainPendingLocked fails every queued request, p.pairing must be held
func (p *SlotPool) drainPendingLocked(err error) {
	for {
		f, ok := p.pending.tryPop()
		if !ok {
			return
		}
		p.pendingCount.Add(-1)
		f.fail(err)
	}
}

// pushFree returns a slot to the free queue
func (p *SlotPool) pushFree(slot int) {
	// never blocks: the queue holds every slot at most once
	p.free.Enqueue(slot)
	p.freeCount.Add(1)
}
