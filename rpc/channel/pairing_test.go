package channel

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dWire/rpc/common"
)

// TestPendingQueueFIFO tests the order of the pending queue with a single producer
func TestPendingQueueFIFO(t *testing.T) {
	q := newPendingQueue()

	if _, ok := q.tryPop(); ok {
		t.Fatal("Expected empty queue")
	}

	futures := make([]*ResponseFuture, 100)
	for i := range futures {
		futures[i] = newResponseFuture(nil, []byte{byte(i)}, false)
		q.push(futures[i])
	}

	for i := range futures {
		f, ok := q.tryPop()
		if !ok {
			t.Fatalf("Queue empty after %d items", i)
		}
		if f != futures[i] {
			t.Fatalf("Expected item %d in order", i)
		}
	}
	if _, ok := q.tryPop(); ok {
		t.Error("Expected empty queue after draining")
	}
}

// TestPendingQueueConcurrentProducers tests that no item is lost with many producers
func TestPendingQueueConcurrentProducers(t *testing.T) {
	const producers = 16
	const perProducer = 500

	q := newPendingQueue()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.push(newResponseFuture(nil, nil, false))
			}
		}()
	}
	wg.Wait()

	count := 0
	for {
		if _, ok := q.tryPop(); !ok {
			break
		}
		count++
	}
	if count != producers*perProducer {
		t.Errorf("Expected %d items, got %d", producers*perProducer, count)
	}
}

// TestPairingFIFO tests that queued requests are dispatched in registration order
func TestPairingFIFO(t *testing.T) {
	pool, sender := newTestPool(t, 1, common.SlotPolicyQueue)

	first, _ := pool.Register(nil, []byte("first"))
	var queued []*ResponseFuture
	for i := 0; i < 5; i++ {
		f, _ := pool.Register(nil, []byte(fmt.Sprintf("q%d", i)))
		queued = append(queued, f)
	}

	if pool.Pending() != 5 {
		t.Fatalf("Expected 5 pending requests, got %d", pool.Pending())
	}

	pool.Deliver(first.Slot(), result("r"), false)
	for i := range queued {
		reqs := sender.requests()
		last := reqs[len(reqs)-1]
		if string(last.payload) != fmt.Sprintf("q%d", i) {
			t.Fatalf("Expected q%d to be dispatched next, got %s", i, last.payload)
		}
		pool.Deliver(0, result(fmt.Sprintf("r%d", i)), false)
	}

	for i, f := range queued {
		resp, err := f.WaitForMainResponse(time.Second)
		if err != nil || string(resp) != fmt.Sprintf("r%d", i) {
			t.Errorf("Request %d: expected r%d, got %q (%v)", i, i, resp, err)
		}
	}
}

// TestQueuePolicyUnderLoad runs many concurrent registrations against a responder that
// answers every dispatched request
func TestQueuePolicyUnderLoad(t *testing.T) {
	const requests = 500

	sender := &recordingSender{out: make(chan sentRequest, requests)}
	pool := NewSlotPool(sender, common.ChannelConf{SlotCapacity: 4, Policy: common.SlotPolicyQueue}, t.Name())

	// responder echoes the payload of every dispatched request
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < requests; i++ {
			req := <-sender.out
			pool.Deliver(req.slot, result(string(req.payload)), false)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf("req-%d", i)
			f, err := pool.Register(nil, []byte(payload))
			if err != nil {
				t.Errorf("Failed to register %d: %v", i, err)
				return
			}
			resp, err := f.WaitForMainResponse(5 * time.Second)
			if err != nil {
				t.Errorf("Request %d failed: %v", i, err)
				return
			}
			if string(resp) != payload {
				t.Errorf("Request %d got foreign response %q", i, resp)
			}
		}(i)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Responder did not see every request")
	}

	if pool.InFlight() != 0 || pool.Pending() != 0 {
		t.Errorf("Expected idle pool, in flight %d pending %d", pool.InFlight(), pool.Pending())
	}
}

// TestShutdownFailsQueuedRequests tests that shutdown drains the pending queue
func TestShutdownFailsQueuedRequests(t *testing.T) {
	pool, sender := newTestPool(t, 1, common.SlotPolicyQueue)

	_, _ = pool.Register(nil, []byte("a"))
	b, _ := pool.Register(nil, []byte("b"))

	pool.Shutdown(true)

	if _, err := b.WaitForMainResponse(time.Second); err == nil {
		t.Fatal("Expected queued request to fail")
	}
	if pool.Pending() != 0 {
		t.Errorf("Expected empty pending queue, got %d", pool.Pending())
	}

	// a late delivery must not resurrect the pairing
	pool.Deliver(0, result("late"), false)
	if got := len(sender.requests()); got != 1 {
		t.Errorf("Expected a single send, got %d", got)
	}
}
