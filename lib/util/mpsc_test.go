package util

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestBasicOperations tests basic push and consume functionality
func TestBasicOperations(t *testing.T) {
	q := NewMPSCQueue[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if val != i {
				t.Errorf("Expected %d, got %v", i, val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", val)
	case <-time.After(10 * time.Millisecond):
		// expected, queue is empty
	}
}

// TestConcurrentProducers verifies the queue works correctly with multiple producers
func TestConcurrentProducers(t *testing.T) {
	q := NewMPSCQueue[[]byte]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	received := make(map[string]bool)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for len(received) < totalItems {
			select {
			case val := <-q.Recv():
				key := string(val)
				if received[key] {
					t.Errorf("Duplicate item received: %s", key)
				}
				received[key] = true
			case <-time.After(2 * time.Second):
				t.Errorf("Timeout waiting for items, received %d of %d", len(received), totalItems)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				if !q.Push([]byte(fmt.Sprintf("%d-%d", producerID, i))) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer to finish")
	}

	if len(received) != totalItems {
		t.Errorf("Expected %d items, got %d", totalItems, len(received))
	}
}

// TestCloseQueue verifies closing behavior
func TestCloseQueue(t *testing.T) {
	q := NewMPSCQueue[int]()

	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	q.Close()

	if q.Push(100) {
		t.Error("Should not be able to push after queue is closed")
	}
	if !q.IsClosed() {
		t.Error("Expected queue to report closed")
	}

	// items pushed before close are still delivered
	for i := 0; i < 5; i++ {
		select {
		case val := <-q.Recv():
			if val != i {
				t.Errorf("Expected %d, got %v", i, val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d after close", i)
		}
	}

	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Error("Channel should be closed but is still open")
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for channel close")
	}
	if q.Err() != nil {
		t.Errorf("Expected no error after regular close, got %v", q.Err())
	}
}

// TestCloseWithError verifies that the first close error is kept
func TestCloseWithError(t *testing.T) {
	q := NewMPSCQueue[int]()

	first := errors.New("link closed")
	q.CloseWithError(first)
	q.CloseWithError(errors.New("second"))

	if _, ok := <-q.Recv(); ok {
		t.Error("Channel should be closed")
	}
	if !errors.Is(q.Err(), first) {
		t.Errorf("Expected first error, got %v", q.Err())
	}
}

// TestWakeupAfterIdle verifies that a push to an idle queue wakes the consumer
func TestWakeupAfterIdle(t *testing.T) {
	q := NewMPSCQueue[int]()
	defer q.Close()

	for round := 0; round < 100; round++ {
		// let the consumer park on the condition variable
		time.Sleep(time.Millisecond)
		q.Push(round)

		select {
		case val := <-q.Recv():
			if val != round {
				t.Fatalf("Expected %d, got %d", round, val)
			}
		case <-time.After(time.Second):
			t.Fatalf("Consumer missed the wakeup in round %d", round)
		}
	}
}

// TestOrderingSingleProducer tests that a single producer keeps FIFO order
func TestOrderingSingleProducer(t *testing.T) {
	q := NewMPSCQueue[int]()
	defer q.Close()

	const itemCount = 10000
	go func() {
		for i := 0; i < itemCount; i++ {
			q.Push(i)
		}
	}()

	prev := -1
	for i := 0; i < itemCount; i++ {
		select {
		case val := <-q.Recv():
			if val != prev+1 {
				t.Fatalf("Expected %d, got %d", prev+1, val)
			}
			prev = val
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}
}

// TestLen tests the approximate length
func TestLen(t *testing.T) {
	q := NewMPSCQueue[int]()
	defer q.Close()

	if q.Len() != 0 {
		t.Errorf("Expected empty queue, got %d", q.Len())
	}
}

// TestGenerateSessionID tests that session ids are never zero
func TestGenerateSessionID(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateSessionID()
		if id == 0 {
			t.Fatal("Session id must not be zero")
		}
		seen[id] = true
	}
	if len(seen) < 990 {
		t.Errorf("Expected random session ids, got %d distinct of 1000", len(seen))
	}
}

// BenchmarkMultiProducer benchmarks the queue with multiple producers
func BenchmarkMultiProducer(b *testing.B) {
	q := NewMPSCQueue[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			i++
		}
	})
}
