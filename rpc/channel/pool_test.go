package channel

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

// sentRequest is one request observed by the recordingSender
type sentRequest struct {
	slot    int
	header  []byte
	payload []byte
}

// recordingSender records every dispatched request and optionally forwards it
type recordingSender struct {
	mu   sync.Mutex
	sent []sentRequest
	err  error
	out  chan sentRequest
}

func (s *recordingSender) Send(slot int, header, payload []byte) error {
	s.mu.Lock()
	err := s.err
	if err == nil {
		s.sent = append(s.sent, sentRequest{slot: slot, header: header, payload: payload})
	}
	s.mu.Unlock()

	if err == nil && s.out != nil {
		s.out <- sentRequest{slot: slot, header: header, payload: payload}
	}
	return err
}

func (s *recordingSender) requests() []sentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentRequest(nil), s.sent...)
}

// result frames a service result the way the server does
func result(payload string) []byte {
	return common.EncodeResponse(common.PayloadTypeServiceResult, []byte(payload))
}

func newTestPool(t *testing.T, capacity int, policy common.SlotPolicy) (*SlotPool, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	pool := NewSlotPool(sender, common.ChannelConf{SlotCapacity: capacity, Policy: policy}, t.Name())
	return pool, sender
}

// --------------------------------------------------------------------------
// Register
// --------------------------------------------------------------------------

// TestRegisterDistinctSlotsFailFast tests that concurrent registrations get distinct slots
// and the first registration beyond capacity fails fast
func TestRegisterDistinctSlotsFailFast(t *testing.T) {
	const capacity = 16
	pool, sender := newTestPool(t, capacity, common.SlotPolicyFailFast)

	var wg sync.WaitGroup
	futures := make([]*ResponseFuture, capacity)
	for i := 0; i < capacity; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := pool.Register([]byte("h"), []byte("p"))
			if err != nil {
				t.Errorf("Failed to register request %d: %v", i, err)
				return
			}
			futures[i] = f
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i, f := range futures {
		if f == nil {
			t.Fatalf("Missing future %d", i)
		}
		if seen[f.Slot()] {
			t.Errorf("Slot %d assigned twice", f.Slot())
		}
		seen[f.Slot()] = true
	}

	if _, err := pool.Register([]byte("h"), []byte("p")); !errors.Is(err, common.ErrResourceExhausted) {
		t.Errorf("Expected ErrResourceExhausted, got %v", err)
	}
	if got := len(sender.requests()); got != capacity {
		t.Errorf("Expected %d sends, got %d", capacity, got)
	}
	if pool.InFlight() != capacity {
		t.Errorf("Expected %d slots in flight, got %d", capacity, pool.InFlight())
	}
}

// TestRegisterQueuesBeyondCapacity tests that the queue policy parks requests until a slot is free
func TestRegisterQueuesBeyondCapacity(t *testing.T) {
	pool, sender := newTestPool(t, 2, common.SlotPolicyQueue)

	a, _ := pool.Register(nil, []byte("a"))
	b, _ := pool.Register(nil, []byte("b"))
	c, err := pool.Register(nil, []byte("c"))
	if err != nil {
		t.Fatalf("Queued register must not fail: %v", err)
	}

	if c.State() != StateUnsent {
		t.Fatalf("Expected third request to be unsent, got %s", c.State())
	}
	if got := len(sender.requests()); got != 2 {
		t.Fatalf("Expected 2 sends, got %d", got)
	}
	if pool.Pending() != 1 {
		t.Errorf("Expected 1 pending request, got %d", pool.Pending())
	}

	pool.Deliver(a.Slot(), result("A"), false)

	if c.State() != StateSent || c.Slot() != a.Slot() {
		t.Fatalf("Expected third request on slot %d, got %s on %d", a.Slot(), c.State(), c.Slot())
	}
	if reqs := sender.requests(); len(reqs) != 3 || string(reqs[2].payload) != "c" {
		t.Fatalf("Expected third send with payload c, got %v", reqs)
	}
	if b.State() != StateSent {
		t.Errorf("Expected second request still in flight, got %s", b.State())
	}
}

// TestEndToEndSlotReuse sends a request, receives its reply and reuses the slot
func TestEndToEndSlotReuse(t *testing.T) {
	for _, policy := range []common.SlotPolicy{common.SlotPolicyFailFast, common.SlotPolicyQueue} {
		t.Run(string(policy), func(t *testing.T) {
			pool, sender := newTestPool(t, 4, policy)

			a, err := pool.Register([]byte("hdr"), []byte("X"))
			if err != nil {
				t.Fatalf("Failed to register: %v", err)
			}
			if a.Slot() != 0 {
				t.Fatalf("Expected slot 0, got %d", a.Slot())
			}
			if reqs := sender.requests(); len(reqs) != 1 || string(reqs[0].payload) != "X" || reqs[0].slot != 0 {
				t.Fatalf("Unexpected dispatch %v", reqs)
			}

			pool.Deliver(0, result("Y"), false)

			resp, err := a.WaitForMainResponse(time.Second)
			if err != nil {
				t.Fatalf("Failed to wait for response: %v", err)
			}
			if string(resp) != "Y" {
				t.Errorf("Expected Y, got %q", resp)
			}
			if pool.InFlight() != 0 {
				t.Errorf("Expected slot 0 to be free, %d in flight", pool.InFlight())
			}

			b, err := pool.Register([]byte("hdr"), []byte("Z"))
			if err != nil {
				t.Fatalf("Failed to register: %v", err)
			}
			if b.Slot() != 0 {
				t.Errorf("Expected slot 0 to be reused, got %d", b.Slot())
			}
		})
	}
}

// TestSendFailureCompletesFuture tests that a failed dispatch fails the request and frees the slot
func TestSendFailureCompletesFuture(t *testing.T) {
	pool, sender := newTestPool(t, 1, common.SlotPolicyFailFast)
	sender.err = errors.New("broken pipe")

	f, err := pool.Register(nil, []byte("x"))
	if err != nil {
		t.Fatalf("Send failures must surface through the future: %v", err)
	}

	_, err = f.WaitForMainResponse(time.Second)
	if !errors.Is(err, common.ErrIO) {
		t.Errorf("Expected ErrIO, got %v", err)
	}
	if pool.InFlight() != 0 {
		t.Errorf("Expected free slot after failed send, %d in flight", pool.InFlight())
	}
}

// --------------------------------------------------------------------------
// Delivery
// --------------------------------------------------------------------------

// TestDeliverRoutesBySlot tests that responses complete the future bound to their slot
func TestDeliverRoutesBySlot(t *testing.T) {
	pool, _ := newTestPool(t, 4, common.SlotPolicyFailFast)

	a, _ := pool.Register(nil, []byte("a"))
	b, _ := pool.Register(nil, []byte("b"))

	// reply in reverse order
	pool.Deliver(b.Slot(), result("for-b"), false)
	pool.Deliver(a.Slot(), result("for-a"), false)

	if resp, err := a.WaitForMainResponse(time.Second); err != nil || string(resp) != "for-a" {
		t.Errorf("Expected for-a, got %q (%v)", resp, err)
	}
	if resp, err := b.WaitForMainResponse(time.Second); err != nil || string(resp) != "for-b" {
		t.Errorf("Expected for-b, got %q (%v)", resp, err)
	}
}

// TestDuplicateDeliveryIgnored tests that a second delivery to a released slot completes nothing
func TestDuplicateDeliveryIgnored(t *testing.T) {
	pool, _ := newTestPool(t, 1, common.SlotPolicyFailFast)

	a, _ := pool.Register(nil, []byte("a"))
	pool.Deliver(0, result("first"), false)
	pool.Deliver(0, result("second"), false)

	resp, _ := a.WaitForMainResponse(time.Second)
	if string(resp) != "first" {
		t.Errorf("Expected first, got %q", resp)
	}

	// the stale message must not leak into the next request on the same slot
	b, _ := pool.Register(nil, []byte("b"))
	if b.IsMainResponseReady() {
		t.Error("New request must not be completed by a stale delivery")
	}
	pool.Deliver(0, result("third"), false)
	if resp, _ := b.WaitForMainResponse(time.Second); string(resp) != "third" {
		t.Errorf("Expected third, got %q", resp)
	}
}

// TestDeliverInvalidSlot tests that out of range slots are dropped
func TestDeliverInvalidSlot(t *testing.T) {
	pool, _ := newTestPool(t, 2, common.SlotPolicyFailFast)
	pool.Deliver(-1, result("x"), false)
	pool.Deliver(2, result("x"), false)
	pool.DeliverError(7, errors.New("x"))

	if pool.InFlight() != 0 {
		t.Errorf("Expected nothing in flight, got %d", pool.InFlight())
	}
}

// TestDeliverError tests the error delivery path
func TestDeliverError(t *testing.T) {
	pool, _ := newTestPool(t, 2, common.SlotPolicyQueue)

	f, _ := pool.Register(nil, []byte("a"), WithSecondResponse())
	pool.DeliverError(f.Slot(), &common.ServerError{Code: 7, Message: "session expired"})

	_, err := f.WaitForMainResponse(time.Second)
	if se, ok := common.IsServerError(err); !ok || se.Code != 7 {
		t.Errorf("Expected server error 7, got %v", err)
	}
	if _, err := f.WaitForSecondResponse(time.Second); err == nil {
		t.Error("Expected secondary response to fail as well")
	}
	if pool.InFlight() != 0 {
		t.Errorf("Expected free slot, %d in flight", pool.InFlight())
	}
}

// TestSecondResponseHoldsSlot tests that the slot stays bound until the secondary response arrived
func TestSecondResponseHoldsSlot(t *testing.T) {
	pool, _ := newTestPool(t, 1, common.SlotPolicyFailFast)

	f, err := pool.Register(nil, []byte("query"), WithSecondResponse())
	if err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	pool.Deliver(0, result("ack"), false)
	if pool.InFlight() != 1 {
		t.Fatalf("Slot must stay bound until the secondary response, %d in flight", pool.InFlight())
	}
	if f.IsSecondResponseReady() {
		t.Fatal("Secondary response must not be ready yet")
	}
	if _, err := pool.Register(nil, []byte("other")); !errors.Is(err, common.ErrResourceExhausted) {
		t.Errorf("Expected ErrResourceExhausted while the slot is bound, got %v", err)
	}

	pool.Deliver(0, []byte("rs-handle"), true)

	if resp, err := f.WaitForMainResponse(time.Second); err != nil || string(resp) != "ack" {
		t.Errorf("Expected ack, got %q (%v)", resp, err)
	}
	if resp, err := f.WaitForSecondResponse(time.Second); err != nil || string(resp) != "rs-handle" {
		t.Errorf("Expected rs-handle, got %q (%v)", resp, err)
	}
	if f.State() != StateSecondReady {
		t.Errorf("Expected state %s, got %s", StateSecondReady, f.State())
	}
	if pool.InFlight() != 0 {
		t.Errorf("Expected free slot, %d in flight", pool.InFlight())
	}
}

// TestDiagnosticReleasesSecondResponse tests that a failed main response ends the exchange
func TestDiagnosticReleasesSecondResponse(t *testing.T) {
	pool, _ := newTestPool(t, 1, common.SlotPolicyFailFast)

	f, _ := pool.Register(nil, []byte("query"), WithSecondResponse())
	pool.Deliver(0, common.EncodeResponse(common.PayloadTypeServerDiagnostics, common.EncodeDiagnostic(3, "syntax error")), false)

	if pool.InFlight() != 0 {
		t.Fatalf("Expected slot release after a diagnostic, %d in flight", pool.InFlight())
	}
	_, err := f.WaitForSecondResponse(time.Second)
	if se, ok := common.IsServerError(err); !ok || se.Message != "syntax error" {
		t.Errorf("Expected diagnostic on secondary wait, got %v", err)
	}
}

// TestMalformedResponse tests that a broken response header fails the request
func TestMalformedResponse(t *testing.T) {
	pool, _ := newTestPool(t, 1, common.SlotPolicyFailFast)

	f, _ := pool.Register(nil, []byte("x"))
	pool.Deliver(0, []byte{0xff}, false)

	if _, err := f.WaitForMainResponse(time.Second); !errors.Is(err, common.ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", err)
	}
	if pool.InFlight() != 0 {
		t.Errorf("Expected free slot, %d in flight", pool.InFlight())
	}
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// TestShutdownIntentional tests that a client initiated shutdown fails all outstanding requests once
func TestShutdownIntentional(t *testing.T) {
	for _, policy := range []common.SlotPolicy{common.SlotPolicyFailFast, common.SlotPolicyQueue} {
		t.Run(string(policy), func(t *testing.T) {
			pool, _ := newTestPool(t, 3, policy)

			var futures []*ResponseFuture
			for i := 0; i < 3; i++ {
				f, err := pool.Register(nil, []byte{byte(i)})
				if err != nil {
					t.Fatalf("Failed to register: %v", err)
				}
				futures = append(futures, f)
			}

			pool.Shutdown(true)
			pool.Shutdown(true)
			pool.Shutdown(false)

			for i, f := range futures {
				_, err := f.WaitForMainResponse(time.Second)
				if !errors.Is(err, common.ErrClosedBeforeResponse) {
					t.Errorf("Request %d: expected ErrClosedBeforeResponse, got %v", i, err)
				}
			}
			if pool.InFlight() != 0 {
				t.Errorf("Expected nothing in flight, got %d", pool.InFlight())
			}
			if _, err := pool.Register(nil, []byte("late")); !errors.Is(err, common.ErrClosedBeforeResponse) {
				t.Errorf("Expected register after shutdown to fail, got %v", err)
			}
		})
	}
}

// TestShutdownCrash tests that a transport failure reports ErrServerCrashed
func TestShutdownCrash(t *testing.T) {
	pool, _ := newTestPool(t, 2, common.SlotPolicyQueue)

	a, _ := pool.Register(nil, []byte("a"))
	b, _ := pool.Register(nil, []byte("b"))
	queued, _ := pool.Register(nil, []byte("queued"))

	pool.Fail(errors.New("connection reset"))

	for _, f := range []*ResponseFuture{a, b, queued} {
		_, err := f.WaitForMainResponse(time.Second)
		if !errors.Is(err, common.ErrServerCrashed) {
			t.Errorf("Expected ErrServerCrashed, got %v", err)
		}
		if errors.Is(err, common.ErrClosedBeforeResponse) {
			t.Errorf("Crash must not be reported as intentional close: %v", err)
		}
	}

	if !pool.IsShutdown() {
		t.Error("Expected pool to be shut down")
	}
}

// TestShutdownRacesDelivery tests that a concurrent delivery and shutdown complete each request once
func TestShutdownRacesDelivery(t *testing.T) {
	for round := 0; round < 50; round++ {
		pool, _ := newTestPool(t, 32, common.SlotPolicyFailFast)

		var futures []*ResponseFuture
		for i := 0; i < 32; i++ {
			f, err := pool.Register(nil, []byte("x"))
			if err != nil {
				t.Fatalf("Failed to register: %v", err)
			}
			futures = append(futures, f)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range futures {
				pool.Deliver(i, result(fmt.Sprintf("r%d", i)), false)
			}
		}()
		go func() {
			defer wg.Done()
			pool.Shutdown(false)
		}()
		wg.Wait()

		for i, f := range futures {
			resp, err := f.WaitForMainResponse(time.Second)
			if err == nil && string(resp) != fmt.Sprintf("r%d", i) {
				t.Fatalf("Request %d completed with foreign response %q", i, resp)
			}
			if err != nil && !errors.Is(err, common.ErrServerCrashed) {
				t.Fatalf("Request %d: unexpected error %v", i, err)
			}
		}
		if pool.InFlight() != 0 {
			t.Fatalf("Expected nothing in flight, got %d", pool.InFlight())
		}
	}
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// TestWriteMetrics tests that the pool exports its gauges and counters
func TestWriteMetrics(t *testing.T) {
	pool, _ := newTestPool(t, 2, common.SlotPolicyFailFast)
	_, _ = pool.Register(nil, []byte("x"))

	var buf bytes.Buffer
	pool.WriteMetrics(&buf)
	out := buf.String()

	for _, name := range []string{"dwire_slots_in_use", "dwire_requests_registered_total", "dwire_slots_capacity"} {
		if !strings.Contains(out, name) {
			t.Errorf("Expected metric %s in output:\n%s", name, out)
		}
	}
}
