package channel

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/cockroachdb/errors"
)

// ErrNoSecondResponse is returned when waiting for a secondary response the request never asked for
var ErrNoSecondResponse = errors.New("request does not expect a secondary response")

// FutureState is the lifecycle state of a ResponseFuture
type FutureState int32

const (
	StateUnsent      FutureState = iota // Waiting in the pending queue
	StateSent                           // Bound to a slot and dispatched
	StateMainReady                      // Main response (or failure) available
	StateSecondReady                    // Secondary response available as well
	StateCancelled                      // Cancelled before dispatch
	StateClosed                         // Closed by the caller
)

// String returns the string representation of a FutureState
func (s FutureState) String() string {
	switch s {
	case StateUnsent:
		return "unsent"
	case StateSent:
		return "sent"
	case StateMainReady:
		return "main-ready"
	case StateSecondReady:
		return "second-ready"
	case StateCancelled:
		return "cancelled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ResponseFuture is the single assignment result of one request. The main response
// and the optional secondary response are each completed exactly once; any number of
// goroutines may wait on them.
type ResponseFuture struct {
	mu           sync.Mutex
	state        FutureState
	slot         int
	expectSecond bool
	sentAt       time.Time

	// request bytes, dropped once dispatched
	header  []byte
	payload []byte

	mainDone chan struct{}
	main     []byte
	mainErr  error

	secondDone chan struct{}
	second     []byte
	secondErr  error
}

// newResponseFuture creates an unsent future for the given request
func newResponseFuture(header, payload []byte, expectSecond bool) *ResponseFuture {
	return &ResponseFuture{
		state:        StateUnsent,
		slot:         -1,
		expectSecond: expectSecond,
		header:       header,
		payload:      payload,
		mainDone:     make(chan struct{}),
		secondDone:   make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Consumer side
// --------------------------------------------------------------------------

// Slot returns the slot the request was dispatched on, -1 while unsent
func (f *ResponseFuture) Slot() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slot
}

// State returns the current lifecycle state
func (f *ResponseFuture) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ExpectsSecondResponse reports whether the request was registered with a secondary response
func (f *ResponseFuture) ExpectsSecondResponse() bool {
	return f.expectSecond
}

// IsMainResponseReady reports whether the main response or a failure is available
func (f *ResponseFuture) IsMainResponseReady() bool {
	return isDone(f.mainDone)
}

// IsSecondResponseReady reports whether the secondary response or a failure is available
func (f *ResponseFuture) IsSecondResponseReady() bool {
	return f.expectSecond && isDone(f.secondDone)
}

// WaitForMainResponse blocks until the main response is available. A timeout <= 0 waits
// forever. An elapsed timeout returns ErrTimeout and leaves the request in flight, a
// later call returns the response once it arrived.
func (f *ResponseFuture) WaitForMainResponse(timeout time.Duration) ([]byte, error) {
	if err := waitDone(f.mainDone, timeout); err != nil {
		return nil, errors.Wrapf(err, "main response (slot %d)", f.Slot())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.main, f.mainErr
}

// WaitForMainResponseContext is WaitForMainResponse bounded by a context
func (f *ResponseFuture) WaitForMainResponseContext(ctx context.Context) ([]byte, error) {
	if err := waitDoneContext(ctx, f.mainDone); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.main, f.mainErr
}

// WaitForSecondResponse blocks until the secondary response is available, see WaitForMainResponse
func (f *ResponseFuture) WaitForSecondResponse(timeout time.Duration) ([]byte, error) {
	if !f.expectSecond {
		return nil, ErrNoSecondResponse
	}
	if err := waitDone(f.secondDone, timeout); err != nil {
		return nil, errors.Wrapf(err, "second response (slot %d)", f.Slot())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.second, f.secondErr
}

// WaitForSecondResponseContext is WaitForSecondResponse bounded by a context
func (f *ResponseFuture) WaitForSecondResponseContext(ctx context.Context) ([]byte, error) {
	if !f.expectSecond {
		return nil, ErrNoSecondResponse
	}
	if err := waitDoneContext(ctx, f.secondDone); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.second, f.secondErr
}

// CancelLocally cancels a request that has not been dispatched yet. It returns false
// once the request owns a slot; such a request can only be awaited.
func (f *ResponseFuture) CancelLocally() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateUnsent {
		return false
	}
	f.header, f.payload = nil, nil
	f.completeLocked(common.ErrCancelledLocally)
	f.state = StateCancelled
	return true
}

// Close discards the future. Waiters blocked on a missing response return
// ErrFutureClosed. The slot is not touched, it is released when its response arrives.
func (f *ResponseFuture) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateClosed {
		return
	}
	if f.state == StateUnsent {
		f.header, f.payload = nil, nil
		f.completeLocked(common.ErrCancelledLocally)
	} else {
		f.completeLocked(common.ErrFutureClosed)
	}
	f.state = StateClosed
}

// --------------------------------------------------------------------------
// Producer side (used by the slot pool)
// --------------------------------------------------------------------------

// assignSlot claims the slot for an unsent request. It returns false when the
// request was cancelled, the caller must not dispatch it.
func (f *ResponseFuture) assignSlot(slot int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateUnsent {
		return false
	}
	f.state = StateSent
	f.slot = slot
	f.sentAt = time.Now()
	return true
}

// dispatchedAt returns when the request was bound to its slot
func (f *ResponseFuture) dispatchedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sentAt
}

// takeRequest hands the request bytes to the dispatcher and forgets them
func (f *ResponseFuture) takeRequest() (header, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	header, payload = f.header, f.payload
	f.header, f.payload = nil, nil
	return header, payload
}

// setMainResponse strips the response header and completes the main response.
// It returns true if the slot has to wait for a secondary response.
func (f *ResponseFuture) setMainResponse(raw []byte) bool {
	payload, err := common.DecodeResponse(raw)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !isDone(f.mainDone) {
		f.main, f.mainErr = payload, err
		close(f.mainDone)
		if f.state == StateSent {
			f.state = StateMainReady
		}
	}

	// a failed main response is never followed by a secondary one
	if err != nil {
		if f.expectSecond && !isDone(f.secondDone) {
			f.secondErr = err
			close(f.secondDone)
		}
		return false
	}
	return f.expectSecond
}

// setSecondResponse completes the secondary response with raw bytes
func (f *ResponseFuture) setSecondResponse(raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.expectSecond || isDone(f.secondDone) {
		return
	}
	f.second = raw
	close(f.secondDone)
	if f.state == StateMainReady {
		f.state = StateSecondReady
	}
}

// fail completes every missing response with err
func (f *ResponseFuture) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.completeLocked(err)
	if f.state == StateSent || f.state == StateUnsent {
		f.state = StateMainReady
	}
}

// completeLocked completes all missing responses with err, f.mu must be held
func (f *ResponseFuture) completeLocked(err error) {
	if !isDone(f.mainDone) {
		f.mainErr = err
		close(f.mainDone)
	}
	if f.expectSecond && !isDone(f.secondDone) {
		f.secondErr = err
		close(f.secondDone)
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func isDone(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// waitDone waits until ch is closed or the timeout elapsed
func waitDone(ch chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		<-ch
		return nil
	}

	// Fast path, avoids the timer
	if isDone(ch) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return errors.Wrapf(common.ErrTimeout, "after %s", timeout)
	}
}

// waitDoneContext waits until ch is closed or ctx is done.
// An expired deadline is reported as ErrTimeout.
func waitDoneContext(ctx context.Context, ch chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Mark(errors.Wrap(ctx.Err(), common.ErrTimeout.Error()), common.ErrTimeout)
		}
		return ctx.Err()
	}
}
