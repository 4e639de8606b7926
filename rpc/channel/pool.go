package channel

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("channel")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// ISender dispatches a framed request on a slot, implemented by transport.ILink
type ISender interface {
	Send(slot int, header, payload []byte) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// slotRecord is one entry of the fixed slot array. owner is claimed with a CAS,
// every other transition happens under mu.
type slotRecord struct {
	mu          sync.Mutex
	owner       atomic.Pointer[ResponseFuture]
	gotMain     bool
	gotSecond   bool
	awaitSecond bool
}

// resetLocked clears the delivery progress, mu must be held
func (r *slotRecord) resetLocked() {
	r.gotMain, r.gotSecond, r.awaitSecond = false, false, false
}

// registerOptions holds the per request options of Register
type registerOptions struct {
	secondResponse bool
}

// RegisterOption configures a single request
type RegisterOption func(*registerOptions)

// WithSecondResponse keeps the slot bound until a secondary response arrived
func WithSecondResponse() RegisterOption {
	return func(o *registerOptions) {
		o.secondResponse = true
	}
}

// SlotPool correlates concurrent requests with a fixed set of slots
type SlotPool struct {
	slots  []slotRecord
	policy common.SlotPolicy
	sender ISender

	// queue policy
	pairing      sync.Mutex
	pending      *pendingQueue
	free         *xsync.MPMCQueueOf[int]
	pendingCount atomic.Int64
	freeCount    atomic.Int64

	inFlight atomic.Int64

	shutdownOnce sync.Once
	shutdownErr  error
	closed       atomic.Bool

	metrics  *poolMetrics
	observer func(rtt time.Duration)
}

// -----------------------------------------------------------
// Factory Method
// -----------------------------------------------------------

// NewSlotPool creates a slot pool dispatching to sender. name labels the metrics of the pool.
func NewSlotPool(sender ISender, config common.ChannelConf, name string) *SlotPool {
	capacity := config.Capacity()

	policy := config.Policy
	if policy == "" {
		policy = common.SlotPolicyFailFast
	}

	p := &SlotPool{
		slots:   make([]slotRecord, capacity),
		policy:  policy,
		sender:  sender,
		pending: newPendingQueue(),
	}

	if policy == common.SlotPolicyQueue {
		p.free = xsync.NewMPMCQueueOf[int](capacity)
		for i := 0; i < capacity; i++ {
			p.pushFree(i)
		}
	}

	p.metrics = newPoolMetrics(p, name)
	return p
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Capacity returns the number of slots
func (p *SlotPool) Capacity() int {
	return len(p.slots)
}

// Policy returns the slot policy of the pool
func (p *SlotPool) Policy() common.SlotPolicy {
	return p.policy
}

// InFlight returns the number of slots currently bound to a request
func (p *SlotPool) InFlight() int {
	return int(p.inFlight.Load())
}

// Pending returns the number of requests waiting for a slot
func (p *SlotPool) Pending() int {
	n := p.pendingCount.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// IsShutdown reports whether Shutdown was called
func (p *SlotPool) IsShutdown() bool {
	return p.closed.Load()
}

// SetRoundTripObserver installs fn, called with the round trip time of every main
// response. It must be set before the first Register.
func (p *SlotPool) SetRoundTripObserver(fn func(rtt time.Duration)) {
	p.observer = fn
}

// WriteMetrics writes the metrics of the pool in Prometheus text format
func (p *SlotPool) WriteMetrics(w io.Writer) {
	p.metrics.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Register
// --------------------------------------------------------------------------

// Register binds a request to a slot and dispatches it. With the fail-fast policy a
// full pool returns ErrResourceExhausted; with the queue policy the request waits
// for a slot. Transport failures of the dispatch complete the returned future.
func (p *SlotPool) Register(header, payload []byte, opts ...RegisterOption) (*ResponseFuture, error) {
	o := registerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if p.closed.Load() {
		return nil, p.shutdownError()
	}

	f := newResponseFuture(header, payload, o.secondResponse)
	p.metrics.registered.Inc()

	if p.policy == common.SlotPolicyQueue {
		p.pending.push(f)
		p.pendingCount.Add(1)
		p.runPairing()
		return f, nil
	}

	for i := range p.slots {
		if !p.slots[i].owner.CompareAndSwap(nil, f) {
			continue
		}
		f.assignSlot(i)
		p.inFlight.Add(1)

		// the pool may have been shut down after the claim
		if p.closed.Load() {
			err := p.shutdownError()
			if p.unbind(i, f) {
				f.fail(err)
			}
			return nil, err
		}

		p.dispatch(i, f)
		return f, nil
	}

	p.metrics.exhausted.Inc()
	return nil, errors.Wrapf(common.ErrResourceExhausted, "all %d slots in use", len(p.slots))
}

// bind records the owner of a slot claimed through the free queue
func (p *SlotPool) bind(slot int, f *ResponseFuture) {
	p.slots[slot].owner.Store(f)
	p.inFlight.Add(1)
}

// dispatch sends the request of f, a failed send completes f and frees the slot
func (p *SlotPool) dispatch(slot int, f *ResponseFuture) {
	header, payload := f.takeRequest()
	if err := p.sender.Send(slot, header, payload); err != nil {
		Logger.Warningf("Failed to send request on slot %d: %v", slot, err)
		p.DeliverError(slot, common.NewIOError(err, "send on slot %d", slot))
	}
}

// --------------------------------------------------------------------------
// Delivery
// --------------------------------------------------------------------------

// Deliver completes the request bound to slot with a main or secondary response.
// The slot is released once no further message is expected.
func (p *SlotPool) Deliver(slot int, raw []byte, secondary bool) {
	rec, ok := p.record(slot)
	if !ok {
		return
	}

	rec.mu.Lock()
	f := rec.owner.Load()
	if f == nil {
		rec.mu.Unlock()
		Logger.Warningf("Dropping response for free slot %d (secondary=%t)", slot, secondary)
		return
	}

	if secondary {
		if !f.ExpectsSecondResponse() {
			rec.mu.Unlock()
			Logger.Warningf("Dropping unexpected secondary response on slot %d", slot)
			return
		}
		rec.gotSecond = true
		f.setSecondResponse(raw)
	} else {
		if rec.gotMain {
			rec.mu.Unlock()
			Logger.Warningf("Dropping duplicate main response on slot %d", slot)
			return
		}
		rec.gotMain = true
		rec.awaitSecond = f.setMainResponse(raw)
	}

	release := rec.gotMain && (!rec.awaitSecond || rec.gotSecond)
	if release {
		rec.owner.Store(nil)
		rec.resetLocked()
	}
	rec.mu.Unlock()

	p.metrics.delivered.Inc()
	if !secondary && p.observer != nil {
		p.observer(time.Since(f.dispatchedAt()))
	}
	if release {
		p.release(slot)
	}
}

// DeliverError completes the request bound to slot with err and releases the slot
func (p *SlotPool) DeliverError(slot int, err error) {
	rec, ok := p.record(slot)
	if !ok {
		return
	}

	rec.mu.Lock()
	f := rec.owner.Load()
	if f == nil {
		rec.mu.Unlock()
		Logger.Warningf("Dropping error for free slot %d: %v", slot, err)
		return
	}
	rec.owner.Store(nil)
	rec.resetLocked()
	f.fail(err)
	rec.mu.Unlock()

	p.metrics.failed.Inc()
	p.release(slot)
}

// record returns the slot record for a slot index received from the transport
func (p *SlotPool) record(slot int) (*slotRecord, bool) {
	if slot < 0 || slot >= len(p.slots) {
		Logger.Errorf("Received message for invalid slot %d (capacity %d)", slot, len(p.slots))
		return nil, false
	}
	return &p.slots[slot], true
}

// unbind frees the slot if it is still owned by f. It returns true exactly once per binding.
func (p *SlotPool) unbind(slot int, f *ResponseFuture) bool {
	rec := &p.slots[slot]
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.owner.Load() != f {
		return false
	}
	rec.owner.Store(nil)
	rec.resetLocked()
	p.inFlight.Add(-1)
	return true
}

// release makes a slot available again after its owner was cleared
func (p *SlotPool) release(slot int) {
	p.inFlight.Add(-1)

	if p.policy != common.SlotPolicyQueue || p.closed.Load() {
		return
	}
	p.pushFree(slot)
	p.runPairing()
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Shutdown completes every outstanding request, with ErrClosedBeforeResponse if
// intentional and ErrServerCrashed otherwise. Later calls are no-ops.
func (p *SlotPool) Shutdown(intentional bool) {
	if intentional {
		p.shutdown(common.ErrClosedBeforeResponse)
	} else {
		p.shutdown(common.ErrServerCrashed)
	}
}

// Fail shuts the pool down because of a transport failure
func (p *SlotPool) Fail(cause error) {
	p.shutdown(common.NewServerCrashed(cause))
}

func (p *SlotPool) shutdown(err error) {
	p.shutdownOnce.Do(func() {
		// publish the error before the flag, readers load the flag first
		p.shutdownErr = err
		p.closed.Store(true)

		// no pairing pass may bind a slot while the slots are walked
		p.pairing.Lock()
		p.drainPendingLocked(err)

		failed := 0
		for i := range p.slots {
			rec := &p.slots[i]
			rec.mu.Lock()
			f := rec.owner.Load()
			if f != nil {
				rec.owner.Store(nil)
				rec.resetLocked()
				f.fail(err)
				p.inFlight.Add(-1)
				failed++
			}
			rec.mu.Unlock()
		}
		p.pairing.Unlock()

		// requests queued while the lock was held
		p.runPairing()

		Logger.Infof("Slot pool shut down, %d outstanding requests failed: %v", failed, err)
	})
}

// shutdownError returns the error outstanding requests were completed with
func (p *SlotPool) shutdownError() error {
	if p.shutdownErr == nil {
		return common.ErrClosedBeforeResponse
	}
	return p.shutdownErr
}
