package wire

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dWire/rpc/channel"
	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/cockroachdb/errors"
	"github.com/jpillora/backoff"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("wire")

// DefaultCloseTimeout bounds how long Close waits for in-flight requests
const DefaultCloseTimeout = 5 * time.Second

// SendOption configures a single request
type SendOption = channel.RegisterOption

// WithSecondResponse marks a request whose exchange ends with a secondary response
// (e.g. a result set handle after the statement acknowledgement)
func WithSecondResponse() SendOption {
	return channel.WithSecondResponse()
}

// Wire is one session with the server. It frames requests, multiplexes them over
// the slots of its pool and routes the messages pulled from the link back to them.
type Wire struct {
	link   transport.ILink
	pool   *channel.SlotPool
	config common.ClientConfig
	stats  *Stats

	closeTimeout atomic.Int64
	closing      atomic.Bool
	closeOnce    sync.Once
	closeErr     error
	recvDone     chan struct{}
}

// --------------------------------------------------------------------------
// Factory Methods
// --------------------------------------------------------------------------

// New creates a wire on an established link and starts its receive loop
func New(link transport.ILink, config common.ClientConfig) *Wire {
	w := &Wire{
		link:     link,
		config:   config,
		stats:    newStats(),
		recvDone: make(chan struct{}),
	}

	label := config.Transport.Label
	if label == "" {
		label = fmt.Sprintf("session-%016x", link.SessionID())
	}
	w.pool = channel.NewSlotPool(link, config.Channel, label)
	w.pool.SetRoundTripObserver(w.stats.roundTrip.Update)

	closeTimeout := config.CloseTimeout()
	if closeTimeout <= 0 {
		closeTimeout = DefaultCloseTimeout
	}
	w.closeTimeout.Store(int64(closeTimeout))

	go w.receive()

	Logger.Infof("Opened wire for session %d (%d slots, %s policy)",
		link.SessionID(), w.pool.Capacity(), w.pool.Policy())
	return w
}

// Dial connects with the given connector and creates a wire on the new link
func Dial(connector transport.IClientConnector, config common.ClientConfig) (*Wire, error) {
	link, err := connector.Dial(config)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s endpoint %s", connector.GetName(), config.Transport.Endpoint)
	}
	return New(link, config), nil
}

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

// Send frames payload for the given service and dispatches it. The returned future
// completes with the service payload of the response; the framework header is stripped.
func (w *Wire) Send(serviceID uint32, payload []byte, opts ...SendOption) (*channel.ResponseFuture, error) {
	if w.closing.Load() {
		return nil, common.ErrWireClosed
	}

	header := common.EncodeRequestHeader(common.RequestHeader{
		Version:   common.ProtocolVersion,
		ServiceID: serviceID,
		SessionID: w.link.SessionID(),
	}, len(payload))

	f, err := w.pool.Register(header, payload, opts...)
	if err != nil {
		w.stats.failed.Inc(1)
		return nil, err
	}
	w.stats.sent.Mark(1)
	w.stats.payload.Add(len(payload))
	return f, nil
}

// CreateResultSetWire opens a secondary channel for streaming result sets
func (w *Wire) CreateResultSetWire() (transport.IResultSetWire, error) {
	if w.closing.Load() {
		return nil, common.ErrWireClosed
	}
	return w.link.CreateResultSetWire()
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// IsAlive reports whether the wire can still exchange requests
func (w *Wire) IsAlive() bool {
	return !w.closing.Load() && !w.pool.IsShutdown() && w.link.IsAlive()
}

// SessionID returns the session id assigned by the server
func (w *Wire) SessionID() uint64 {
	return w.link.SessionID()
}

// SetCloseTimeout sets how long Close waits for in-flight requests
func (w *Wire) SetCloseTimeout(d time.Duration) {
	w.closeTimeout.Store(int64(d))
}

// Pool returns the slot pool of the wire
func (w *Wire) Pool() *channel.SlotPool {
	return w.pool
}

// Stats returns a snapshot of the latency statistics
func (w *Wire) Stats() StatsSnapshot {
	return w.stats.snapshot()
}

// Close stops accepting requests, waits up to the close timeout for in-flight
// requests, closes the link and fails what is left with ErrClosedBeforeResponse.
// Calling Close more than once is safe.
func (w *Wire) Close() error {
	w.closeOnce.Do(func() {
		w.closing.Store(true)

		if left := w.drain(time.Duration(w.closeTimeout.Load())); left > 0 {
			Logger.Warningf("Closing session %d with %d outstanding requests", w.link.SessionID(), left)
		}

		w.closeErr = w.link.Close()
		w.pool.Shutdown(true)
		<-w.recvDone
		w.stats.stop()

		Logger.Infof("Closed wire for session %d", w.link.SessionID())
	})
	return w.closeErr
}

// drain waits until no request is in flight or pending, it returns how many are left
func (w *Wire) drain(timeout time.Duration) int {
	outstanding := func() int {
		return w.pool.InFlight() + w.pool.Pending()
	}

	b := &backoff.Backoff{
		Min:    time.Millisecond,
		Max:    50 * time.Millisecond,
		Factor: 2,
	}
	deadline := time.Now().Add(timeout)

	for outstanding() > 0 && w.link.IsAlive() && !w.pool.IsShutdown() {
		wait := b.Duration()
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if wait > remaining {
			wait = remaining
		}
		time.Sleep(wait)
	}
	return outstanding()
}
