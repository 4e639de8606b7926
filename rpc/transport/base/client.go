package base

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/cockroachdb/errors"
	"github.com/jpillora/backoff"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// defaultHandshakeTimeout bounds the handshake if no request timeout is configured
const defaultHandshakeTimeout = 5 * time.Second

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IStreamConnector defines the transport-specific connection operations of a stream transport
type IStreamConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// streamLink implements transport.ILink over a single stream connection
type streamLink struct {
	conn      net.Conn
	config    common.ClientConfig
	sessionID uint64

	writeMu sync.Mutex // Protects writes to the connection
	readHdr []byte     // Reused by Pull, single reader

	resultSets *xsync.MapOf[int32, *resultSetWire]
	nextRSID   atomic.Int32

	alive     atomic.Bool
	closeOnce sync.Once
}

// streamConnector dials stream links with retries
type streamConnector struct {
	connector IStreamConnector
}

// -----------------------------------------------------------
// Transport Factory Methods (used for tcp, unix, ws)
// -----------------------------------------------------------

// NewStreamConnector creates a transport.IClientConnector for a stream transport
func NewStreamConnector(connector IStreamConnector) transport.IClientConnector {
	return &streamConnector{connector: connector}
}

// NewLink runs the client handshake on an established connection and returns the link
func NewLink(conn net.Conn, config common.ClientConfig) (transport.ILink, error) {
	l := &streamLink{
		conn:       conn,
		config:     config,
		readHdr:    make([]byte, frameHeaderSize),
		resultSets: xsync.NewMapOf[int32, *resultSetWire](),
	}

	if err := l.handshake(); err != nil {
		return nil, errors.Wrap(err, "handshake")
	}
	l.alive.Store(true)
	return l, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *streamConnector) GetName() string {
	return c.connector.GetName()
}

func (c *streamConnector) Dial(config common.ClientConfig) (transport.ILink, error) {
	endpoint := config.Transport.Endpoint
	if endpoint == "" {
		return nil, errors.New("no endpoint provided")
	}

	// We always try at least once
	attempts := config.Transport.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		link, err := c.dialOnce(endpoint, config)
		if err == nil {
			Logger.Infof("Connected to %s using %s transport, session %d", endpoint, c.connector.GetName(), link.SessionID())
			return link, nil
		}

		lastErr = err
		Logger.Debugf("Connect attempt %d/%d to %s failed: %v", i+1, attempts, endpoint, err)

		if i < attempts-1 {
			time.Sleep(b.Duration())
		}
	}

	return nil, errors.Wrapf(lastErr, "failed to connect to %s after %d attempts", endpoint, attempts)
}

// dialOnce connects, upgrades the connection and runs the handshake
func (c *streamConnector) dialOnce(endpoint string, config common.ClientConfig) (transport.ILink, error) {
	conn, err := c.connector.Connect(endpoint)
	if err != nil {
		return nil, err
	}

	if err := c.connector.UpgradeConnection(conn, config); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to upgrade connection to %s", endpoint)
	}

	link, err := NewLink(conn, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return link, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ILink)
// --------------------------------------------------------------------------

func (l *streamLink) SessionID() uint64 {
	return l.sessionID
}

func (l *streamLink) Send(slot int, header, payload []byte) error {
	if !l.alive.Load() {
		return net.ErrClosed
	}
	return l.write(transport.KindRequest, int32(slot), header, payload)
}

func (l *streamLink) Pull() (transport.Message, error) {
	for {
		f, err := readFrame(l.conn, l.readHdr)
		if err != nil {
			l.fail(err)
			return transport.Message{}, err
		}

		switch f.kind {
		case transport.KindNull, transport.KindPayload, transport.KindBodyHead, transport.KindCode:
			return transport.Message{Slot: int(f.slot), Kind: f.kind, Payload: f.body}, nil
		case transport.KindResultSetPayload:
			if rs, ok := l.resultSets.Load(f.slot); ok {
				rs.push(f.body)
			} else {
				Logger.Debugf("Dropping chunk for unknown result set %d", f.slot)
			}
		case transport.KindResultSetBye:
			if rs, ok := l.resultSets.LoadAndDelete(f.slot); ok {
				rs.finish(f.body)
			}
		default:
			Logger.Warningf("Ignoring frame of kind %s on session %d", f.kind, l.sessionID)
		}
	}
}

func (l *streamLink) IsAlive() bool {
	return l.alive.Load()
}

func (l *streamLink) CreateResultSetWire() (transport.IResultSetWire, error) {
	if !l.alive.Load() {
		return nil, net.ErrClosed
	}
	return newResultSetWire(l, l.nextRSID.Add(1)), nil
}

func (l *streamLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.alive.Store(false)
		err = l.conn.Close()
		l.closeResultSets(net.ErrClosed)
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// write sends one frame, writes from concurrent senders never interleave
func (l *streamLink) write(kind transport.MessageKind, slot int32, parts ...[]byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.config.TimeoutSecond > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(l.config.Timeout())); err != nil {
			return err
		}
	}

	if err := writeFrame(l.conn, kind, slot, parts...); err != nil {
		l.fail(err)
		return err
	}
	return nil
}

// handshake sends the client label and reads the session id assigned by the server
func (l *streamLink) handshake() error {
	timeout := l.config.Timeout()
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	if err := l.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	if err := writeFrame(l.conn, transport.KindHandshake, 0, []byte(l.config.Transport.Label)); err != nil {
		return err
	}

	f, err := readFrame(l.conn, l.readHdr)
	if err != nil {
		return err
	}
	if f.kind != transport.KindHandshake {
		return errors.Newf("expected handshake reply, got %s", f.kind)
	}
	if l.sessionID, err = decodeSessionID(f.body); err != nil {
		return err
	}

	// the link is long lived, only writes get a deadline from now on
	return l.conn.SetDeadline(time.Time{})
}

// fail marks the link as broken and ends all result set streams
func (l *streamLink) fail(err error) {
	if l.alive.Swap(false) {
		Logger.Debugf("Link of session %d broken: %v", l.sessionID, err)
	}
	l.closeResultSets(err)
}

func (l *streamLink) closeResultSets(err error) {
	l.resultSets.Range(func(id int32, rs *resultSetWire) bool {
		l.resultSets.Delete(id)
		rs.abort(err)
		return true
	})
}
