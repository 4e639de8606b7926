package base

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dWire/lib/util"
	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// diagnostic codes written by the server transport itself
const (
	CodeMalformedRequest uint32 = 1
	CodeNoResponse       uint32 = 2
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector IServerConnector
	handler   transport.ServerHandleFunc
	config    common.ServerConfig

	listenerMu sync.Mutex
	listener   net.Listener
	sessions   *xsync.MapOf[uint64, *serverConn]
	connWG     sync.WaitGroup
	closing    atomic.Bool
}

// serverConn is one accepted connection (one client session)
type serverConn struct {
	parent    *serverTransport
	conn      net.Conn
	sessionID uint64
	label     string
	writeMu   sync.Mutex

	resultSets *xsync.MapOf[string, *serverResultSet] // by name, opened by handlers
	streams    *xsync.MapOf[int32, *serverResultSet]  // by client index, connected by clients
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, ws)
// -----------------------------------------------------------

// NewServerTransport creates a server transport that hands requests to a per-connection worker pool
func NewServerTransport(connector IServerConnector) transport.IRPCServerTransport {
	return newServerTransport(connector)
}

func newServerTransport(connector IServerConnector) *serverTransport {
	return &serverTransport{
		connector: connector,
		sessions:  xsync.NewMapOf[uint64, *serverConn](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return errors.New("no handler registered")
	}
	t.config = config

	listener, err := t.connector.Listen(config)
	if err != nil {
		return errors.Wrap(err, "failed to create listener")
	}
	t.listenerMu.Lock()
	t.listener = listener
	t.listenerMu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), config.Transport.Endpoint, t.workersPerConn())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closing.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Errorf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		t.connWG.Add(1)
		go func() {
			defer t.connWG.Done()
			t.serveConn(conn)
		}()
	}
}

func (t *serverTransport) Close() error {
	if t.closing.Swap(true) {
		return nil
	}

	var err error
	t.listenerMu.Lock()
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.listenerMu.Unlock()

	t.sessions.Range(func(_ uint64, sc *serverConn) bool {
		sc.conn.Close()
		return true
	})
	t.connWG.Wait()

	Logger.Infof("Stopped %s server", t.connector.GetName())
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *serverTransport) workersPerConn() int {
	if t.config.Transport.MaxWorkersPerConn < 1 {
		return 1
	}
	return t.config.Transport.MaxWorkersPerConn
}

func (t *serverTransport) writeTimeout() time.Duration {
	return time.Duration(t.config.TimeoutSecond) * time.Second
}

// serveConn runs the handshake and handles the requests of one connection
func (t *serverTransport) serveConn(conn net.Conn) {
	defer conn.Close()

	sc, err := t.accept(conn)
	if err != nil {
		Logger.Warningf("Handshake with %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	t.sessions.Store(sc.sessionID, sc)
	defer t.sessions.Delete(sc.sessionID)

	Logger.Infof("Session %d opened (label %q)", sc.sessionID, sc.label)

	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.workersPerConn())
	var wg sync.WaitGroup

	hdr := make([]byte, frameHeaderSize)
	for {
		f, err := readFrame(conn, hdr)
		if err != nil {
			if err == io.EOF || t.closing.Load() {
				Logger.Infof("Session %d closed by client", sc.sessionID)
			} else {
				Logger.Errorf("Error reading from session %d: %v", sc.sessionID, err)
			}
			break
		}

		switch f.kind {
		case transport.KindRequest:
			header, payload, err := common.DecodeRequest(f.body)
			if err != nil {
				Logger.Warningf("Malformed request on slot %d of session %d: %v", f.slot, sc.sessionID, err)
				sc.write(transport.KindCode, f.slot, common.EncodeDiagnostic(CodeMalformedRequest, err.Error()))
				continue
			}
			req := &transport.Request{
				Slot:      int(f.slot),
				ServiceID: header.ServiceID,
				SessionID: header.SessionID,
				Payload:   payload,
			}

			// blocks if the worker limit of this connection is reached
			workerSemaphore <- struct{}{}
			wg.Add(1)
			go func() {
				defer func() {
					<-workerSemaphore
					wg.Done()
				}()
				sc.handle(req)
			}()

		case transport.KindResultSetHello:
			sc.connectResultSet(f.slot, string(f.body))

		case transport.KindResultSetBye:
			if rs, ok := sc.streams.LoadAndDelete(f.slot); ok {
				rs.stop()
			}

		case transport.KindNull:
			// keep-alive

		default:
			Logger.Warningf("Ignoring frame of kind %s from session %d", f.kind, sc.sessionID)
		}
	}

	// Wait for all workers to finish before closing the connection
	wg.Wait()
	sc.resultSets.Range(func(name string, rs *serverResultSet) bool {
		rs.discard()
		return true
	})
}

// accept runs the server side of the handshake
func (t *serverTransport) accept(conn net.Conn) (*serverConn, error) {
	timeout := t.writeTimeout()
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	f, err := readFrame(conn, nil)
	if err != nil {
		return nil, err
	}
	if f.kind != transport.KindHandshake {
		return nil, errors.Newf("expected handshake, got %s", f.kind)
	}

	sc := &serverConn{
		parent:     t,
		conn:       conn,
		sessionID:  util.GenerateSessionID(),
		label:      string(f.body),
		resultSets: xsync.NewMapOf[string, *serverResultSet](),
		streams:    xsync.NewMapOf[int32, *serverResultSet](),
	}
	if err := writeFrame(conn, transport.KindHandshake, 0, encodeSessionID(sc.sessionID)); err != nil {
		return nil, err
	}
	return sc, conn.SetDeadline(time.Time{})
}

// handle runs the handler for one request and makes sure the slot is answered
func (sc *serverConn) handle(req *transport.Request) {
	start := time.Now()
	w := &responseWriter{sc: sc, slot: int32(req.Slot)}

	sc.parent.handler(req, w)
	Logger.Debugf("Processed request on slot %d of session %d for service %d took %s",
		req.Slot, sc.sessionID, req.ServiceID, time.Since(start))

	if !w.answered.Load() {
		Logger.Warningf("Handler returned without response for slot %d of session %d", req.Slot, sc.sessionID)
		_ = w.WriteCode(CodeNoResponse, "handler returned without response")
	}
}

// write sends one frame to the client
func (sc *serverConn) write(kind transport.MessageKind, slot int32, parts ...[]byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	if timeout := sc.parent.writeTimeout(); timeout > 0 {
		if err := sc.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	if err := writeFrame(sc.conn, kind, slot, parts...); err != nil {
		Logger.Errorf("Failed to write %s frame to session %d: %v", kind, sc.sessionID, err)
		return err
	}
	return nil
}

// connectResultSet binds a client result set wire to a result set opened by a handler
func (sc *serverConn) connectResultSet(index int32, name string) {
	rs, ok := sc.resultSets.Load(name)
	if !ok {
		sc.write(transport.KindResultSetBye, index, []byte("unknown result set "+name))
		return
	}
	if !rs.subscribe(index) {
		sc.write(transport.KindResultSetBye, index, []byte("result set "+name+" already connected"))
		return
	}
	sc.streams.Store(index, rs)
}

// --------------------------------------------------------------------------
// Response writer
// --------------------------------------------------------------------------

// responseWriter implements transport.ResponseWriter for one slot
type responseWriter struct {
	sc       *serverConn
	slot     int32
	answered atomic.Bool
}

func (w *responseWriter) WriteResult(payload []byte) error {
	w.answered.Store(true)
	return w.sc.write(transport.KindPayload, w.slot, common.EncodeResponse(common.PayloadTypeServiceResult, payload))
}

func (w *responseWriter) WriteDiagnostic(code uint32, message string) error {
	w.answered.Store(true)
	diag := common.EncodeDiagnostic(code, message)
	return w.sc.write(transport.KindPayload, w.slot, common.EncodeResponse(common.PayloadTypeServerDiagnostics, diag))
}

func (w *responseWriter) WriteBodyHead(payload []byte) error {
	return w.sc.write(transport.KindBodyHead, w.slot, payload)
}

func (w *responseWriter) WriteCode(code uint32, message string) error {
	w.answered.Store(true)
	return w.sc.write(transport.KindCode, w.slot, common.EncodeDiagnostic(code, message))
}

func (w *responseWriter) OpenResultSet(name string) (transport.IResultSetWriter, error) {
	rs := newServerResultSet(w.sc, name)
	if _, loaded := w.sc.resultSets.LoadOrStore(name, rs); loaded {
		rs.discard()
		return nil, errors.Newf("result set %q already open", name)
	}
	return rs, nil
}

// --------------------------------------------------------------------------
// Server result set
// --------------------------------------------------------------------------

// serverResultSet buffers the chunks of a result set until a client connects and
// forwards them afterwards
type serverResultSet struct {
	sc      *serverConn
	name    string
	chunks  *util.MPSCQueue[[]byte]
	bound   atomic.Bool
	stopped atomic.Bool
}

func newServerResultSet(sc *serverConn, name string) *serverResultSet {
	return &serverResultSet{
		sc:     sc,
		name:   name,
		chunks: util.NewMPSCQueue[[]byte](),
	}
}

func (rs *serverResultSet) Name() string {
	return rs.name
}

func (rs *serverResultSet) Write(chunk []byte) error {
	if rs.stopped.Load() || !rs.chunks.Push(chunk) {
		return errors.Newf("result set %q is closed", rs.name)
	}
	return nil
}

func (rs *serverResultSet) Close() error {
	rs.chunks.Close()
	return nil
}

// discard closes a result set whose session ended. Chunks nobody connected to are dropped.
func (rs *serverResultSet) discard() {
	rs.chunks.Close()
	if !rs.bound.Swap(true) {
		go func() {
			for range rs.chunks.Recv() {
			}
		}()
	}
}

// subscribe starts forwarding to the client result set wire with the given index
func (rs *serverResultSet) subscribe(index int32) bool {
	if rs.bound.Swap(true) {
		return false
	}

	go func() {
		defer rs.sc.resultSets.Delete(rs.name)
		defer rs.sc.streams.Delete(index)

		for chunk := range rs.chunks.Recv() {
			if rs.stopped.Load() {
				continue
			}
			if err := rs.sc.write(transport.KindResultSetPayload, index, chunk); err != nil {
				rs.stopped.Store(true)
			}
		}
		if !rs.stopped.Load() {
			rs.sc.write(transport.KindResultSetBye, index)
		}
	}()
	return true
}

// stop discards the remaining chunks, the client closed its wire
func (rs *serverResultSet) stop() {
	rs.stopped.Store(true)
}
