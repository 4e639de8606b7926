package ws

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/ValentinKolb/dWire/rpc/transport/base"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/ws")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  bufferSize,
	WriteBufferSize: bufferSize,
	Subprotocols:    []string{Subprotocol},
	// dWire clients are not browsers
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serverConnector implements the base.IServerConnector interface for websockets
type serverConnector struct{}

// listener accepts upgraded websocket connections from an HTTP server
type listener struct {
	addr   net.Addr
	srv    *http.Server
	conns  chan net.Conn
	done   chan struct{}
	closed sync.Once
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "ws"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	ln, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create TCP socket")
	}

	l := &listener{
		addr:  ln.Addr(),
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	if config.LogLevel == "debug" {
		mux.HandleFunc(Path, loggerMiddleware(l.handleUpgrade))
	} else {
		mux.HandleFunc(Path, l.handleUpgrade)
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK\n"))
	})

	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: handshakeTimeout}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("HTTP server on %s stopped: %v", l.addr, err)
		}
		l.Close()
	}()

	return l, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	return nil
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewWSServerTransport creates a new websocket server transport
func NewWSServerTransport() transport.IRPCServerTransport {
	return base.NewServerTransport(&serverConnector{})
}

// --------------------------------------------------------------------------
// Listener
// --------------------------------------------------------------------------

func (l *listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *listener) Close() error {
	var err error
	l.closed.Do(func() {
		close(l.done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = l.srv.Shutdown(ctx)
	})
	return err
}

func (l *listener) Addr() net.Addr {
	return l.addr
}

// handleUpgrade upgrades the request and hands the connection to Accept
func (l *listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		Logger.Debugf("Failed to upgrade to websocket: %v", err)
		return
	}
	if wsConn.Subprotocol() != Subprotocol {
		Logger.Warningf("Client %s uses unsupported websocket protocol %q", r.RemoteAddr, r.Header.Get("Sec-WebSocket-Protocol"))
		wsConn.Close()
		return
	}

	select {
	case l.conns <- newWebSocketConn(wsConn):
	case <-l.done:
		wsConn.Close()
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// loggerMiddleware logs every upgrade request
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		Logger.Debugf("%s %s from %s took %s", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	}
}
