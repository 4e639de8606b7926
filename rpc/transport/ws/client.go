package ws

import (
	"net"
	"strings"
	"time"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/ValentinKolb/dWire/rpc/transport/base"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
)

const (
	// Subprotocol is negotiated during the websocket upgrade
	Subprotocol = "dwire-v1"

	// Path is the HTTP path the server upgrades on
	Path = "/dwire"

	handshakeTimeout = 10 * time.Second
	bufferSize       = 64 * 1024
)

// clientConnector implements the base.IStreamConnector interface for websockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IStreamConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "ws"
}

func (c *clientConnector) Connect(endpoint string) (net.Conn, error) {
	d := websocket.Dialer{
		ReadBufferSize:   bufferSize,
		WriteBufferSize:  bufferSize,
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}

	conn, resp, err := d.Dial(endpointURL(endpoint), nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket upgrade failed with status %s", resp.Status)
		}
		return nil, err
	}
	if conn.Subprotocol() != Subprotocol {
		conn.Close()
		return nil, errors.Newf("server speaks subprotocol %q, expected %q", conn.Subprotocol(), Subprotocol)
	}
	return newWebSocketConn(conn), nil
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	// buffers are fixed by the dialer
	return nil
}

// --------------------------------------------------------------------------
// Client Connector Factory Method
// --------------------------------------------------------------------------

// NewWSConnector creates a connector dialing websocket links
func NewWSConnector() transport.IClientConnector {
	return base.NewStreamConnector(&clientConnector{})
}

// endpointURL turns host:port into a websocket URL, full URLs are kept
func endpointURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	return "ws://" + endpoint + Path
}
