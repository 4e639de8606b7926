package unix

import (
	"net"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/ValentinKolb/dWire/rpc/transport/base"
)

// clientConnector implements the base.IStreamConnector interface for Unix sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IStreamConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Connect(endpoint string) (net.Conn, error) {
	return net.Dial("unix", endpoint)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return setBuffers(conn, config.Transport.SocketConf)
}

// --------------------------------------------------------------------------
// Client Connector Factory Method
// --------------------------------------------------------------------------

// NewUnixConnector creates a connector dialing Unix socket links
func NewUnixConnector() transport.IClientConnector {
	return base.NewStreamConnector(&clientConnector{})
}

// setBuffers applies the socket buffer sizes to a Unix connection
func setBuffers(conn net.Conn, socket common.SocketConf) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	if socket.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(socket.WriteBufferSize); err != nil {
			return err
		}
	}
	if socket.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(socket.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}
