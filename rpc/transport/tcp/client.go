package tcp

import (
	"net"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/ValentinKolb/dWire/rpc/transport/base"
)

// clientConnector implements the base.IStreamConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IStreamConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(endpoint string) (net.Conn, error) {
	return net.Dial("tcp", endpoint)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return tuneConn(conn, config.Transport.SocketConf, config.Transport.TCPConf)
}

// --------------------------------------------------------------------------
// Client Connector Factory Method
// --------------------------------------------------------------------------

// NewTCPConnector creates a connector dialing TCP links
func NewTCPConnector() transport.IClientConnector {
	return base.NewStreamConnector(&clientConnector{})
}
