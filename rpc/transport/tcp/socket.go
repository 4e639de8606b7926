package tcp

import (
	"net"
	"time"

	"github.com/ValentinKolb/dWire/rpc/common"
)

// tuneConn applies the TCPConf and SocketConf settings to a TCP connection.
// Connections of other types are left untouched.
func tuneConn(conn net.Conn, socket common.SocketConf, tcp common.TCPConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(tcp.TCPNoDelay); err != nil {
		return err
	}

	if socket.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(socket.WriteBufferSize); err != nil {
			return err
		}
	}

	if socket.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(socket.ReadBufferSize); err != nil {
			return err
		}
	}

	if tcp.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(tcp.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	// zero keeps the system default, a linger of 0 would reset the connection on close
	if tcp.TCPLingerSec > 0 {
		if err := tcpConn.SetLinger(tcp.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}
