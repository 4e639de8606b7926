package ws

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a websocket connection to net.Conn. Every Write is sent as one binary
// message; Read returns the messages as a continuous byte stream.
type wsConn struct {
	*websocket.Conn
	reader io.Reader
}

// newWebSocketConn wraps an established websocket connection
func newWebSocketConn(c *websocket.Conn) net.Conn {
	return &wsConn{Conn: c}
}

func (c *wsConn) Read(b []byte) (int, error) {
	for {
		if c.reader == nil {
			typ, r, err := c.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				// text and control payloads are not part of the stream
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(b)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(b []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}

func (c *wsConn) Close() error {
	// best effort close frame, the peer may already be gone
	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.Conn.Close()
}
