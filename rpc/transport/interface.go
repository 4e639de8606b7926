package transport

import (
	"context"
	"github.com/ValentinKolb/dWire/rpc/common"
)

// --------------------------------------------------------------------------
// Tagged messages
// --------------------------------------------------------------------------

// MessageKind is the out-of-band tag of a message received from the server.
// The first four values are the one byte tag of the shared memory transport.
type MessageKind uint8

const (
	KindNull     MessageKind = iota // No content, ignored by the receiver
	KindPayload                     // Main response of a slot
	KindBodyHead                    // Secondary response of a slot (e.g. result set handle)
	KindCode                        // Error code (diagnostic record) for a slot

	// Stream transport only, never returned by Pull

	KindHandshake        // Session id exchange on connect
	KindRequest          // Request from client to server
	KindResultSetHello   // Binds a result set index to a name
	KindResultSetPayload // One chunk of a result set
	KindResultSetBye     // End of a result set
)

// String returns the string representation of a MessageKind
func (k MessageKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindPayload:
		return "payload"
	case KindBodyHead:
		return "bodyhead"
	case KindCode:
		return "code"
	case KindHandshake:
		return "handshake"
	case KindRequest:
		return "request"
	case KindResultSetHello:
		return "rs-hello"
	case KindResultSetPayload:
		return "rs-payload"
	case KindResultSetBye:
		return "rs-bye"
	default:
		return "unknown"
	}
}

// Message is a tagged message pulled from a link
type Message struct {
	Slot    int
	Kind    MessageKind
	Payload []byte
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// ILink is the client side of a transport. A link is bound to one session.
type ILink interface {
	// SessionID returns the session id assigned by the server during the handshake
	SessionID() uint64
	// Send writes the framed request for the given slot. header and payload are
	// written back to back as one message.
	Send(slot int, header, payload []byte) error
	// Pull blocks until the next tagged message arrives. It returns an error once the
	// link is closed or broken; io.EOF or net.ErrClosed after Close.
	// Pull must only be called from a single goroutine.
	Pull() (Message, error)
	// IsAlive reports whether the link can still exchange messages
	IsAlive() bool
	// CreateResultSetWire returns a new secondary channel for tabular results
	CreateResultSetWire() (IResultSetWire, error)
	// Close tears the link down, a blocked Pull returns with an error
	Close() error
}

// IResultSetWire is a secondary channel streaming the chunks of one result set
type IResultSetWire interface {
	// Connect binds the wire to the result set with the given name
	Connect(name string) error
	// Next returns the next chunk of the result set, io.EOF at the end
	Next(ctx context.Context) ([]byte, error)
	// Close releases the wire
	Close() error
}

// IClientConnector dials links, used by wire.Dial
type IClientConnector interface {
	// Dial establishes a link to the configured endpoint
	Dial(config common.ClientConfig) (ILink, error)
	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// --------------------------------------------------------------------------
// Server Transport (development server)
// --------------------------------------------------------------------------

// Request is a decoded request received by a server transport
type Request struct {
	Slot      int
	ServiceID uint32
	SessionID uint64
	Payload   []byte
}

// IResultSetWriter streams one result set to the client
type IResultSetWriter interface {
	// Name returns the name the client uses to connect to the result set
	Name() string
	// Write sends one chunk
	Write(chunk []byte) error
	// Close ends the result set
	Close() error
}

// ResponseWriter answers one request. Exactly one of WriteResult, WriteDiagnostic or
// WriteCode completes the exchange; WriteBodyHead must come after the main response.
type ResponseWriter interface {
	// WriteResult sends the main response as a service result
	WriteResult(payload []byte) error
	// WriteDiagnostic sends the main response as a diagnostic record
	WriteDiagnostic(code uint32, message string) error
	// WriteBodyHead sends the secondary response
	WriteBodyHead(payload []byte) error
	// WriteCode fails the request with a diagnostic record out-of-band
	WriteCode(code uint32, message string) error
	// OpenResultSet opens a named result set stream
	OpenResultSet(name string) (IResultSetWriter, error)
}

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
type ServerHandleFunc func(req *Request, w ResponseWriter)

// IRPCServerTransport is the interface for the server side of a transport
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and serves until Close is called
	Listen(config common.ServerConfig) error
	// Close stops listening and drops all connections
	Close() error
}
