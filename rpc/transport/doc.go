// Package transport defines the interfaces and abstractions between the wire client and
// the byte level channel to the server. It provides the contract every transport
// implementation must fulfill, so the slot pool never depends on a concrete medium.
//
// The package focuses on:
//   - A narrow link interface: send a framed request for a slot, pull tagged messages,
//     report liveness, close
//   - Out-of-band message tags (slot, kind) shared by the shared memory and stream transports
//   - Secondary result set channels
//   - A server side contract used by the development server
//
// Key Components:
//
//   - ILink: client side link bound to one session. Exactly one goroutine pulls from it.
//
//   - IResultSetWire: secondary channel streaming the chunks of a named result set.
//
//   - IClientConnector: dials a link for a given configuration (tcp, unix, ws).
//
//   - IRPCServerTransport / ServerHandleFunc / ResponseWriter: server side of the stream
//     transports, used by tests and by dwire serve.
package transport
