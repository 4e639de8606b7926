// Package base provides the stream transport of dWire, independent of the specific
// network protocol (TCP, Unix sockets, WebSocket). Protocol packages only supply a
// connector that dials, listens and tunes sockets.
//
// The package focuses on:
//   - A tagged frame protocol carrying slot indexes instead of request ids
//   - A session handshake that assigns the session id
//   - Result set sub-channels multiplexed over the same connection
//   - Connect retries with exponential backoff
//
// Frame format:
//
//	+------+-----------+-----------+----------------+
//	| kind | slot i32  | len u32   | body (len)     |
//	+------+-----------+-----------+----------------+
//
// A request frame carries the framed request (header segment and payload) of a
// slot. Response frames are tagged KindPayload, KindBodyHead or KindCode and are
// returned by Pull. Result set frames use the slot field as result set index and are
// consumed by the link itself.
//
// Key Components:
//
//   - IStreamConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - streamLink: transport.ILink over one net.Conn. Send writes one frame per request
//     with net.Buffers (header, request header segment and payload in a single
//     writev). Pull reads frames on the caller's goroutine and routes result set
//     chunks to their wires.
//
//   - serverTransport: development server. Accepts connections, runs the handshake and
//     hands requests to the registered handler on a per-connection worker pool.
//
// Thread Safety:
//
//	Send, CreateResultSetWire and Close may be called concurrently; writes are
//	serialized per connection. Pull must only be called from a single goroutine.
package base
