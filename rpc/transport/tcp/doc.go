// Package tcp implements the TCP socket transport of dWire. It provides the
// connectors the base package needs to dial, listen and tune TCP connections.
//
// This package builds on the base package's stream transport; see the base package
// documentation for the frame protocol and the handshake.
//
// Key Components:
//
//   - clientConnector: TCP implementation of base.IStreamConnector, wrapped by
//     NewTCPConnector into a transport.IClientConnector
//
//   - serverConnector: TCP implementation of base.IServerConnector
//
// Socket tuning (TCP_NODELAY, keep-alive, linger and buffer sizes) is taken from the
// TCPConf and SocketConf of the client or server configuration.
package tcp
