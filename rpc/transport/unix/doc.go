// Package unix implements the Unix domain socket transport of dWire, the natural
// choice when client and server run on the same host.
//
// This package builds on the base package's stream transport; see the base package
// documentation for the frame protocol and the handshake.
//
// Key Components:
//
//   - clientConnector: Unix socket implementation of base.IStreamConnector
//
//   - serverConnector: Unix socket implementation of base.IServerConnector. Listen
//     removes a stale socket file before binding.
package unix
