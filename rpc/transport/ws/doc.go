// Package ws implements the websocket transport of dWire for deployments where only
// HTTP(S) reaches the server. The frame protocol of the base package runs unchanged on
// top of a websocket connection adapted to net.Conn.
//
// Key Components:
//
//   - wsConn: net.Conn over a gorilla websocket. Each write is one binary message,
//     reads join the messages into a byte stream.
//
//   - clientConnector: dials ws://host:port/dwire (or a full ws:// / wss:// URL) with
//     the "dwire-v1" subprotocol.
//
//   - serverConnector: serves an HTTP mux with the upgrade endpoint and /health and
//     exposes the upgraded connections as a net.Listener.
package ws
