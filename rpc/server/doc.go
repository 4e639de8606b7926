// Package server implements the development server of dWire. It answers requests of
// a server transport with registered services and is used by the integration tests
// and by `dwire serve`.
//
// Key Components:
//
//   - IRPCServiceAdapter: Interface of a service. Handle answers one request through
//     the transport.ResponseWriter: a result, a diagnostic record, an out-of-band code,
//     a secondary response or a result set.
//
//   - RPCServer: Looks up the service by the service id of the request header.
//     Unknown ids are answered with a CodeUnknownService diagnostic, a panicking
//     service with a CodeHandlerPanic code.
//
// Built-in services (see services.go) exercise every response shape of the wire
// protocol: echo, ping, fail (diagnostic), abort (code), statement (main plus body
// head), resultset (result set stream) and sleep (slow responses for queueing tests).
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ServerTransportConfig{
//	    Endpoint:          "0.0.0.0:8080",
//	    MaxWorkersPerConn: 100,
//	  },
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Register may be called while serving. Services are called concurrently from the
//	worker pools of all connections and must be safe for concurrent use.
package server
