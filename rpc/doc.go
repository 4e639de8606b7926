// Package rpc provides the channel multiplexing substrate of dWire and the layers
// around it. Many concurrent request/response exchanges share one connection and a
// small bounded set of correlation slots.
//
// The package is organized into several subpackages:
//
//   - common: Configuration, logging, the error taxonomy and the request/response
//     headers exchanged with the server.
//
//   - channel: The correlation slot pool, the pending work queues that pair queued
//     requests with freed slots, and the response future.
//
//   - wire: The session façade. Frames requests, runs the receive loop that routes
//     responses to their slots and tears the session down on close or failure.
//
//   - transport: Link abstractions with pluggable implementations (TCP, Unix sockets,
//     WebSocket) and an in-memory fake for tests.
//
//   - serializer: Payload codecs (JSON, GOB, raw) for the typed clients.
//
//   - client: Typed futures and service clients on top of a wire.
//
//   - server: The development server answering requests with registered services.
package rpc
