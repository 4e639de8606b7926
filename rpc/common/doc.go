// Package common provides core data structures and utilities shared across
// the wire client. It defines the framing headers, configuration structures,
// the error taxonomy and the logger used by the other packages.
//
// The package focuses on:
//   - Request and response framing (length delimited headers in front of opaque payloads)
//   - Configuration structures for the client and the development server
//   - Error kinds that distinguish transport failures, teardown, timeouts and server diagnostics
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - RequestHeader: protocol version, destination service and session id written in
//     front of every request payload. EncodeRequestHeader / DecodeRequest.
//
//   - EncodeResponse / DecodeResponse: response framing. A response is either a service
//     result or a diagnostic record; DecodeResponse turns the latter into a *ServerError.
//
//   - ClientConfig: request and close timeouts, the slot pool (capacity, policy) and
//     the transport settings of a wire.
//
//   - ServerConfig: configuration for the development server used by tests and dwire serve.
//
//   - Error kinds: ErrResourceExhausted, ErrServerCrashed, ErrClosedBeforeResponse,
//     ErrTimeout, ErrMalformedResponse, ErrCancelledLocally, ErrWireClosed, ErrIO and
//     the ServerError variant. All are matched with errors.Is / errors.As.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
