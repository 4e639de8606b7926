// Package serializer provides the payload codecs of the typed dWire clients. The
// channel substrate only moves opaque bytes; a codec turns the service specific
// request and response values into those bytes and back.
//
// Key Components:
//
//   - ICodec[T]: Core interface that all codec implementations must satisfy.
//
//   - jsonCodecImpl: Implementation using JSON encoding, useful for debugging
//     or interoperability with services written in other languages.
//
//   - gobCodecImpl: Implementation using Go's built-in gob encoding. Every payload
//     carries its own type description, so payloads are larger than JSON for small
//     values. Only useful when both ends are written in Go.
//
//   - rawCodecImpl / stringCodecImpl: Pass-through codecs for services that already
//     speak bytes or text (the echo service of the development server, the CLI).
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	codec := serializer.NewJSONCodec[MyRequest]()
//	data, err := codec.Encode(req)
//	// ... send data ...
//	var resp MyRequest
//	err = codec.Decode(receivedData, &resp)
package serializer
