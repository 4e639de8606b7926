// Package client implements typed clients on top of a dWire wire. The SQL, key-value
// and administration clients of the database are built on these helpers: they only
// supply a service id and the codecs of their messages.
//
// Key Components:
//
//   - ServiceClient[Req, Resp]: Encodes requests with a codec, sends them to one
//     service over a shared wire and decodes the main response. Call blocks with the
//     client timeout, CallContext cancels a still queued request once ctx is done.
//
//   - Future[T]: Typed view of a channel.ResponseFuture. Waiting times out without
//     releasing the slot, so Get may be repeated; a late response still completes it.
//
//   - ReadResultSet: Connects a result set wire and decodes every chunk of the stream.
//
// Usage Example:
//
//	w, _ := wire.Dial(tcp.NewTCPConnector(), config)
//	defer w.Close()
//
//	kv := client.NewServiceClient(w, 3,
//	    serializer.NewJSONCodec[GetRequest](),
//	    serializer.NewJSONCodec[GetResponse](),
//	).WithTimeout(5 * time.Second)
//
//	resp, err := kv.Call(GetRequest{Key: "k"})
//	if se, ok := common.IsServerError(err); ok {
//	    // diagnostic record of the server
//	}
//
// Thread Safety:
//
//	ServiceClient and Future are safe for concurrent use. Any number of clients may
//	share one wire.
package client
