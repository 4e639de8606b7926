// Package wire provides the session façade clients talk to.
//
// A Wire owns one transport link and one slot pool (see package channel). Send frames
// the service payload with the framework request header, registers it with the pool
// and returns the ResponseFuture. A single receive goroutine pulls tagged messages from
// the link and routes them:
//
//	KindNull      ignored
//	KindPayload   main response of the slot
//	KindBodyHead  secondary response of the slot
//	KindCode      diagnostic record, fails the request of the slot
//
// A link failure fails every outstanding request with ErrServerCrashed. Close waits up
// to the close timeout for in-flight requests, then fails the rest with
// ErrClosedBeforeResponse.
//
// Usage:
//
//	w, err := wire.Dial(tcp.NewTCPConnector(), config)
//	if err != nil {
//		return err
//	}
//	defer w.Close()
//
//	f, err := w.Send(serviceID, payload)
//	if err != nil {
//		return err
//	}
//	resp, err := f.WaitForMainResponse(config.Timeout())
package wire
