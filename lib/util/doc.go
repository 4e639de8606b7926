// Package util provides small concurrency helpers shared by the transports.
//
// The package contains:
//   - mpsc: an unbounded lock-free Multi-Producer Single-Consumer queue delivering its
//     items through a channel, used to buffer result set chunks between the link reader
//     and the consumer of a result set wire
//   - seed: random seeds and session ids
//   - sizehist: a lock-free payload size histogram used by the wire statistics
//
// MPSCQueue guarantees:
//
//   - Lock-free pushes from any number of goroutines
//   - Unbounded size, limited only by available memory
//   - FIFO order per producer; concurrent producers are ordered by completion
//   - Items pushed before Close are delivered before the Recv channel is closed
package util
