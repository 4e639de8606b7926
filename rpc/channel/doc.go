// Package channel implements the multiplexing substrate of a wire: it correlates many
// concurrent request/response exchanges with a small, bounded set of slots.
//
// The package focuses on:
//   - Exactly one completion per request and exactly one release per slot
//   - Two admission policies: fail-fast and queuing
//   - Local cancellation of requests that were never dispatched
//   - Bounded waits that never disturb the exchange itself
//   - Race-free teardown on close or transport failure
//
// Key Components:
//
//   - SlotPool: fixed array of slot records. Register claims a slot with a CAS on the
//     record's owner (fail-fast policy) or parks the request in the pending queue
//     (queue policy). Deliver / DeliverError route incoming messages by slot index and
//     release the slot once no further message is expected. Shutdown fails every
//     outstanding request with ErrClosedBeforeResponse or ErrServerCrashed.
//
//   - Pairing: the free slot queue (xsync.MPMCQueueOf) and the lock-free pending request
//     queue are matched by whoever wins a try-lock. The winner drains to a fixpoint and
//     re-checks both queues after unlocking; losers return immediately.
//
//   - ResponseFuture: single assignment result with a main and an optional secondary
//     response. Waits may be bounded by a timeout or a context; a timed out wait
//     returns ErrTimeout and a later wait still sees a late response.
//
// Slot lifecycle:
//
//	free --claim--> bound --main [+ secondary]--> free
//	                  \--error / shutdown------->/
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use. Deliver and DeliverError are
//	expected to be called from a single receive goroutine, but tolerate concurrent
//	calls and a concurrent Shutdown.
package channel
