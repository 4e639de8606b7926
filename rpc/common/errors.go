package common

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Error kinds
// --------------------------------------------------------------------------

// The error kinds below are markers: errors produced by the channel and the
// transports carry one of them and can be classified with errors.Is, even when
// they wrap a lower level cause.
var (
	// ErrResourceExhausted is returned when no correlation slot is free (fail-fast policy)
	ErrResourceExhausted = errors.New("no free correlation slot")

	// ErrServerCrashed completes every outstanding request when the transport fails
	ErrServerCrashed = errors.New("server crashed")

	// ErrClosedBeforeResponse completes every outstanding request on an intentional close
	ErrClosedBeforeResponse = errors.New("channel closed before response")

	// ErrTimeout is returned by a bounded wait that elapsed, the request stays in flight
	ErrTimeout = errors.New("timed out waiting for response")

	// ErrMalformedResponse is returned when a response header cannot be stripped
	ErrMalformedResponse = errors.New("malformed response")

	// ErrCancelledLocally completes a request that was cancelled before dispatch
	ErrCancelledLocally = errors.New("request cancelled before dispatch")

	// ErrWireClosed is returned by operations on a closed wire
	ErrWireClosed = errors.New("wire is closed")

	// ErrFutureClosed completes a future that was closed before its response arrived
	ErrFutureClosed = errors.New("response future closed")

	// ErrIO marks a transport failure that affected a single request
	ErrIO = errors.New("transport i/o failure")
)

// NewServerCrashed wraps the transport failure that caused a pool teardown
func NewServerCrashed(cause error) error {
	if cause == nil {
		return ErrServerCrashed
	}
	return errors.Mark(errors.Wrap(cause, ErrServerCrashed.Error()), ErrServerCrashed)
}

// NewIOError wraps a transport failure of a single request
func NewIOError(cause error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrIO)
}

// NewMalformedResponse wraps a decoding failure of a response header
func NewMalformedResponse(cause error) error {
	return errors.Mark(errors.Wrap(cause, ErrMalformedResponse.Error()), ErrMalformedResponse)
}

// --------------------------------------------------------------------------
// Server diagnostics
// --------------------------------------------------------------------------

// ServerError is a diagnostic record the server sent instead of a result.
// It is a distinct error variant and is never confused with a transport failure.
type ServerError struct {
	Code    uint32
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server diagnostic %d: %s", e.Code, e.Message)
}

// IsServerError reports whether err carries a server diagnostic and returns it
func IsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
