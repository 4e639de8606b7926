package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/dWire/rpc/channel"
	"github.com/ValentinKolb/dWire/rpc/serializer"
	"github.com/cockroachdb/errors"
)

// Future is the typed view of a response future. The main response is decoded with
// the codec of the client that created it; the secondary response stays raw.
type Future[T any] struct {
	inner   *channel.ResponseFuture
	codec   serializer.ICodec[T]
	timeout time.Duration
}

// newFuture wraps a response future
func newFuture[T any](inner *channel.ResponseFuture, codec serializer.ICodec[T], timeout time.Duration) *Future[T] {
	return &Future[T]{inner: inner, codec: codec, timeout: timeout}
}

// Get waits for the main response with the timeout of the client
func (f *Future[T]) Get() (T, error) {
	return f.GetTimeout(f.timeout)
}

// GetTimeout waits at most timeout for the main response, zero waits forever.
// A timeout leaves the request in flight; Get may be called again.
func (f *Future[T]) GetTimeout(timeout time.Duration) (T, error) {
	raw, err := f.inner.WaitForMainResponse(timeout)
	return f.decode(raw, err)
}

// GetContext waits for the main response until ctx is done
func (f *Future[T]) GetContext(ctx context.Context) (T, error) {
	raw, err := f.inner.WaitForMainResponseContext(ctx)
	return f.decode(raw, err)
}

// Second waits at most timeout for the secondary response
func (f *Future[T]) Second(timeout time.Duration) ([]byte, error) {
	return f.inner.WaitForSecondResponse(timeout)
}

// Cancel cancels the request if it has not been dispatched yet
func (f *Future[T]) Cancel() bool {
	return f.inner.CancelLocally()
}

// Close abandons the future, waiters fail with common.ErrFutureClosed
func (f *Future[T]) Close() {
	f.inner.Close()
}

// Inner returns the underlying response future
func (f *Future[T]) Inner() *channel.ResponseFuture {
	return f.inner
}

func (f *Future[T]) decode(raw []byte, err error) (T, error) {
	var v T
	if err != nil {
		return v, err
	}
	if err := f.codec.Decode(raw, &v); err != nil {
		return v, errors.Wrapf(err, "decode %s response", f.codec.Name())
	}
	return v, nil
}
