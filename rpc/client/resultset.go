package client

import (
	"context"
	"io"

	"github.com/ValentinKolb/dWire/rpc/serializer"
	"github.com/ValentinKolb/dWire/rpc/wire"
	"github.com/cockroachdb/errors"
)

// ReadResultSet connects to the named result set of the wire and calls fn with every
// decoded chunk until the stream ends. A non-nil error from fn stops reading and is
// returned; the result set wire is closed in every case.
func ReadResultSet[T any](ctx context.Context, w *wire.Wire, name string, codec serializer.ICodec[T], fn func(T) error) (n int, err error) {
	rs, err := w.CreateResultSetWire()
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := rs.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := rs.Connect(name); err != nil {
		return 0, errors.Wrapf(err, "connect result set %q", name)
	}

	for {
		chunk, err := rs.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrapf(err, "read result set %q", name)
		}

		var v T
		if err := codec.Decode(chunk, &v); err != nil {
			return n, errors.Wrapf(err, "decode chunk %d of result set %q", n, name)
		}
		if err := fn(v); err != nil {
			return n, err
		}
		n++
	}
}
