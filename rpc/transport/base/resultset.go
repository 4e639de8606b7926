package base

import (
	"context"
	"io"
	"net"
	"sync/atomic"

	"github.com/ValentinKolb/dWire/lib/util"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/cockroachdb/errors"
)

// resultSetWire receives the chunks of one result set. The link reader pushes the
// chunks, the consumer pulls them with Next.
type resultSetWire struct {
	link      *streamLink
	id        int32
	chunks    *util.MPSCQueue[[]byte]
	connected atomic.Bool
	closed    atomic.Bool
}

func newResultSetWire(link *streamLink, id int32) *resultSetWire {
	return &resultSetWire{
		link:   link,
		id:     id,
		chunks: util.NewMPSCQueue[[]byte](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IResultSetWire)
// --------------------------------------------------------------------------

func (w *resultSetWire) Connect(name string) error {
	if w.closed.Load() {
		return net.ErrClosed
	}
	if w.connected.Swap(true) {
		return errors.Newf("result set wire %d is already connected", w.id)
	}

	// register before the hello, the first chunk may arrive right after it
	w.link.resultSets.Store(w.id, w)
	if err := w.link.write(transport.KindResultSetHello, w.id, []byte(name)); err != nil {
		w.link.resultSets.Delete(w.id)
		w.chunks.CloseWithError(err)
		return errors.Wrapf(err, "connect result set %q", name)
	}
	return nil
}

func (w *resultSetWire) Next(ctx context.Context) ([]byte, error) {
	if !w.connected.Load() {
		return nil, errors.New("result set wire is not connected")
	}

	select {
	case chunk, ok := <-w.chunks.Recv():
		if ok {
			return chunk, nil
		}
		if err := w.chunks.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *resultSetWire) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	_, streaming := w.link.resultSets.LoadAndDelete(w.id)
	w.chunks.Close()

	// release the queue consumer if nobody reads the remaining chunks
	go func() {
		for range w.chunks.Recv() {
		}
	}()

	// tell the server to stop streaming
	if streaming && w.link.IsAlive() {
		return w.link.write(transport.KindResultSetBye, w.id)
	}
	return nil
}

// --------------------------------------------------------------------------
// Link side
// --------------------------------------------------------------------------

// push queues a chunk received from the server
func (w *resultSetWire) push(chunk []byte) {
	w.chunks.Push(chunk)
}

// finish ends the stream, a non-empty reason is reported by Next as error
func (w *resultSetWire) finish(reason []byte) {
	if len(reason) > 0 {
		w.chunks.CloseWithError(errors.Newf("result set aborted by server: %s", reason))
		return
	}
	w.chunks.Close()
}

// abort ends the stream because the link failed or was closed
func (w *resultSetWire) abort(err error) {
	w.chunks.CloseWithError(err)
}
