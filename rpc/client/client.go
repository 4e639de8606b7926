package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/dWire/rpc/serializer"
	"github.com/ValentinKolb/dWire/rpc/wire"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

// ServiceClient sends typed requests to one service over a shared wire. Any number of
// clients may share a wire; each request occupies one slot of the wire's pool.
type ServiceClient[Req, Resp any] struct {
	wire      *wire.Wire
	serviceID uint32
	reqCodec  serializer.ICodec[Req]
	respCodec serializer.ICodec[Resp]
	timeout   time.Duration
}

// NewServiceClient creates a client for the given service
// The function takes the wire, the service id and the codecs for requests and responses
// as parameters. Requests wait for the timeout configured on the client (see WithTimeout).
func NewServiceClient[Req, Resp any](
	w *wire.Wire,
	serviceID uint32,
	reqCodec serializer.ICodec[Req],
	respCodec serializer.ICodec[Resp],
) *ServiceClient[Req, Resp] {
	return &ServiceClient[Req, Resp]{
		wire:      w,
		serviceID: serviceID,
		reqCodec:  reqCodec,
		respCodec: respCodec,
	}
}

// WithTimeout sets the default wait of Get and Call, zero waits forever
func (c *ServiceClient[Req, Resp]) WithTimeout(d time.Duration) *ServiceClient[Req, Resp] {
	c.timeout = d
	return c
}

// ServiceID returns the service the client talks to
func (c *ServiceClient[Req, Resp]) ServiceID() uint32 {
	return c.serviceID
}

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

// Send encodes req and dispatches it, the returned future completes with the response
func (c *ServiceClient[Req, Resp]) Send(req Req, opts ...wire.SendOption) (*Future[Resp], error) {
	payload, err := c.reqCodec.Encode(req)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s request for service %d", c.reqCodec.Name(), c.serviceID)
	}

	inner, err := c.wire.Send(c.serviceID, payload, opts...)
	if err != nil {
		return nil, err
	}
	return newFuture(inner, c.respCodec, c.timeout), nil
}

// Call sends req and waits for the response with the default timeout
func (c *ServiceClient[Req, Resp]) Call(req Req) (Resp, error) {
	var zero Resp
	f, err := c.Send(req)
	if err != nil {
		return zero, err
	}
	return f.Get()
}

// CallContext sends req and waits for the response until ctx is done. If ctx ends
// before the request was dispatched the request is cancelled and never sent.
func (c *ServiceClient[Req, Resp]) CallContext(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	f, err := c.Send(req)
	if err != nil {
		return zero, err
	}

	resp, err := f.GetContext(ctx)
	if err != nil && ctx.Err() != nil && f.Cancel() {
		Logger.Debugf("Cancelled queued request for service %d: %v", c.serviceID, ctx.Err())
	}
	return resp, err
}
