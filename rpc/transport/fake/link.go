// Package fake provides an in-memory link for testing the wire and the typed clients
// without a server. Requests written to the link are recorded and may be answered by
// a handler; messages can be injected at any time.
package fake

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dWire/lib/util"
	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/cockroachdb/errors"
)

// Request is one request recorded by the link
type Request struct {
	Slot    int
	Header  []byte
	Payload []byte
}

// Decode splits the recorded request into the framework header and the service payload
func (r Request) Decode() (common.RequestHeader, []byte, error) {
	body := make([]byte, 0, len(r.Header)+len(r.Payload))
	body = append(body, r.Header...)
	body = append(body, r.Payload...)
	return common.DecodeRequest(body)
}

// Handler is called for every request written to the link, from the sending goroutine.
// The returned messages are queued for Pull in order.
type Handler func(req Request) []transport.Message

// Link is an in-memory transport.ILink
type Link struct {
	sessionID uint64

	mu        sync.Mutex
	sent      []Request
	sendErr   error
	handler   Handler
	sentCond  *sync.Cond
	resultSet map[string][][]byte

	inbox  *util.MPSCQueue[transport.Message]
	closed atomic.Bool
}

// NewLink creates a link bound to the given session
func NewLink(sessionID uint64) *Link {
	l := &Link{
		sessionID: sessionID,
		inbox:     util.NewMPSCQueue[transport.Message](),
		resultSet: make(map[string][][]byte),
	}
	l.sentCond = sync.NewCond(&l.mu)
	return l
}

// --------------------------------------------------------------------------
// Test controls
// --------------------------------------------------------------------------

// SetHandler installs the handler answering requests
func (l *Link) SetHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// SetSendError makes every following Send fail with err, nil restores normal operation
func (l *Link) SetSendError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

// Inject queues a message for Pull
func (l *Link) Inject(msg transport.Message) bool {
	return l.inbox.Push(msg)
}

// Reply queues a service result as the main response of slot
func (l *Link) Reply(slot int, payload []byte) bool {
	return l.Inject(transport.Message{
		Slot:    slot,
		Kind:    transport.KindPayload,
		Payload: common.EncodeResponse(common.PayloadTypeServiceResult, payload),
	})
}

// Break simulates a transport failure: Pull returns err once the queued messages are consumed
func (l *Link) Break(err error) {
	l.closed.Store(true)
	l.inbox.CloseWithError(err)
}

// AddResultSet registers the chunks served to a result set wire connecting to name
func (l *Link) AddResultSet(name string, chunks ...[]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resultSet[name] = chunks
}

// Sent returns a copy of every request written so far
func (l *Link) Sent() []Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Request(nil), l.sent...)
}

// WaitSent blocks until at least n requests were written or the timeout elapsed
func (l *Link) WaitSent(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	// wake the waiter once the deadline passed
	timer := time.AfterFunc(timeout, func() {
		l.mu.Lock()
		l.sentCond.Broadcast()
		l.mu.Unlock()
	})
	defer timer.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.sent) < n {
		if time.Now().After(deadline) {
			return false
		}
		l.sentCond.Wait()
	}
	return true
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ILink)
// --------------------------------------------------------------------------

func (l *Link) SessionID() uint64 {
	return l.sessionID
}

func (l *Link) Send(slot int, header, payload []byte) error {
	if l.closed.Load() {
		return net.ErrClosed
	}

	req := Request{
		Slot:    slot,
		Header:  append([]byte(nil), header...),
		Payload: append([]byte(nil), payload...),
	}

	l.mu.Lock()
	if l.sendErr != nil {
		err := l.sendErr
		l.mu.Unlock()
		return err
	}
	l.sent = append(l.sent, req)
	handler := l.handler
	l.sentCond.Broadcast()
	l.mu.Unlock()

	if handler != nil {
		for _, msg := range handler(req) {
			l.inbox.Push(msg)
		}
	}
	return nil
}

func (l *Link) Pull() (transport.Message, error) {
	msg, ok := <-l.inbox.Recv()
	if ok {
		return msg, nil
	}
	if err := l.inbox.Err(); err != nil {
		return transport.Message{}, err
	}
	return transport.Message{}, io.EOF
}

func (l *Link) IsAlive() bool {
	return !l.closed.Load()
}

func (l *Link) CreateResultSetWire() (transport.IResultSetWire, error) {
	if l.closed.Load() {
		return nil, net.ErrClosed
	}
	return &ResultSetWire{link: l}, nil
}

func (l *Link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.inbox.CloseWithError(net.ErrClosed)
	return nil
}

// --------------------------------------------------------------------------
// Result set wire
// --------------------------------------------------------------------------

// ResultSetWire serves the chunks registered with Link.AddResultSet
type ResultSetWire struct {
	link   *Link
	mu     sync.Mutex
	chunks [][]byte
	bound  bool
	closed bool
}

func (w *ResultSetWire) Connect(name string) error {
	w.link.mu.Lock()
	chunks, ok := w.link.resultSet[name]
	w.link.mu.Unlock()
	if !ok {
		return errors.Newf("unknown result set %q", name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = append([][]byte(nil), chunks...)
	w.bound = true
	return nil
}

func (w *ResultSetWire) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, net.ErrClosed
	}
	if !w.bound {
		return nil, errors.New("result set wire is not connected")
	}
	if len(w.chunks) == 0 {
		return nil, io.EOF
	}
	chunk := w.chunks[0]
	w.chunks = w.chunks[1:]
	return chunk, nil
}

func (w *ResultSetWire) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// --------------------------------------------------------------------------
// Connector
// --------------------------------------------------------------------------

// Connector hands out a prepared link, it implements transport.IClientConnector
type Connector struct {
	Link *Link
	Err  error
}

func (c *Connector) Dial(config common.ClientConfig) (transport.ILink, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Link, nil
}

func (c *Connector) GetName() string {
	return "fake"
}
