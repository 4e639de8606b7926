package base

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/cockroachdb/errors"
	"github.com/prep/socketpair"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

// startSession connects a client link and a server session over a socket pair
func startSession(t *testing.T, handler transport.ServerHandleFunc) (transport.ILink, *serverTransport) {
	t.Helper()

	clientConn, serverConn, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("Failed to create socket pair: %v", err)
	}

	srv := newServerTransport(nil)
	srv.RegisterHandler(handler)
	srv.config = common.ServerConfig{Transport: common.ServerTransportConfig{MaxWorkersPerConn: 4}}

	srv.connWG.Add(1)
	go func() {
		defer srv.connWG.Done()
		srv.serveConn(serverConn)
	}()

	link, err := NewLink(clientConn, common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Label: "test"},
	})
	if err != nil {
		t.Fatalf("Failed to create link: %v", err)
	}

	t.Cleanup(func() {
		link.Close()
		srv.connWG.Wait()
	})
	return link, srv
}

func sendRequest(t *testing.T, link transport.ILink, slot int, serviceID uint32, payload []byte) {
	t.Helper()
	header := common.EncodeRequestHeader(common.RequestHeader{
		Version:   common.ProtocolVersion,
		ServiceID: serviceID,
		SessionID: link.SessionID(),
	}, len(payload))
	if err := link.Send(slot, header, payload); err != nil {
		t.Fatalf("Failed to send on slot %d: %v", slot, err)
	}
}

// pull reads the next message with a guard against a hanging link
func pull(t *testing.T, link transport.ILink) transport.Message {
	t.Helper()
	type result struct {
		msg transport.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := link.Pull()
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Failed to pull: %v", r.err)
		}
		return r.msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for message")
	}
	return transport.Message{}
}

// --------------------------------------------------------------------------
// Frames
// --------------------------------------------------------------------------

// TestFrameRoundTrip tests writing and reading a frame from multiple parts
func TestFrameRoundTrip(t *testing.T) {
	a, b, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("Failed to create socket pair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	go func() {
		writeFrame(a, transport.KindRequest, 17, []byte("head"), nil, []byte("-body"))
		writeFrame(a, transport.KindNull, -1)
	}()

	f, err := readFrame(b, nil)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if f.kind != transport.KindRequest || f.slot != 17 || string(f.body) != "head-body" {
		t.Errorf("Unexpected frame %+v", f)
	}

	f, err = readFrame(b, make([]byte, frameHeaderSize))
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if f.kind != transport.KindNull || f.slot != -1 || len(f.body) != 0 {
		t.Errorf("Unexpected frame %+v", f)
	}
}

// TestReadFrameTruncated tests that a truncated body is not a clean EOF
func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{byte(transport.KindPayload), 0, 0, 0, 1, 0, 0, 0, 10})
	buf.Write([]byte("short"))

	if _, err := readFrame(&buf, nil); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

// TestReadFrameTooLarge tests the frame size limit
func TestReadFrameTooLarge(t *testing.T) {
	buf := bytes.NewBuffer([]byte{byte(transport.KindPayload), 0, 0, 0, 1, 0xff, 0xff, 0xff, 0xff})
	if _, err := readFrame(buf, nil); err == nil {
		t.Error("Expected error for oversized frame")
	}
}

// --------------------------------------------------------------------------
// Link and server
// --------------------------------------------------------------------------

// TestHandshakeAssignsSession tests that the server assigns a session id
func TestHandshakeAssignsSession(t *testing.T) {
	link, srv := startSession(t, func(req *transport.Request, w transport.ResponseWriter) {
		w.WriteResult(nil)
	})

	if link.SessionID() == 0 {
		t.Fatal("Expected non-zero session id")
	}
	if !link.IsAlive() {
		t.Error("Expected link to be alive")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := srv.sessions.Load(link.SessionID()); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Server does not know the session")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestLinkRoundTrip tests requests and the different response kinds over a socket pair
func TestLinkRoundTrip(t *testing.T) {
	link, _ := startSession(t, func(req *transport.Request, w transport.ResponseWriter) {
		switch req.ServiceID {
		case 1:
			w.WriteResult(append([]byte("echo:"), req.Payload...))
		case 2:
			w.WriteDiagnostic(9, "bad statement")
		case 3:
			w.WriteResult([]byte("ack"))
			w.WriteBodyHead([]byte("handle"))
		case 4:
			w.WriteCode(5, "session expired")
		}
	})

	sendRequest(t, link, 3, 1, []byte("hello"))
	msg := pull(t, link)
	if msg.Slot != 3 || msg.Kind != transport.KindPayload {
		t.Fatalf("Unexpected message %+v", msg)
	}
	if resp, err := common.DecodeResponse(msg.Payload); err != nil || string(resp) != "echo:hello" {
		t.Errorf("Expected echo:hello, got %q (%v)", resp, err)
	}

	sendRequest(t, link, 4, 2, nil)
	msg = pull(t, link)
	if _, err := common.DecodeResponse(msg.Payload); err == nil {
		t.Error("Expected diagnostic")
	} else if se, ok := common.IsServerError(err); !ok || se.Code != 9 {
		t.Errorf("Expected server error 9, got %v", err)
	}

	sendRequest(t, link, 5, 3, nil)
	if msg = pull(t, link); msg.Kind != transport.KindPayload || msg.Slot != 5 {
		t.Errorf("Expected main response on slot 5, got %+v", msg)
	}
	if msg = pull(t, link); msg.Kind != transport.KindBodyHead || string(msg.Payload) != "handle" {
		t.Errorf("Expected body head, got %+v", msg)
	}

	sendRequest(t, link, 6, 4, nil)
	msg = pull(t, link)
	if msg.Kind != transport.KindCode {
		t.Fatalf("Expected code message, got %+v", msg)
	}
	if se, err := common.DecodeDiagnostic(msg.Payload); err != nil || se.Code != 5 {
		t.Errorf("Expected code 5, got %v (%v)", se, err)
	}
}

// TestHandlerWithoutResponse tests that a silent handler still answers the slot
func TestHandlerWithoutResponse(t *testing.T) {
	link, _ := startSession(t, func(req *transport.Request, w transport.ResponseWriter) {})

	sendRequest(t, link, 0, 1, nil)
	msg := pull(t, link)
	if msg.Kind != transport.KindCode || msg.Slot != 0 {
		t.Fatalf("Expected code message on slot 0, got %+v", msg)
	}
	if se, _ := common.DecodeDiagnostic(msg.Payload); se == nil || se.Code != CodeNoResponse {
		t.Errorf("Expected CodeNoResponse, got %v", se)
	}
}

// TestMalformedRequest tests that an undecodable request is answered with a code
func TestMalformedRequest(t *testing.T) {
	link, _ := startSession(t, func(req *transport.Request, w transport.ResponseWriter) {
		t.Error("Handler must not see malformed requests")
	})

	if err := link.Send(2, []byte{0xff}, nil); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	msg := pull(t, link)
	if se, _ := common.DecodeDiagnostic(msg.Payload); msg.Kind != transport.KindCode || se == nil || se.Code != CodeMalformedRequest {
		t.Errorf("Expected CodeMalformedRequest, got %+v", msg)
	}
}

// TestConcurrentSends tests that concurrent writers never interleave frames
func TestConcurrentSends(t *testing.T) {
	link, _ := startSession(t, func(req *transport.Request, w transport.ResponseWriter) {
		w.WriteResult(req.Payload)
	})

	const senders = 32
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 4096)
			header := common.EncodeRequestHeader(common.RequestHeader{ServiceID: 1}, len(payload))
			if err := link.Send(i, header, payload); err != nil {
				t.Errorf("Failed to send on slot %d: %v", i, err)
			}
		}(i)
	}

	seen := make(map[int]bool)
	for len(seen) < senders {
		msg := pull(t, link)
		resp, err := common.DecodeResponse(msg.Payload)
		if err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if len(resp) != 4096 || resp[0] != byte(msg.Slot) || resp[4095] != byte(msg.Slot) {
			t.Fatalf("Response of slot %d corrupted", msg.Slot)
		}
		seen[msg.Slot] = true
	}
	wg.Wait()
}

// TestResultSetStream tests streaming a result set over the link
func TestResultSetStream(t *testing.T) {
	opened := make(chan struct{})
	link, _ := startSession(t, func(req *transport.Request, w transport.ResponseWriter) {
		rs, err := w.OpenResultSet("rs-" + string(req.Payload))
		if err != nil {
			w.WriteDiagnostic(1, err.Error())
			return
		}
		w.WriteResult([]byte(rs.Name()))
		close(opened)
		for i := 0; i < 3; i++ {
			rs.Write([]byte{byte('a' + i)})
		}
		rs.Close()
	})

	sendRequest(t, link, 0, 1, []byte("q1"))

	// the receive side must keep pulling for result set frames to be routed
	msgs := make(chan transport.Message, 16)
	go func() {
		for {
			msg, err := link.Pull()
			if err != nil {
				close(msgs)
				return
			}
			msgs <- msg
		}
	}()

	select {
	case msg := <-msgs:
		name, err := common.DecodeResponse(msg.Payload)
		if err != nil || string(name) != "rs-q1" {
			t.Fatalf("Expected result set name, got %q (%v)", name, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for response")
	}
	<-opened

	rs, err := link.CreateResultSetWire()
	if err != nil {
		t.Fatalf("Failed to create result set wire: %v", err)
	}
	defer rs.Close()
	if err := rs.Connect("rs-q1"); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []byte
	for {
		chunk, err := rs.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read chunk: %v", err)
		}
		got = append(got, chunk...)
	}
	if string(got) != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
}

// TestUnknownResultSet tests connecting to a result set that was never opened
func TestUnknownResultSet(t *testing.T) {
	link, _ := startSession(t, func(req *transport.Request, w transport.ResponseWriter) {})

	go func() {
		for {
			if _, err := link.Pull(); err != nil {
				return
			}
		}
	}()

	rs, err := link.CreateResultSetWire()
	if err != nil {
		t.Fatalf("Failed to create result set wire: %v", err)
	}
	defer rs.Close()
	if err := rs.Connect("missing"); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := rs.Next(ctx); err == nil || err == io.EOF {
		t.Errorf("Expected error for unknown result set, got %v", err)
	}
}

// TestLinkClose tests that close unblocks Pull and fails further sends
func TestLinkClose(t *testing.T) {
	link, _ := startSession(t, func(req *transport.Request, w transport.ResponseWriter) {})

	errCh := make(chan error, 1)
	go func() {
		_, err := link.Pull()
		errCh <- err
	}()

	if err := link.Close(); err != nil {
		t.Fatalf("Failed to close link: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Expected Pull to fail after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pull not unblocked by close")
	}

	if link.IsAlive() {
		t.Error("Expected link to be dead")
	}
	if err := link.Send(0, nil, nil); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Expected net.ErrClosed, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Connector
// --------------------------------------------------------------------------

// failingConnector never connects
type failingConnector struct {
	attempts int
}

func (c *failingConnector) Connect(endpoint string) (net.Conn, error) {
	c.attempts++
	return nil, errors.Newf("connection refused: %s", endpoint)
}

func (c *failingConnector) GetName() string {
	return "failing"
}

func (c *failingConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return nil
}

// TestDialRetries tests that dialing retries the configured number of times
func TestDialRetries(t *testing.T) {
	c := &failingConnector{}
	connector := NewStreamConnector(c)

	_, err := connector.Dial(common.ClientConfig{Transport: common.ClientTransportConfig{Endpoint: "nowhere", RetryCount: 3}})
	if err == nil {
		t.Fatal("Expected dial to fail")
	}
	if c.attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", c.attempts)
	}
	if connector.GetName() != "failing" {
		t.Errorf("Expected name failing, got %s", connector.GetName())
	}

	if _, err := connector.Dial(common.ClientConfig{}); err == nil {
		t.Error("Expected error without endpoint")
	}
}
