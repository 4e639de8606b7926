package wire

import (
	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
)

// receive pulls tagged messages from the link and routes them to the slot pool until
// the link fails or is closed. A failure while the wire is open fails every
// outstanding request with ErrServerCrashed.
func (w *Wire) receive() {
	defer close(w.recvDone)

	for {
		msg, err := w.link.Pull()
		if err != nil {
			if w.closing.Load() {
				Logger.Debugf("Receive loop of session %d stopped: %v", w.link.SessionID(), err)
				return
			}
			Logger.Errorf("Link of session %d failed: %v", w.link.SessionID(), err)
			w.pool.Fail(err)
			return
		}
		w.route(msg)
	}
}

// route hands a single message to the slot pool
func (w *Wire) route(msg transport.Message) {
	switch msg.Kind {
	case transport.KindNull:
		// keep-alive, nothing to deliver
	case transport.KindPayload:
		w.pool.Deliver(msg.Slot, msg.Payload, false)
	case transport.KindBodyHead:
		w.pool.Deliver(msg.Slot, msg.Payload, true)
	case transport.KindCode:
		diag, err := common.DecodeDiagnostic(msg.Payload)
		if err != nil {
			w.pool.DeliverError(msg.Slot, err)
			return
		}
		w.pool.DeliverError(msg.Slot, diag)
	default:
		Logger.Warningf("Ignoring message of kind %s on slot %d", msg.Kind, msg.Slot)
	}
}
