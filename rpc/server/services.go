package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/dWire/rpc/transport"
)

// Service ids of the built-in services
const (
	ServiceEcho      uint32 = 1 // answers with the request payload
	ServicePing      uint32 = 2 // answers with "pong"
	ServiceFail      uint32 = 3 // answers with a diagnostic record carrying the payload as message
	ServiceAbort     uint32 = 4 // fails the request out-of-band with a code
	ServiceStatement uint32 = 5 // acknowledges, then sends the payload as secondary response
	ServiceResultSet uint32 = 6 // streams a result set of n rows, n is the decimal payload
	ServiceSleep     uint32 = 7 // waits for the duration in the payload, then echoes it
)

// Diagnostic codes of the development server
const (
	CodeUnknownService uint32 = 3
	CodeHandlerPanic   uint32 = 4
	CodeBadPayload     uint32 = 5
	CodeServiceFailed  uint32 = 6
	CodeAborted        uint32 = 7
)

// maxResultSetRows bounds the rows of a single demo result set
const maxResultSetRows = 1 << 20

// builtinServices returns the services every development server registers
func builtinServices(timeout time.Duration) map[uint32]IRPCServiceAdapter {
	return map[uint32]IRPCServiceAdapter{
		ServiceEcho: ServiceFunc{"echo", func(req *transport.Request, w transport.ResponseWriter) {
			_ = w.WriteResult(req.Payload)
		}},
		ServicePing: ServiceFunc{"ping", func(req *transport.Request, w transport.ResponseWriter) {
			_ = w.WriteResult([]byte("pong"))
		}},
		ServiceFail: ServiceFunc{"fail", func(req *transport.Request, w transport.ResponseWriter) {
			_ = w.WriteDiagnostic(CodeServiceFailed, string(req.Payload))
		}},
		ServiceAbort: ServiceFunc{"abort", func(req *transport.Request, w transport.ResponseWriter) {
			_ = w.WriteCode(CodeAborted, string(req.Payload))
		}},
		ServiceStatement: ServiceFunc{"statement", handleStatement},
		ServiceResultSet: ServiceFunc{"resultset", handleResultSet},
		ServiceSleep: ServiceFunc{"sleep", func(req *transport.Request, w transport.ResponseWriter) {
			handleSleep(req, w, timeout)
		}},
	}
}

// handleStatement acknowledges the request and sends the payload as body head
func handleStatement(req *transport.Request, w transport.ResponseWriter) {
	if err := w.WriteResult([]byte("ack")); err != nil {
		return
	}
	_ = w.WriteBodyHead(req.Payload)
}

// handleResultSet opens a result set, answers with its name and writes the rows
func handleResultSet(req *transport.Request, w transport.ResponseWriter) {
	rows, err := strconv.Atoi(string(req.Payload))
	if err != nil || rows < 0 || rows > maxResultSetRows {
		_ = w.WriteDiagnostic(CodeBadPayload, fmt.Sprintf("invalid row count %q", req.Payload))
		return
	}

	name := fmt.Sprintf("rs-%d-%d", req.SessionID, req.Slot)
	rs, err := w.OpenResultSet(name)
	if err != nil {
		_ = w.WriteDiagnostic(CodeServiceFailed, err.Error())
		return
	}
	defer rs.Close()

	if err := w.WriteResult([]byte(name)); err != nil {
		return
	}
	for i := 0; i < rows; i++ {
		if err := rs.Write([]byte("row-" + strconv.Itoa(i))); err != nil {
			Logger.Warningf("Result set %s stopped after %d rows: %v", name, i, err)
			return
		}
	}
}

// handleSleep waits for the requested duration, bounded by the server timeout
func handleSleep(req *transport.Request, w transport.ResponseWriter, timeout time.Duration) {
	d, err := time.ParseDuration(string(req.Payload))
	if err != nil || d < 0 {
		_ = w.WriteDiagnostic(CodeBadPayload, fmt.Sprintf("invalid duration %q", req.Payload))
		return
	}
	if timeout > 0 && d > timeout {
		d = timeout
	}
	time.Sleep(d)
	_ = w.WriteResult(req.Payload)
}
