package server

import (
	"github.com/ValentinKolb/dWire/rpc/transport"
)

// IRPCServiceAdapter is the interface for all services of the development server
// It is responsible for answering the requests addressed to one service id
type IRPCServiceAdapter interface {
	// Name returns the name used in logs and metrics
	Name() string
	// Handle handles a request and writes the response
	// It must complete the exchange through exactly one of WriteResult, WriteDiagnostic
	// or WriteCode; the transport answers with a code otherwise
	Handle(req *transport.Request, w transport.ResponseWriter)
}

// ServiceFunc adapts a function to the IRPCServiceAdapter interface
type ServiceFunc struct {
	ServiceName string
	Fn          func(req *transport.Request, w transport.ResponseWriter)
}

func (s ServiceFunc) Name() string {
	return s.ServiceName
}

func (s ServiceFunc) Handle(req *transport.Request, w transport.ResponseWriter) {
	s.Fn(req, w)
}
