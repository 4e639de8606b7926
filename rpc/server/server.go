package server

import (
	"fmt"
	"io"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

// serverService is a registered service with its request counters
type serverService struct {
	Adapter  IRPCServiceAdapter
	requests *metrics.Counter
	failures *metrics.Counter
}

// NewRPCServer creates a new development server
// It takes a config and a server transport as parameters; the built-in services are
// registered already.
//
// Usage:
//
//	s := server.NewRPCServer(*config, tcp.NewTCPServerTransport())
//	s.Register(42, myService)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(config common.ServerConfig, transport transport.IRPCServerTransport) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &RPCServer{
		config:    config,
		transport: transport,
		services:  xsync.NewMapOf[uint32, serverService](),
		metrics:   metrics.NewSet(),
	}
	s.unknown = s.metrics.NewCounter(`dwire_server_unknown_service_total`)

	for id, adapter := range builtinServices(s.timeout()) {
		s.Register(id, adapter)
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())
	return s
}

// RPCServer dispatches the requests of a server transport to the registered services
type RPCServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	services  *xsync.MapOf[uint32, serverService]
	metrics   *metrics.Set
	unknown   *metrics.Counter
}

// Register adds or replaces the service for a service id
func (s *RPCServer) Register(serviceID uint32, adapter IRPCServiceAdapter) {
	s.services.Store(serviceID, serverService{
		Adapter:  adapter,
		requests: s.metrics.GetOrCreateCounter(fmt.Sprintf(`dwire_server_requests_total{service=%q}`, adapter.Name())),
		failures: s.metrics.GetOrCreateCounter(fmt.Sprintf(`dwire_server_panics_total{service=%q}`, adapter.Name())),
	})
	Logger.Debugf("Registered service %s with id %d", adapter.Name(), serviceID)
}

// Serve registers the dispatcher with the transport and serves until Close is called
func (s *RPCServer) Serve() error {
	s.transport.RegisterHandler(s.handle)
	if err := s.transport.Listen(s.config); err != nil {
		return errors.Wrap(err, "server transport failed")
	}
	return nil
}

// Close stops the transport and drops all sessions
func (s *RPCServer) Close() error {
	return s.transport.Close()
}

// WriteMetrics writes the request counters in Prometheus text format
func (s *RPCServer) WriteMetrics(w io.Writer) {
	s.metrics.WritePrometheus(w)
}

func (s *RPCServer) timeout() time.Duration {
	return time.Duration(s.config.TimeoutSecond) * time.Second
}

// handle is the transport.ServerHandleFunc of the server
func (s *RPCServer) handle(req *transport.Request, w transport.ResponseWriter) {
	service, ok := s.services.Load(req.ServiceID)

	// Case service does not exist -> diagnostic
	if !ok {
		s.unknown.Inc()
		_ = w.WriteDiagnostic(CodeUnknownService, fmt.Sprintf("unknown service %d", req.ServiceID))
		return
	}

	service.requests.Inc()
	defer func() {
		if r := recover(); r != nil {
			service.failures.Inc()
			Logger.Errorf("Service %s panicked on slot %d of session %d: %v",
				service.Adapter.Name(), req.Slot, req.SessionID, r)
			_ = w.WriteCode(CodeHandlerPanic, fmt.Sprintf("service %s failed: %v", service.Adapter.Name(), r))
		}
	}()
	service.Adapter.Handle(req, w)
}
