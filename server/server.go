// Package server is the HTTP listener under the gateway: it binds, serves
// a handler, and shuts down gracefully, forcing connections closed when the
// grace period ends.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/lifecycle"
	"github.com/greynewell/intentd/logging"
	"github.com/greynewell/intentd/metrics"
)

// Server implements lifecycle.Listener for an http.Handler.
type Server struct {
	addr    string
	srv     *http.Server
	log     *logging.Logger
	metrics *metrics.Metrics

	state atomic.Int32
	mu    sync.Mutex
	ln    net.Listener
}

var _ lifecycle.Listener = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics reports listener state changes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a server for addr. Port 0 picks a free port at Listen.
func New(addr string, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		addr: addr,
		log:  logging.Nop(),
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv.ErrorLog = zap.NewStdLog(s.log.Zap())
	s.metrics.SetListenerState(metrics.ListenerGateway, int(lifecycle.NotStarted))
	return s
}

// Listen binds the port.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil, errors.New(errors.CodeInternal, "http listener already bound")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, errors.Wrapf(errors.CodeUnavailable, err, "listen %s", s.addr)
	}
	s.ln = ln
	return ln.Addr(), nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts until Shutdown and returns nil after a clean shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New(errors.CodeInternal, "http listener not bound")
	}
	if !s.state.CompareAndSwap(int32(lifecycle.NotStarted), int32(lifecycle.Running)) {
		return errors.Newf(errors.CodeInternal, "http listener is %s", s.State())
	}
	s.metrics.SetListenerState(metrics.ListenerGateway, int(lifecycle.Running))
	s.log.Info(context.Background(), "http listener serving", "addr", ln.Addr().String())

	err := s.srv.Serve(ln)
	_ = ln.Close()
	if err == http.ErrServerClosed || s.State() >= lifecycle.Stopping {
		return nil
	}
	return errors.Wrap(errors.CodeTransport, err, "http serve")
}

// Shutdown stops accepting and waits for active requests. Connections
// still open when ctx ends are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	prev := lifecycle.State(s.state.Swap(int32(lifecycle.Stopping)))
	if prev >= lifecycle.Stopping {
		s.state.Store(int32(prev))
		return nil
	}
	s.metrics.SetListenerState(metrics.ListenerGateway, int(lifecycle.Stopping))
	defer func() {
		s.state.Store(int32(lifecycle.Stopped))
		s.metrics.SetListenerState(metrics.ListenerGateway, int(lifecycle.Stopped))
	}()

	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	if prev == lifecycle.NotStarted {
		// Serve never ran, so http.Server does not own the listener.
		_ = ln.Close()
	}

	err := s.srv.Shutdown(ctx)
	if err == nil {
		return nil
	}
	_ = s.srv.Close()
	s.log.Warn(ctx, "http shutdown grace expired, closed connections")
	return errors.Wrap(errors.CodeTimeout, err, "http shutdown")
}

// State reports the lifecycle position.
func (s *Server) State() lifecycle.State {
	return lifecycle.State(s.state.Load())
}
