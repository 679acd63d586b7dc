// Package rpc serves and calls the Predictor thrift service over the binary
// protocol with a buffered transport, the wire format the original C++
// service spoke.
//
// The listener runs thrift's TSimpleServer, which serves each accepted
// connection on its own goroutine, one call at a time per connection.
package rpc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/thrift/lib/go/thrift"

	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/lifecycle"
	"github.com/greynewell/intentd/logging"
	"github.com/greynewell/intentd/metrics"
	"github.com/greynewell/intentd/predictor"
)

// Listener binds a Predictor to a TCP port. It implements
// lifecycle.Listener.
type Listener struct {
	addr    string
	handler predictor.Predictor
	conf    *thrift.TConfiguration
	log     *logging.Logger
	metrics *metrics.Metrics

	state  atomic.Int32
	mu     sync.Mutex
	socket *thrift.TServerSocket
	server *thrift.TSimpleServer
	conns  map[*trackedConn]struct{}
	idle   *sync.Cond
	done   chan struct{}
}

var _ lifecycle.Listener = (*Listener)(nil)

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger.
func WithListenerLogger(l *logging.Logger) ListenerOption {
	return func(ln *Listener) { ln.log = l }
}

// WithListenerMetrics instruments calls and state changes.
func WithListenerMetrics(m *metrics.Metrics) ListenerOption {
	return func(ln *Listener) { ln.metrics = m }
}

// WithConfiguration overrides the thrift configuration (frame and message
// size limits).
func WithConfiguration(conf *thrift.TConfiguration) ListenerOption {
	return func(ln *Listener) { ln.conf = conf }
}

// NewListener creates a listener for addr ("host:port"; port 0 picks a
// free port at Listen).
func NewListener(addr string, handler predictor.Predictor, opts ...ListenerOption) *Listener {
	ln := &Listener{
		addr:    addr,
		handler: handler,
		conf:    &thrift.TConfiguration{},
		log:     logging.Nop(),
		conns:   make(map[*trackedConn]struct{}),
		done:    make(chan struct{}),
	}
	ln.idle = sync.NewCond(&ln.mu)
	for _, opt := range opts {
		opt(ln)
	}
	ln.metrics.SetListenerState(metrics.ListenerRPC, int(lifecycle.NotStarted))
	return ln
}

// Listen binds the port and returns the bound address. Connections are not
// accepted until Serve.
func (ln *Listener) Listen() (net.Addr, error) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.socket != nil {
		return nil, errors.New(errors.CodeInternal, "rpc listener already bound")
	}

	socket, err := thrift.NewTServerSocket(ln.addr)
	if err != nil {
		return nil, errors.Wrapf(errors.CodeUnavailable, err, "resolve %s", ln.addr)
	}
	if err := socket.Listen(); err != nil {
		return nil, errors.Wrapf(errors.CodeUnavailable, err, "listen %s", ln.addr)
	}

	handler := instrument(ln.handler, ln.log, ln.metrics)
	ln.socket = socket
	ln.server = thrift.NewTSimpleServer4(
		predictor.NewPredictorProcessor(handler),
		&trackingTransport{TServerTransport: socket, ln: ln},
		thrift.NewTBufferedTransportFactory(8192),
		thrift.NewTBinaryProtocolFactoryConf(ln.conf),
	)
	// AcceptLoop, unlike TSimpleServer.Serve, leaves the log context unset
	// and thrift dereferences it when a connection ends with an error.
	ln.server.SetLogContext(context.Background())
	return socket.Addr(), nil
}

// Addr is the bound address, or nil before Listen.
func (ln *Listener) Addr() net.Addr {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.socket == nil {
		return nil
	}
	return ln.socket.Addr()
}

// Serve accepts connections until Shutdown. It returns nil once Shutdown
// has finished, even if a handler that ignores its context is still running.
func (ln *Listener) Serve() error {
	ln.mu.Lock()
	server := ln.server
	ln.mu.Unlock()
	if server == nil {
		return errors.New(errors.CodeInternal, "rpc listener not bound")
	}
	if !ln.state.CompareAndSwap(int32(lifecycle.NotStarted), int32(lifecycle.Running)) {
		return errors.Newf(errors.CodeInternal, "rpc listener is %s", ln.State())
	}
	ln.metrics.SetListenerState(metrics.ListenerRPC, int(lifecycle.Running))
	ln.log.Info(context.Background(), "rpc listener serving", "addr", ln.Addr().String())

	accepted := make(chan error, 1)
	go func() { accepted <- server.AcceptLoop() }()

	select {
	case err := <-accepted:
		if err == nil || ln.State() >= lifecycle.Stopping {
			<-ln.done
			return nil
		}
		return errors.Wrap(errors.CodeTransport, err, "rpc accept loop")
	case <-ln.done:
		return nil
	}
}

// Shutdown stops accepting, lets calls already in progress finish and
// waits for their connections to close. When ctx ends first every tracked
// connection is closed, which aborts whatever it was doing.
func (ln *Listener) Shutdown(ctx context.Context) error {
	prev := lifecycle.State(ln.state.Swap(int32(lifecycle.Stopping)))
	if prev == lifecycle.Stopping || prev == lifecycle.Stopped {
		ln.state.Store(int32(prev))
		<-ln.done
		return nil
	}
	ln.metrics.SetListenerState(metrics.ListenerRPC, int(lifecycle.Stopping))
	defer func() {
		ln.state.Store(int32(lifecycle.Stopped))
		ln.metrics.SetListenerState(metrics.ListenerRPC, int(lifecycle.Stopped))
		close(ln.done)
	}()

	ln.mu.Lock()
	server, socket := ln.server, ln.socket
	ln.mu.Unlock()
	if server == nil {
		return nil
	}

	stopped := make(chan error, 1)
	go func() {
		err := server.Stop()
		ln.waitIdle()
		stopped <- err
	}()

	select {
	case err := <-stopped:
		_ = socket.Close()
		return err
	case <-ctx.Done():
	}

	// thrift's Stop holds the server lock until every handler returns, so a
	// handler stuck inside the engine also pins the accept loop. Both are
	// left to finish on their own; Serve returns when done is closed.
	n := ln.closeAll()
	_ = socket.Close()
	ln.log.Warn(ctx, "rpc shutdown grace expired, closed connections", "connections", n)
	return errors.Wrap(errors.CodeTimeout, ctx.Err(), "rpc shutdown")
}

// State reports the lifecycle position.
func (ln *Listener) State() lifecycle.State {
	return lifecycle.State(ln.state.Load())
}

// Connections reports how many accepted connections are open.
func (ln *Listener) Connections() int {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return len(ln.conns)
}

func (ln *Listener) waitIdle() {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	for len(ln.conns) > 0 {
		ln.idle.Wait()
	}
}

func (ln *Listener) closeAll() int {
	ln.mu.Lock()
	conns := make([]*trackedConn, 0, len(ln.conns))
	for c := range ln.conns {
		conns = append(conns, c)
	}
	ln.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}

// trackingTransport records every accepted connection so Shutdown can
// close them.
type trackingTransport struct {
	thrift.TServerTransport
	ln *Listener
}

func (t *trackingTransport) Accept() (thrift.TTransport, error) {
	trans, err := t.TServerTransport.Accept()
	if err != nil {
		return nil, err
	}
	c := &trackedConn{TTransport: trans, ln: t.ln}
	t.ln.mu.Lock()
	t.ln.conns[c] = struct{}{}
	t.ln.mu.Unlock()
	return c, nil
}

type trackedConn struct {
	thrift.TTransport
	ln   *Listener
	once sync.Once
	err  error
}

func (c *trackedConn) Close() error {
	c.once.Do(func() {
		c.err = c.TTransport.Close()
		c.ln.mu.Lock()
		delete(c.ln.conns, c)
		c.ln.idle.Broadcast()
		c.ln.mu.Unlock()
	})
	return c.err
}

// instrument wraps the handler with request metrics and error logging.
func instrument(p predictor.Predictor, log *logging.Logger, m *metrics.Metrics) predictor.Predictor {
	return predictor.PredictorFunc(func(ctx context.Context, doc string) (map[string]float64, error) {
		start := time.Now()
		done := m.TrackInFlight(metrics.ListenerRPC)
		defer done()

		scores, err := p.Predict(ctx, doc)
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeBackendError
			if errors.CategoryOf(err) == errors.CategoryInput {
				outcome = metrics.OutcomeInputError
			}
			log.Error(ctx, "predict failed", "error", err, "code", errors.Code(err))
		}
		m.ObserveRequest(metrics.ListenerRPC, outcome, time.Since(start))
		return scores, err
	})
}
