package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(s string) {
	e.mu.Lock()
	e.events = append(e.events, s)
	e.mu.Unlock()
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// fakeListener accepts and immediately closes TCP connections.
type fakeListener struct {
	name      string
	log       *eventLog
	listenErr error
	hang      bool // Shutdown waits for ctx

	ln    net.Listener
	state atomic.Int32
}

func (f *fakeListener) Listen() (net.Addr, error) {
	f.log.add(f.name + " listen")
	if f.listenErr != nil {
		return nil, f.listenErr
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	f.ln = ln
	return ln.Addr(), nil
}

func (f *fakeListener) Serve() error {
	if !f.state.CompareAndSwap(int32(NotStarted), int32(Running)) {
		return fmt.Errorf("%s is %s", f.name, f.State())
	}
	for {
		c, err := f.ln.Accept()
		if err != nil {
			if f.State() >= Stopping {
				return nil
			}
			return err
		}
		_ = c.Close()
	}
}

func (f *fakeListener) Shutdown(ctx context.Context) error {
	f.log.add(f.name + " shutdown")
	f.state.Store(int32(Stopping))
	if f.ln != nil {
		_ = f.ln.Close()
	}
	var err error
	if f.hang {
		<-ctx.Done()
		err = ctx.Err()
	}
	f.state.Store(int32(Stopped))
	return err
}

func (f *fakeListener) State() State { return State(f.state.Load()) }

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func gatewayFactory(gw *fakeListener, log *eventLog, seen *net.Addr) GatewayFactory {
	return func(rpcAddr net.Addr) (Listener, io.Closer, error) {
		log.add("gateway build")
		*seen = rpcAddr
		return gw, closerFunc(func() error { log.add("client close"); return nil }), nil
	}
}

// runUntilReady starts m and returns once OnReady fired, plus a channel
// with Run's result.
func runUntilReady(t *testing.T, ctx context.Context, m *Manager) <-chan error {
	t.Helper()
	ready := make(chan struct{})
	prev := m.OnReady
	m.OnReady = func(rpc, gw net.Addr) {
		if prev != nil {
			prev(rpc, gw)
		}
		close(ready)
	}
	result := make(chan error, 1)
	go func() { result <- m.Run(ctx) }()
	select {
	case <-ready:
	case err := <-result:
		t.Fatalf("Run returned before ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("listeners not ready")
	}
	return result
}

func TestManagerStartupAndShutdownOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &eventLog{}
	rpc := &fakeListener{name: "rpc", log: log}
	gw := &fakeListener{name: "gateway", log: log}
	var seen net.Addr
	var readyRPC, readyGW net.Addr
	var stopping atomic.Bool

	m := &Manager{
		RPC:        rpc,
		NewGateway: gatewayFactory(gw, log, &seen),
		Grace:      time.Second,
		OnReady:    func(r, g net.Addr) { readyRPC, readyGW = r, g },
		OnStopping: func() { stopping.Store(true) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := runUntilReady(t, ctx, m)

	assert.Equal(t, rpc.ln.Addr().String(), seen.String(), "gateway targets the bound rpc address")
	assert.Equal(t, seen, readyRPC)
	assert.Equal(t, gw.ln.Addr(), readyGW)

	// both listeners accept
	for _, a := range []net.Addr{readyRPC, readyGW} {
		c, err := net.Dial("tcp", a.String())
		require.NoError(t, err)
		_ = c.Close()
	}

	cancel()
	require.NoError(t, <-result)
	assert.True(t, stopping.Load())
	assert.Equal(t, []string{
		"rpc listen", "gateway build", "gateway listen",
		"gateway shutdown", "client close", "rpc shutdown",
	}, log.list())
	assert.Equal(t, Stopped, rpc.State())
	assert.Equal(t, Stopped, gw.State())

	for _, a := range []net.Addr{readyRPC, readyGW} {
		_, err := net.DialTimeout("tcp", a.String(), 200*time.Millisecond)
		assert.Error(t, err, "no new connections after shutdown")
	}
}

func TestManagerGatewayDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &eventLog{}
	rpc := &fakeListener{name: "rpc", log: log}
	var gwAddr net.Addr = &net.TCPAddr{}
	m := &Manager{RPC: rpc, OnReady: func(_, g net.Addr) { gwAddr = g }}

	ctx, cancel := context.WithCancel(context.Background())
	result := runUntilReady(t, ctx, m)
	assert.Nil(t, gwAddr)
	cancel()
	require.NoError(t, <-result)
	assert.Equal(t, []string{"rpc listen", "rpc shutdown"}, log.list())
}

func TestManagerRPCBindFailure(t *testing.T) {
	log := &eventLog{}
	bindErr := fmt.Errorf("address already in use")
	rpc := &fakeListener{name: "rpc", log: log, listenErr: bindErr}
	gw := &fakeListener{name: "gateway", log: log}
	var seen net.Addr
	m := &Manager{RPC: rpc, NewGateway: gatewayFactory(gw, log, &seen)}

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, bindErr)
	assert.Nil(t, seen, "gateway never built")
	assert.Equal(t, []string{"rpc listen"}, log.list())
}

func TestManagerGatewayBindFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &eventLog{}
	bindErr := fmt.Errorf("permission denied")
	rpc := &fakeListener{name: "rpc", log: log}
	gw := &fakeListener{name: "gateway", log: log, listenErr: bindErr}
	var seen net.Addr
	m := &Manager{RPC: rpc, NewGateway: gatewayFactory(gw, log, &seen)}

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, bindErr)
	assert.Equal(t, []string{"rpc listen", "gateway build", "gateway listen", "client close", "rpc shutdown"}, log.list())
	assert.Equal(t, Stopped, rpc.State())
}

func TestManagerGatewayFactoryFailure(t *testing.T) {
	log := &eventLog{}
	rpc := &fakeListener{name: "rpc", log: log}
	want := fmt.Errorf("bad config")
	m := &Manager{RPC: rpc, NewGateway: func(net.Addr) (Listener, io.Closer, error) { return nil, nil, want }}

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, want)
	assert.Equal(t, Stopped, rpc.State())
}

func TestManagerListenerFailureStopsTheOther(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &eventLog{}
	rpc := &fakeListener{name: "rpc", log: log}
	gw := &fakeListener{name: "gateway", log: log}
	var seen net.Addr
	m := &Manager{RPC: rpc, NewGateway: gatewayFactory(gw, log, &seen), Grace: time.Second}

	result := runUntilReady(t, context.Background(), m)
	// Pull the socket out from under the rpc listener.
	require.NoError(t, rpc.ln.Close())

	select {
	case err := <-result:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rpc listener")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after a listener failed")
	}
	assert.Equal(t, Stopped, gw.State())
	assert.Contains(t, log.list(), "gateway shutdown")
}

func TestManagerGraceBoundsShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &eventLog{}
	rpc := &fakeListener{name: "rpc", log: log, hang: true}
	gw := &fakeListener{name: "gateway", log: log, hang: true}
	var seen net.Addr
	m := &Manager{RPC: rpc, NewGateway: gatewayFactory(gw, log, &seen), Grace: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	result := runUntilReady(t, ctx, m)

	begin := time.Now()
	cancel()
	err := <-result
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), time.Second)
}
