// Package lifecycle runs the daemon: it cancels a context on SIGINT or
// SIGTERM, runs shutdown hooks in reverse registration order (LIFO, like
// defer), and through Manager starts and stops the two listeners in the
// order the gateway depends on.
//
//	err := lifecycle.Run(func(ctx context.Context) error {
//	    lifecycle.OnShutdown(ctx, core.Close)
//	    return mgr.Run(ctx)
//	})
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
)

type contextKey struct{}

type hooks struct {
	mu      sync.Mutex
	fns     []func() error
	timeout time.Duration
	signals []os.Signal
}

// Option configures Run.
type Option func(*hooks)

// WithShutdownTimeout bounds the time spent in shutdown hooks. Default 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *hooks) { h.timeout = d }
}

// WithSignals replaces the signals that cancel the context.
func WithSignals(sig ...os.Signal) Option {
	return func(h *hooks) { h.signals = sig }
}

// Run calls fn with a context that is cancelled on a signal, then runs the
// registered shutdown hooks once fn has returned. A panic in fn is returned
// as an error. Errors from fn and the hooks are combined.
func Run(fn func(ctx context.Context) error, opts ...Option) (err error) {
	h := &hooks{
		timeout: 10 * time.Second,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, o := range opts {
		o(h)
	}

	ctx, stop := signal.NotifyContext(context.Background(), h.signals...)
	defer stop()
	ctx = context.WithValue(ctx, contextKey{}, h)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn(ctx)
	}()
	stop()

	return multierr.Append(err, h.run())
}

// OnShutdown registers fn to run after Run's function returns. ctx must
// descend from Run; otherwise the call is ignored.
func OnShutdown(ctx context.Context, fn func() error) {
	h, _ := ctx.Value(contextKey{}).(*hooks)
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *hooks) run() error {
	h.mu.Lock()
	fns := append([]func() error(nil), h.fns...)
	h.mu.Unlock()
	if len(fns) == 0 {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		var err error
		for i := len(fns) - 1; i >= 0; i-- {
			err = multierr.Append(err, fns[i]())
		}
		done <- err
	}()

	t := time.NewTimer(h.timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		return fmt.Errorf("lifecycle: shutdown hooks timed out after %v", h.timeout)
	}
}
