package lifecycle

import (
	"context"
	"io"
	"net"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/logging"
)

// GatewayFactory builds the gateway once the RPC listener is bound. rpcAddr
// is the address actually bound, so a configured port of 0 still works.
// The returned Closer releases whatever the gateway holds on the RPC side
// (its client pool) and runs after the gateway stops accepting.
type GatewayFactory func(rpcAddr net.Addr) (Listener, io.Closer, error)

// Manager owns both listeners for one process run.
type Manager struct {
	RPC        Listener
	NewGateway GatewayFactory // nil when the gateway is disabled
	Grace      time.Duration  // shared by the whole shutdown; zero means 10s
	Log        *logging.Logger

	// OnReady runs once both listeners are accepting. gateway is nil when
	// the gateway is disabled.
	OnReady func(rpc, gateway net.Addr)

	// OnStopping runs as shutdown begins, before either listener stops.
	OnStopping func()
}

// Run binds the RPC listener, then builds and binds the gateway against the
// bound address, and serves both until ctx is cancelled or either listener
// fails. Shutdown stops the gateway first, closes its RPC client and stops
// the RPC listener last, all within Grace; connections still open when
// Grace runs out are closed.
//
// A bind failure returns before anything is served.
func (m *Manager) Run(ctx context.Context) error {
	log := m.Log
	if log == nil {
		log = logging.Nop()
	}
	grace := m.Grace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	rpcAddr, err := m.RPC.Listen()
	if err != nil {
		return err
	}

	var (
		gw       Listener
		gwCloser io.Closer
		gwAddr   net.Addr
	)
	if m.NewGateway != nil {
		gw, gwCloser, err = m.NewGateway(rpcAddr)
		if err == nil {
			gwAddr, err = gw.Listen()
		}
		if err != nil {
			err = multierr.Append(err, closeQuietly(gwCloser))
			return multierr.Append(err, m.RPC.Shutdown(context.Background()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve("rpc", m.RPC) })
	if gw != nil {
		g.Go(func() error { return serve("gateway", gw) })
	}

	log.Info(ctx, "listeners started", "rpc", rpcAddr.String(), "gateway", addrString(gwAddr))
	if m.OnReady != nil {
		m.OnReady(rpcAddr, gwAddr)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down", "grace", grace.String())
		if m.OnStopping != nil {
			m.OnStopping()
		}

		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		var err error
		if gw != nil {
			err = multierr.Append(err, gw.Shutdown(sctx))
			err = multierr.Append(err, closeQuietly(gwCloser))
		}
		err = multierr.Append(err, m.RPC.Shutdown(sctx))
		if err != nil {
			log.Warn(ctx, "shutdown finished with errors", "error", err)
		} else {
			log.Info(ctx, "shutdown complete")
		}
		return err
	})

	return g.Wait()
}

// serve turns an unexpected return from Serve into an error so the group
// shuts the other listener down.
func serve(name string, l Listener) error {
	err := l.Serve()
	if l.State() >= Stopping {
		return nil
	}
	if err != nil {
		return errors.Wrapf(errors.Code(err), err, "%s listener", name)
	}
	return errors.Newf(errors.CodeUnavailable, "%s listener exited", name)
}

func closeQuietly(c io.Closer) error {
	if c == nil {
		return nil
	}
	return c.Close()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
