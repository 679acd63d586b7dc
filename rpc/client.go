package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/apache/thrift/lib/go/thrift"

	"github.com/greynewell/intentd/circuitbreaker"
	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/logging"
	"github.com/greynewell/intentd/metrics"
	"github.com/greynewell/intentd/predictor"
	"github.com/greynewell/intentd/retry"
)

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New(errors.CodeUnavailable, "rpc client closed")

// ClientConfig tunes a Client. Zero fields take the defaults noted.
type ClientConfig struct {
	PoolSize         int           // idle connections kept; default 8
	ConnectTimeout   time.Duration // dial timeout; default 2s
	Retries          int           // extra attempts on a fresh connection after a transport failure
	BreakerThreshold int           // consecutive backend failures before failing fast; default 5
	BreakerCooldown  time.Duration // default 5s
}

// Client is a pooled Predictor client for one listener address. It is
// safe for concurrent use: each call borrows its own connection, and a
// connection that saw any transport or protocol failure is closed rather
// than returned, so the next call dials fresh.
type Client struct {
	addr    string
	cfg     ClientConfig
	conf    *thrift.TConfiguration
	policy  retry.Policy
	breaker *circuitbreaker.Breaker
	log     *logging.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	idle   []*clientConn
	closed bool
}

var _ predictor.Predictor = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithClientMetrics counts dials, retries, discards and breaker changes.
func WithClientMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient returns a client for addr. No connection is made until the
// first call.
func NewClient(addr string, cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 8
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	c := &Client{addr: addr, cfg: cfg, log: logging.Nop()}
	for _, opt := range opts {
		opt(c)
	}

	c.conf = &thrift.TConfiguration{ConnectTimeout: cfg.ConnectTimeout}
	c.policy = retry.Default.WithRetries(cfg.Retries)
	c.policy.OnRetry = func(attempt int, err error) {
		c.metrics.IncRetry()
		c.log.Warn(context.Background(), "rpc call failed, retrying", "addr", addr, "attempt", attempt, "error", err)
	}
	c.breaker = circuitbreaker.New(circuitbreaker.Config{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
		Failure:   isBackendFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			c.metrics.SetBreakerState(int(to))
			c.log.Warn(context.Background(), "rpc circuit breaker", "addr", addr, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Addr is the target address.
func (c *Client) Addr() string { return c.addr }

// Breaker exposes the circuit breaker state for readiness checks.
func (c *Client) Breaker() circuitbreaker.State { return c.breaker.State() }

// Predict implements predictor.Predictor.
func (c *Client) Predict(ctx context.Context, doc string) (map[string]float64, error) {
	var out map[string]float64
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.policy, func(ctx context.Context) error {
			scores, err := c.call(ctx, doc)
			if err != nil {
				return err
			}
			out = scores
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, doc string) (map[string]float64, error) {
	cn, err := c.get(ctx)
	if err != nil {
		return nil, err
	}

	if dl, ok := ctx.Deadline(); ok {
		if err := cn.sock.SetSocketTimeout(time.Until(dl)); err != nil {
			c.discard(cn)
			return nil, errors.Wrap(errors.CodeTransport, err, "set socket timeout")
		}
	} else if err := cn.sock.SetSocketTimeout(0); err != nil {
		c.discard(cn)
		return nil, errors.Wrap(errors.CodeTransport, err, "set socket timeout")
	}
	stop := context.AfterFunc(ctx, func() { _ = cn.trans.Close() })

	scores, err := cn.client.Predict(ctx, doc)
	aborted := !stop()
	if err == nil && !aborted {
		c.put(cn)
		return scores, nil
	}

	classified := classify(ctx, err)
	var app thrift.TApplicationException
	if err != nil && !aborted && errors.As(err, &app) {
		// The server answered; the connection is still in sync.
		c.put(cn)
	} else {
		c.discard(cn)
	}
	return nil, classified
}

func (c *Client) get(ctx context.Context) (*clientConn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	for len(c.idle) > 0 {
		n := len(c.idle)
		cn := c.idle[n-1]
		c.idle = c.idle[:n-1]
		// IsOpen probes the socket, so a connection the server already
		// closed is caught here instead of failing the call.
		if cn.sock.IsOpen() {
			c.mu.Unlock()
			return cn, nil
		}
		c.metrics.IncDiscard()
		_ = cn.trans.Close()
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) (*clientConn, error) {
	conf := *c.conf
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < conf.ConnectTimeout {
			conf.ConnectTimeout = d
		}
	}
	sock := thrift.NewTSocketConf(c.addr, &conf)
	trans := thrift.NewTBufferedTransport(sock, 8192)
	if err := trans.Open(); err != nil {
		return nil, errors.Wrapf(errors.CodeTransport, err, "dial %s", c.addr)
	}
	c.metrics.IncDial()
	c.log.Debug(ctx, "rpc connection opened", "addr", c.addr)

	proto := thrift.NewTBinaryProtocolConf(trans, &conf)
	return &clientConn{
		sock:   sock,
		trans:  trans,
		client: predictor.NewPredictorClientProtocol(trans, proto, proto),
	}, nil
}

func (c *Client) put(cn *clientConn) {
	c.mu.Lock()
	if c.closed || len(c.idle) >= c.cfg.PoolSize {
		c.mu.Unlock()
		_ = cn.trans.Close()
		return
	}
	c.idle = append(c.idle, cn)
	c.mu.Unlock()
}

func (c *Client) discard(cn *clientConn) {
	c.metrics.IncDiscard()
	_ = cn.trans.Close()
}

// Idle reports how many pooled connections are waiting.
func (c *Client) Idle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.idle)
}

// Close closes idle connections and fails later calls. Calls in progress
// finish and close their connection afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	idle := c.idle
	c.idle = nil
	c.closed = true
	c.mu.Unlock()

	var first error
	for _, cn := range idle {
		if err := cn.trans.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type clientConn struct {
	sock   *thrift.TSocket
	trans  thrift.TTransport
	client *predictor.PredictorClient
}

// classify turns a thrift or context failure into a coded error. The
// caller's context wins: a call aborted because the request timed out is a
// timeout no matter how the socket reported it.
func classify(ctx context.Context, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errors.Wrap(errors.CodeTimeout, ctx.Err(), "rpc call")
	case context.Canceled:
		return errors.Wrap(errors.CodeCancelled, ctx.Err(), "rpc call")
	}
	if err == nil {
		return errors.New(errors.CodeTransport, "rpc call aborted")
	}

	var coded *errors.Error
	if errors.As(err, &coded) {
		return err
	}
	var app thrift.TApplicationException
	if errors.As(err, &app) {
		return errors.Wrap(errors.CodeInternal, err, "rpc server")
	}
	var proto thrift.TProtocolException
	if errors.As(err, &proto) {
		return errors.Wrap(errors.CodeProtocol, err, "rpc protocol")
	}
	var trans thrift.TTransportException
	if errors.As(err, &trans) && trans.TypeId() == thrift.TIMED_OUT {
		return errors.Wrap(errors.CodeTimeout, err, "rpc call")
	}
	return errors.Wrap(errors.CodeTransport, err, "rpc transport")
}

// isBackendFailure counts everything except input errors and caller
// cancellation against the backend.
func isBackendFailure(err error) bool {
	switch errors.Code(err) {
	case errors.CodeValidation, errors.CodeCancelled:
		return false
	}
	return true
}
