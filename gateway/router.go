package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/greynewell/intentd/config"
	"github.com/greynewell/intentd/health"
	"github.com/greynewell/intentd/logging"
	"github.com/greynewell/intentd/metrics"
	"github.com/greynewell/intentd/predictor"
	"github.com/greynewell/intentd/server"
)

// Deps are the collaborators a gateway is built from. Everything except
// Backend is optional.
type Deps struct {
	Backend  predictor.Predictor
	Health   *health.Handler
	Log      *logging.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry // served on /metrics when set
}

// OptionsFrom maps the gateway section of the config onto handler options.
func OptionsFrom(cfg config.GatewayConfig, prefix string) Options {
	return Options{
		Mode:      cfg.InputMode,
		QueryKey:  cfg.QueryKey,
		JSONField: cfg.JSONField,
		MaxBody:   int64(cfg.MaxBody),
		Timeout:   cfg.RequestTimeout,
		Prefix:    prefix,
	}
}

// NewRouter returns the gin engine: the prediction endpoint at path plus
// /healthz, /readyz and /metrics when their deps are present.
func NewRouter(path string, opts Options, d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	r := gin.New()
	r.Use(RequestID(), AccessLog(d.Log), Recovery(d.Log))

	h := NewHandler(d.Backend, opts, d.Log, d.Metrics)
	r.Any(path, h.Predict)

	if d.Health != nil {
		r.GET("/healthz", d.Health.Liveness)
		r.GET("/readyz", d.Health.Readiness)
	}
	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(d.Registry)))
	}
	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "no route for %s", c.Request.URL.Path)
	})
	return r
}

// New builds the gateway listener for cfg, forwarding to d.Backend.
func New(cfg config.Config, d Deps) *server.Server {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	if !cfg.Gateway.Metrics {
		d.Registry = nil
	}
	r := NewRouter(cfg.Gateway.Path, OptionsFrom(cfg.Gateway, cfg.Model.Prefix), d)
	return server.New(cfg.GatewayAddr(), r, server.WithLogger(d.Log), server.WithMetrics(d.Metrics))
}
