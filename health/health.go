// Package health serves the gateway's liveness and readiness probes.
//
//	h := health.New("intentd", version)
//	h.AddCheck("rpc", func(ctx context.Context) error { ... })
//	router.GET("/healthz", h.Liveness)
//	router.GET("/readyz", h.Readiness)
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// CheckTimeout bounds the whole readiness run.
const CheckTimeout = 2 * time.Second

// CheckFunc reports whether a dependency can serve. Nil means healthy.
type CheckFunc func(ctx context.Context) error

// Response is the probe body.
type Response struct {
	Status  string            `json:"status"`
	Tool    string            `json:"tool"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Handler holds the registered checks.
type Handler struct {
	tool    string
	version string
	started time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
	ready  atomic.Bool
}

// New returns a handler that reports ready until SetReady(false).
func New(tool, version string) *Handler {
	h := &Handler{
		tool:    tool,
		version: version,
		started: time.Now(),
		checks:  make(map[string]CheckFunc),
	}
	h.ready.Store(true)
	return h
}

// AddCheck registers a readiness check under name, replacing any previous
// check with that name.
func (h *Handler) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

// SetReady flips readiness by hand. Lifecycle clears it when shutdown
// starts so load balancers drain the gateway first.
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Liveness answers 200 while the process runs.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.response("ok", nil))
}

// Readiness runs every check and answers 200 only if all pass.
func (h *Handler) Readiness(c *gin.Context) {
	if !h.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, h.response("not_ready", nil))
		return
	}

	results, ok := h.Run(c.Request.Context())
	if !ok {
		c.JSON(http.StatusServiceUnavailable, h.response("degraded", results))
		return
	}
	c.JSON(http.StatusOK, h.response("ok", results))
}

// Run executes the checks in name order and reports each result.
func (h *Handler) Run(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	ok := true
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			results[name] = err.Error()
			ok = false
			continue
		}
		results[name] = "ok"
	}
	return results, ok
}

func (h *Handler) response(status string, checks map[string]string) Response {
	return Response{
		Status:  status,
		Tool:    h.tool,
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Checks:  checks,
	}
}
