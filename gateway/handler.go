// Package gateway is the HTTP face of the predictor. Each request walks
// Received → Validated → Dispatched → Formatted → Sent: the input text is
// pulled from the query string or a JSON body, sent to the RPC backend,
// ranked and wrapped in the response envelope. Anything wrong with the
// request stops it before dispatch with a 400; anything that fails from
// dispatch onward is a 5xx.
package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"

	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/logging"
	"github.com/greynewell/intentd/metrics"
	"github.com/greynewell/intentd/predictor"
	"github.com/greynewell/intentd/ranking"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Stage is how far a request got.
type Stage int

const (
	StageReceived Stage = iota
	StageValidated
	StageDispatched
	StageFormatted
	StageSent
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageValidated:
		return "validated"
	case StageDispatched:
		return "dispatched"
	case StageFormatted:
		return "formatted"
	case StageSent:
		return "sent"
	default:
		return "unknown"
	}
}

// Input modes.
const (
	ModeQuery = "query"
	ModeJSON  = "json"
)

// Options configures the predict handler.
type Options struct {
	Mode      string        // ModeQuery or ModeJSON
	QueryKey  string        // query parameter holding the text
	JSONField string        // body field holding the text
	MaxBody   int64         // JSON body limit in bytes; 0 means 1MiB
	Timeout   time.Duration // per-request dispatch deadline; 0 means none
	Prefix    string        // label namespace stripped from names
}

// Handler serves predictions through a backend Predictor, normally the
// pooled RPC client.
type Handler struct {
	backend predictor.Predictor
	opts    Options
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a handler. log and m may be nil.
func NewHandler(backend predictor.Predictor, opts Options, log *logging.Logger, m *metrics.Metrics) *Handler {
	if opts.Mode == "" {
		opts.Mode = ModeJSON
	}
	if opts.QueryKey == "" {
		opts.QueryKey = "doc"
	}
	if opts.JSONField == "" {
		opts.JSONField = "text"
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 1 << 20
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{backend: backend, opts: opts, log: log, metrics: m}
}

// Predict is the gin handler for the prediction endpoint.
func (h *Handler) Predict(c *gin.Context) {
	start := time.Now()
	done := h.metrics.TrackInFlight(metrics.ListenerGateway)
	defer done()

	stage := StageReceived
	outcome := metrics.OutcomeOK
	defer func() {
		c.Set(keyStage, stage)
		h.metrics.ObserveRequest(metrics.ListenerGateway, outcome, time.Since(start))
	}()

	stage = StageValidated
	text, err := h.extract(c)
	if err != nil {
		outcome = metrics.OutcomeInputError
		h.fail(c, err)
		return
	}

	stage = StageDispatched
	ctx := c.Request.Context()
	if h.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.Timeout)
		defer cancel()
	}
	raw, err := h.backend.Predict(ctx, text)
	if err != nil {
		outcome = metrics.OutcomeBackendError
		h.fail(c, backendError(ctx, err))
		return
	}

	stage = StageFormatted
	env, err := ranking.Format(raw, text, h.opts.Prefix)
	if err == nil {
		var body []byte
		body, err = env.MarshalIndent()
		if err == nil {
			stage = StageSent
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}
	}
	outcome = metrics.OutcomeBackendError
	h.fail(c, errors.Wrap(errors.CodeInternal, err, "format response"))
}

// extract pulls the input text out of the request per the configured mode.
// Every error it returns is an input error.
func (h *Handler) extract(c *gin.Context) (string, error) {
	if h.opts.Mode == ModeQuery {
		text, ok := c.GetQuery(h.opts.QueryKey)
		if !ok {
			return "", errors.Input("Missing query parameter: %s", h.opts.QueryKey)
		}
		return text, nil
	}

	if ct := c.ContentType(); !strings.EqualFold(ct, "application/json") {
		return "", errors.Input("Expected HTTP header Content-Type: application/json, found %s", c.GetHeader("Content-Type"))
	}

	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", errors.Input("Request body exceeds %d bytes", h.opts.MaxBody)
		}
		return "", errors.Input("Unreadable request body: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return "", errors.Input("Malformed JSON body: %v", err)
	}
	v, ok := body[h.opts.JSONField]
	if !ok {
		return "", errors.Input("Missing json parameter: %s", h.opts.JSONField)
	}
	text, ok := v.(string)
	if !ok {
		return "", errors.Input("json parameter %s must be a string", h.opts.JSONField)
	}
	return text, nil
}

// backendError makes sure a request that ran out of time reports as a
// timeout whatever the client returned.
func backendError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded && errors.Code(err) != errors.CodeTimeout {
		return errors.Wrap(errors.CodeTimeout, err, "prediction timed out")
	}
	return err
}

// fail writes err as a plain-text response. Input errors carry their own
// message; backend errors are logged and answered generically.
func (h *Handler) fail(c *gin.Context, err error) {
	code := errors.Code(err)
	status := errors.HTTPStatus(code)
	_ = c.Error(err)

	if errors.CategoryOf(err) == errors.CategoryInput {
		var e *errors.Error
		msg := err.Error()
		if errors.As(err, &e) {
			msg = e.Message
		}
		c.String(status, "%s", msg)
		return
	}

	h.log.Error(c.Request.Context(), "prediction failed", "code", code, "error", err)
	c.String(status, "%s: prediction backend failed (%s)", http.StatusText(status), code)
}
