package gateway

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/intenttest"
	"github.com/greynewell/intentd/logging"
)

func logLines(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if json.Unmarshal([]byte(line), &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func findEntry(lines []map[string]any, msg string) map[string]any {
	for _, l := range lines {
		if l["message"] == msg {
			return l
		}
	}
	return nil
}

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		seen = logging.RequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	id := w.Header().Get(HeaderRequestID)
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, id, seen)
}

func TestRequestIDPropagated(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		assert.Equal(t, "abc-123", c.GetString(keyRequestID))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))
}

func TestAccessLogLevelsAndStage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		backend   func(t *testing.T) *intenttest.Mock
		wantLevel string
		wantStage string
		wantCode  int
	}{
		{
			name:      "ok",
			body:      `{"text":"x"}`,
			backend:   func(*testing.T) *intenttest.Mock { return intenttest.NewMock(map[string]float64{"a": 1}) },
			wantLevel: "info", wantStage: "sent", wantCode: http.StatusOK,
		},
		{
			name:      "input error",
			body:      `{"nope":"x"}`,
			backend:   func(*testing.T) *intenttest.Mock { return intenttest.NewMock(nil) },
			wantLevel: "warn", wantStage: "validated", wantCode: http.StatusBadRequest,
		},
		{
			name: "backend error",
			body: `{"text":"x"}`,
			backend: func(*testing.T) *intenttest.Mock {
				m := intenttest.NewMock(nil)
				m.SetError(errors.New(errors.CodeTransport, "reset"))
				return m
			},
			wantLevel: "error", wantStage: "dispatched", wantCode: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := NewRouter("/", Options{Mode: ModeJSON}, Deps{Backend: tt.backend(t), Log: newTestLogger(&buf)})

			req := postJSON("/", tt.body)
			req.Header.Set(HeaderRequestID, "req-1")
			res := do(t, r, req)
			assert.Equal(t, tt.wantCode, res.status)

			entry := findEntry(logLines(&buf), "request")
			require.NotNil(t, entry, buf.String())
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.wantStage, entry["stage"])
			assert.Equal(t, "POST", entry["method"])
			assert.Equal(t, float64(tt.wantCode), entry["status"])
			assert.Equal(t, "req-1", entry["request_id"])
		})
	}
}

func TestBackendFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	backend := intenttest.NewMock(nil)
	backend.SetError(errors.New(errors.CodeUnavailable, "circuit breaker is open"))
	r := NewRouter("/", Options{}, Deps{Backend: backend, Log: newTestLogger(&buf)})

	do(t, r, postJSON("/", `{"text":"x"}`))

	entry := findEntry(logLines(&buf), "prediction failed")
	require.NotNil(t, entry)
	assert.Equal(t, errors.CodeUnavailable, entry["code"])
	assert.Contains(t, entry["error"], "circuit breaker is open")
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf)
	r := gin.New()
	r.Use(RequestID(), AccessLog(log), Recovery(log))
	r.GET("/panic", func(*gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":"INTERNAL_ERROR","message":"internal server error"}`, w.Body.String())

	lines := logLines(&buf)
	entry := findEntry(lines, "panic recovered")
	require.NotNil(t, entry)
	assert.Equal(t, "kaboom", entry["panic"])
	access := findEntry(lines, "request")
	require.NotNil(t, access)
	assert.Equal(t, "error", access["level"])
}
