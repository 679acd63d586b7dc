package metrics

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest(ListenerGateway, OutcomeOK, 10*time.Millisecond)
	m.ObserveRequest(ListenerGateway, OutcomeOK, 20*time.Millisecond)
	m.ObserveRequest(ListenerGateway, OutcomeInputError, time.Millisecond)
	m.ObserveRequest(ListenerRPC, OutcomeBackendError, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(ListenerGateway, OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(ListenerGateway, OutcomeInputError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(ListenerRPC, OutcomeBackendError)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestDuration))
}

func TestTrackInFlight(t *testing.T) {
	m := New(nil)
	done := m.TrackInFlight(ListenerRPC)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight.WithLabelValues(ListenerRPC)))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight.WithLabelValues(ListenerRPC)))
}

func TestStateGauges(t *testing.T) {
	m := New(nil)
	m.SetListenerState(ListenerGateway, 2)
	m.SetBreakerState(1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ListenerState.WithLabelValues(ListenerGateway)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState))
}

func TestClientCounters(t *testing.T) {
	m := New(nil)
	m.IncDial()
	m.IncDial()
	m.IncRetry()
	m.IncDiscard()
	m.CacheResult(CacheHit)
	m.CacheResult(CacheMiss)
	m.CacheResult(CacheMiss)
	m.ObserveInference(time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClientDials))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientDiscarded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues(CacheMiss)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest(ListenerRPC, OutcomeOK, time.Second)
	m.TrackInFlight(ListenerRPC)()
	m.SetListenerState(ListenerRPC, 1)
	m.SetBreakerState(1)
	m.IncDial()
	m.IncRetry()
	m.IncDiscard()
	m.CacheResult(CacheHit)
	m.ObserveInference(time.Second)
}

func TestHandler(t *testing.T) {
	reg, m := NewRegistry()
	m.ObserveRequest(ListenerGateway, OutcomeOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `intentd_requests_total{listener="gateway",outcome="ok"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestPercentile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.InDelta(t, 5.5, Percentile(vals, 50), 1e-9)
	assert.InDelta(t, 9.1, Percentile(vals, 90), 1e-9)
	assert.InDelta(t, 9.91, Percentile(vals, 99), 1e-9)
	assert.Equal(t, 1.0, Percentile(vals, 0))
	assert.Equal(t, 10.0, Percentile(vals, 100))
	assert.Equal(t, 0.0, Percentile(nil, 50))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 99))
}

func TestLatenciesSummary(t *testing.T) {
	var l Latencies
	for i := 1; i <= 4; i++ {
		l.Add(time.Duration(i) * time.Millisecond)
	}
	l.AddError()

	s := l.Summary()
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 1, s.Errors)
	assert.InDelta(t, 10.0, s.TotalMS, 1e-9)
	assert.InDelta(t, 2.5, s.MeanMS, 1e-9)
	assert.InDelta(t, 1.0, s.MinMS, 1e-9)
	assert.InDelta(t, 4.0, s.MaxMS, 1e-9)
	assert.InDelta(t, 2.5, s.P50MS, 1e-9)
}

func TestLatenciesEmpty(t *testing.T) {
	var l Latencies
	assert.Equal(t, Summary{}, l.Summary())
}

func TestLatenciesConcurrent(t *testing.T) {
	var l Latencies
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Add(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5000, l.Summary().Count)
}
