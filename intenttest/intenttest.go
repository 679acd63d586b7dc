// Package intenttest provides Predictor doubles for testing code that sits
// in front of the inference backend: a scripted mock, fault injection, and
// record/replay, so gateway and client logic can be exercised without a
// model or a socket.
package intenttest

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/greynewell/intentd/predictor"
)

// Mock returns fixed scores and records every document it was asked about.
type Mock struct {
	mu     sync.Mutex
	scores map[string]float64
	err    error
	docs   []string
}

var _ predictor.Predictor = (*Mock)(nil)

// NewMock creates a Mock answering every call with scores.
func NewMock(scores map[string]float64) *Mock {
	return &Mock{scores: scores}
}

// Predict records doc and returns the configured scores or error. A copy
// is returned so callers can't mutate the script.
func (m *Mock) Predict(ctx context.Context, doc string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, doc)
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]float64, len(m.scores))
	for k, v := range m.scores {
		out[k] = v
	}
	return out, nil
}

// SetError makes future calls fail with err. nil restores success.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// SetScores replaces the scores returned by future calls.
func (m *Mock) SetScores(scores map[string]float64) {
	m.mu.Lock()
	m.scores = scores
	m.mu.Unlock()
}

// Docs returns a copy of every document seen, in call order.
func (m *Mock) Docs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.docs...)
}

// Calls is the number of Predict calls so far.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// MustNotCall fails the test if Predict is ever invoked. Use it to prove
// that invalid input never reaches the backend.
func MustNotCall(t testing.TB) predictor.Predictor {
	return predictor.PredictorFunc(func(_ context.Context, doc string) (map[string]float64, error) {
		t.Errorf("backend called unexpectedly with %q", doc)
		return nil, fmt.Errorf("intenttest: unexpected call")
	})
}

// Blocking returns a Predictor that waits for ctx to end, for timeout and
// shutdown tests.
func Blocking() predictor.Predictor {
	return predictor.PredictorFunc(func(ctx context.Context, _ string) (map[string]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

// FaultConfig controls fault injection.
type FaultConfig struct {
	// ErrorRate is the probability [0.0, 1.0] of failing a call.
	ErrorRate float64

	// Error is returned for injected failures. Defaults to "fault injected".
	Error error

	// Delay is added before every call; DelayJitter adds up to that much more.
	Delay       time.Duration
	DelayJitter time.Duration
}

// Fault wraps a Predictor and injects latency and failures.
type Fault struct {
	inner predictor.Predictor
	cfg   FaultConfig
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewFault creates a fault-injecting wrapper around inner.
func NewFault(inner predictor.Predictor, cfg FaultConfig) *Fault {
	if cfg.Error == nil {
		cfg.Error = fmt.Errorf("fault injected")
	}
	return &Fault{
		inner: inner,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Predict delays, maybe fails, and otherwise forwards to the inner
// Predictor. A ctx that ends during the delay wins.
func (f *Fault) Predict(ctx context.Context, doc string) (map[string]float64, error) {
	if err := f.delay(ctx); err != nil {
		return nil, err
	}
	if f.shouldFail() {
		return nil, f.cfg.Error
	}
	return f.inner.Predict(ctx, doc)
}

func (f *Fault) shouldFail() bool {
	if f.cfg.ErrorRate <= 0 {
		return false
	}
	f.mu.Lock()
	r := f.rng.Float64()
	f.mu.Unlock()
	return r < f.cfg.ErrorRate
}

func (f *Fault) delay(ctx context.Context) error {
	d := f.cfg.Delay
	if f.cfg.DelayJitter > 0 {
		f.mu.Lock()
		d += time.Duration(f.rng.Int63n(int64(f.cfg.DelayJitter)))
		f.mu.Unlock()
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exchange is one recorded call.
type Exchange struct {
	Doc    string
	Scores map[string]float64
	Err    error
}

// Recorder passes calls through and remembers each exchange.
type Recorder struct {
	inner     predictor.Predictor
	mu        sync.Mutex
	exchanges []Exchange
}

// NewRecorder wraps inner.
func NewRecorder(inner predictor.Predictor) *Recorder {
	return &Recorder{inner: inner}
}

// Predict forwards to the inner Predictor and records the result.
func (r *Recorder) Predict(ctx context.Context, doc string) (map[string]float64, error) {
	scores, err := r.inner.Predict(ctx, doc)
	r.mu.Lock()
	r.exchanges = append(r.exchanges, Exchange{Doc: doc, Scores: scores, Err: err})
	r.mu.Unlock()
	return scores, err
}

// Exchanges returns a copy of the recorded calls.
func (r *Recorder) Exchanges() []Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Exchange(nil), r.exchanges...)
}

// Replay returns a Predictor that answers each recorded document with the
// result it got while recording. Unknown documents fail.
func (r *Recorder) Replay() predictor.Predictor {
	r.mu.Lock()
	byDoc := make(map[string]Exchange, len(r.exchanges))
	for _, e := range r.exchanges {
		byDoc[e.Doc] = e
	}
	r.mu.Unlock()

	return predictor.PredictorFunc(func(_ context.Context, doc string) (map[string]float64, error) {
		e, ok := byDoc[doc]
		if !ok {
			return nil, fmt.Errorf("intenttest: no recording for %q", doc)
		}
		return e.Scores, e.Err
	})
}
