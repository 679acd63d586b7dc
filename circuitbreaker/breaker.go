// Package circuitbreaker stops the gateway from queueing requests behind a
// backend that keeps failing. After Threshold consecutive failures the
// breaker opens and calls fail fast with ErrOpen; once Cooldown passes a
// limited number of probes are let through and the first result decides
// whether it closes again.
//
//	Closed   → calls pass; consecutive failures are counted
//	Open     → calls are rejected with ErrOpen
//	HalfOpen → up to HalfOpenMax probes pass
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/greynewell/intentd/errors"
)

// State is the breaker position.
type State int32

const (
	Closed   State = 0
	Open     State = 1
	HalfOpen State = 2
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling fn while the breaker rejects calls.
var ErrOpen = errors.New(errors.CodeUnavailable, "circuit breaker is open")

// Config configures a Breaker.
type Config struct {
	Threshold   int           // consecutive failures before opening; default 5
	Cooldown    time.Duration // time spent open before probing; default 5s
	HalfOpenMax int           // concurrent probes while half-open; default 1

	// Failure decides whether an error counts against the backend. Nil
	// counts every backend-category error and ignores input errors.
	Failure func(error) bool

	// OnStateChange runs after every transition, outside the lock.
	OnStateChange func(from, to State)
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	consec    int
	openedAt  time.Time
	probes    int
	successes int64
	failures  int64
}

// New returns a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.HalfOpenMax < 1 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Failure == nil {
		cfg.Failure = func(err error) bool {
			return errors.CategoryOf(err) == errors.CategoryBackend
		}
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// State returns the current position, moving Open to HalfOpen if the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.state, b.advance()
	b.mu.Unlock()
	b.notify(from, to)
	return to
}

// Counts returns the recorded successes and failures.
func (b *Breaker) Counts() (successes, failures int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successes, b.failures
}

// Do runs fn if the breaker allows it. Errors caused by ctx ending are not
// held against the backend.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(ctx, err)
	return err
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state, b.consec, b.probes = Closed, 0, 0
	b.mu.Unlock()
	b.notify(from, Closed)
}

// advance must be called with mu held.
func (b *Breaker) advance() State {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = HalfOpen
		b.probes = 0
	}
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	from := b.state
	st := b.advance()
	var err error
	switch st {
	case Open:
		err = ErrOpen
	case HalfOpen:
		if b.probes >= b.cfg.HalfOpenMax {
			err = ErrOpen
		} else {
			b.probes++
		}
	}
	b.mu.Unlock()
	b.notify(from, st)
	return err
}

func (b *Breaker) record(ctx context.Context, err error) {
	if err != nil && ctx.Err() != nil {
		b.mu.Lock()
		if b.state == HalfOpen && b.probes > 0 {
			b.probes--
		}
		b.mu.Unlock()
		return
	}
	failed := err != nil && b.cfg.Failure(err)

	b.mu.Lock()
	from := b.state
	if failed {
		b.failures++
		switch b.state {
		case Closed:
			b.consec++
			if b.consec >= b.cfg.Threshold {
				b.trip()
			}
		case HalfOpen:
			b.trip()
		}
	} else {
		b.successes++
		b.consec = 0
		if b.state == HalfOpen {
			b.state = Closed
			b.probes = 0
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// trip must be called with mu held.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.probes = 0
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
