// Package retry re-runs an operation that failed transiently, sleeping with
// capped exponential backoff and jitter between attempts.
//
//	err := retry.Do(ctx, retry.Policy{Attempts: 2}, func(ctx context.Context) error {
//	    scores, err = conn.Predict(ctx, doc)
//	    return err
//	})
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/greynewell/intentd/errors"
)

// Policy configures retry behavior. The zero value makes one attempt.
type Policy struct {
	Attempts   int           // total attempts, including the first
	Wait       time.Duration // sleep before the first retry; zero retries immediately
	MaxWait    time.Duration // cap on any single sleep
	Multiplier float64       // growth per retry; values below 1 mean 1
	Jitter     float64       // 0..1, fraction of the wait randomized either way

	// Retryable decides whether err is worth another attempt. Nil uses
	// errors.IsRetryable.
	Retryable func(error) bool

	// OnRetry runs before each retry with the attempt number that failed.
	OnRetry func(attempt int, err error)
}

// Default retries a transport failure once after a short pause.
var Default = Policy{
	Attempts:   2,
	Wait:       10 * time.Millisecond,
	MaxWait:    200 * time.Millisecond,
	Multiplier: 2,
	Jitter:     0.2,
}

// WithRetries returns p limited to n retries after the first attempt.
func (p Policy) WithRetries(n int) Policy {
	if n < 0 {
		n = 0
	}
	p.Attempts = n + 1
	return p
}

// Do runs fn until it succeeds, returns an error p does not retry, the
// attempts run out, or ctx ends. The last fn error wins over ctx.Err() so
// callers see why the operation failed rather than only that it stopped.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = errors.IsRetryable
	}

	var last error
	wait := p.Wait
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if attempt == attempts || !retryable(last) {
			return last
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, last)
		}

		if d := p.jitter(wait); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return last
			}
		}
		wait = p.next(wait)
	}
	return last
}

func (p Policy) jitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * p.Jitter
	return time.Duration(float64(d) + (rand.Float64()*2-1)*delta)
}

func (p Policy) next(d time.Duration) time.Duration {
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	d = time.Duration(float64(d) * m)
	if p.MaxWait > 0 && d > p.MaxWait {
		d = p.MaxWait
	}
	return d
}

// MaxDelay is the worst-case total sleep across all retries, ignoring jitter.
func (p Policy) MaxDelay() time.Duration {
	var total time.Duration
	wait := p.Wait
	for i := 1; i < p.Attempts; i++ {
		total += wait
		wait = p.next(wait)
	}
	return total
}
