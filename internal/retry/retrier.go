package retry

import (
	"context"
	"fmt"
	"time"

	"CrossPoster/internal/domain"
)

// DefaultMaxRateLimitWaits bounds how often one action may be paused by the destination.
const DefaultMaxRateLimitWaits = 5

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Observer is told about every wait the retrier performs.
type Observer interface {
	OnRetry(attempt int, delay time.Duration, err error)
	OnRateLimit(wait time.Duration)
}

// Retrier runs one action under a Policy. Transient errors are retried with backoff,
// rate limits are waited out without spending retries, anything else returns at once.
type Retrier struct {
	Policy            Policy
	MaxRateLimitWaits int
	Sleep             SleepFunc
	Observer          Observer
}

// New builds a retrier with a context-aware sleep.
func New(policy Policy, maxRateLimitWaits int) *Retrier {
	if maxRateLimitWaits <= 0 {
		maxRateLimitWaits = DefaultMaxRateLimitWaits
	}
	return &Retrier{Policy: policy, MaxRateLimitWaits: maxRateLimitWaits, Sleep: Sleep}
}

// Do calls op until it succeeds, fails permanently, or the budget runs out. An exhausted
// budget is reported as domain.ErrRetriesExhausted wrapping the last error.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	retries, waits := 0, 0
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var delay time.Duration
		switch domain.KindOf(err) {
		case domain.KindRateLimit:
			if waits >= r.MaxRateLimitWaits {
				return fmt.Errorf("%w after %d rate limit waits: %w", domain.ErrRetriesExhausted, waits, err)
			}
			waits++
			delay, _ = domain.RetryAfter(err)
			if delay <= 0 {
				delay = r.Policy.Initial
			}
			if r.Observer != nil {
				r.Observer.OnRateLimit(delay)
			}
		case domain.KindTransient:
			if retries >= r.Policy.MaxRetries {
				return fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, retries+1, err)
			}
			retries++
			delay = r.Policy.Delay(retries)
			if r.Observer != nil {
				r.Observer.OnRetry(retries, delay, err)
			}
		default:
			return err
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Sleep blocks for d unless ctx is canceled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
