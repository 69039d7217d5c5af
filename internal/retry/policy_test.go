package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CrossPoster/internal/domain"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, BackoffExponential, p.Mode)
	assert.Equal(t, time.Second, p.Initial)
	assert.Equal(t, 30*time.Second, p.Max)
	assert.Equal(t, 3, p.Attempts())
}

func TestNewPolicyOverrides(t *testing.T) {
	p := NewPolicy(BackoffFixed, 5*time.Second, 2*time.Second, 5)
	assert.Equal(t, 2*time.Second, p.Initial, "initial clamped to max")
	assert.Equal(t, BackoffFixed, p.Mode)
	assert.Equal(t, 5, p.MaxRetries)

	p = NewPolicy("bogus", 0, 0, -1)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestDelayModes(t *testing.T) {
	fixed := NewPolicy(BackoffFixed, 100*time.Millisecond, 500*time.Millisecond, 3)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, 100*time.Millisecond, fixed.Delay(i))
	}

	linear := NewPolicy(BackoffLinear, 100*time.Millisecond, 250*time.Millisecond, 5)
	assert.Equal(t, 100*time.Millisecond, linear.Delay(1))
	assert.Equal(t, 200*time.Millisecond, linear.Delay(2))
	assert.Equal(t, 250*time.Millisecond, linear.Delay(3))

	exp := NewPolicy(BackoffExponential, 50*time.Millisecond, 160*time.Millisecond, 5)
	assert.Equal(t, 50*time.Millisecond, exp.Delay(1))
	assert.Equal(t, 100*time.Millisecond, exp.Delay(2))
	assert.Equal(t, 160*time.Millisecond, exp.Delay(3))
	assert.Equal(t, 160*time.Millisecond, exp.Delay(80), "no overflow on large attempts")

	assert.Zero(t, exp.Delay(0))
	assert.Zero(t, exp.Delay(-1))
}

func TestValidate(t *testing.T) {
	assert.Error(t, Policy{Mode: BackoffFixed, Initial: 0, Max: time.Second}.Validate())
	assert.Error(t, Policy{Mode: BackoffFixed, Initial: time.Second, Max: 0}.Validate())
	assert.Error(t, Policy{Mode: BackoffFixed, Initial: time.Second, Max: time.Second, MaxRetries: -1}.Validate())
	assert.ErrorContains(t, Policy{Mode: "random", Initial: time.Second, Max: time.Second}.Validate(), `"random"`)
	assert.NoError(t, DefaultPolicy().Validate())
}

type recordingSleeper struct{ waits []time.Duration }

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newTestRetrier(s *recordingSleeper) *Retrier {
	r := New(NewPolicy(BackoffExponential, time.Second, 10*time.Second, 2), 2)
	r.Sleep = s.sleep
	return r
}

func TestNewDefaultsRateLimitWaits(t *testing.T) {
	r := New(DefaultPolicy(), 0)
	assert.Equal(t, DefaultMaxRateLimitWaits, r.MaxRateLimitWaits)
	assert.NotNil(t, r.Sleep)
}

func TestRetrierTransientThenSuccess(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	err := newTestRetrier(s).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &domain.ServerError{StatusCode: 502}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.waits)
}

func TestRetrierExhausted(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	err := newTestRetrier(s).Do(context.Background(), func(context.Context) error {
		calls++
		return &domain.NetworkError{Op: "publish", Err: errors.New("timeout")}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
	var netErr *domain.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, 3, calls)
}

func TestRetrierPermanentNotRetried(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	err := newTestRetrier(s).Do(context.Background(), func(context.Context) error {
		calls++
		return &domain.ValidationError{Reason: "too long"}
	})
	assert.Equal(t, domain.KindPermanent, domain.KindOf(err))
	assert.NotErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.waits)
}

func TestRetrierRateLimitDoesNotSpendRetries(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	err := newTestRetrier(s).Do(context.Background(), func(context.Context) error {
		calls++
		switch calls {
		case 1, 2:
			return &domain.RateLimitError{RetryAfter: time.Minute}
		case 3, 4:
			return &domain.ServerError{StatusCode: 500}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Second, 2 * time.Second}, s.waits)
}

func TestRetrierRateLimitBudget(t *testing.T) {
	s := &recordingSleeper{}
	err := newTestRetrier(s).Do(context.Background(), func(context.Context) error {
		return &domain.RateLimitError{}
	})
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, s.waits, "zero retry-after falls back to the initial delay")
}

func TestRetrierStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := New(DefaultPolicy(), 1).Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &domain.ServerError{StatusCode: 503}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
