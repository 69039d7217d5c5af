package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalSchedulerTicks(t *testing.T) {
	s := NewCronScheduler("", 20*time.Millisecond, nil, nil)

	var ticks atomic.Int32
	require.NoError(t, s.Start(context.Background(), func(time.Time) { ticks.Add(1) }))
	require.NoError(t, s.Start(context.Background(), func(time.Time) { t.Error("second start must not register") }))

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()), "stop is idempotent")

	after := ticks.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no ticks after stop")
}

func TestCronSchedulerStartsImmediately(t *testing.T) {
	s := NewCronScheduler("0 0 1 1 *", 0, time.UTC, nil)

	fired := make(chan time.Time, 1)
	require.NoError(t, s.Start(context.Background(), func(now time.Time) {
		select {
		case fired <- now:
		default:
		}
	}))
	defer func() { _ = s.Stop(context.Background()) }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate first tick")
	}
}

func TestSchedulerRejectsMissingDefinition(t *testing.T) {
	s := NewCronScheduler("", 0, nil, nil)
	assert.Error(t, s.Start(context.Background(), func(time.Time) {}))
	assert.NoError(t, s.Start(context.Background(), nil), "nil job is ignored")
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	s := NewCronScheduler("not a cron", 0, nil, nil)
	assert.Error(t, s.Start(context.Background(), func(time.Time) {}))
}

func TestTicksDoNotOverlap(t *testing.T) {
	s := NewCronScheduler("", 5*time.Millisecond, nil, nil)

	var running, overlaps, ticks atomic.Int32
	require.NoError(t, s.Start(context.Background(), func(time.Time) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		ticks.Add(1)
	}))

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	assert.Zero(t, overlaps.Load())
}
