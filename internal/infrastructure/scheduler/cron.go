package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"CrossPoster/internal/ports"
)

// CronScheduler drives ticks with gocron. A cron expression takes precedence over the
// interval. Ticks never overlap: a tick that is still running when the next one is due
// causes that one to be skipped.
type CronScheduler struct {
	spec     string
	interval time.Duration
	loc      *time.Location
	logger   *slog.Logger

	mu        sync.Mutex
	scheduler gocron.Scheduler
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler configured via cron expression or interval.
func NewCronScheduler(spec string, interval time.Duration, loc *time.Location, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{spec: spec, interval: interval, loc: loc, logger: logger}
}

// Start registers job and fires it once immediately. Calling Start twice is a no-op.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler != nil {
		return nil
	}

	definition, err := c.definition()
	if err != nil {
		return err
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(c.loc))
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	_, err = s.NewJob(
		definition,
		gocron.NewTask(func() {
			if ctx.Err() != nil {
				return
			}
			job(time.Now().In(c.loc))
		}),
		gocron.WithName("tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create tick job: %w", err)
	}

	c.logger.Info("starting scheduler", "cron", c.spec, "interval", c.interval)
	s.Start()
	c.scheduler = s
	return nil
}

// Stop shuts gocron down and waits for a running tick to return.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler == nil {
		return nil
	}
	c.logger.Info("stopping scheduler")
	err := c.scheduler.Shutdown()
	c.scheduler = nil
	return err
}

func (c *CronScheduler) definition() (gocron.JobDefinition, error) {
	switch {
	case c.spec != "":
		return gocron.CronJob(c.spec, false), nil
	case c.interval > 0:
		return gocron.DurationJob(c.interval), nil
	}
	return nil, fmt.Errorf("scheduler needs a cron expression or a positive interval")
}
