package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/logging"
	"CrossPoster/internal/metrics"
	"CrossPoster/internal/ports"
	"CrossPoster/internal/tracker"
)

// CycleRunner runs one source cycle; *Pipeline is the production implementation.
type CycleRunner interface {
	RunCycle(ctx context.Context, src domain.Source) (domain.CycleReport, error)
}

// SchedulerDeps wires the tick driver with the pipeline use case.
type SchedulerDeps struct {
	Driver        ports.Scheduler
	Pipeline      CycleRunner
	Tracker       *tracker.Tracker
	Buffer        ports.EditBuffer
	Sources       []domain.Source
	MaxConcurrent int
	Retention     time.Duration
	SweepInterval time.Duration
	Metrics       metrics.Recorder
	Logger        *slog.Logger
}

// Scheduler decides on every tick which sources run and keeps two cycles of one
// source from ever overlapping.
type Scheduler struct {
	driver        ports.Scheduler
	pipeline      CycleRunner
	tracker       *tracker.Tracker
	buffer        ports.EditBuffer
	sources       []domain.Source
	maxConcurrent int
	retention     time.Duration
	sweepInterval time.Duration
	metrics       metrics.Recorder
	logger        *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewScheduler returns a helper to start/stop recurring ticks.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	s := &Scheduler{
		driver:        deps.Driver,
		pipeline:      deps.Pipeline,
		tracker:       deps.Tracker,
		buffer:        deps.Buffer,
		sources:       deps.Sources,
		maxConcurrent: deps.MaxConcurrent,
		retention:     deps.Retention,
		sweepInterval: deps.SweepInterval,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		locks:         map[string]*sync.Mutex{},
	}
	if s.maxConcurrent <= 0 {
		s.maxConcurrent = 1
	}
	if s.metrics == nil {
		s.metrics = metrics.NoopRecorder{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Start registers the tick with the provided driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if _, err := s.Tick(ctx, trigger); err != nil {
			s.logger.Error("tick failed", logging.Err(err))
		}
	}

	policy := s.tracker.Policy()
	s.logger.Info("scheduler starting", "sources", len(s.sources),
		"poll_interval", policy.PollInterval, "backoff_cap", policy.BackoffCap,
		"max_concurrent", s.maxConcurrent, "retention", s.retention)
	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

// Tick rolls daily counters, sweeps the buffer when due and runs every due source.
// Cycle failures are reported per source; only state-store failures fail the tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]domain.CycleReport, error) {
	if _, err := s.tracker.RollDailyCounters(ctx, now); err != nil {
		return nil, err
	}
	if s.sweepDue(now) {
		if _, err := s.Sweep(ctx, now); err != nil {
			s.logger.Warn("buffer sweep failed", logging.Err(err))
		}
	}

	ids := make([]string, len(s.sources))
	byID := make(map[string]domain.Source, len(s.sources))
	for i, src := range s.sources {
		ids[i] = src.ID
		byID[src.ID] = src
	}
	due, err := s.tracker.DueSources(ctx, ids, now)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}
	s.logger.Debug("tick", "due", len(due), "configured", len(ids))

	slots := make([]*domain.CycleReport, len(due))
	var g errgroup.Group
	g.SetLimit(s.maxConcurrent)
	for i, id := range due {
		lock := s.lockFor(id)
		if !lock.TryLock() {
			s.logger.Info("cycle still running, skipping", logging.SourceID(id))
			continue
		}
		src := byID[id]
		g.Go(func() error {
			defer lock.Unlock()
			report, _ := s.pipeline.RunCycle(ctx, src)
			slots[i] = &report
			return nil
		})
	}
	_ = g.Wait()

	reports := make([]domain.CycleReport, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			reports = append(reports, *r)
		}
	}
	return reports, nil
}

// Sweep purges buffer entries older than the retention window.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (int64, error) {
	purged, err := s.buffer.Purge(ctx, now.Add(-s.retention))
	if err != nil {
		return 0, err
	}
	s.sweepMu.Lock()
	s.lastSweep = now
	s.sweepMu.Unlock()

	s.metrics.AddSwept(purged)
	if purged > 0 {
		s.logger.Info("edit buffer swept", "purged", purged)
	}
	return purged, nil
}

func (s *Scheduler) sweepDue(now time.Time) bool {
	if s.buffer == nil || s.retention <= 0 {
		return false
	}
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	return s.lastSweep.IsZero() || now.Sub(s.lastSweep) >= s.sweepInterval
}

func (s *Scheduler) lockFor(sourceID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sourceID] = lock
	}
	return lock
}
