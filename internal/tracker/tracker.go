// Package tracker owns per-source polling cursors and error backoff.
//
// State changes are plain functions over domain.SourceScheduleState values; Tracker
// only loads a row, applies one transition and upserts the result.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/ports"
)

const DefaultBackoffCap = 32

// Policy decides when a source is due again.
type Policy struct {
	PollInterval time.Duration
	// BackoffCap bounds the 2^errors multiplier applied to PollInterval.
	BackoffCap int
}

// Multiplier returns min(2^errors, cap), or 1 when the source is healthy.
func (p Policy) Multiplier(consecutiveErrors int) int {
	limit := p.BackoffCap
	if limit <= 0 {
		limit = DefaultBackoffCap
	}
	if consecutiveErrors <= 0 {
		return 1
	}
	m := 1
	for i := 0; i < consecutiveErrors; i++ {
		m *= 2
		if m >= limit {
			return limit
		}
	}
	return m
}

// IsDue reports whether the source should be polled at now.
func IsDue(st domain.SourceScheduleState, now time.Time, p Policy) bool {
	if st.LastCheckAt.IsZero() {
		return true
	}
	elapsed := now.Sub(st.LastCheckAt)
	if elapsed < p.PollInterval {
		return false
	}
	if st.ConsecutiveErrorCount > 0 {
		return elapsed >= p.PollInterval*time.Duration(p.Multiplier(st.ConsecutiveErrorCount))
	}
	return true
}

// SinceTime is the fetch cursor: last success, else last check, else none.
func SinceTime(st domain.SourceScheduleState) (time.Time, bool) {
	if !st.LastSuccessAt.IsZero() {
		return st.LastSuccessAt, true
	}
	if !st.LastCheckAt.IsZero() {
		return st.LastCheckAt, true
	}
	return time.Time{}, false
}

// ApplySuccess records a completed cycle.
func ApplySuccess(st domain.SourceScheduleState, now time.Time, count int) domain.SourceScheduleState {
	st = RollDaily(st, now)
	st.LastCheckAt = now
	st.LastSuccessAt = now
	st.ConsecutiveErrorCount = 0
	st.ItemsPublishedToday += max(count, 0)
	return st
}

// ApplyError records a failed or aborted cycle. count is what the cycle still
// managed to publish before failing; last_success_at is never touched.
func ApplyError(st domain.SourceScheduleState, now time.Time, count int) domain.SourceScheduleState {
	st = RollDaily(st, now)
	st.LastCheckAt = now
	st.ConsecutiveErrorCount++
	st.ItemsPublishedToday += max(count, 0)
	return st
}

// RollDaily resets the daily counter when its anchor predates today.
func RollDaily(st domain.SourceScheduleState, today time.Time) domain.SourceScheduleState {
	day := today.Format(domain.DayLayout)
	if st.DayCounterAnchor < day {
		st.ItemsPublishedToday = 0
		st.DayCounterAnchor = day
	}
	return st
}

// Tracker applies transitions through the schedule store.
type Tracker struct {
	store  ports.ScheduleStore
	policy Policy
	loc    *time.Location
	locks  sync.Map // source id -> *sync.Mutex
}

// New builds a tracker. Day boundaries are evaluated in loc (UTC when nil).
func New(store ports.ScheduleStore, policy Policy, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{store: store, policy: policy, loc: loc}
}

// Policy returns the polling policy in use.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// State returns the stored state of a source, or a fresh one when none exists yet.
func (t *Tracker) State(ctx context.Context, sourceID string) (domain.SourceScheduleState, error) {
	st, found, err := t.store.GetSchedule(ctx, sourceID)
	if err != nil {
		return domain.SourceScheduleState{}, fmt.Errorf("load schedule %s: %w", sourceID, err)
	}
	if !found {
		st = domain.SourceScheduleState{SourceID: sourceID}
	}
	return st, nil
}

// DueSources filters the configured source ids down to those due at now.
func (t *Tracker) DueSources(ctx context.Context, sourceIDs []string, now time.Time) ([]string, error) {
	var due []string
	for _, id := range sourceIDs {
		st, err := t.State(ctx, id)
		if err != nil {
			return nil, err
		}
		if IsDue(st, now, t.policy) {
			due = append(due, id)
		}
	}
	return due, nil
}

// SinceTime returns the fetch cursor of a source.
func (t *Tracker) SinceTime(ctx context.Context, sourceID string) (time.Time, bool, error) {
	st, err := t.State(ctx, sourceID)
	if err != nil {
		return time.Time{}, false, err
	}
	since, ok := SinceTime(st)
	return since, ok, nil
}

// CommitSuccess persists a completed cycle that published count items.
func (t *Tracker) CommitSuccess(ctx context.Context, sourceID string, now time.Time, count int) error {
	return t.update(ctx, sourceID, func(st domain.SourceScheduleState) domain.SourceScheduleState {
		return ApplySuccess(st, now.In(t.loc), count)
	})
}

// CommitError persists a failed cycle that still published count items.
func (t *Tracker) CommitError(ctx context.Context, sourceID string, now time.Time, count int) error {
	return t.update(ctx, sourceID, func(st domain.SourceScheduleState) domain.SourceScheduleState {
		return ApplyError(st, now.In(t.loc), count)
	})
}

// RollDailyCounters resets the daily counter of every source anchored before today.
// Each row is re-read under its source lock, so a cycle committing concurrently is
// never overwritten with the listed snapshot.
func (t *Tracker) RollDailyCounters(ctx context.Context, today time.Time) (int, error) {
	states, err := t.store.ListSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}

	day := today.In(t.loc)
	rolled := 0
	for _, st := range states {
		if RollDaily(st, day) == st {
			continue
		}
		changed := false
		err := t.update(ctx, st.SourceID, func(cur domain.SourceScheduleState) domain.SourceScheduleState {
			next := RollDaily(cur, day)
			changed = next != cur
			return next
		})
		if err != nil {
			return rolled, err
		}
		if changed {
			rolled++
		}
	}
	return rolled, nil
}

func (t *Tracker) lockFor(sourceID string) *sync.Mutex {
	mu, _ := t.locks.LoadOrStore(sourceID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// update runs a read-modify-write of one row under the source's lock. Unchanged rows
// are not written back.
func (t *Tracker) update(ctx context.Context, sourceID string, apply func(domain.SourceScheduleState) domain.SourceScheduleState) error {
	mu := t.lockFor(sourceID)
	mu.Lock()
	defer mu.Unlock()

	st, err := t.State(ctx, sourceID)
	if err != nil {
		return err
	}
	next := apply(st)
	if next == st {
		return nil
	}
	if err := t.store.SaveSchedule(ctx, next); err != nil {
		return fmt.Errorf("save schedule %s: %w", sourceID, err)
	}
	return nil
}
