package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"CrossPoster/internal/dedup"
	"CrossPoster/internal/domain"
	"CrossPoster/internal/logging"
	"CrossPoster/internal/metrics"
	"CrossPoster/internal/ports"
	"CrossPoster/internal/retry"
	"CrossPoster/internal/tracker"
	"CrossPoster/internal/uploader"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.SourceAdapter
	Publisher  ports.Publisher
	Store      ports.Store
	Tracker    *tracker.Tracker
	Classifier *dedup.Classifier
	// Uploader defaults to one built over Publisher with default limits.
	Uploader          *uploader.Uploader
	Retry             retry.Policy
	MaxRateLimitWaits int
	Notifier          ports.Notifier
	Metrics           metrics.Recorder
	Logger            *slog.Logger
	Now               func() time.Time
	Sleep             retry.SleepFunc
	NewRunID          func() string
}

// Pipeline runs one source cycle: fetch, classify every candidate, act on the
// destination and commit the outcome before moving to the next candidate.
type Pipeline struct {
	source            ports.SourceAdapter
	publisher         ports.Publisher
	store             ports.Store
	tracker           *tracker.Tracker
	classifier        *dedup.Classifier
	uploader          *uploader.Uploader
	retryPolicy       retry.Policy
	maxRateLimitWaits int
	notifier          ports.Notifier
	metrics           metrics.Recorder
	logger            *slog.Logger
	now               func() time.Time
	sleep             retry.SleepFunc
	newRunID          func() string
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		source:            deps.Source,
		publisher:         deps.Publisher,
		store:             deps.Store,
		tracker:           deps.Tracker,
		classifier:        deps.Classifier,
		uploader:          deps.Uploader,
		retryPolicy:       deps.Retry,
		maxRateLimitWaits: deps.MaxRateLimitWaits,
		notifier:          deps.Notifier,
		metrics:           deps.Metrics,
		logger:            deps.Logger,
		now:               deps.Now,
		sleep:             deps.Sleep,
		newRunID:          deps.NewRunID,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = metrics.NoopRecorder{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.sleep == nil {
		p.sleep = retry.Sleep
	}
	if p.newRunID == nil {
		p.newRunID = uuid.NewString
	}
	if p.retryPolicy == (retry.Policy{}) {
		p.retryPolicy = retry.DefaultPolicy()
	}
	if p.uploader == nil {
		p.uploader = uploader.New(deps.Publisher, 0, 0, p.logger)
	}
	return p
}

// cycle carries the mutable state of one run.
type cycle struct {
	src     domain.Source
	report  domain.CycleReport
	start   time.Time
	logger  *slog.Logger
	retrier *retry.Retrier
}

func (c *cycle) enter(state domain.CycleState) {
	c.report.State = state
}

// RunCycle processes one source. The returned error is nil only when the cycle reached
// CYCLE_DONE; the report is filled in either way.
func (p *Pipeline) RunCycle(ctx context.Context, src domain.Source) (domain.CycleReport, error) {
	c := &cycle{
		src:   src,
		start: p.now(),
	}
	c.report = domain.CycleReport{
		RunID:     p.newRunID(),
		SourceID:  src.ID,
		State:     domain.StateIdle,
		StartedAt: c.start,
	}
	c.logger = p.logger.With(logging.RunID(c.report.RunID), logging.SourceID(src.ID))
	c.retrier = retry.New(p.retryPolicy, p.maxRateLimitWaits)
	c.retrier.Sleep = p.sleep
	c.retrier.Observer = retryObserver{
		sourceID: src.ID,
		attempts: p.retryPolicy.Attempts(),
		logger:   c.logger,
		metrics:  p.metrics,
	}

	err := p.run(ctx, c)
	return p.finish(ctx, c, err)
}

func (p *Pipeline) run(ctx context.Context, c *cycle) error {
	c.enter(domain.StateFetching)
	// zero since (never checked) asks the adapter for a full backfill
	since, _, err := p.tracker.SinceTime(ctx, c.src.ID)
	if err != nil {
		return err
	}

	candidates, err := p.source.Fetch(ctx, c.src, since)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.report.Stats.Errors++
		return err
	}
	orderByPublished(candidates)
	c.logger.Debug("fetched candidates", "count", len(candidates), "since", since)

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.process(ctx, c, candidate); err != nil {
			return err
		}
	}
	return nil
}

// process runs one candidate through CLASSIFYING, ACTING and COMMITTING. Errors that
// only concern this candidate are counted and swallowed.
func (p *Pipeline) process(ctx context.Context, c *cycle, candidate domain.Candidate) error {
	stats := &c.report.Stats
	stats.Processed++
	log := c.logger.With(logging.ItemID(candidate.SourceItemID))

	c.enter(domain.StateClassifying)
	skip, err := p.knownUnchanged(ctx, c.src.Platform, candidate)
	if err != nil {
		return err
	}
	if skip {
		stats.Skipped++
		return nil
	}

	decision, err := p.classifier.Classify(ctx, dedup.Request{
		Platform:     c.src.Platform,
		SourceID:     c.src.ID,
		AuthorID:     candidate.AuthorID,
		SourceItemID: candidate.SourceItemID,
		RawText:      candidate.RawText,
	})
	if err != nil {
		return err
	}
	log.Debug("classified", logging.Action(string(decision.Action)), logging.ArtifactID(decision.ArtifactID),
		"via", string(decision.Via), "score", decision.Score)

	switch decision.Action {
	case domain.ActionSkipDuplicate:
		c.enter(domain.StateCommitting)
		if err := p.commitSkip(ctx, c, candidate, decision); err != nil {
			return err
		}
		stats.Skipped++
		return nil

	case domain.ActionUpdateExisting:
		c.enter(domain.StateActing)
		text := p.source.Format(c.src, candidate)
		err := c.retrier.Do(ctx, func(ctx context.Context) error {
			return p.publisher.Update(ctx, decision.ArtifactID, text)
		})
		if err != nil {
			return p.candidateFailed(c, log, decision, err)
		}
		c.enter(domain.StateCommitting)
		if err := p.commitUpdate(ctx, c, candidate, decision); err != nil {
			return err
		}
		stats.Updated++
		log.Info("updated artifact", logging.ArtifactID(decision.ArtifactID))
		return nil

	default:
		c.enter(domain.StateActing)
		text := p.source.Format(c.src, candidate)
		mediaIDs := p.uploader.Upload(ctx, candidate.Attachments)
		var artifactID string
		err := c.retrier.Do(ctx, func(ctx context.Context) error {
			id, err := p.publisher.Publish(ctx, text, mediaIDs)
			if err != nil {
				return err
			}
			artifactID = id
			return nil
		})
		if err != nil {
			return p.candidateFailed(c, log, decision, err)
		}
		c.enter(domain.StateCommitting)
		if err := p.commitPublish(ctx, c, candidate, decision, artifactID); err != nil {
			return err
		}
		stats.Published++
		log.Info("published artifact", logging.ArtifactID(artifactID), "media", len(mediaIDs))
		return nil
	}
}

// orderByPublished sorts dated candidates oldest first in the slots they already hold.
// Undated candidates keep the position the adapter gave them.
func orderByPublished(candidates []domain.Candidate) {
	var slots []int
	for i := range candidates {
		if !candidates[i].PublishedAt.IsZero() {
			slots = append(slots, i)
		}
	}
	dated := make([]domain.Candidate, len(slots))
	for i, slot := range slots {
		dated[i] = candidates[slot]
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].PublishedAt.Before(dated[j].PublishedAt)
	})
	for i, slot := range slots {
		candidates[slot] = dated[i]
	}
}

// knownUnchanged is the fast path: an indexed item whose content did not change.
func (p *Pipeline) knownUnchanged(ctx context.Context, platform string, candidate domain.Candidate) (bool, error) {
	record, found, err := p.store.Lookup(ctx, platform, candidate.SourceItemID)
	if err != nil {
		return false, err
	}
	return found && record.Fingerprint == dedup.Fingerprint(dedup.Normalize(candidate.RawText)), nil
}

// candidateFailed decides whether a failed destination call ends the cycle.
// Every failure except cancellation counts as a candidate error.
func (p *Pipeline) candidateFailed(c *cycle, log *slog.Logger, decision domain.Decision, err error) error {
	kind := domain.KindOf(err)
	if kind != domain.KindCanceled {
		c.report.Stats.Errors++
	}
	if kind == domain.KindPermanent && !errors.Is(err, domain.ErrRetriesExhausted) {
		log.Warn("skipping candidate", logging.Action(string(decision.Action)), logging.Err(err))
		return nil
	}
	return err
}

// Commits write the candidate's own buffer entry first and the published index last.
// A commit interrupted in between leaves an entry under the item's id, which the
// classifier resolves back to the same artifact the next time the item is seen.

func (p *Pipeline) commitPublish(ctx context.Context, c *cycle, candidate domain.Candidate, d domain.Decision, artifactID string) error {
	if err := p.store.Insert(ctx, bufferEntry(c, candidate, d, artifactID)); err != nil {
		return err
	}
	return p.store.Record(ctx, domain.PublishedRecord{
		Platform:         c.src.Platform,
		SourceItemID:     candidate.SourceItemID,
		ArtifactID:       artifactID,
		Fingerprint:      d.Fingerprint,
		PublishedAt:      c.start,
		ThreadRootItemID: candidate.ThreadRootItemID,
	})
}

func (p *Pipeline) commitUpdate(ctx context.Context, c *cycle, candidate domain.Candidate, d domain.Decision) error {
	if err := p.store.Insert(ctx, bufferEntry(c, candidate, d, d.ArtifactID)); err != nil {
		return err
	}
	// the matched entry may only leave matching once the new id points at its artifact
	if d.Via == domain.MatchBuffer && d.Match != nil {
		if err := p.store.MarkSuperseded(ctx, d.Match.SourceID, d.Match.SourceItemID); err != nil {
			return err
		}
	}
	if d.Via == domain.MatchIdentity {
		return p.store.UpdateFingerprint(ctx, c.src.Platform, candidate.SourceItemID, d.Fingerprint, c.start)
	}
	// edits under a new id, and items whose index row is missing, are indexed
	// against the artifact they edit
	return p.store.Record(ctx, domain.PublishedRecord{
		Platform:         c.src.Platform,
		SourceItemID:     candidate.SourceItemID,
		ArtifactID:       d.ArtifactID,
		Fingerprint:      d.Fingerprint,
		PublishedAt:      c.start,
		ThreadRootItemID: candidate.ThreadRootItemID,
	})
}

// commitSkip rebuilds the missing index row of an item found only in the buffer.
func (p *Pipeline) commitSkip(ctx context.Context, c *cycle, candidate domain.Candidate, d domain.Decision) error {
	if d.Via != domain.MatchBufferIdentity || d.Match == nil {
		return nil
	}
	c.logger.Warn("repairing published index", logging.ItemID(candidate.SourceItemID), logging.ArtifactID(d.ArtifactID))
	return p.store.Record(ctx, domain.PublishedRecord{
		Platform:         c.src.Platform,
		SourceItemID:     candidate.SourceItemID,
		ArtifactID:       d.Match.ArtifactID,
		Fingerprint:      d.Match.Fingerprint,
		PublishedAt:      d.Match.CreatedAt,
		ThreadRootItemID: candidate.ThreadRootItemID,
	})
}

func bufferEntry(c *cycle, candidate domain.Candidate, d domain.Decision, artifactID string) domain.EditBufferEntry {
	return domain.EditBufferEntry{
		SourceID:       c.src.ID,
		AuthorID:       candidate.AuthorID,
		SourceItemID:   candidate.SourceItemID,
		Fingerprint:    d.Fingerprint,
		NormalizedText: d.NormalizedText,
		ArtifactID:     artifactID,
		CreatedAt:      c.start,
	}
}

// finish commits the schedule outcome and reports. Storage failures and cancellation
// leave the schedule untouched.
func (p *Pipeline) finish(ctx context.Context, c *cycle, runErr error) (domain.CycleReport, error) {
	stats := c.report.Stats
	outcome := metrics.OutcomeSuccess

	switch kind := domain.KindOf(runErr); {
	case runErr == nil:
		if err := p.tracker.CommitSuccess(ctx, c.src.ID, c.start, stats.Published); err != nil {
			runErr = err
			outcome = metrics.OutcomeFailed
			break
		}
		c.enter(domain.StateCycleDone)
		c.report.Completed = true

	case kind == domain.KindCanceled:
		outcome = metrics.OutcomeCanceled

	case kind == domain.KindStorage:
		outcome = metrics.OutcomeFailed

	default:
		outcome = metrics.OutcomeAborted
		if err := p.tracker.CommitError(context.WithoutCancel(ctx), c.src.ID, c.start, stats.Published); err != nil {
			c.logger.Error("commit error state failed", logging.Err(err))
			runErr = errors.Join(runErr, err)
			outcome = metrics.OutcomeFailed
		}
	}

	c.report.FinishedAt = p.now()
	p.metrics.ObserveCycle(c.src.ID, outcome, c.report.FinishedAt.Sub(c.start))
	p.metrics.AddItems(string(domain.ActionPublishNew), stats.Published)
	p.metrics.AddItems(string(domain.ActionUpdateExisting), stats.Updated)
	p.metrics.AddItems(string(domain.ActionSkipDuplicate), stats.Skipped)
	if st, err := p.tracker.State(context.WithoutCancel(ctx), c.src.ID); err == nil {
		p.metrics.SetConsecutiveErrors(c.src.ID, st.ConsecutiveErrorCount)
	}

	if runErr == nil {
		c.logger.Info("cycle done",
			"processed", stats.Processed, "published", stats.Published,
			"updated", stats.Updated, "skipped", stats.Skipped, "errors", stats.Errors)
		return c.report, nil
	}

	failedIn := c.report.State
	c.enter(domain.StateAborted)
	c.report.Err = fmt.Errorf("%w: source %s while %s: %w", domain.ErrCycleAborted, c.src.ID, failedIn, runErr)

	if outcome == metrics.OutcomeCanceled {
		c.logger.Info("cycle canceled", "state", failedIn, "processed", stats.Processed)
		return c.report, c.report.Err
	}

	c.logger.Error("cycle aborted", "state", failedIn, "kind", string(domain.KindOf(runErr)),
		"processed", stats.Processed, "published", stats.Published, logging.Err(runErr))
	p.alert(ctx, c, failedIn, runErr)
	return c.report, c.report.Err
}

func (p *Pipeline) alert(ctx context.Context, c *cycle, failedIn domain.CycleState, cause error) {
	if p.notifier == nil {
		return
	}
	s := c.report.Stats
	msg := fmt.Sprintf("CrossPoster: cycle %s for source %s aborted while %s\n%v\nprocessed=%d published=%d updated=%d skipped=%d errors=%d",
		c.report.RunID, c.src.ID, failedIn, cause, s.Processed, s.Published, s.Updated, s.Skipped, s.Errors)
	if err := p.notifier.Notify(context.WithoutCancel(ctx), msg); err != nil {
		c.logger.Warn("alert not delivered", logging.Err(err))
	}
}

// retryObserver forwards retry waits of one cycle to logs and metrics.
type retryObserver struct {
	sourceID string
	attempts int
	logger   *slog.Logger
	metrics  metrics.Recorder
}

func (o retryObserver) OnRetry(attempt int, delay time.Duration, err error) {
	o.metrics.IncRetry(o.sourceID)
	o.logger.Warn("transient destination failure", "attempt", attempt, "of", o.attempts, "delay", delay, logging.Err(err))
}

func (o retryObserver) OnRateLimit(wait time.Duration) {
	o.metrics.IncRateLimited(o.sourceID)
	o.logger.Info("rate limited, pausing source", "wait", wait)
}
