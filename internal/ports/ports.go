package ports

import (
	"context"
	"time"

	"CrossPoster/internal/domain"
)

// SourceAdapter fetches candidates from an external source and renders them for the
// destination. One implementation serves every configured platform through strategies.
type SourceAdapter interface {
	// Fetch returns candidates published since the given time, oldest first.
	// A zero since requests a full initial backfill.
	Fetch(ctx context.Context, src domain.Source, since time.Time) ([]domain.Candidate, error)
	// Format renders a candidate as destination text. Pure, no I/O.
	Format(src domain.Source, candidate domain.Candidate) string
}

// MediaUploader uploads a single attachment and returns the destination media id.
// An empty id with a nil error means the attachment was skipped.
type MediaUploader interface {
	UploadMedia(ctx context.Context, url, description string) (string, error)
}

// Publisher creates and edits artifacts on the destination platform.
type Publisher interface {
	MediaUploader
	Publish(ctx context.Context, text string, mediaIDs []string) (string, error)
	Update(ctx context.Context, artifactID, text string) error
}

// ScheduleStore persists SourceScheduleState rows keyed by source id.
type ScheduleStore interface {
	GetSchedule(ctx context.Context, sourceID string) (domain.SourceScheduleState, bool, error)
	SaveSchedule(ctx context.Context, state domain.SourceScheduleState) error
	ListSchedules(ctx context.Context) ([]domain.SourceScheduleState, error)
}

// PublishedIndex is the durable set of published source items.
type PublishedIndex interface {
	Lookup(ctx context.Context, platform, sourceItemID string) (domain.PublishedRecord, bool, error)
	Record(ctx context.Context, record domain.PublishedRecord) error
	UpdateFingerprint(ctx context.Context, platform, sourceItemID, fingerprint string, at time.Time) error
}

// EditBuffer keeps recent content fingerprints for edit and duplicate detection.
type EditBuffer interface {
	Insert(ctx context.Context, entry domain.EditBufferEntry) error
	// Get returns the entry written for one source item, superseded or not.
	Get(ctx context.Context, sourceID, sourceItemID string) (domain.EditBufferEntry, bool, error)
	Recent(ctx context.Context, authorID string, since time.Time) ([]domain.EditBufferEntry, error)
	MarkSuperseded(ctx context.Context, sourceID, sourceItemID string) error
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store bundles every state component owned by the persistent store.
type Store interface {
	ScheduleStore
	PublishedIndex
	EditBuffer
	Close() error
}

// Notifier streams operator alerts to Telegram or other channels.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Scheduler controls when ticks execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
