package domain

import "time"

// DayLayout is the storage format of SourceScheduleState.DayCounterAnchor.
const DayLayout = "2006-01-02"

// SourceScheduleState is the polling cursor and backoff state of one source.
// Zero times mean "never".
type SourceScheduleState struct {
	SourceID              string
	LastCheckAt           time.Time
	LastSuccessAt         time.Time
	ConsecutiveErrorCount int
	ItemsPublishedToday   int
	DayCounterAnchor      string
}

// PublishedRecord links a source item to the artifact it produced.
type PublishedRecord struct {
	Platform         string
	SourceItemID     string
	ArtifactID       string
	Fingerprint      string
	PublishedAt      time.Time
	ThreadRootItemID string
}

// EditBufferEntry is a short-lived fingerprint of recently published content.
type EditBufferEntry struct {
	SourceID       string
	AuthorID       string
	SourceItemID   string
	Fingerprint    string
	NormalizedText string
	ArtifactID     string
	CreatedAt      time.Time
	Superseded     bool
}
