package domain

import "time"

// Source is a configured external feed being polled.
type Source struct {
	ID            string
	Platform      string
	URL           string
	BackfillLimit int
	Options       map[string]string
}

// Attachment is a media item referenced by a candidate.
type Attachment struct {
	URL         string
	Description string
}

// Candidate is a content item returned by a source fetch, not yet classified.
type Candidate struct {
	SourceItemID     string
	AuthorID         string
	RawText          string
	Title            string
	URL              string
	PublishedAt      time.Time
	ThreadRootItemID string
	Attachments      []Attachment
}
