package dedup

import (
	"context"
	"fmt"
	"time"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/ports"
)

const (
	DefaultSimilarityThreshold = 0.8
	DefaultRetention           = 48 * time.Hour
)

// Config tunes near-duplicate matching.
type Config struct {
	SimilarityThreshold float64
	Retention           time.Duration
}

// Request carries the identity and text of one candidate.
type Request struct {
	Platform     string
	SourceID     string
	AuthorID     string
	SourceItemID string
	RawText      string
}

// Classifier decides whether a candidate is new, an edit, or a duplicate. It only reads
// state; committing the outcome is the caller's job.
type Classifier struct {
	index     ports.PublishedIndex
	buffer    ports.EditBuffer
	threshold float64
	retention time.Duration
	now       func() time.Time
}

// NewClassifier applies defaults for zero config values.
func NewClassifier(index ports.PublishedIndex, buffer ports.EditBuffer, cfg Config, now func() time.Time) *Classifier {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if now == nil {
		now = time.Now
	}
	return &Classifier{
		index:     index,
		buffer:    buffer,
		threshold: cfg.SimilarityThreshold,
		retention: cfg.Retention,
		now:       now,
	}
}

// Retention is the window inside which buffer entries take part in matching.
func (c *Classifier) Retention() time.Duration {
	return c.retention
}

// Classify returns the action for the candidate described by req.
func (c *Classifier) Classify(ctx context.Context, req Request) (domain.Decision, error) {
	normalized := Normalize(req.RawText)
	decision := domain.Decision{
		Action:         domain.ActionPublishNew,
		Fingerprint:    Fingerprint(normalized),
		NormalizedText: normalized,
	}

	record, found, err := c.index.Lookup(ctx, req.Platform, req.SourceItemID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("lookup %s/%s: %w", req.Platform, req.SourceItemID, err)
	}
	if found {
		decision.Via = domain.MatchIdentity
		decision.ArtifactID = record.ArtifactID
		decision.Score = 1.0
		if record.Fingerprint == decision.Fingerprint {
			decision.Action = domain.ActionSkipDuplicate
		} else {
			decision.Action = domain.ActionUpdateExisting
		}
		return decision, nil
	}

	// an entry under the candidate's own id without an index row is an earlier
	// commit that stopped halfway; it is this item regardless of similarity or age
	own, found, err := c.buffer.Get(ctx, req.SourceID, req.SourceItemID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("load edit buffer entry %s/%s: %w", req.SourceID, req.SourceItemID, err)
	}
	if found {
		decision.Via = domain.MatchBufferIdentity
		decision.ArtifactID = own.ArtifactID
		decision.Score = 1.0
		decision.Match = &own
		if own.Fingerprint == decision.Fingerprint {
			decision.Action = domain.ActionSkipDuplicate
		} else {
			decision.Action = domain.ActionUpdateExisting
		}
		return decision, nil
	}

	entries, err := c.buffer.Recent(ctx, req.AuthorID, c.now().Add(-c.retention))
	if err != nil {
		return domain.Decision{}, fmt.Errorf("load edit buffer for %s: %w", req.AuthorID, err)
	}

	match, score := c.bestMatch(normalized, entries)
	if match == nil {
		return decision, nil
	}

	decision.Via = domain.MatchBuffer
	decision.ArtifactID = match.ArtifactID
	decision.Score = score
	decision.Match = match
	if CompareIDs(req.SourceItemID, match.SourceItemID) > 0 {
		decision.Action = domain.ActionUpdateExisting
	} else {
		decision.Action = domain.ActionSkipDuplicate
	}
	return decision, nil
}

// bestMatch picks the most recently created entry scoring at or above the threshold.
func (c *Classifier) bestMatch(normalized string, entries []domain.EditBufferEntry) (*domain.EditBufferEntry, float64) {
	var (
		best      *domain.EditBufferEntry
		bestScore float64
	)
	for i := range entries {
		entry := entries[i]
		if entry.Superseded {
			continue
		}
		score := Similarity(normalized, entry.NormalizedText)
		if score < c.threshold {
			continue
		}
		if best == nil || newerEntry(entry, *best) {
			e := entry
			best = &e
			bestScore = score
		}
	}
	return best, bestScore
}

func newerEntry(a, b domain.EditBufferEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return CompareIDs(a.SourceItemID, b.SourceItemID) > 0
}
