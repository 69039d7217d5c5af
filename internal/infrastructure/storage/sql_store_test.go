package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/ports"
)

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := OpenSQL(context.Background(), DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Both backends must behave identically.
func stores(t *testing.T) map[string]ports.Store {
	return map[string]ports.Store{
		"sqlite": openSQLite(t),
		"memory": NewMemoryStore(),
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	ctx := context.Background()
	check := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := s.GetSchedule(ctx, "feed-a")
			require.NoError(t, err)
			assert.False(t, found)

			st := domain.SourceScheduleState{
				SourceID:              "feed-a",
				LastCheckAt:           check,
				ConsecutiveErrorCount: 2,
				ItemsPublishedToday:   5,
				DayCounterAnchor:      "2025-03-01",
			}
			require.NoError(t, s.SaveSchedule(ctx, st))

			got, found, err := s.GetSchedule(ctx, "feed-a")
			require.NoError(t, err)
			require.True(t, found)
			assert.True(t, got.LastCheckAt.Equal(check))
			assert.True(t, got.LastSuccessAt.IsZero(), "null last_success_at stays zero")
			assert.Equal(t, 2, got.ConsecutiveErrorCount)
			assert.Equal(t, 5, got.ItemsPublishedToday)
			assert.Equal(t, "2025-03-01", got.DayCounterAnchor)

			st.LastSuccessAt = check
			st.ConsecutiveErrorCount = 0
			require.NoError(t, s.SaveSchedule(ctx, st))
			require.NoError(t, s.SaveSchedule(ctx, domain.SourceScheduleState{SourceID: "feed-b"}))

			all, err := s.ListSchedules(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "feed-a", all[0].SourceID)
			assert.True(t, all[0].LastSuccessAt.Equal(check))
			assert.Zero(t, all[0].ConsecutiveErrorCount)
		})
	}
}

func TestPublishedIndex(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec := domain.PublishedRecord{
				Platform:     "rss",
				SourceItemID: "100",
				ArtifactID:   "m1",
				Fingerprint:  "fp1",
				PublishedAt:  at,
			}
			require.NoError(t, s.Record(ctx, rec))
			require.NoError(t, s.Record(ctx, rec), "re-recording the same artifact is idempotent")

			conflicting := rec
			conflicting.ArtifactID = "m2"
			err := s.Record(ctx, conflicting)
			var conflict *domain.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, "m1", conflict.Existing)
			assert.Equal(t, domain.KindConflict, domain.KindOf(err))

			require.NoError(t, s.UpdateFingerprint(ctx, "rss", "100", "fp2", at.Add(time.Hour)))
			got, found, err := s.Lookup(ctx, "rss", "100")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "m1", got.ArtifactID)
			assert.Equal(t, "fp2", got.Fingerprint)
			assert.True(t, got.PublishedAt.Equal(at.Add(time.Hour)))

			_, found, err = s.Lookup(ctx, "youtube", "100")
			require.NoError(t, err)
			assert.False(t, found, "platform is part of the key")

			err = s.UpdateFingerprint(ctx, "rss", "missing", "fp", at)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrNotFound))
			assert.Equal(t, domain.KindStorage, domain.KindOf(err))
		})
	}
}

func TestEditBuffer(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"1", "2", "3"} {
				require.NoError(t, s.Insert(ctx, domain.EditBufferEntry{
					SourceID:       "feed-a",
					AuthorID:       "alice",
					SourceItemID:   id,
					Fingerprint:    "fp" + id,
					NormalizedText: "text " + id,
					ArtifactID:     "m" + id,
					CreatedAt:      base.Add(time.Duration(i) * time.Hour),
				}))
			}
			require.NoError(t, s.Insert(ctx, domain.EditBufferEntry{
				SourceID: "feed-a", AuthorID: "bob", SourceItemID: "9", CreatedAt: base,
			}))

			recent, err := s.Recent(ctx, "alice", base.Add(30*time.Minute))
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "3", recent[0].SourceItemID, "newest first")
			assert.Equal(t, "text 3", recent[0].NormalizedText)

			require.NoError(t, s.MarkSuperseded(ctx, "feed-a", "3"))
			recent, err = s.Recent(ctx, "alice", base)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "2", recent[0].SourceItemID)

			entry, found, err := s.Get(ctx, "feed-a", "3")
			require.NoError(t, err)
			require.True(t, found, "superseded entries stay readable by id")
			assert.True(t, entry.Superseded)
			assert.Equal(t, "m3", entry.ArtifactID)
			assert.Equal(t, "fp3", entry.Fingerprint)
			assert.True(t, base.Add(2*time.Hour).Equal(entry.CreatedAt))

			_, found, err = s.Get(ctx, "feed-b", "3")
			require.NoError(t, err)
			assert.False(t, found)

			// re-inserting a superseded entry keeps it out of matching
			require.NoError(t, s.Insert(ctx, domain.EditBufferEntry{
				SourceID: "feed-a", AuthorID: "alice", SourceItemID: "3", CreatedAt: base.Add(5 * time.Hour),
			}))
			recent, err = s.Recent(ctx, "alice", base)
			require.NoError(t, err)
			assert.Len(t, recent, 2)

			purged, err := s.Purge(ctx, base.Add(90*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(3), purged)

			recent, err = s.Recent(ctx, "alice", time.Time{})
			require.NoError(t, err)
			assert.Empty(t, recent)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	require.Error(t, err)
	assert.Equal(t, domain.KindPermanent, domain.KindOf(err))
}
