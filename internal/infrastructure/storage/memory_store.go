package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/ports"
)

type recordKey struct {
	platform string
	itemID   string
}

type bufferKey struct {
	sourceID string
	itemID   string
}

// MemoryStore keeps all state in process memory. Used for tests and dry runs.
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]domain.SourceScheduleState
	records   map[recordKey]domain.PublishedRecord
	buffer    map[bufferKey]domain.EditBufferEntry
}

var _ ports.Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules: map[string]domain.SourceScheduleState{},
		records:   map[recordKey]domain.PublishedRecord{},
		buffer:    map[bufferKey]domain.EditBufferEntry{},
	}
}

func (m *MemoryStore) GetSchedule(_ context.Context, sourceID string) (domain.SourceScheduleState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.schedules[sourceID]
	return st, ok, nil
}

func (m *MemoryStore) SaveSchedule(_ context.Context, state domain.SourceScheduleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[state.SourceID] = state
	return nil
}

func (m *MemoryStore) ListSchedules(_ context.Context) ([]domain.SourceScheduleState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SourceScheduleState, 0, len(m.schedules))
	for _, st := range m.schedules {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (m *MemoryStore) Lookup(_ context.Context, platform, sourceItemID string) (domain.PublishedRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey{platform, sourceItemID}]
	return rec, ok, nil
}

func (m *MemoryStore) Record(_ context.Context, record domain.PublishedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{record.Platform, record.SourceItemID}
	if existing, ok := m.records[key]; ok {
		if err := checkConflict(existing, record); err != nil {
			return err
		}
	}
	m.records[key] = record
	return nil
}

func (m *MemoryStore) UpdateFingerprint(_ context.Context, platform, sourceItemID, fingerprint string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{platform, sourceItemID}
	rec, ok := m.records[key]
	if !ok {
		return &domain.StorageError{Op: "update fingerprint", Err: domain.ErrNotFound}
	}
	rec.Fingerprint = fingerprint
	rec.PublishedAt = at
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) Insert(_ context.Context, entry domain.EditBufferEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bufferKey{entry.SourceID, entry.SourceItemID}
	if existing, ok := m.buffer[key]; ok && existing.Superseded {
		entry.Superseded = true
	}
	m.buffer[key] = entry
	return nil
}

func (m *MemoryStore) Get(_ context.Context, sourceID, sourceItemID string) (domain.EditBufferEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.buffer[bufferKey{sourceID, sourceItemID}]
	return e, ok, nil
}

func (m *MemoryStore) Recent(_ context.Context, authorID string, since time.Time) ([]domain.EditBufferEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.EditBufferEntry
	for _, e := range m.buffer {
		if e.AuthorID != authorID || e.Superseded || e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) MarkSuperseded(_ context.Context, sourceID, sourceItemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bufferKey{sourceID, sourceItemID}
	e, ok := m.buffer[key]
	if !ok {
		return nil
	}
	e.Superseded = true
	m.buffer[key] = e
	return nil
}

func (m *MemoryStore) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.buffer {
		if e.CreatedAt.Before(olderThan) {
			delete(m.buffer, k)
			n++
		}
	}
	return n, nil
}

// Entries returns every buffered entry, superseded ones included.
func (m *MemoryStore) Entries() []domain.EditBufferEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.EditBufferEntry, 0, len(m.buffer))
	for _, e := range m.buffer {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceItemID < out[j].SourceItemID })
	return out
}

func (m *MemoryStore) Close() error { return nil }

// checkConflict rejects a different artifact for an existing key whose content did not change.
func checkConflict(existing, incoming domain.PublishedRecord) error {
	if existing.ArtifactID != incoming.ArtifactID && existing.Fingerprint == incoming.Fingerprint {
		return &domain.ConflictError{
			Platform:     incoming.Platform,
			SourceItemID: incoming.SourceItemID,
			Existing:     existing.ArtifactID,
			Attempted:    incoming.ArtifactID,
		}
	}
	return nil
}
