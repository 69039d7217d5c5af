package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/ports"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS source_schedule (
	source_id TEXT PRIMARY KEY,
	last_check_at BIGINT,
	last_success_at BIGINT,
	consecutive_errors INTEGER NOT NULL DEFAULT 0,
	items_published_today INTEGER NOT NULL DEFAULT 0,
	day_anchor TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS published_records (
	platform TEXT NOT NULL,
	source_item_id TEXT NOT NULL,
	artifact_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	published_at BIGINT NOT NULL,
	thread_root_item_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (platform, source_item_id)
);
CREATE TABLE IF NOT EXISTS edit_buffer (
	source_id TEXT NOT NULL,
	source_item_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	artifact_id TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	superseded BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (source_id, source_item_id)
);
CREATE INDEX IF NOT EXISTS idx_edit_buffer_author ON edit_buffer (author_id, created_at);
`

var (
	scheduleColumns = []string{"source_id", "last_check_at", "last_success_at", "consecutive_errors", "items_published_today", "day_anchor"}
	recordColumns   = []string{"platform", "source_item_id", "artifact_id", "fingerprint", "published_at", "thread_root_item_id"}
	bufferColumns   = []string{"source_id", "source_item_id", "author_id", "fingerprint", "normalized_text", "artifact_id", "created_at", "superseded"}
)

// SQLStore persists publication state in SQLite or Postgres.
type SQLStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.Store = (*SQLStore)(nil)

// Open returns the store selected by driver. An empty driver means SQLite.
func Open(ctx context.Context, driver, dsn string) (ports.Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case "", DriverSQLite, DriverPostgres:
		return OpenSQL(ctx, driver, dsn)
	default:
		return nil, &domain.ConfigError{Err: fmt.Errorf("unknown database driver %q", driver)}
	}
}

// OpenSQL opens the database, applies pragmas for SQLite and creates the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}

	if driver == DriverSQLite {
		// SQLite has a single writer; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, &domain.StorageError{Op: "pragma", Err: err}
			}
		}
	}

	store := NewSQLStore(db, driver)
	if err := store.initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wires an already opened sql.DB. The schema is not created.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if driver == DriverPostgres {
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &SQLStore{db: db, sb: sb}
}

func (s *SQLStore) initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &domain.StorageError{Op: "create schema", Err: err}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// GetSchedule loads the schedule row of a source.
func (s *SQLStore) GetSchedule(ctx context.Context, sourceID string) (domain.SourceScheduleState, bool, error) {
	query, args, err := s.sb.Select(scheduleColumns...).
		From("source_schedule").
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return domain.SourceScheduleState{}, false, &domain.StorageError{Op: "build schedule query", Err: err}
	}

	st, err := scanSchedule(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SourceScheduleState{}, false, nil
	}
	if err != nil {
		return domain.SourceScheduleState{}, false, &domain.StorageError{Op: "get schedule", Err: err}
	}
	return st, true, nil
}

// SaveSchedule upserts the schedule row of a source.
func (s *SQLStore) SaveSchedule(ctx context.Context, st domain.SourceScheduleState) error {
	query, args, err := s.sb.Insert("source_schedule").
		Columns(scheduleColumns...).
		Values(st.SourceID, nullableTime(st.LastCheckAt), nullableTime(st.LastSuccessAt),
			st.ConsecutiveErrorCount, st.ItemsPublishedToday, st.DayCounterAnchor).
		Suffix(`ON CONFLICT (source_id) DO UPDATE
			SET last_check_at = excluded.last_check_at,
			    last_success_at = excluded.last_success_at,
			    consecutive_errors = excluded.consecutive_errors,
			    items_published_today = excluded.items_published_today,
			    day_anchor = excluded.day_anchor`).
		ToSql()
	if err != nil {
		return &domain.StorageError{Op: "build schedule upsert", Err: err}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.StorageError{Op: "save schedule", Err: err}
	}
	return nil
}

// ListSchedules returns every schedule row ordered by source id.
func (s *SQLStore) ListSchedules(ctx context.Context) ([]domain.SourceScheduleState, error) {
	query, args, err := s.sb.Select(scheduleColumns...).From("source_schedule").OrderBy("source_id").ToSql()
	if err != nil {
		return nil, &domain.StorageError{Op: "build schedule list", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "list schedules", Err: err}
	}
	defer rows.Close()

	var result []domain.SourceScheduleState
	for rows.Next() {
		st, err := scanSchedule(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan schedule", Err: err}
		}
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "iterate schedules", Err: err}
	}
	return result, nil
}

// Lookup finds the published record of a source item.
func (s *SQLStore) Lookup(ctx context.Context, platform, sourceItemID string) (domain.PublishedRecord, bool, error) {
	rec, found, err := s.lookup(ctx, s.db, platform, sourceItemID)
	if err != nil {
		return domain.PublishedRecord{}, false, &domain.StorageError{Op: "lookup record", Err: err}
	}
	return rec, found, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) lookup(ctx context.Context, q queryRower, platform, sourceItemID string) (domain.PublishedRecord, bool, error) {
	query, args, err := s.sb.Select(recordColumns...).
		From("published_records").
		Where(sq.Eq{"platform": platform, "source_item_id": sourceItemID}).
		ToSql()
	if err != nil {
		return domain.PublishedRecord{}, false, err
	}

	var (
		rec         domain.PublishedRecord
		publishedAt int64
	)
	err = q.QueryRowContext(ctx, query, args...).Scan(&rec.Platform, &rec.SourceItemID, &rec.ArtifactID,
		&rec.Fingerprint, &publishedAt, &rec.ThreadRootItemID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PublishedRecord{}, false, nil
	}
	if err != nil {
		return domain.PublishedRecord{}, false, err
	}
	rec.PublishedAt = fromUnixNano(publishedAt)
	return rec, true, nil
}

// Record upserts a published record, rejecting a second artifact for unchanged content.
func (s *SQLStore) Record(ctx context.Context, rec domain.PublishedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "begin record", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	existing, found, err := s.lookup(ctx, tx, rec.Platform, rec.SourceItemID)
	if err != nil {
		return &domain.StorageError{Op: "lookup record", Err: err}
	}
	if found {
		if err := checkConflict(existing, rec); err != nil {
			return err
		}
	}

	query, args, err := s.sb.Insert("published_records").
		Columns(recordColumns...).
		Values(rec.Platform, rec.SourceItemID, rec.ArtifactID, rec.Fingerprint,
			unixNano(rec.PublishedAt), rec.ThreadRootItemID).
		Suffix(`ON CONFLICT (platform, source_item_id) DO UPDATE
			SET artifact_id = excluded.artifact_id,
			    fingerprint = excluded.fingerprint,
			    published_at = excluded.published_at,
			    thread_root_item_id = excluded.thread_root_item_id`).
		ToSql()
	if err != nil {
		return &domain.StorageError{Op: "build record upsert", Err: err}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return &domain.StorageError{Op: "upsert record", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "commit record", Err: err}
	}
	return nil
}

// UpdateFingerprint stores the fingerprint of an edited item, keeping its artifact.
func (s *SQLStore) UpdateFingerprint(ctx context.Context, platform, sourceItemID, fingerprint string, at time.Time) error {
	query, args, err := s.sb.Update("published_records").
		Set("fingerprint", fingerprint).
		Set("published_at", unixNano(at)).
		Where(sq.Eq{"platform": platform, "source_item_id": sourceItemID}).
		ToSql()
	if err != nil {
		return &domain.StorageError{Op: "build fingerprint update", Err: err}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &domain.StorageError{Op: "update fingerprint", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: "update fingerprint", Err: err}
	}
	if n == 0 {
		return &domain.StorageError{Op: "update fingerprint", Err: fmt.Errorf("%s/%s: %w", platform, sourceItemID, domain.ErrNotFound)}
	}
	return nil
}

// Insert upserts an edit buffer entry. A superseded entry stays superseded.
func (s *SQLStore) Insert(ctx context.Context, e domain.EditBufferEntry) error {
	query, args, err := s.sb.Insert("edit_buffer").
		Columns(bufferColumns...).
		Values(e.SourceID, e.SourceItemID, e.AuthorID, e.Fingerprint, e.NormalizedText,
			e.ArtifactID, unixNano(e.CreatedAt), e.Superseded).
		Suffix(`ON CONFLICT (source_id, source_item_id) DO UPDATE
			SET author_id = excluded.author_id,
			    fingerprint = excluded.fingerprint,
			    normalized_text = excluded.normalized_text,
			    artifact_id = excluded.artifact_id,
			    created_at = excluded.created_at,
			    superseded = (edit_buffer.superseded OR excluded.superseded)`).
		ToSql()
	if err != nil {
		return &domain.StorageError{Op: "build buffer insert", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.StorageError{Op: "insert buffer entry", Err: err}
	}
	return nil
}

// Get returns the buffer entry of one source item.
func (s *SQLStore) Get(ctx context.Context, sourceID, sourceItemID string) (domain.EditBufferEntry, bool, error) {
	query, args, err := s.sb.Select(bufferColumns...).
		From("edit_buffer").
		Where(sq.Eq{"source_id": sourceID, "source_item_id": sourceItemID}).
		ToSql()
	if err != nil {
		return domain.EditBufferEntry{}, false, &domain.StorageError{Op: "build buffer get", Err: err}
	}

	e, err := scanBufferEntry(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EditBufferEntry{}, false, nil
	}
	if err != nil {
		return domain.EditBufferEntry{}, false, &domain.StorageError{Op: "get buffer entry", Err: err}
	}
	return e, true, nil
}

func scanBufferEntry(row rowScanner) (domain.EditBufferEntry, error) {
	var (
		e         domain.EditBufferEntry
		createdAt int64
	)
	if err := row.Scan(&e.SourceID, &e.SourceItemID, &e.AuthorID, &e.Fingerprint,
		&e.NormalizedText, &e.ArtifactID, &createdAt, &e.Superseded); err != nil {
		return domain.EditBufferEntry{}, err
	}
	e.CreatedAt = fromUnixNano(createdAt)
	return e, nil
}

// Recent returns non-superseded entries of an author created at or after since, newest first.
func (s *SQLStore) Recent(ctx context.Context, authorID string, since time.Time) ([]domain.EditBufferEntry, error) {
	query, args, err := s.sb.Select(bufferColumns...).
		From("edit_buffer").
		Where(sq.Eq{"author_id": authorID, "superseded": false}).
		Where(sq.GtOrEq{"created_at": unixNano(since)}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, &domain.StorageError{Op: "build buffer query", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "query buffer", Err: err}
	}
	defer rows.Close()

	var result []domain.EditBufferEntry
	for rows.Next() {
		e, err := scanBufferEntry(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan buffer entry", Err: err}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "iterate buffer", Err: err}
	}
	return result, nil
}

// MarkSuperseded excludes an entry from further matching.
func (s *SQLStore) MarkSuperseded(ctx context.Context, sourceID, sourceItemID string) error {
	query, args, err := s.sb.Update("edit_buffer").
		Set("superseded", true).
		Where(sq.Eq{"source_id": sourceID, "source_item_id": sourceItemID}).
		ToSql()
	if err != nil {
		return &domain.StorageError{Op: "build supersede", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.StorageError{Op: "mark superseded", Err: err}
	}
	return nil
}

// Purge deletes buffer entries created before olderThan.
func (s *SQLStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	query, args, err := s.sb.Delete("edit_buffer").
		Where(sq.Lt{"created_at": unixNano(olderThan)}).
		ToSql()
	if err != nil {
		return 0, &domain.StorageError{Op: "build purge", Err: err}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &domain.StorageError{Op: "purge buffer", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.StorageError{Op: "purge buffer", Err: err}
	}
	return n, nil
}

func scanSchedule(row rowScanner) (domain.SourceScheduleState, error) {
	var (
		st          domain.SourceScheduleState
		lastCheck   sql.NullInt64
		lastSuccess sql.NullInt64
	)
	if err := row.Scan(&st.SourceID, &lastCheck, &lastSuccess, &st.ConsecutiveErrorCount,
		&st.ItemsPublishedToday, &st.DayCounterAnchor); err != nil {
		return domain.SourceScheduleState{}, err
	}
	if lastCheck.Valid {
		st.LastCheckAt = fromUnixNano(lastCheck.Int64)
	}
	if lastSuccess.Valid {
		st.LastSuccessAt = fromUnixNano(lastSuccess.Int64)
	}
	return st, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

// unixNano maps the zero time to 0 instead of an undefined value.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
