package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/docserve/internal/build"
	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/logfields"
)

// DefaultLimit is the number of records Recent returns for a non-positive limit.
const DefaultLimit = 20

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ Store      = (*SQLiteStore)(nil)
	_ build.Sink = (*SQLiteStore)(nil)
)

// Open creates or opens a history database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryHistory, "open history database").
			WithContext("path", dbPath).
			Build()
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryHistory, "initialize history schema").
			WithContext("path", dbPath).
			Build()
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		generation INTEGER NOT NULL,
		mode TEXT NOT NULL,
		outcome TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		pages INTEGER NOT NULL,
		rendered INTEGER NOT NULL,
		recomposed INTEGER NOT NULL,
		warnings TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_builds_build_id ON builds(build_id);
	CREATE INDEX IF NOT EXISTS idx_builds_started_at ON builds(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds a record to the store.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var warnings []byte
	if len(rec.Warnings) > 0 {
		var err error
		if warnings, err = json.Marshal(rec.Warnings); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryHistory, "marshal warnings").Build()
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (build_id, generation, mode, outcome, started_at, duration_ns, pages, rendered, recomposed, warnings, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BuildID, int64(rec.Generation), rec.Mode, rec.Outcome, rec.StartedAt.UnixNano(), int64(rec.Duration),
		rec.Pages, rec.Rendered, rec.Recomposed, string(warnings), rec.Error,
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHistory, "insert build record").
			WithContext("build_id", rec.BuildID).
			Build()
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, build_id, generation, mode, outcome, started_at, duration_ns, pages, rendered, recomposed, warnings, error
		FROM builds ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryHistory, "query build records").Build()
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryHistory, "iterate build records").Build()
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec        Record
		generation int64
		startedAt  int64
		duration   int64
		warnings   sql.NullString
		errText    sql.NullString
	)
	if err := rows.Scan(&rec.ID, &rec.BuildID, &generation, &rec.Mode, &rec.Outcome, &startedAt, &duration,
		&rec.Pages, &rec.Rendered, &rec.Recomposed, &warnings, &errText); err != nil {
		return Record{}, ferrors.WrapError(err, ferrors.CategoryHistory, "scan build record").Build()
	}
	rec.Generation = uint64(generation)
	rec.StartedAt = time.Unix(0, startedAt)
	rec.Duration = time.Duration(duration)
	rec.Error = errText.String
	if warnings.Valid && warnings.String != "" {
		if err := json.Unmarshal([]byte(warnings.String), &rec.Warnings); err != nil {
			return Record{}, ferrors.WrapError(err, ferrors.CategoryHistory, "unmarshal warnings").Build()
		}
	}
	return rec, nil
}

// BuildFinished stores r. Failures are logged and never fail the build.
func (s *SQLiteStore) BuildFinished(ctx context.Context, r *build.Report) {
	if err := s.Append(context.WithoutCancel(ctx), FromReport(r)); err != nil {
		slog.Warn("Failed to record build history", logfields.BuildID(r.BuildID), logfields.Error(err))
	}
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
