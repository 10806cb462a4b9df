// Package journal records every unit attempt of a suite in SQLite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the journal database inside a suite directory.
const FileName = "journal.db"

// Status values stored per attempt.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

const schema = `CREATE TABLE IF NOT EXISTS entries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_index  INTEGER NOT NULL,
	prompt_id   TEXT    NOT NULL,
	attempt     INTEGER NOT NULL,
	status      TEXT    NOT NULL,
	stage       TEXT,
	raw_bundle  TEXT,
	normalized  TEXT,
	error       TEXT,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_unit ON entries(unit_index, attempt);`

// Entry is one unit attempt.
type Entry struct {
	ID         int64
	UnitIndex  int
	PromptID   string
	Attempt    int
	Status     string
	Stage      string
	RawBundle  string
	Normalized string
	Error      string
	RecordedAt time.Time
}

// Journal wraps a connection to a suite journal.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Option customizes a Journal.
type Option func(*Journal)

// WithClock overrides the clock used for recorded_at.
func WithClock(clock func() time.Time) Option {
	return func(j *Journal) {
		j.now = clock
	}
}

// Open opens or creates the journal in suiteDir.
func Open(ctx context.Context, suiteDir string, opts ...Option) (*Journal, error) {
	if err := os.MkdirAll(suiteDir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(suiteDir, FileName))
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	j := &Journal{db: db, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// OpenReadOnly opens an existing journal for inspection.
// Returns nil, nil if the suite has no journal yet.
func OpenReadOnly(suiteDir string) (*Journal, error) {
	path := filepath.Join(suiteDir, FileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append records one attempt. RecordedAt defaults to the journal clock.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = j.now()
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO entries
		(unit_index, prompt_id, attempt, status, stage, raw_bundle, normalized, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UnitIndex, e.PromptID, e.Attempt, e.Status,
		nullable(e.Stage), nullable(e.RawBundle), nullable(e.Normalized), nullable(e.Error),
		e.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: append unit %d: %w", e.UnitIndex, err)
	}
	return nil
}

// Entries returns the attempts of one unit in attempt order.
func (j *Journal) Entries(ctx context.Context, unitIndex int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT id, unit_index, prompt_id, attempt, status,
		COALESCE(stage, ''), COALESCE(raw_bundle, ''), COALESCE(normalized, ''),
		COALESCE(error, ''), recorded_at
		FROM entries WHERE unit_index = ? ORDER BY attempt ASC, id ASC`, unitIndex)
	if err != nil {
		return nil, fmt.Errorf("journal: query unit %d: %w", unitIndex, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var recorded int64
		if err := rows.Scan(&e.ID, &e.UnitIndex, &e.PromptID, &e.Attempt, &e.Status,
			&e.Stage, &e.RawBundle, &e.Normalized, &e.Error, &recorded); err != nil {
			return nil, err
		}
		e.RecordedAt = time.UnixMilli(recorded).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Attempts returns the number of recorded attempts per unit.
func (j *Journal) Attempts(ctx context.Context) (map[int]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT unit_index, COUNT(*) FROM entries GROUP BY unit_index`)
	if err != nil {
		return nil, fmt.Errorf("journal: count attempts: %w", err)
	}
	defer rows.Close()

	counts := map[int]int{}
	for rows.Next() {
		var index, count int
		if err := rows.Scan(&index, &count); err != nil {
			return nil, err
		}
		counts[index] = count
	}
	return counts, rows.Err()
}

// NextAttempt returns the attempt number for the next try of a unit.
func (j *Journal) NextAttempt(ctx context.Context, unitIndex int) (int, error) {
	var last sql.NullInt64
	err := j.db.QueryRowContext(ctx, `SELECT MAX(attempt) FROM entries WHERE unit_index = ?`, unitIndex).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("journal: last attempt of unit %d: %w", unitIndex, err)
	}
	return int(last.Int64) + 1, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
