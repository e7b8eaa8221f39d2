package infra

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// SQLiteJournal implements domain.Journal on a local SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenJournal opens (creating if needed) the journal at dbPath and migrates it.
func OpenJournal(dbPath string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

// migrate runs idempotent schema migrations.
func (j *SQLiteJournal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		manifest TEXT NOT NULL,
		pid INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		outcome TEXT,
		attempt INTEGER
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT,
		at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// BeginSession records a new session row.
func (j *SQLiteJournal) BeginSession(ctx context.Context, rec domain.SessionRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions (id, manifest, pid, started_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Manifest, rec.PID, rec.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Event appends an event to a session.
func (j *SQLiteJournal) Event(ctx context.Context, sessionID, kind, detail string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (id, session_id, kind, detail, at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), sessionID, kind, detail, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// FinishSession stamps the outcome of a session.
func (j *SQLiteJournal) FinishSession(ctx context.Context, sessionID, outcome string, attempt int) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE sessions SET finished_at = ?, outcome = ?, attempt = ? WHERE id = ?`,
		time.Now().UnixMilli(), outcome, attempt, sessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Recent returns the newest sessions first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, manifest, pid, started_at, finished_at, outcome, attempt
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionRecord
	for rows.Next() {
		var (
			rec      domain.SessionRecord
			started  int64
			finished sql.NullInt64
			outcome  sql.NullString
			attempt  sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Manifest, &rec.PID, &started, &finished, &outcome, &attempt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			rec.FinishedAt = time.UnixMilli(finished.Int64)
		}
		rec.Outcome = outcome.String
		rec.Attempt = int(attempt.Int64)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Events returns the events of one session in order.
func (j *SQLiteJournal) Events(ctx context.Context, sessionID string) ([]JournalEvent, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT kind, detail, at FROM events WHERE session_id = ? ORDER BY at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []JournalEvent
	for rows.Next() {
		var (
			ev     JournalEvent
			detail sql.NullString
			at     int64
		)
		if err := rows.Scan(&ev.Kind, &detail, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Detail = detail.String
		ev.At = time.UnixMilli(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// JournalEvent is one row of the events table.
type JournalEvent struct {
	Kind   string
	Detail string
	At     time.Time
}

// NopJournal discards everything. Used when the journal cannot be opened.
type NopJournal struct{}

func (NopJournal) BeginSession(context.Context, domain.SessionRecord) error { return nil }

func (NopJournal) Event(context.Context, string, string, string) error { return nil }

func (NopJournal) FinishSession(context.Context, string, string, int) error { return nil }

func (NopJournal) Recent(context.Context, int) ([]domain.SessionRecord, error) { return nil, nil }

func (NopJournal) Close() error { return nil }

// Ensure journals implement domain.Journal.
var (
	_ domain.Journal = (*SQLiteJournal)(nil)
	_ domain.Journal = NopJournal{}
)
