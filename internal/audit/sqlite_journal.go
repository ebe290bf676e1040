package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lmpi-dev/lmpi/internal/events"
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// SQLiteJournal implements Journal on a SQLite database.
type SQLiteJournal struct {
	db     *sql.DB
	logger *events.Logger
	now    func() time.Time
}

// NewSQLiteJournal opens or creates the journal at dbPath.
func NewSQLiteJournal(dbPath string, logger *events.Logger) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	j := &SQLiteJournal{
		db:     db,
		logger: logger.WithField("component", "audit_journal"),
		now:    time.Now,
	}

	if err := j.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	// The database holds no secrets but still describes vault activity
	if err := os.Chmod(dbPath, 0600); err != nil {
		j.logger.WithError(err).Debug("Could not restrict journal permissions")
	}

	return j, nil
}

// initialize creates tables and indexes.
func (j *SQLiteJournal) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS audit_events (
        id TEXT PRIMARY KEY,
        occurred_at INTEGER NOT NULL,
        action TEXT NOT NULL,
        subject TEXT NOT NULL DEFAULT '',
        detail TEXT NOT NULL DEFAULT ''
    );

    CREATE INDEX IF NOT EXISTS idx_audit_events_time ON audit_events(occurred_at);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := j.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Record appends event.
func (j *SQLiteJournal) Record(ctx context.Context, event Event) error {
	event, err := prepare(event, j.now)
	if err != nil {
		return err
	}

	_, err = j.db.ExecContext(ctx, `
        INSERT INTO audit_events (id, occurred_at, action, subject, detail)
        VALUES (?, ?, ?, ?, ?)
    `, event.ID, event.Time.UnixNano(), event.Action, event.Subject, event.Detail)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"action":  event.Action,
		"subject": event.Subject,
	}).Debug("Recorded audit event")

	return nil
}

// List returns the newest events first.
func (j *SQLiteJournal) List(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := j.db.QueryContext(ctx, `
        SELECT id, occurred_at, action, subject, detail
        FROM audit_events
        ORDER BY occurred_at DESC, rowid DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var list []Event
	for rows.Next() {
		var e Event
		var occurred int64
		if err := rows.Scan(&e.ID, &occurred, &e.Action, &e.Subject, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Time = time.Unix(0, occurred)
		list = append(list, e)
	}

	return list, rows.Err()
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func prepare(event Event, now func() time.Time) (Event, error) {
	if event.Action == "" {
		return event, ErrInvalidEvent
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Time.IsZero() {
		event.Time = now()
	}
	return event, nil
}
