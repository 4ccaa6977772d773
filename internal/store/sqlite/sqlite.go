// Package sqlite implements the cross-reload registry store on SQLite.
// Unlike the in-memory store it also survives process restart, which makes it
// suitable for hosts that persist their reload generation counter on disk.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"

	"github.com/steveyegge/fiberwatch/internal/store"
	"github.com/steveyegge/fiberwatch/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS monitor_entries (
	service      TEXT    NOT NULL,
	fiber_id     INTEGER NOT NULL,
	is_permanent INTEGER NOT NULL,
	payload      TEXT    NOT NULL,
	updated_at   TEXT    NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (service, fiber_id)
);

CREATE INDEX IF NOT EXISTS idx_monitor_entries_service
	ON monitor_entries(service);
`

// SQLiteStore implements store.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a SQLite-backed store at path. The parent directory is created
// if missing. The initial connection is retried with exponential backoff since
// another generation of the host may still hold the database during a reload
// handover.
func New(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(db.Ping, policy); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// LoadRegistry reads every persisted entry for service into a snapshot.
func (s *SQLiteStore) LoadRegistry(ctx context.Context, service string) (*store.RegistrySnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, is_permanent FROM monitor_entries WHERE service = ?`, service)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry: %w", err)
	}
	defer rows.Close()

	snap := store.NewRegistrySnapshot()
	for rows.Next() {
		var payload string
		var permanent bool
		if err := rows.Scan(&payload, &permanent); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		var entry types.MonitorEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry payload: %w", err)
		}
		if permanent {
			snap.Permanent[entry.ID] = &entry
		} else {
			snap.Temporary[entry.ID] = &entry
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registry rows: %w", err)
	}
	return snap, nil
}

// SaveEntry upserts one entry keyed by (service, fiber id).
func (s *SQLiteStore) SaveEntry(ctx context.Context, service string, entry *types.MonitorEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitor_entries (service, fiber_id, is_permanent, payload, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(service, fiber_id) DO UPDATE SET
			is_permanent = excluded.is_permanent,
			payload      = excluded.payload,
			updated_at   = excluded.updated_at`,
		service, int64(entry.ID), entry.IsPermanent, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save entry %d: %w", entry.ID, err)
	}
	return nil
}

// DeleteEntry removes the entry for id from both mappings.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, service string, id types.FiberID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM monitor_entries WHERE service = ? AND fiber_id = ?`, service, int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete entry %d: %w", id, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
