package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"wzrd/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// Recorder is the write side of the event log as seen by sessions and
// batches.
type Recorder interface {
	Record(ctx context.Context, ev protocol.Event) error
	OpenSession(ctx context.Context, s protocol.SessionRow) error
	CloseSession(ctx context.Context, id, status string) error
}

// Discard is a Recorder that drops everything.
type Discard struct{}

func (Discard) Record(context.Context, protocol.Event) error          { return nil }
func (Discard) OpenSession(context.Context, protocol.SessionRow) error { return nil }
func (Discard) CloseSession(context.Context, string, string) error     { return nil }

// Store is the writable event log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path with WAL
// journaling and a 5-second busy timeout, and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s on %s: %w", pragma, path, err)
		}
	}
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends ev. ID and CreatedAt are assigned by the database.
func (s *Store) Record(ctx context.Context, ev protocol.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, source, session_id, item, payload) VALUES (?, ?, ?, ?, ?)`,
		ev.Type, ev.Source, ev.SessionID, ev.Item, ev.Payload,
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", ev.Type, err)
	}
	return nil
}

// OpenSession inserts a session row with status open.
func (s *Store) OpenSession(ctx context.Context, row protocol.SessionRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, kind, port, pid, status) VALUES (?, ?, ?, ?, 'open')`,
		row.ID, row.Kind, row.Port, row.PID,
	)
	if err != nil {
		return fmt.Errorf("open session %s: %w", row.ID, err)
	}
	return nil
}

// CloseSession stamps the session closed with status.
func (s *Store) CloseSession(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, closed_at = datetime('now') WHERE id = ? AND closed_at IS NULL`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("close session %s: not open", id)
	}
	return nil
}
