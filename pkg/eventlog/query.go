// Package eventlog records and queries wzrd's SQLite log of worker sessions,
// renders, failures and cancellations.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteTime = "2006-01-02 15:04:05"

// Event is a single event read back from the log.
type Event struct {
	ID        int64
	Type      string
	Source    string
	SessionID string
	Item      string
	Payload   string
	CreatedAt time.Time
}

// Session is a session row read back from the log.
type Session struct {
	ID       string
	Kind     string
	Port     int
	PID      int
	Status   string
	OpenedAt time.Time
	ClosedAt *time.Time
}

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// SessionID filters events to one session
	SessionID string

	// EventType filters to a specific event type (e.g., "render_ok")
	EventType string

	// After filters events created after this time (inclusive)
	After *time.Time

	// Before filters events created before this time (inclusive)
	Before *time.Time

	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Reader provides read-only access to the event log.
type Reader struct {
	db *sql.DB
}

// NewReader opens the database in read-only mode so queries never block a
// running writer.
func NewReader(dbPath string) (*Reader, error) {
	// Verify database file exists before attempting to open
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close releases the database connection.
// Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Events retrieves events matching opts, newest first.
// Returns an empty slice if no events match.
func (r *Reader) Events(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []Event{}
	for rows.Next() {
		var (
			e                   Event
			sessionID, item, pl sql.NullString
			createdAt           string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &sessionID, &item, &pl, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.SessionID, e.Item, e.Payload = sessionID.String, item.String, pl.String
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Sessions lists sessions, newest first. limit 0 means no limit.
func (r *Reader) Sessions(ctx context.Context, limit int) ([]Session, error) {
	query := "SELECT id, kind, port, pid, status, opened_at, closed_at FROM sessions ORDER BY opened_at DESC, rowid DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []Session{}
	for rows.Next() {
		var (
			s        Session
			pid      sql.NullInt64
			openedAt string
			closedAt sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Kind, &s.Port, &pid, &s.Status, &openedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.PID = int(pid.Int64)
		if s.OpenedAt, err = parseTime(openedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t, err := parseTime(closedAt.String)
			if err != nil {
				return nil, err
			}
			s.ClosedAt = &t
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		// Fallback: try with timezone format
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, source, session_id, item, payload, created_at FROM events WHERE 1=1"

	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.EventType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.EventType)
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.UTC().Format(sqliteTime))
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.Before.UTC().Format(sqliteTime))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	// Order by newest first
	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}
