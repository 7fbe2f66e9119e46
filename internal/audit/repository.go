// Package audit records session lifecycle history and notable session
// events in SQLite, and provides query access for inspection tooling.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event kinds recorded against a session.
const (
	// KindHealthWarning is recorded when a schedule entry misses its
	// response deadline repeatedly.
	KindHealthWarning = "health_warning"

	// KindBusFault is recorded when the hardware channel reports an
	// unrecoverable fault.
	KindBusFault = "bus_fault"
)

// Session outcomes.
const (
	OutcomeStopped = "stopped"
	OutcomeFailed  = "failed"
)

// SessionRecord represents one row in the sessions table.
type SessionRecord struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	Name      string    `json:"name"`
	Mode      string    `json:"mode"`
	RunType   string    `json:"run_type"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	Outcome   string    `json:"outcome,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// SessionEvent represents one row in the session_events table.
type SessionEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which session records to return.
type Filter struct {
	Device  string // optional: filter by device identifier
	Outcome string // optional: filter by outcome (stopped, failed)
	Limit   int    // default 50, max 200
	Offset  int    // pagination offset
}

// ListResult contains paginated session records.
type ListResult struct {
	Sessions []SessionRecord `json:"sessions"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// Recorder is the write-side interface used by the session layer.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// SessionStarted inserts a new session record. The ID and StartedAt
	// are generated if empty, and the generated ID is written back.
	SessionStarted(ctx context.Context, rec *SessionRecord) error

	// SessionEnded marks a session as finished with the given outcome.
	// errMsg may be empty for clean stops.
	SessionEnded(ctx context.Context, id, outcome, errMsg string) error

	// RecordEvent attributes an event to a session.
	RecordEvent(ctx context.Context, ev *SessionEvent) error
}

// SQLiteRepository implements Recorder and query access using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the
// session audit schema migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SessionStarted inserts a new session record.
func (r *SQLiteRepository) SessionStarted(ctx context.Context, rec *SessionRecord) error {
	if rec.ID == "" {
		rec.ID = "ses-" + uuid.NewString()[:8]
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, device, name, mode, run_type, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Device, rec.Name, rec.Mode, rec.RunType,
		rec.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session record: %w", err)
	}
	return nil
}

// SessionEnded marks a session as finished.
func (r *SQLiteRepository) SessionEnded(ctx context.Context, id, outcome, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET stopped_at = ?, outcome = ?, error = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339),
		outcome,
		nullableString(errMsg),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating session record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking session update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// RecordEvent attributes an event to a session.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, ev *SessionEvent) error {
	if ev.ID == "" {
		ev.ID = "evt-" + uuid.NewString()[:8]
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_events (id, session_id, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Kind, ev.Detail,
		ev.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session event: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListSessions returns session records matching the filter, most recent first.
func (r *SQLiteRepository) ListSessions(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for session queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Device != "" {
		conditions = append(conditions, "device = ?")
		args = append(args, filter.Device)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM sessions %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, device, name, mode, run_type, started_at, stopped_at, outcome, error FROM sessions %s ORDER BY started_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	if sessions == nil {
		sessions = []SessionRecord{}
	}

	return &ListResult{
		Sessions: sessions,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}

// ListEvents returns all events recorded for a session, oldest first.
func (r *SQLiteRepository) ListEvents(ctx context.Context, sessionID string) ([]SessionEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, kind, detail, created_at
		 FROM session_events WHERE session_id = ? ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying session events: %w", err)
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var ev SessionEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning session event: %w", err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", createdAt, err)
		}
		ev.CreatedAt = t
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session events: %w", err)
	}
	return events, nil
}

// scanSession reads one session row.
func scanSession(rows *sql.Rows) (SessionRecord, error) {
	var rec SessionRecord
	var startedAt string
	var stoppedAt, outcome, errMsg sql.NullString

	if err := rows.Scan(&rec.ID, &rec.Device, &rec.Name, &rec.Mode, &rec.RunType,
		&startedAt, &stoppedAt, &outcome, &errMsg); err != nil {
		return SessionRecord{}, fmt.Errorf("scanning session: %w", err)
	}

	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("parsing session timestamp %q: %w", startedAt, err)
	}
	rec.StartedAt = t

	if stoppedAt.Valid {
		t, err := time.Parse(time.RFC3339, stoppedAt.String)
		if err != nil {
			return SessionRecord{}, fmt.Errorf("parsing session timestamp %q: %w", stoppedAt.String, err)
		}
		rec.StoppedAt = t
	}
	if outcome.Valid {
		rec.Outcome = outcome.String
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	return rec, nil
}

// NopRecorder discards all writes. Used when auditing is disabled.
type NopRecorder struct{}

// SessionStarted implements Recorder.
func (NopRecorder) SessionStarted(_ context.Context, rec *SessionRecord) error {
	if rec.ID == "" {
		rec.ID = "ses-" + uuid.NewString()[:8]
	}
	return nil
}

// SessionEnded implements Recorder.
func (NopRecorder) SessionEnded(context.Context, string, string, string) error { return nil }

// RecordEvent implements Recorder.
func (NopRecorder) RecordEvent(context.Context, *SessionEvent) error { return nil }
