package audit

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the session audit schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE sessions (
			id          TEXT PRIMARY KEY,
			device      TEXT NOT NULL,
			name        TEXT NOT NULL,
			mode        TEXT NOT NULL,
			run_type    TEXT NOT NULL,
			started_at  TEXT NOT NULL,
			stopped_at  TEXT,
			outcome     TEXT,
			error       TEXT
		) STRICT;
		CREATE TABLE session_events (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL REFERENCES sessions(id),
			kind        TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		) STRICT;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestSessionStarted(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	rec := &SessionRecord{
		Device:  "011121:1",
		Name:    "vcan0",
		Mode:    "master",
		RunType: "lin",
	}

	if err := repo.SessionStarted(ctx, rec); err != nil {
		t.Fatalf("SessionStarted() error = %v", err)
	}

	if rec.ID == "" {
		t.Error("SessionStarted() did not generate an ID")
	}
	if !strings.HasPrefix(rec.ID, "ses-") {
		t.Errorf("generated ID = %q, want ses- prefix", rec.ID)
	}
	if rec.StartedAt.IsZero() {
		t.Error("SessionStarted() did not set StartedAt")
	}

	result, err := repo.ListSessions(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if result.Total != 1 {
		t.Errorf("Total = %d, want 1", result.Total)
	}
	got := result.Sessions[0]
	if got.Device != "011121:1" || got.Mode != "master" || got.RunType != "lin" {
		t.Errorf("stored session = %+v, want device/mode/run_type preserved", got)
	}
	if got.Outcome != "" {
		t.Errorf("Outcome = %q for running session, want empty", got.Outcome)
	}
}

func TestSessionEnded(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	rec := &SessionRecord{Device: "011121:1", Name: "vcan0", Mode: "slave", RunType: "simulator"}
	if err := repo.SessionStarted(ctx, rec); err != nil {
		t.Fatalf("SessionStarted() error = %v", err)
	}

	if err := repo.SessionEnded(ctx, rec.ID, OutcomeFailed, "bus fault"); err != nil {
		t.Fatalf("SessionEnded() error = %v", err)
	}

	result, err := repo.ListSessions(ctx, Filter{Outcome: OutcomeFailed})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}
	got := result.Sessions[0]
	if got.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %q, want %q", got.Outcome, OutcomeFailed)
	}
	if got.Error != "bus fault" {
		t.Errorf("Error = %q, want %q", got.Error, "bus fault")
	}
	if got.StoppedAt.IsZero() {
		t.Error("StoppedAt not set after SessionEnded()")
	}
}

func TestSessionEnded_UnknownID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	err := repo.SessionEnded(context.Background(), "ses-missing", OutcomeStopped, "")
	if err == nil {
		t.Error("SessionEnded() expected error for unknown session ID")
	}
}

func TestRecordEvent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	rec := &SessionRecord{Device: "011121:1", Name: "vcan0", Mode: "master", RunType: "lin"}
	if err := repo.SessionStarted(ctx, rec); err != nil {
		t.Fatalf("SessionStarted() error = %v", err)
	}

	events := []SessionEvent{
		{SessionID: rec.ID, Kind: KindHealthWarning, Detail: "frame 0x23 unanswered"},
		{SessionID: rec.ID, Kind: KindBusFault, Detail: "adapter removed"},
	}
	for i := range events {
		if err := repo.RecordEvent(ctx, &events[i]); err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}

	got, err := repo.ListEvents(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListEvents() returned %d events, want 2", len(got))
	}
	if got[0].Kind != KindHealthWarning {
		t.Errorf("first event kind = %q, want %q", got[0].Kind, KindHealthWarning)
	}
	if got[1].Detail != "adapter removed" {
		t.Errorf("second event detail = %q, want %q", got[1].Detail, "adapter removed")
	}
}

func TestListSessions_Filter(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	devices := []string{"011121:1", "011121:2", "011121:1"}
	var ids []string
	for i, dev := range devices {
		rec := &SessionRecord{
			Device:    dev,
			Name:      "vcan0",
			Mode:      "master",
			RunType:   "lin",
			StartedAt: time.Date(2026, 8, 20, 10, i, 0, 0, time.UTC),
		}
		if err := repo.SessionStarted(ctx, rec); err != nil {
			t.Fatalf("SessionStarted() error = %v", err)
		}
		ids = append(ids, rec.ID)
	}

	// End only the first session.
	if err := repo.SessionEnded(ctx, ids[0], OutcomeStopped, ""); err != nil {
		t.Fatalf("SessionEnded() error = %v", err)
	}

	t.Run("by device", func(t *testing.T) {
		result, err := repo.ListSessions(ctx, Filter{Device: "011121:1"})
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if result.Total != 2 {
			t.Errorf("Total = %d, want 2", result.Total)
		}
	})

	t.Run("by outcome", func(t *testing.T) {
		result, err := repo.ListSessions(ctx, Filter{Outcome: OutcomeStopped})
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if result.Total != 1 {
			t.Errorf("Total = %d, want 1", result.Total)
		}
		if result.Sessions[0].ID != ids[0] {
			t.Errorf("filtered session ID = %q, want %q", result.Sessions[0].ID, ids[0])
		}
	})

	t.Run("most recent first", func(t *testing.T) {
		result, err := repo.ListSessions(ctx, Filter{})
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if len(result.Sessions) != 3 {
			t.Fatalf("got %d sessions, want 3", len(result.Sessions))
		}
		if result.Sessions[0].ID != ids[2] {
			t.Errorf("first session = %q, want most recent %q", result.Sessions[0].ID, ids[2])
		}
	})

	t.Run("pagination", func(t *testing.T) {
		result, err := repo.ListSessions(ctx, Filter{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if result.Total != 3 {
			t.Errorf("Total = %d, want 3", result.Total)
		}
		if len(result.Sessions) != 1 {
			t.Errorf("got %d sessions, want 1", len(result.Sessions))
		}
	})
}

func TestNopRecorder(t *testing.T) {
	var rec Recorder = NopRecorder{}
	ctx := context.Background()

	sr := &SessionRecord{Device: "011121:1"}
	if err := rec.SessionStarted(ctx, sr); err != nil {
		t.Errorf("SessionStarted() error = %v", err)
	}
	if sr.ID == "" {
		t.Error("NopRecorder should still assign session IDs")
	}
	if err := rec.SessionEnded(ctx, sr.ID, OutcomeStopped, ""); err != nil {
		t.Errorf("SessionEnded() error = %v", err)
	}
	if err := rec.RecordEvent(ctx, &SessionEvent{SessionID: sr.ID, Kind: KindBusFault}); err != nil {
		t.Errorf("RecordEvent() error = %v", err)
	}
}
