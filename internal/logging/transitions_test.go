package logging

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE evaluation_transitions (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		evaluation_id TEXT NOT NULL,
		from_status   TEXT,
		to_status     TEXT NOT NULL,
		reason        TEXT,
		error_kind    TEXT,
		created_at    TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-transition-tests
func TestLogTransition_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()
	ctx := context.Background()

	entry := TransitionEntry{
		EvaluationID: "e1",
		FromStatus:   "TIER2_DONE",
		ToStatus:     "AWAITING_REVIEW",
		Reason:       "profanity detected",
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogTransition(ctx, db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ListTransitions(ctx, db, "e1")
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].ToStatus != "AWAITING_REVIEW" || got[0].Reason != "profanity detected" {
		t.Errorf("unexpected entry %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("expected created_at %s, got %s", entry.CreatedAt, got[0].CreatedAt)
	}
}

func TestLogTransition_ZeroCreatedAt(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	before := time.Now().UTC()
	err := LogTransition(context.Background(), db, TransitionEntry{EvaluationID: "e2", ToStatus: "CREATED"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAtStr string
	db.QueryRow("SELECT created_at FROM evaluation_transitions").Scan(&createdAtStr)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
}

func TestLogTransition_EmptyOptionalFields(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	err := LogTransition(context.Background(), db, TransitionEntry{EvaluationID: "e3", ToStatus: "CREATED"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var from, reason, kind sql.NullString
	db.QueryRow("SELECT from_status, reason, error_kind FROM evaluation_transitions").Scan(&from, &reason, &kind)
	if from.Valid {
		t.Error("expected NULL from_status for empty string")
	}
	if reason.Valid {
		t.Error("expected NULL reason for empty string")
	}
	if kind.Valid {
		t.Error("expected NULL error_kind for empty string")
	}
}

func TestLogTransition_Error(t *testing.T) {
	db := setupDB(t)
	db.Close() // close to force error

	err := LogTransition(context.Background(), db, TransitionEntry{EvaluationID: "e4", ToStatus: "FAILED"})
	if err == nil {
		t.Fatal("expected error on closed db")
	}
}

// #endregion log-transition-tests

// #region list-transitions-tests
func TestListTransitions_Order(t *testing.T) {
	db := setupDB(t)
	defer db.Close()
	ctx := context.Background()

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	steps := [][2]string{{"", "CREATED"}, {"CREATED", "TIER1_DONE"}, {"TIER1_DONE", "FAILED"}}
	for _, s := range steps {
		e := TransitionEntry{EvaluationID: "e5", FromStatus: s[0], ToStatus: s[1], CreatedAt: at}
		if s[1] == "FAILED" {
			e.ErrorKind = "JUDGE_UNAVAILABLE"
		}
		if err := LogTransition(ctx, db, e); err != nil {
			t.Fatalf("LogTransition: %v", err)
		}
	}
	LogTransition(ctx, db, TransitionEntry{EvaluationID: "other", ToStatus: "CREATED", CreatedAt: at})

	got, err := ListTransitions(ctx, db, "e5")
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(got))
	}
	for i, s := range steps {
		if got[i].FromStatus != s[0] || got[i].ToStatus != s[1] {
			t.Errorf("step %d: expected %s->%s, got %s->%s", i, s[0], s[1], got[i].FromStatus, got[i].ToStatus)
		}
	}
	if got[2].ErrorKind != "JUDGE_UNAVAILABLE" {
		t.Errorf("expected error kind on failed transition, got %q", got[2].ErrorKind)
	}
}

func TestListTransitions_Empty(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	got, err := ListTransitions(context.Background(), db, "none")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no transitions, got %d", len(got))
	}
}

// #endregion list-transitions-tests

// #region null-if-empty-tests
func TestNullIfEmpty(t *testing.T) {
	if nullIfEmpty("") != nil {
		t.Error("expected nil for empty string")
	}
	if nullIfEmpty("x") != "x" {
		t.Error("expected passthrough for non-empty string")
	}
}

// #endregion null-if-empty-tests
