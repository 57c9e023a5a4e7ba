package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// timeLayout is fixed-width so text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region log-transition
// LogTransition appends a status change to the evaluation_transitions table.
func LogTransition(ctx context.Context, db *sql.DB, entry TransitionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO evaluation_transitions (evaluation_id, from_status, to_status, reason, error_kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.EvaluationID,
		nullIfEmpty(entry.FromStatus),
		entry.ToStatus,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.ErrorKind),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log transition: %w", err)
	}
	return nil
}
// #endregion log-transition

// #region list-transitions
// ListTransitions returns the history of one evaluation in insertion order.
func ListTransitions(ctx context.Context, db *sql.DB, evaluationID string) ([]TransitionEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, evaluation_id, from_status, to_status, reason, error_kind, created_at
		 FROM evaluation_transitions WHERE evaluation_id = ? ORDER BY id ASC`, evaluationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var entries []TransitionEntry
	for rows.Next() {
		var e TransitionEntry
		var from, reason, kind sql.NullString
		var createdStr string
		if err := rows.Scan(&e.ID, &e.EvaluationID, &from, &e.ToStatus, &reason, &kind, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.FromStatus = from.String
		e.Reason = reason.String
		e.ErrorKind = kind.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
// #endregion list-transitions

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
