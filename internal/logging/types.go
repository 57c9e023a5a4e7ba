package logging

import "time"

// #region transition-entry
// TransitionEntry is a single row in the evaluation_transitions table.
type TransitionEntry struct {
	ID           int64     `json:"id"`
	EvaluationID string    `json:"evaluation_id"`
	FromStatus   string    `json:"from_status,omitempty"` // empty for the initial CREATED row
	ToStatus     string    `json:"to_status"`
	Reason       string    `json:"reason,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
// #endregion transition-entry
