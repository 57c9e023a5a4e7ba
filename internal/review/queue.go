package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region schema

const queueSchema = `
CREATE TABLE IF NOT EXISTS review_queue (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	evaluation_id TEXT NOT NULL UNIQUE,
	priority      INTEGER NOT NULL CHECK (priority BETWEEN 1 AND 5),
	reason        TEXT NOT NULL,
	enqueued_at   TEXT NOT NULL,
	claimed_at    TEXT
);

CREATE INDEX IF NOT EXISTS idx_review_queue_order
ON review_queue(priority DESC, enqueued_at, seq);
`

// timeLayout is fixed-width so text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion schema

// #region queue-struct

// Queue is the persistent human-review queue. Claim and resolve are single
// statements, so concurrent reviewers never receive or resolve the same item twice.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// NewQueue creates the review_queue table if needed.
func NewQueue(db *sql.DB) (*Queue, error) {
	if _, err := db.Exec(queueSchema); err != nil {
		return nil, fmt.Errorf("migrate review queue: %w", err)
	}
	return &Queue{db: db, now: time.Now}, nil
}

// SetClock replaces the time source (tests).
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// #endregion queue-struct

// #region enqueue

// Enqueue adds an item. EnqueuedAt defaults to now.
func (q *Queue) Enqueue(ctx context.Context, item evaluation.ReviewQueueItem) (evaluation.ReviewQueueItem, error) {
	if item.EvaluationID == "" {
		return item, fmt.Errorf("%w: evaluation id is required", evaluation.ErrValidation)
	}
	if item.Priority < 1 || item.Priority > 5 {
		return item, fmt.Errorf("%w: priority %d outside 1..5", evaluation.ErrValidation, item.Priority)
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.now()
	}
	item.EnqueuedAt = item.EnqueuedAt.UTC()
	item.ClaimedAt = nil

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO review_queue (evaluation_id, priority, reason, enqueued_at) VALUES (?, ?, ?, ?)`,
		item.EvaluationID, item.Priority, item.Reason, item.EnqueuedAt.Format(timeLayout),
	)
	if err != nil {
		return item, fmt.Errorf("enqueue %s: %w", item.EvaluationID, err)
	}
	return item, nil
}

// #endregion enqueue

// #region dequeue

// DequeueNext claims the most urgent unclaimed item: highest priority first,
// earliest enqueue within a priority. Returns nil when nothing is waiting.
func (q *Queue) DequeueNext(ctx context.Context) (*evaluation.ReviewQueueItem, error) {
	claimed := q.now().UTC()
	row := q.db.QueryRowContext(ctx, `
		UPDATE review_queue SET claimed_at = ?
		WHERE seq = (
			SELECT seq FROM review_queue
			WHERE claimed_at IS NULL
			ORDER BY priority DESC, enqueued_at ASC, seq ASC
			LIMIT 1
		)
		RETURNING evaluation_id, priority, reason, enqueued_at`,
		claimed.Format(timeLayout),
	)

	var item evaluation.ReviewQueueItem
	var enqueuedStr string
	err := row.Scan(&item.EvaluationID, &item.Priority, &item.Reason, &enqueuedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	item.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedStr)
	item.ClaimedAt = &claimed
	return &item, nil
}

// Release returns a claimed item to the queue, e.g. when a reviewer abandons it.
func (q *Queue) Release(ctx context.Context, evaluationID string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE review_queue SET claimed_at = NULL WHERE evaluation_id = ?`, evaluationID)
	if err != nil {
		return fmt.Errorf("release %s: %w", evaluationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("release %s: %w", evaluationID, evaluation.ErrUnknownQueueItem)
	}
	return nil
}

// #endregion dequeue

// #region resolve

// Resolve removes the item inside tx and returns the reviewer's Tier 3 result.
// The item only leaves the queue if tx commits. Exactly one caller succeeds per
// item; later or unknown resolutions get ErrUnknownQueueItem.
func (q *Queue) Resolve(ctx context.Context, tx *sql.Tx, evaluationID string, verdict evaluation.Verdict, notes, reviewerID, correctedOutput string) (evaluation.Tier3Result, error) {
	score, err := verdict.Score()
	if err != nil {
		return evaluation.Tier3Result{}, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM review_queue WHERE evaluation_id = ?`, evaluationID)
	if err != nil {
		return evaluation.Tier3Result{}, fmt.Errorf("resolve %s: %w", evaluationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return evaluation.Tier3Result{}, fmt.Errorf("resolve %s: %w", evaluationID, err)
	}
	if n == 0 {
		return evaluation.Tier3Result{}, fmt.Errorf("resolve %s: %w", evaluationID, evaluation.ErrUnknownQueueItem)
	}

	return evaluation.Tier3Result{
		Verdict:         verdict,
		Notes:           notes,
		ReviewerID:      reviewerID,
		CorrectedOutput: correctedOutput,
		ReviewedAt:      q.now().UTC(),
		Score:           score,
	}, nil
}

// #endregion resolve

// #region queries

// Pending lists queued items in dequeue order, claimed ones included.
func (q *Queue) Pending(ctx context.Context) ([]evaluation.ReviewQueueItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT evaluation_id, priority, reason, enqueued_at, claimed_at
		FROM review_queue
		ORDER BY priority DESC, enqueued_at ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var items []evaluation.ReviewQueueItem
	for rows.Next() {
		var item evaluation.ReviewQueueItem
		var enqueuedStr string
		var claimedStr sql.NullString
		if err := rows.Scan(&item.EvaluationID, &item.Priority, &item.Reason, &enqueuedStr, &claimedStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		item.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedStr)
		if claimedStr.Valid {
			t, _ := time.Parse(time.RFC3339Nano, claimedStr.String)
			item.ClaimedAt = &t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Stats summarizes the queue.
type Stats struct {
	Total      int         `json:"total"`
	Claimed    int         `json:"claimed"`
	ByPriority map[int]int `json:"by_priority"`
}

// Stats counts queued items per priority.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT priority, COUNT(*), SUM(CASE WHEN claimed_at IS NULL THEN 0 ELSE 1 END)
		FROM review_queue GROUP BY priority`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	st := Stats{ByPriority: make(map[int]int)}
	for rows.Next() {
		var priority, count, claimed int
		if err := rows.Scan(&priority, &count, &claimed); err != nil {
			return Stats{}, fmt.Errorf("scan row: %w", err)
		}
		st.ByPriority[priority] = count
		st.Total += count
		st.Claimed += claimed
	}
	return st, rows.Err()
}

// Contains reports whether an item for evaluationID is still queued.
func (q *Queue) Contains(ctx context.Context, evaluationID string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_queue WHERE evaluation_id = ?`, strings.TrimSpace(evaluationID)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", evaluationID, err)
	}
	return n > 0, nil
}

// #endregion queries
