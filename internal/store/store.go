package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	request_json  TEXT NOT NULL,
	input_digest  TEXT NOT NULL,
	status        TEXT NOT NULL,
	tier1_json    TEXT,
	tier2_json    TEXT,
	tier3_json    TEXT,
	trust_json    TEXT,
	trust_overall REAL,
	error_kind    TEXT,
	error_message TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	completed_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations(created_at);

CREATE TABLE IF NOT EXISTS evaluation_transitions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	evaluation_id TEXT NOT NULL,
	from_status   TEXT,
	to_status     TEXT NOT NULL,
	reason        TEXT,
	error_kind    TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (evaluation_id) REFERENCES evaluations(id)
);

CREATE INDEX IF NOT EXISTS idx_transitions_evaluation ON evaluation_transitions(evaluation_id, id);
`

// timeLayout is fixed-width so text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion schema

// #region store-struct
// Store persists evaluations in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// Open opens a SQLite database and runs migrations. Writers are serialized
// over a single connection.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for the review queue, drift monitor and transition log.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region create
// Create inserts a new evaluation.
func (s *Store) Create(ctx context.Context, ev evaluation.Evaluation) error {
	row, err := encode(ev)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, run_id, request_json, input_digest, status,
			tier1_json, tier2_json, tier3_json, trust_json, trust_overall,
			error_kind, error_message, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, row.request, ev.InputDigest, string(ev.Status),
		row.tier1, row.tier2, row.tier3, row.trust, row.overall,
		nullIfEmpty(string(ev.ErrorKind)), nullIfEmpty(ev.ErrorMessage),
		formatTime(ev.CreatedAt), formatTime(ev.UpdatedAt), row.completed,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation %s: %w", ev.ID, err)
	}
	return nil
}

// #endregion create

// #region update
// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Update persists ev only if the stored status still equals from. A mismatch
// yields ErrInvalidState and leaves the row untouched.
func (s *Store) Update(ctx context.Context, ev evaluation.Evaluation, from evaluation.Status) error {
	return update(ctx, s.db, ev, from)
}

// UpdateTx is Update inside tx, so the write commits or rolls back with
// whatever else tx carries.
func (s *Store) UpdateTx(ctx context.Context, tx *sql.Tx, ev evaluation.Evaluation, from evaluation.Status) error {
	return update(ctx, tx, ev, from)
}

// InTx runs fn in a transaction. Any error from fn rolls everything back.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func update(ctx context.Context, q querier, ev evaluation.Evaluation, from evaluation.Status) error {
	row, err := encode(ev)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE evaluations SET status = ?, tier1_json = ?, tier2_json = ?, tier3_json = ?,
			trust_json = ?, trust_overall = ?, error_kind = ?, error_message = ?,
			updated_at = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(ev.Status), row.tier1, row.tier2, row.tier3, row.trust, row.overall,
		nullIfEmpty(string(ev.ErrorKind)), nullIfEmpty(ev.ErrorMessage),
		formatTime(ev.UpdatedAt), row.completed,
		ev.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update evaluation %s: %w", ev.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	current, err := get(ctx, q, ev.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: evaluation %s is %s, expected %s", evaluation.ErrInvalidState, ev.ID, current.Status, from)
}

// #endregion update

// #region get
const selectColumns = `SELECT id, run_id, request_json, input_digest, status,
	tier1_json, tier2_json, tier3_json, trust_json,
	error_kind, error_message, created_at, updated_at, completed_at
	FROM evaluations`

// Get returns the evaluation with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (evaluation.Evaluation, error) {
	return get(ctx, s.db, id)
}

func get(ctx context.Context, q querier, id string) (evaluation.Evaluation, error) {
	ev, err := scanEvaluation(q.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return evaluation.Evaluation{}, fmt.Errorf("evaluation %s: %w", id, evaluation.ErrNotFound)
	}
	if err != nil {
		return evaluation.Evaluation{}, fmt.Errorf("get evaluation %s: %w", id, err)
	}
	return ev, nil
}

// #endregion get

// #region list
// ListByRun returns every evaluation of a run, oldest first.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]evaluation.Evaluation, error) {
	return s.list(ctx, selectColumns+` WHERE run_id = ? ORDER BY created_at ASC, id`, runID)
}

// ListRecent returns the most recently created evaluations.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]evaluation.Evaluation, error) {
	return s.list(ctx, selectColumns+` ORDER BY created_at DESC, id LIMIT ?`, limit)
}

// ListByStatus returns evaluations in status, oldest first. A negative limit
// returns all of them.
func (s *Store) ListByStatus(ctx context.Context, status evaluation.Status, limit int) ([]evaluation.Evaluation, error) {
	return s.list(ctx, selectColumns+` WHERE status = ? ORDER BY created_at ASC, id LIMIT ?`, string(status), limit)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]evaluation.Evaluation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []evaluation.Evaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// #endregion list

// #region stats
// Stats aggregates evaluations created at or after a cutoff.
type Stats struct {
	Total             int                       `json:"total_evaluations"`
	ByStatus          map[evaluation.Status]int `json:"by_status"`
	AverageTrustScore float64                   `json:"average_trust_score"`
	Scored            int                       `json:"scored"`
}

// Stats counts evaluations since the cutoff and averages the final trust
// scores of the completed ones.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	st := Stats{ByStatus: map[evaluation.Status]int{}}
	cutoff := formatTime(since)

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM evaluations WHERE created_at >= ? GROUP BY status`, cutoff)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("scan row: %w", err)
		}
		st.ByStatus[evaluation.Status(status)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT AVG(trust_overall), COUNT(trust_overall) FROM evaluations
		 WHERE created_at >= ? AND status = ?`,
		cutoff, string(evaluation.StatusCompleted),
	).Scan(&avg, &st.Scored)
	if err != nil {
		return Stats{}, fmt.Errorf("stats average: %w", err)
	}
	if avg.Valid {
		st.AverageTrustScore = avg.Float64
	}
	return st, nil
}

// #endregion stats

// #region encoding
type encoded struct {
	request   string
	tier1     any
	tier2     any
	tier3     any
	trust     any
	overall   any
	completed any
}

func encode(ev evaluation.Evaluation) (encoded, error) {
	var row encoded
	req, err := json.Marshal(ev.Request)
	if err != nil {
		return encoded{}, fmt.Errorf("marshal request: %w", err)
	}
	row.request = string(req)

	for _, part := range []struct {
		dst   *any
		v     any
		empty bool
	}{
		{&row.tier1, ev.Tier1, ev.Tier1 == nil},
		{&row.tier2, ev.Tier2, ev.Tier2 == nil},
		{&row.tier3, ev.Tier3, ev.Tier3 == nil},
		{&row.trust, ev.TrustScore, ev.TrustScore == nil},
	} {
		if part.empty {
			continue
		}
		b, err := json.Marshal(part.v)
		if err != nil {
			return encoded{}, fmt.Errorf("marshal result: %w", err)
		}
		*part.dst = string(b)
	}

	if ev.TrustScore != nil {
		row.overall = ev.TrustScore.Overall
	}
	if ev.CompletedAt != nil {
		row.completed = formatTime(*ev.CompletedAt)
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(sc scanner) (evaluation.Evaluation, error) {
	var ev evaluation.Evaluation
	var request, status, created, updated string
	var tier1, tier2, tier3, trust, errKind, errMsg, completed sql.NullString

	err := sc.Scan(&ev.ID, &ev.RunID, &request, &ev.InputDigest, &status,
		&tier1, &tier2, &tier3, &trust, &errKind, &errMsg, &created, &updated, &completed)
	if err != nil {
		return evaluation.Evaluation{}, err
	}

	if err := json.Unmarshal([]byte(request), &ev.Request); err != nil {
		return evaluation.Evaluation{}, fmt.Errorf("unmarshal request: %w", err)
	}
	ev.Status = evaluation.Status(status)
	if err := decodeOptional(tier1, &ev.Tier1); err != nil {
		return evaluation.Evaluation{}, err
	}
	if err := decodeOptional(tier2, &ev.Tier2); err != nil {
		return evaluation.Evaluation{}, err
	}
	if err := decodeOptional(tier3, &ev.Tier3); err != nil {
		return evaluation.Evaluation{}, err
	}
	if err := decodeOptional(trust, &ev.TrustScore); err != nil {
		return evaluation.Evaluation{}, err
	}
	ev.ErrorKind = evaluation.ErrorKind(errKind.String)
	ev.ErrorMessage = errMsg.String
	ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	ev.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	if completed.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completed.String)
		ev.CompletedAt = &t
	}
	return ev, nil
}

func decodeOptional[T any](col sql.NullString, dst **T) error {
	if !col.Valid {
		return nil
	}
	v := new(T)
	if err := json.Unmarshal([]byte(col.String), v); err != nil {
		return fmt.Errorf("unmarshal %T: %w", v, err)
	}
	*dst = v
	return nil
}

// #endregion encoding

// #region helpers
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
