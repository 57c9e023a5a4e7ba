package drift

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region schema

const driftSchema = `
CREATE TABLE IF NOT EXISTS drift_points (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	metric_name TEXT NOT NULL,
	value       REAL NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_drift_points_lookup
ON drift_points(metric_name, recorded_at);

CREATE TABLE IF NOT EXISTS drift_alerts (
	id              TEXT PRIMARY KEY,
	metric_name     TEXT NOT NULL,
	point_id        INTEGER NOT NULL,
	latest          REAL NOT NULL,
	baseline        REAL NOT NULL,
	absolute_delta  REAL NOT NULL,
	relative_delta  REAL,
	severity        TEXT NOT NULL,
	message         TEXT NOT NULL,
	triggered_at    TEXT NOT NULL,
	acknowledged    INTEGER NOT NULL DEFAULT 0,
	acknowledged_at TEXT,
	UNIQUE (metric_name, point_id)
);
`

// timeLayout is fixed-width so text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion schema

// #region monitor-struct

// Monitor records metric points and derives drift alerts from them.
// Reads tolerate a slightly stale window; alerts are advisory.
type Monitor struct {
	db     *sql.DB
	config Config
	now    func() time.Time
}

// NewMonitor creates the drift tables if needed.
func NewMonitor(db *sql.DB, config Config) (*Monitor, error) {
	if _, err := db.Exec(driftSchema); err != nil {
		return nil, fmt.Errorf("migrate drift: %w", err)
	}
	return &Monitor{db: db, config: config, now: time.Now}, nil
}

// SetClock replaces the time source (tests).
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Config returns the active policy.
func (m *Monitor) Config() Config {
	return m.config
}

// #endregion monitor-struct

// #region record

// Record appends a point. A zero ts means now.
func (m *Monitor) Record(ctx context.Context, metric string, value float64, ts time.Time) error {
	if metric == "" {
		return fmt.Errorf("%w: metric name is required", evaluation.ErrValidation)
	}
	if ts.IsZero() {
		ts = m.now()
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO drift_points (metric_name, value, recorded_at) VALUES (?, ?, ?)`,
		metric, value, ts.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", metric, err)
	}
	return nil
}

// #endregion record

// #region window

type point struct {
	id    int64
	value float64
	at    time.Time
}

// window returns the points inside the trailing window, oldest first.
func (m *Monitor) window(ctx context.Context, metric string) ([]point, error) {
	cutoff := m.now().Add(-m.config.Window).UTC().Format(timeLayout)
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, value, recorded_at FROM drift_points
		WHERE metric_name = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC, id ASC`,
		metric, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("window %s: %w", metric, err)
	}
	defer rows.Close()

	var pts []point
	for rows.Next() {
		var p point
		var at string
		if err := rows.Scan(&p.id, &p.value, &at); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		p.at, _ = time.Parse(time.RFC3339Nano, at)
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

// Points returns the samples of metric inside the trailing window, oldest first.
func (m *Monitor) Points(ctx context.Context, metric string) ([]evaluation.DriftPoint, error) {
	pts, err := m.window(ctx, metric)
	if err != nil {
		return nil, err
	}
	out := make([]evaluation.DriftPoint, len(pts))
	for i, p := range pts {
		out[i] = evaluation.DriftPoint{MetricName: metric, Value: p.value, Timestamp: p.at}
	}
	return out, nil
}

// CurrentBaseline is the mean of the points in the trailing window.
// ok is false when the window is empty.
func (m *Monitor) CurrentBaseline(ctx context.Context, metric string) (baseline float64, ok bool, err error) {
	pts, err := m.window(ctx, metric)
	if err != nil {
		return 0, false, err
	}
	if len(pts) == 0 {
		return 0, false, nil
	}
	return mean(pts), true, nil
}

// #endregion window

// #region classify

// Classify grades latest against baseline. CRITICAL supersedes WARNING; the
// relative test is skipped when baseline is zero.
func Classify(latest, baseline float64, t Thresholds) (evaluation.DriftSeverity, bool) {
	abs := math.Abs(latest - baseline)
	rel, hasRel := relativeDelta(abs, baseline)

	switch {
	case abs > t.CriticalAbsolute || (hasRel && rel > t.CriticalRelative):
		return evaluation.DriftCritical, true
	case abs > t.WarningAbsolute || (hasRel && rel > t.WarningRelative):
		return evaluation.DriftWarning, true
	}
	return "", false
}

func relativeDelta(abs, baseline float64) (float64, bool) {
	if baseline == 0 {
		return 0, false
	}
	return abs / math.Abs(baseline), true
}

// #endregion classify

// #region check-drift

// CheckDrift compares the latest point with the baseline formed by the other
// points in the window. Failures are logged and reported as "no alert".
// Checking the same latest point twice returns the alert raised the first time.
func (m *Monitor) CheckDrift(ctx context.Context, metric string) *evaluation.DriftAlert {
	log := clog.FromContext(ctx).With("metric", metric)

	pts, err := m.window(ctx, metric)
	if err != nil {
		log.Warnf("drift check skipped: %v", err)
		return nil
	}
	if len(pts) < 2 {
		return nil
	}

	latest := pts[len(pts)-1]
	baseline := mean(pts[:len(pts)-1])
	severity, drifted := Classify(latest.value, baseline, m.config.Thresholds)
	if !drifted {
		return nil
	}

	if existing, err := m.alertForPoint(ctx, metric, latest.id); err != nil {
		log.Warnf("drift alert lookup failed: %v", err)
		return nil
	} else if existing != nil {
		return existing
	}

	abs := math.Abs(latest.value - baseline)
	alert := &evaluation.DriftAlert{
		ID:            uuid.New().String(),
		MetricName:    metric,
		Latest:        latest.value,
		Baseline:      baseline,
		AbsoluteDelta: abs,
		Severity:      severity,
		TriggeredAt:   m.now().UTC(),
	}
	var relArg any
	if rel, ok := relativeDelta(abs, baseline); ok {
		alert.RelativeDelta = &rel
		relArg = rel
		alert.Message = fmt.Sprintf("drift detected for %s: latest=%.2f baseline=%.2f change=%.2f (%.1f%%)",
			metric, latest.value, baseline, abs, rel*100)
	} else {
		alert.Message = fmt.Sprintf("drift detected for %s: latest=%.2f baseline=%.2f change=%.2f",
			metric, latest.value, baseline, abs)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO drift_alerts
		(id, metric_name, point_id, latest, baseline, absolute_delta, relative_delta, severity, message, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, metric, latest.id, alert.Latest, alert.Baseline, alert.AbsoluteDelta, relArg,
		string(alert.Severity), alert.Message, alert.TriggeredAt.Format(timeLayout),
	)
	if err != nil {
		log.Warnf("drift alert not persisted: %v", err)
		return nil
	}

	log.With("severity", string(severity)).With("latest", latest.value).With("baseline", baseline).
		Warn("Drift alert raised")
	return alert
}

// #endregion check-drift

// #region stability

// StabilityIndex returns DSI = 100·exp(-stddev/mean) over the window, rounded
// to two decimals. Fewer than two points or a zero mean count as fully stable.
func (m *Monitor) StabilityIndex(ctx context.Context, metric string) (float64, error) {
	pts, err := m.window(ctx, metric)
	if err != nil {
		return 0, err
	}
	return stabilityIndex(pts), nil
}

func stabilityIndex(pts []point) float64 {
	if len(pts) < 2 {
		return 100
	}
	mu := mean(pts)
	if mu == 0 {
		return 100
	}
	var sq float64
	for _, p := range pts {
		sq += (p.value - mu) * (p.value - mu)
	}
	cv := math.Sqrt(sq/float64(len(pts))) / math.Abs(mu)
	return math.Round(100*math.Exp(-cv)*100) / 100
}

// Summary reports baseline, latest point, DSI and point count for metric.
func (m *Monitor) Summary(ctx context.Context, metric string) (Summary, error) {
	pts, err := m.window(ctx, metric)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{MetricName: metric, Points: len(pts), StabilityIndex: stabilityIndex(pts)}
	if len(pts) > 0 {
		s.Baseline = mean(pts)
		s.HasBaseline = true
		s.Latest = pts[len(pts)-1].value
		s.LatestAt = pts[len(pts)-1].at
	}
	return s, nil
}

// #endregion stability

// #region alerts

// Acknowledge marks an alert as seen. Acknowledging twice is a no-op.
func (m *Monitor) Acknowledge(ctx context.Context, alertID string) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE drift_alerts SET acknowledged = 1, acknowledged_at = ?
		WHERE id = ? AND acknowledged = 0`,
		m.now().UTC().Format(timeLayout), alertID,
	)
	if err != nil {
		return fmt.Errorf("acknowledge %s: %w", alertID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drift_alerts WHERE id = ?`, alertID).Scan(&exists); err != nil {
		return fmt.Errorf("acknowledge %s: %w", alertID, err)
	}
	if exists == 0 {
		return fmt.Errorf("acknowledge %s: %w", alertID, evaluation.ErrUnknownAlert)
	}
	return nil
}

// ActiveAlerts lists unacknowledged alerts, newest first.
func (m *Monitor) ActiveAlerts(ctx context.Context) ([]evaluation.DriftAlert, error) {
	return m.queryAlerts(ctx, `WHERE acknowledged = 0`)
}

// Alerts lists every alert triggered at or after since, optionally filtered by severity.
func (m *Monitor) Alerts(ctx context.Context, since time.Time, severity evaluation.DriftSeverity) ([]evaluation.DriftAlert, error) {
	if severity == "" {
		return m.queryAlerts(ctx, `WHERE triggered_at >= ?`, since.UTC().Format(timeLayout))
	}
	return m.queryAlerts(ctx, `WHERE triggered_at >= ? AND severity = ?`, since.UTC().Format(timeLayout), string(severity))
}

func (m *Monitor) alertForPoint(ctx context.Context, metric string, pointID int64) (*evaluation.DriftAlert, error) {
	alerts, err := m.queryAlerts(ctx, `WHERE metric_name = ? AND point_id = ?`, metric, pointID)
	if err != nil || len(alerts) == 0 {
		return nil, err
	}
	return &alerts[0], nil
}

func (m *Monitor) queryAlerts(ctx context.Context, where string, args ...any) ([]evaluation.DriftAlert, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, metric_name, latest, baseline, absolute_delta, relative_delta,
		       severity, message, triggered_at, acknowledged, acknowledged_at
		FROM drift_alerts `+where+`
		ORDER BY triggered_at DESC, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []evaluation.DriftAlert
	for rows.Next() {
		var a evaluation.DriftAlert
		var rel sql.NullFloat64
		var severity, triggered string
		var acked int
		var ackedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.MetricName, &a.Latest, &a.Baseline, &a.AbsoluteDelta, &rel,
			&severity, &a.Message, &triggered, &acked, &ackedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if rel.Valid {
			v := rel.Float64
			a.RelativeDelta = &v
		}
		a.Severity = evaluation.DriftSeverity(severity)
		a.TriggeredAt, _ = time.Parse(time.RFC3339Nano, triggered)
		a.Acknowledged = acked == 1
		if ackedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, ackedAt.String)
			a.AcknowledgedAt = &t
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// #endregion alerts

// #region helpers

func mean(pts []point) float64 {
	var sum float64
	for _, p := range pts {
		sum += p.value
	}
	return sum / float64(len(pts))
}

// #endregion helpers
