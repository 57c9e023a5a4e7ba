package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/danielpatrickdp/trustscore/internal/drift"
	"github.com/danielpatrickdp/trustscore/internal/evaluation"
	"github.com/danielpatrickdp/trustscore/internal/judge"
	"github.com/danielpatrickdp/trustscore/internal/logging"
	"github.com/danielpatrickdp/trustscore/internal/review"
	"github.com/danielpatrickdp/trustscore/internal/rules"
	"github.com/danielpatrickdp/trustscore/internal/store"
	"github.com/danielpatrickdp/trustscore/internal/trust"
)

// #region transitions

// allowed is the evaluation state machine.
var allowed = map[evaluation.Status][]evaluation.Status{
	evaluation.StatusCreated:        {evaluation.StatusTier1Done, evaluation.StatusFailed},
	evaluation.StatusTier1Done:      {evaluation.StatusTier2Done, evaluation.StatusFailed},
	evaluation.StatusTier2Done:      {evaluation.StatusAwaitingReview, evaluation.StatusCompleted, evaluation.StatusFailed},
	evaluation.StatusAwaitingReview: {evaluation.StatusCompleted},
}

func canTransition(from, to evaluation.Status) bool {
	if from.Terminal() {
		return false
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// #endregion transitions

// #region pipeline-struct

// Pipeline drives evaluations through the tiers and owns all persisted
// cross-call state: evaluations, the review queue and the drift series.
type Pipeline struct {
	store    *store.Store
	rules    *rules.Evaluator
	judge    *judge.Evaluator
	queue    *review.Queue
	drift    *drift.Monitor
	config   Config
	sampler  review.Sampler
	archiver Archiver
	now      func() time.Time
	newID    func() string
}

// #endregion pipeline-struct

// #region constructor

// New wires a pipeline over st. The review queue and drift tables are
// migrated into the same database.
func New(st *store.Store, j judge.Judge, config Config, opts ...Option) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	queue, err := review.NewQueue(st.DB())
	if err != nil {
		return nil, err
	}
	monitor, err := drift.NewMonitor(st.DB(), config.Drift)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:  st,
		rules:  rules.NewEvaluator(config.Rules),
		judge:  judge.NewEvaluator(j, config.Judge),
		queue:  queue,
		drift:  monitor,
		config: config,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sampler == nil {
		seed := config.Review.SamplingSeed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		p.sampler = &lockedSampler{s: review.NewSampler(seed)}
	}
	queue.SetClock(p.now)
	monitor.SetClock(p.now)
	return p, nil
}

// Config returns the active configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// #endregion constructor

// #region submit

// Submit runs Tier 1 and Tier 2 inline, then either completes the evaluation
// or parks it for human review with a provisional score. Invalid requests are
// rejected before anything is persisted. A judge failure returns the FAILED
// evaluation together with the error.
func (p *Pipeline) Submit(ctx context.Context, req evaluation.Request) (evaluation.Evaluation, error) {
	start := time.Now()
	defer func() { submitDuration.Observe(time.Since(start).Seconds()) }()

	if err := req.Validate(); err != nil {
		return evaluation.Evaluation{}, err
	}
	digest, err := req.Digest()
	if err != nil {
		return evaluation.Evaluation{}, fmt.Errorf("%w: %v", evaluation.ErrValidation, err)
	}

	now := p.now().UTC()
	ev := evaluation.Evaluation{
		ID:          p.newID(),
		RunID:       req.RunID,
		Request:     req,
		InputDigest: digest,
		Status:      evaluation.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("evaluation_id", ev.ID).With("run_id", ev.RunID))
	log := clog.FromContext(ctx)

	if err := p.store.Create(ctx, ev); err != nil {
		return evaluation.Evaluation{}, err
	}
	p.logTransition(ctx, ev, "", "submitted")

	// 1. Tier 1 rules
	t1 := p.rules.Evaluate(req.ModelOutput, req.GroundTruth)
	ev.Tier1 = &t1
	if err := p.advance(ctx, &ev, evaluation.StatusTier1Done, ""); err != nil {
		return ev, err
	}

	// 2. Tier 2 judge
	t2, err := p.judge.Evaluate(ctx, judge.Request{
		Prompt:      req.Prompt,
		Output:      req.ModelOutput,
		GroundTruth: req.GroundTruth,
	})
	if err != nil {
		log.With("attempts", t2.Attempts).Warnf("judge failed: %v", err)
		return p.fail(ctx, ev, err)
	}
	ev.Tier2 = &t2
	if err := p.advance(ctx, &ev, evaluation.StatusTier2Done, ""); err != nil {
		return ev, err
	}

	// 3. Review ladder
	decision, queued := review.Decide(t1, t2, p.config.Review, p.sampler)
	if !queued {
		score := trust.Final(t1, t2, p.config.Trust)
		ev.TrustScore = &score
		return p.complete(ctx, ev, "no review required")
	}
	score := trust.Aggregate(t1, t2, nil, p.config.Trust)
	ev.TrustScore = &score

	if _, err := p.queue.Enqueue(ctx, evaluation.ReviewQueueItem{
		EvaluationID: ev.ID,
		Priority:     decision.Priority,
		Reason:       decision.Reason,
	}); err != nil {
		return p.fail(ctx, ev, err)
	}
	reviewEnqueued.WithLabelValues(strconv.Itoa(decision.Priority)).Inc()
	if err := p.advance(ctx, &ev, evaluation.StatusAwaitingReview, decision.Reason); err != nil {
		return ev, err
	}
	evaluationsTotal.WithLabelValues(string(ev.Status)).Inc()
	log.With("priority", decision.Priority).With("reason", decision.Reason).
		With("provisional_score", score.Overall).Info("Evaluation awaiting review")
	return ev, nil
}

// #endregion submit

// #region resolve

// ResolveReview applies a reviewer's verdict to an evaluation in
// AWAITING_REVIEW and completes it with the final trust score. Any other
// status yields ErrInvalidState and the evaluation is left untouched.
func (p *Pipeline) ResolveReview(ctx context.Context, id string, verdict evaluation.Verdict, notes, reviewerID, correctedOutput string) (evaluation.Evaluation, error) {
	ev, err := p.store.Get(ctx, id)
	if err != nil {
		return evaluation.Evaluation{}, err
	}
	if ev.Status != evaluation.StatusAwaitingReview {
		return evaluation.Evaluation{}, fmt.Errorf("%w: evaluation %s is %s", evaluation.ErrInvalidState, id, ev.Status)
	}
	if ev.Tier1 == nil || ev.Tier2 == nil {
		return evaluation.Evaluation{}, fmt.Errorf("%w: evaluation %s has no tier results", evaluation.ErrInvalidState, id)
	}

	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("evaluation_id", ev.ID).With("run_id", ev.RunID))

	// The queue item and the COMPLETED row commit together; if either write
	// fails the evaluation stays AWAITING_REVIEW with its item still queued.
	err = p.advanceWith(ctx, &ev, evaluation.StatusCompleted, "review "+string(verdict),
		func(next *evaluation.Evaluation, from evaluation.Status) error {
			return p.store.InTx(ctx, func(tx *sql.Tx) error {
				t3, err := p.queue.Resolve(ctx, tx, id, verdict, notes, reviewerID, correctedOutput)
				if err != nil {
					return err
				}
				score := trust.Aggregate(*next.Tier1, *next.Tier2, &t3, p.config.Trust)
				next.Tier3 = &t3
				next.TrustScore = &score
				return p.store.UpdateTx(ctx, tx, *next, from)
			})
		})
	if err != nil {
		return evaluation.Evaluation{}, err
	}
	return p.completed(ctx, ev), nil
}

// RequeueStranded puts every AWAITING_REVIEW evaluation that has no queue
// item back on the queue, ranked by the review ladder without QA sampling.
// It returns how many items were restored.
func (p *Pipeline) RequeueStranded(ctx context.Context) (int, error) {
	pending, err := p.store.ListByStatus(ctx, evaluation.StatusAwaitingReview, -1)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, ev := range pending {
		queued, err := p.queue.Contains(ctx, ev.ID)
		if err != nil {
			return restored, err
		}
		if queued || ev.Tier1 == nil || ev.Tier2 == nil {
			continue
		}
		decision, ok := review.Decide(*ev.Tier1, *ev.Tier2, p.config.Review, nil)
		if !ok {
			decision = review.Decision{Priority: review.PrioritySample, Reason: "QA sample"}
		}
		if _, err := p.queue.Enqueue(ctx, evaluation.ReviewQueueItem{
			EvaluationID: ev.ID,
			Priority:     decision.Priority,
			Reason:       decision.Reason,
			EnqueuedAt:   ev.UpdatedAt,
		}); err != nil {
			return restored, err
		}
		restored++
		clog.FromContext(ctx).With("evaluation_id", ev.ID).With("priority", decision.Priority).
			Warn("Requeued evaluation that was awaiting review without a queue item")
	}
	return restored, nil
}

// #endregion resolve

// #region state-changes

// advance persists ev in status to, guarded by the stored status.
func (p *Pipeline) advance(ctx context.Context, ev *evaluation.Evaluation, to evaluation.Status, reason string) error {
	return p.advanceWith(ctx, ev, to, reason, func(next *evaluation.Evaluation, from evaluation.Status) error {
		return p.store.Update(ctx, *next, from)
	})
}

// advanceWith is advance with a caller-supplied write. write may amend next
// before persisting it; on error ev is left as it was.
func (p *Pipeline) advanceWith(ctx context.Context, ev *evaluation.Evaluation, to evaluation.Status, reason string,
	write func(next *evaluation.Evaluation, from evaluation.Status) error) error {
	from := ev.Status
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", evaluation.ErrInvalidState, from, to)
	}
	next := *ev
	next.Status = to
	next.UpdatedAt = p.now().UTC()
	if to == evaluation.StatusCompleted {
		done := next.UpdatedAt
		next.CompletedAt = &done
	}
	if err := write(&next, from); err != nil {
		return err
	}
	*ev = next
	p.logTransition(ctx, *ev, from, reason)
	return nil
}

// fail records err on ev and moves it to FAILED. Persistence ignores
// cancellation of ctx so a timed-out caller still leaves a FAILED record.
func (p *Pipeline) fail(ctx context.Context, ev evaluation.Evaluation, cause error) (evaluation.Evaluation, error) {
	ctx = context.WithoutCancel(ctx)
	ev.ErrorKind = evaluation.KindOf(cause)
	ev.ErrorMessage = cause.Error()
	ev.TrustScore = nil
	if err := p.advance(ctx, &ev, evaluation.StatusFailed, string(ev.ErrorKind)); err != nil {
		return ev, errors.Join(cause, err)
	}
	evaluationsTotal.WithLabelValues(string(ev.Status)).Inc()
	return ev, cause
}

// complete moves ev to COMPLETED and feeds the drift series and archive.
// Neither follow-up can fail the evaluation.
func (p *Pipeline) complete(ctx context.Context, ev evaluation.Evaluation, reason string) (evaluation.Evaluation, error) {
	if err := p.advance(ctx, &ev, evaluation.StatusCompleted, reason); err != nil {
		return ev, err
	}
	return p.completed(ctx, ev), nil
}

// completed runs the follow-ups of a persisted COMPLETED transition.
func (p *Pipeline) completed(ctx context.Context, ev evaluation.Evaluation) evaluation.Evaluation {
	evaluationsTotal.WithLabelValues(string(ev.Status)).Inc()
	lastTrustScore.Set(ev.TrustScore.Overall)

	log := clog.FromContext(ctx)
	log.With("trust_score", ev.TrustScore.Overall).Info("Evaluation completed")

	p.recordDrift(ctx, ev)
	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, ev); err != nil {
			log.Warnf("archive failed: %v", err)
		}
	}
	return ev
}

func (p *Pipeline) recordDrift(ctx context.Context, ev evaluation.Evaluation) {
	log := clog.FromContext(ctx)
	at := *ev.CompletedAt
	points := map[string]float64{
		drift.MetricTrustScore: ev.TrustScore.Overall,
		drift.MetricTier1Score: ev.TrustScore.Tier1Score,
		drift.MetricTier2Score: ev.TrustScore.Tier2Score,
	}
	points[drift.ModelMetric(ev.Request.ModelName)] = ev.TrustScore.Overall
	for metric, value := range points {
		if err := p.drift.Record(ctx, metric, value, at); err != nil {
			log.Warnf("drift point %s not recorded: %v", metric, err)
		}
	}
	p.CheckDrift(ctx, drift.MetricTrustScore)
}

func (p *Pipeline) logTransition(ctx context.Context, ev evaluation.Evaluation, from evaluation.Status, reason string) {
	err := logging.LogTransition(ctx, p.store.DB(), logging.TransitionEntry{
		EvaluationID: ev.ID,
		FromStatus:   string(from),
		ToStatus:     string(ev.Status),
		Reason:       reason,
		ErrorKind:    string(ev.ErrorKind),
		CreatedAt:    ev.UpdatedAt,
	})
	if err != nil {
		clog.FromContext(ctx).Warnf("transition %s -> %s not logged: %v", from, ev.Status, err)
	}
}

// #endregion state-changes

// #region passthroughs

// Get returns a stored evaluation or ErrNotFound.
func (p *Pipeline) Get(ctx context.Context, id string) (evaluation.Evaluation, error) {
	return p.store.Get(ctx, id)
}

// ListByRun returns a run's evaluations, oldest first.
func (p *Pipeline) ListByRun(ctx context.Context, runID string) ([]evaluation.Evaluation, error) {
	return p.store.ListByRun(ctx, runID)
}

// ListRecent returns the newest evaluations.
func (p *Pipeline) ListRecent(ctx context.Context, limit int) ([]evaluation.Evaluation, error) {
	return p.store.ListRecent(ctx, limit)
}

// Transitions returns the status history of an evaluation.
func (p *Pipeline) Transitions(ctx context.Context, id string) ([]logging.TransitionEntry, error) {
	if _, err := p.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return logging.ListTransitions(ctx, p.store.DB(), id)
}

// DequeueNext claims the most urgent review item, or nil.
func (p *Pipeline) DequeueNext(ctx context.Context) (*evaluation.ReviewQueueItem, error) {
	return p.queue.DequeueNext(ctx)
}

// ReleaseReview puts a claimed item back in the queue.
func (p *Pipeline) ReleaseReview(ctx context.Context, id string) error {
	return p.queue.Release(ctx, id)
}

// PendingReviews lists the queue in dequeue order.
func (p *Pipeline) PendingReviews(ctx context.Context) ([]evaluation.ReviewQueueItem, error) {
	return p.queue.Pending(ctx)
}

// QueueStats summarizes the review queue.
func (p *Pipeline) QueueStats(ctx context.Context) (review.Stats, error) {
	return p.queue.Stats(ctx)
}

// CheckDrift runs a drift check on metric. Advisory: nil means no alert.
func (p *Pipeline) CheckDrift(ctx context.Context, metric string) *evaluation.DriftAlert {
	alert := p.drift.CheckDrift(ctx, metric)
	if alert != nil {
		driftAlerts.WithLabelValues(string(alert.Severity)).Inc()
	}
	return alert
}

// Acknowledge marks a drift alert as seen.
func (p *Pipeline) Acknowledge(ctx context.Context, alertID string) error {
	return p.drift.Acknowledge(ctx, alertID)
}

// ActiveAlerts lists unacknowledged drift alerts.
func (p *Pipeline) ActiveAlerts(ctx context.Context) ([]evaluation.DriftAlert, error) {
	return p.drift.ActiveAlerts(ctx)
}

// Alerts lists drift alerts since a cutoff, optionally by severity.
func (p *Pipeline) Alerts(ctx context.Context, since time.Time, severity evaluation.DriftSeverity) ([]evaluation.DriftAlert, error) {
	return p.drift.Alerts(ctx, since, severity)
}

// DriftSummary reports baseline, latest value and stability for metric.
func (p *Pipeline) DriftSummary(ctx context.Context, metric string) (drift.Summary, error) {
	return p.drift.Summary(ctx, metric)
}

// DriftPoints returns the samples of metric inside the drift window.
func (p *Pipeline) DriftPoints(ctx context.Context, metric string) ([]evaluation.DriftPoint, error) {
	return p.drift.Points(ctx, metric)
}

// #endregion passthroughs

// #region dashboard

// Dashboard is the aggregate view served to the dashboard.
type Dashboard struct {
	Window         time.Duration `json:"window"`
	Evaluations    store.Stats   `json:"evaluations"`
	RecentAlerts   int           `json:"recent_alerts_count"`
	CriticalAlerts int           `json:"critical_alerts_count"`
	ActiveAlerts   int           `json:"active_alerts_count"`
	ReviewQueue    review.Stats  `json:"review_queue"`
	StabilityIndex float64       `json:"stability_index"`
}

// Dashboard summarizes the trailing window.
func (p *Pipeline) Dashboard(ctx context.Context, window time.Duration) (Dashboard, error) {
	since := p.now().Add(-window)
	d := Dashboard{Window: window}

	var err error
	if d.Evaluations, err = p.store.Stats(ctx, since); err != nil {
		return Dashboard{}, err
	}
	recent, err := p.drift.Alerts(ctx, since, "")
	if err != nil {
		return Dashboard{}, err
	}
	d.RecentAlerts = len(recent)
	for _, a := range recent {
		if a.Severity == evaluation.DriftCritical {
			d.CriticalAlerts++
		}
	}
	active, err := p.drift.ActiveAlerts(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	d.ActiveAlerts = len(active)
	if d.ReviewQueue, err = p.queue.Stats(ctx); err != nil {
		return Dashboard{}, err
	}
	if d.StabilityIndex, err = p.drift.StabilityIndex(ctx, drift.MetricTrustScore); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

// #endregion dashboard
