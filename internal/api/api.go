package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
	"github.com/danielpatrickdp/trustscore/internal/pipeline"
)

// #region server

// Server exposes a Pipeline over HTTP.
type Server struct {
	pipeline    *pipeline.Pipeline
	concurrency int
	maxBatch    int
	logger      *clog.Logger
}

// New creates a server. Request logs inherit the logger carried by ctx.
func New(ctx context.Context, p *pipeline.Pipeline, batchConcurrency int) *Server {
	return &Server{
		pipeline:    p,
		concurrency: batchConcurrency,
		maxBatch:    500,
		logger:      clog.FromContext(ctx),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/evaluate", s.evaluate)
	router.POST("/evaluate/batch", s.evaluateBatch)

	evaluations := router.Group("/evaluations")
	{
		evaluations.GET("", s.listRecent)
		evaluations.GET("/:id", s.getEvaluation)
		evaluations.GET("/:id/transitions", s.getTransitions)
		evaluations.GET("/run/:runId", s.listRun)
	}

	reviews := router.Group("/review")
	{
		reviews.GET("/queue", s.reviewQueue)
		reviews.POST("/next", s.reviewNext)
		reviews.POST("/:id/submit", s.submitReview)
		reviews.POST("/:id/release", s.releaseReview)
	}

	drifts := router.Group("/drift")
	{
		drifts.GET("/alerts", s.listAlerts)
		drifts.POST("/alerts/:id/acknowledge", s.acknowledge)
		drifts.GET("/metrics/:name", s.driftSummary)
		drifts.GET("/metrics/:name/points", s.driftPoints)
		drifts.POST("/metrics/:name/check", s.checkDrift)
	}

	router.GET("/dashboard/metrics", s.dashboard)
	return router
}

// requestLogger attaches a per-request clog logger to the request context and
// logs the outcome once the handler chain returns.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		log := s.logger.With("method", c.Request.Method).With("path", c.FullPath())
		c.Request = c.Request.WithContext(clog.WithLogger(c.Request.Context(), log))

		c.Next()

		log = log.With("status", c.Writer.Status()).With("duration", time.Since(start))
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("request failed")
			return
		}
		log.Debug("request served")
	}
}

// #endregion server

// #region errors

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(kind evaluation.ErrorKind) int {
	switch kind {
	case evaluation.KindValidation:
		return http.StatusBadRequest
	case evaluation.KindNotFound, evaluation.KindUnknownQueueItem:
		return http.StatusNotFound
	case evaluation.KindInvalidState:
		return http.StatusConflict
	case evaluation.KindJudgeUnavailable, evaluation.KindJudgeMalformedResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	kind := evaluation.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		clog.FromContext(c.Request.Context()).Errorf("internal error: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func badRequest(c *gin.Context, format string, args ...any) {
	writeError(c, fmt.Errorf("%w: %s", evaluation.ErrValidation, fmt.Sprintf(format, args...)))
}

// #endregion errors

// #region evaluations

func (s *Server) evaluate(c *gin.Context) {
	var req evaluation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload: %v", err)
		return
	}
	ev, err := s.pipeline.Submit(c.Request.Context(), req)
	if err != nil {
		kind := evaluation.KindOf(err)
		if ev.ID != "" && ev.Status == evaluation.StatusFailed {
			c.JSON(statusFor(kind), gin.H{"error": err.Error(), "kind": kind, "evaluation": ev})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// BatchRequest is the payload of POST /evaluate/batch.
type BatchRequest struct {
	Requests []evaluation.Request `json:"requests"`
}

// BatchItem is one entry of the batch response, in request order.
type BatchItem struct {
	Evaluation *evaluation.Evaluation `json:"evaluation,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Kind       evaluation.ErrorKind   `json:"kind,omitempty"`
}

func (s *Server) evaluateBatch(c *gin.Context) {
	var body BatchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request payload: %v", err)
		return
	}
	if len(body.Requests) == 0 {
		badRequest(c, "requests must not be empty")
		return
	}
	if len(body.Requests) > s.maxBatch {
		badRequest(c, "at most %d requests per batch", s.maxBatch)
		return
	}

	results := s.pipeline.SubmitBatch(c.Request.Context(), body.Requests, s.concurrency)
	items := make([]BatchItem, len(results))
	for i, r := range results {
		if r.Evaluation.ID != "" {
			ev := r.Evaluation
			items[i].Evaluation = &ev
		}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
			items[i].Kind = evaluation.KindOf(r.Err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": items})
}

func (s *Server) getEvaluation(c *gin.Context) {
	ev, err := s.pipeline.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) getTransitions(c *gin.Context) {
	entries, err := s.pipeline.Transitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": entries})
}

func (s *Server) listRun(c *gin.Context) {
	evs, err := s.pipeline.ListByRun(c.Request.Context(), c.Param("runId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if evs == nil {
		evs = []evaluation.Evaluation{}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("runId"), "evaluations": evs})
}

func (s *Server) listRecent(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	evs, err := s.pipeline.ListRecent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if evs == nil {
		evs = []evaluation.Evaluation{}
	}
	c.JSON(http.StatusOK, gin.H{"evaluations": evs})
}

// #endregion evaluations

// #region review

func (s *Server) reviewQueue(c *gin.Context) {
	ctx := c.Request.Context()
	items, err := s.pipeline.PendingReviews(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	stats, err := s.pipeline.QueueStats(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []evaluation.ReviewQueueItem{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "stats": stats})
}

func (s *Server) reviewNext(c *gin.Context) {
	item, err := s.pipeline.DequeueNext(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if item == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, item)
}

// ReviewSubmission is the payload of POST /review/:id/submit.
type ReviewSubmission struct {
	Verdict         string `json:"verdict"`
	Notes           string `json:"notes"`
	ReviewerID      string `json:"reviewer_id"`
	CorrectedOutput string `json:"corrected_output"`
}

func (s *Server) submitReview(c *gin.Context) {
	var body ReviewSubmission
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request payload: %v", err)
		return
	}
	verdict, err := evaluation.ParseVerdict(body.Verdict)
	if err != nil {
		writeError(c, err)
		return
	}
	ev, err := s.pipeline.ResolveReview(c.Request.Context(), c.Param("id"), verdict, body.Notes, body.ReviewerID, body.CorrectedOutput)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) releaseReview(c *gin.Context) {
	if err := s.pipeline.ReleaseReview(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": c.Param("id")})
}

// #endregion review

// #region drift

func (s *Server) listAlerts(c *gin.Context) {
	ctx := c.Request.Context()
	severity := evaluation.DriftSeverity(strings.ToUpper(c.Query("severity")))
	if severity != "" && severity != evaluation.DriftWarning && severity != evaluation.DriftCritical {
		badRequest(c, "unknown severity %q", c.Query("severity"))
		return
	}

	var (
		alerts []evaluation.DriftAlert
		err    error
	)
	if active, _ := strconv.ParseBool(c.Query("active")); active {
		alerts, err = s.pipeline.ActiveAlerts(ctx)
		alerts = filterSeverity(alerts, severity)
	} else {
		window := s.pipeline.Config().Drift.Window
		if raw := c.Query("since"); raw != "" {
			if window, err = time.ParseDuration(raw); err != nil || window <= 0 {
				badRequest(c, "since must be a positive duration")
				return
			}
		}
		alerts, err = s.pipeline.Alerts(ctx, time.Now().Add(-window), severity)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if alerts == nil {
		alerts = []evaluation.DriftAlert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func filterSeverity(alerts []evaluation.DriftAlert, severity evaluation.DriftSeverity) []evaluation.DriftAlert {
	if severity == "" {
		return alerts
	}
	out := alerts[:0]
	for _, a := range alerts {
		if a.Severity == severity {
			out = append(out, a)
		}
	}
	return out
}

func (s *Server) acknowledge(c *gin.Context) {
	if err := s.pipeline.Acknowledge(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "acknowledged": true})
}

func (s *Server) driftSummary(c *gin.Context) {
	summary, err := s.pipeline.DriftSummary(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) driftPoints(c *gin.Context) {
	points, err := s.pipeline.DriftPoints(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metric_name": c.Param("name"), "points": points})
}

func (s *Server) checkDrift(c *gin.Context) {
	alert := s.pipeline.CheckDrift(c.Request.Context(), c.Param("name"))
	c.JSON(http.StatusOK, gin.H{"metric_name": c.Param("name"), "alert": alert})
}

// #endregion drift

// #region dashboard

func (s *Server) dashboard(c *gin.Context) {
	window := s.pipeline.Config().Drift.Window
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			badRequest(c, "window must be a positive duration")
			return
		}
		window = d
	}
	d, err := s.pipeline.Dashboard(c.Request.Context(), window)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// #endregion dashboard

// Serve runs the router on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.With("addr", addr).Info("listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
