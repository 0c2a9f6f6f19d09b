package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"visualizer.worker/internal/backend/comfy"
	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/metrics"
	"visualizer.worker/internal/core/services"
)

// JobRunner executes one job synchronously.
type JobRunner interface {
	Kind() string
	Run(ctx context.Context, job *domain.Job) domain.Result
}

// JobQueue accepts jobs for the queue consumer and serves their results.
type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	Result(ctx context.Context, jobID string) (*domain.ResultEnvelope, error)
	Depth(ctx context.Context) (int64, error)
}

type DeadLetters interface {
	List(ctx context.Context, offset, limit int64) ([]*domain.DeadLetter, error)
	Count(ctx context.Context) (int64, error)
	Retry(ctx context.Context, jobID string, enqueue func(context.Context, *domain.Job) error) (*domain.Job, error)
}

// BackendDiagnostics exposes the graph engine's own queue and node registry.
type BackendDiagnostics interface {
	Queue(ctx context.Context) (*comfy.QueueStatus, error)
	ObjectInfo(ctx context.Context, class string) (json.RawMessage, error)
}

type Server struct {
	router    *chi.Mux
	runner    JobRunner
	healthSvc *services.HealthService
	hub       *Hub

	queue       JobQueue
	deadLetters DeadLetters
	runs        *services.RunService
	diagnostics BackendDiagnostics
	noMetrics   bool
}

type Option func(*Server)

// WithQueue enables POST /run and GET /status/{id}.
func WithQueue(q JobQueue) Option {
	return func(s *Server) { s.queue = q }
}

func WithDeadLetters(d DeadLetters) Option {
	return func(s *Server) { s.deadLetters = d }
}

func WithRunService(runs *services.RunService) Option {
	return func(s *Server) { s.runs = runs }
}

func WithDiagnostics(d BackendDiagnostics) Option {
	return func(s *Server) { s.diagnostics = d }
}

// WithoutMetrics drops the /metrics endpoint.
func WithoutMetrics() Option {
	return func(s *Server) { s.noMetrics = true }
}

func NewServer(runner JobRunner, healthSvc *services.HealthService, hub *Hub, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		runner:    runner,
		healthSvc: healthSvc,
		hub:       hub,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Metrics endpoint
	if !s.noMetrics {
		s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			MetricsHandler().ServeHTTP(w, r)
		})
	}

	// Kubernetes probes
	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)

	s.router.Get("/api/health", s.handleReadiness)
	s.router.Get("/api/health/detailed", s.handleDetailedHealth)
	s.router.Get("/api/ws", s.handleWS)

	// Result bodies carry base64 images; compress them for clients that accept it.
	s.router.Group(func(r chi.Router) {
		r.Use(compress)

		r.Post("/runsync", s.handleRunSync)
		r.Post("/run", s.handleRun)
		r.Get("/status/{id}", s.handleStatus)

		r.Get("/api/backend/queue", s.handleBackendQueue)
		r.Get("/api/backend/object_info", s.handleObjectInfo)

		r.Get("/api/runs", s.handleListRuns)
		r.Get("/api/runs/{id}", s.handleGetRun)

		r.Route("/api/dlq", func(r chi.Router) {
			r.Get("/", s.handleListDeadLetters)
			r.Post("/{id}/retry", s.handleRetryDeadLetter)
		})
	})
}

func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves addr until ctx is cancelled. A running /runsync job gets the
// shutdown grace period to finish.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	// Liveness probe - just check if server is running
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	// Readiness probe - the backend must answer
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	report := s.healthSvc.CheckHealth(r.Context())

	statusCode := http.StatusOK
	if report.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.hub, w, r)
}

// decodeJob reads a {id?, input} envelope.
func decodeJob(r *http.Request) (*domain.Job, error) {
	var job domain.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	return &job, nil
}

func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	job, err := decodeJob(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	result := s.runner.Run(r.Context(), job)
	writeJSON(w, http.StatusOK, domain.ResultEnvelope{ID: job.ID, Output: result})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "Queue disabled", "")
		return
	}
	job, err := decodeJob(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enqueue job", err.Error())
		return
	}
	if depth, err := s.queue.Depth(r.Context()); err == nil {
		metrics.SetQueueDepth(depth)
	}

	s.hub.Broadcast(Message{
		Type:    "job_queued",
		Payload: map[string]string{"job_id": job.ID},
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": string(domain.JobStatusPending)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "Queue disabled", "")
		return
	}
	id := chi.URLParam(r, "id")
	env, err := s.queue.Result(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Result not found", id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read result", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleBackendQueue(w http.ResponseWriter, r *http.Request) {
	if s.diagnostics == nil {
		writeError(w, http.StatusNotFound, "No diagnostics for worker kind", s.runner.Kind())
		return
	}
	q, err := s.diagnostics.Queue(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "Backend queue unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleObjectInfo(w http.ResponseWriter, r *http.Request) {
	if s.diagnostics == nil {
		writeError(w, http.StatusNotFound, "No diagnostics for worker kind", s.runner.Kind())
		return
	}
	info, err := s.diagnostics.ObjectInfo(r.Context(), r.URL.Query().Get("class"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "Backend object info unavailable", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(info)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "Run ledger disabled", "")
		return
	}
	offset, limit := pagination(r)

	result, err := s.runs.ListRuns(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "Run ledger disabled", "")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Run not found", id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get run", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type deadLetterPage struct {
	Entries []*domain.DeadLetter `json:"entries"`
	Total   int64                `json:"total"`
	Offset  int                  `json:"offset"`
	Limit   int                  `json:"limit"`
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeError(w, http.StatusNotFound, "Dead-letter queue disabled", "")
		return
	}
	offset, limit := pagination(r)

	entries, err := s.deadLetters.List(r.Context(), int64(offset), int64(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list dead letters", err.Error())
		return
	}
	total, err := s.deadLetters.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count dead letters", err.Error())
		return
	}
	metrics.SetDeadLetters(total)

	writeJSON(w, http.StatusOK, deadLetterPage{Entries: entries, Total: total, Offset: offset, Limit: limit})
}

// handleRetryDeadLetter moves a failed job back onto the queue.
func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil || s.queue == nil {
		writeError(w, http.StatusNotFound, "Dead-letter queue disabled", "")
		return
	}
	id := chi.URLParam(r, "id")

	job, err := s.deadLetters.Retry(r.Context(), id, s.queue.Enqueue)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "Job not in dead-letter queue", id)
		return
	case err != nil && job != nil:
		// queued again; the stale entry only shows up in listings
		logger.WarnContext(logger.WithJobID(r.Context(), id), "Retried job left in dead-letter queue", "error", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to retry job", err.Error())
		return
	}

	s.hub.Broadcast(Message{
		Type:    "job_queued",
		Payload: map[string]string{"job_id": job.ID},
	})
	writeJSON(w, http.StatusOK, job)
}

func pagination(r *http.Request) (offset, limit int) {
	offset = 0
	limit = 20

	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil && val >= 0 {
			offset = val
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}
	return offset, limit
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg, details string) {
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, code, body)
}
