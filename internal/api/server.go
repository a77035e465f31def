// Package api implements the HTTP JSON API for shopping turns.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nugget/cortexcart/internal/agent"
	"github.com/nugget/cortexcart/internal/buildinfo"
	"github.com/nugget/cortexcart/internal/render"
	"github.com/nugget/cortexcart/internal/usage"
)

// MaxQueryChars bounds the accepted query length.
const MaxQueryChars = 2000

// TurnRunner answers one shopping query. [agent.Orchestrator] satisfies it.
type TurnRunner interface {
	RunTurn(ctx context.Context, query string) agent.Answer
}

// Pinger checks the reasoning backend for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelChecker reports whether a model is available on the local
// inference server.
type ModelChecker interface {
	HasModel(ctx context.Context, name string) (bool, error)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address      string
	port         int
	turns        TurnRunner
	backend      Pinger
	models       ModelChecker
	model        string
	usageStore   *usage.Store
	writeTimeout time.Duration
	logger       *slog.Logger
	server       *http.Server
	stats        *SessionStats
}

// SessionStats counts turns served since the process started.
type SessionStats struct {
	TotalTurns     int64 `json:"total_turns"`
	PartialAnswers int64 `json:"partial_answers"`
	FailedRuns     int64 `json:"failed_runs"`
	TotalSources   int64 `json:"total_sources"`
	mu             sync.Mutex
}

// Record adds one answer to the counters.
func (s *SessionStats) Record(a agent.Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalTurns++
	if a.IsPartial {
		s.PartialAnswers++
	}
	if a.Reason == agent.ReasonFailed {
		s.FailedRuns++
	}
	s.TotalSources += int64(a.SourceCount)
}

// SessionStatsSnapshot is a copy-safe snapshot of session stats.
type SessionStatsSnapshot struct {
	TotalTurns     int64             `json:"total_turns"`
	PartialAnswers int64             `json:"partial_answers"`
	FailedRuns     int64             `json:"failed_runs"`
	TotalSources   int64             `json:"total_sources"`
	Build          map[string]string `json:"build,omitempty"`
}

// Snapshot returns the current counters.
func (s *SessionStats) Snapshot() SessionStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatsSnapshot{
		TotalTurns:     s.TotalTurns,
		PartialAnswers: s.PartialAnswers,
		FailedRuns:     s.FailedRuns,
		TotalSources:   s.TotalSources,
	}
}

// NewServer creates a new API server.
func NewServer(address string, port int, turns TurnRunner, backend Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		address:      address,
		port:         port,
		turns:        turns,
		backend:      backend,
		writeTimeout: 3 * time.Minute,
		logger:       logger,
		stats:        &SessionStats{},
	}
}

// SetModelCheck makes the health endpoint report degraded when model
// is not pulled on the inference server.
func (s *Server) SetModelCheck(models ModelChecker, model string) {
	s.models = models
	s.model = model
}

// SetUsageStore enables the usage endpoint.
func (s *Server) SetUsageStore(store *usage.Store) {
	s.usageStore = store
}

// SetWriteTimeout sets the response write timeout. It must cover a full
// run including synthesis.
func (s *Server) SetWriteTimeout(d time.Duration) {
	if d > 0 {
		s.writeTimeout = d
	}
}

// Handler returns the API routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/turn", s.handleTurn)

	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns when the server is
// shut down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.writeTimeout,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Cortex Cart",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.BuildInfo(), s.logger)
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status  string            `json:"status"` // healthy or degraded
	Backend string            `json:"backend"`
	Model   string            `json:"model,omitempty"`
	Build   map[string]string `json:"build"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Backend: "ok", Build: buildinfo.BuildInfo()}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.backend != nil {
		if err := s.backend.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Backend = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	if s.models != nil && code == http.StatusOK {
		ok, err := s.models.HasModel(ctx, s.model)
		switch {
		case err != nil:
			resp.Model = err.Error()
		case ok:
			resp.Model = "ok"
		default:
			resp.Model = fmt.Sprintf("%s is not pulled", s.model)
		}
		if !ok {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	snap.Build = buildinfo.BuildInfo()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snap, s.logger)
}

// TurnRequest is the body of POST /v1/turn.
type TurnRequest struct {
	Query  string `json:"query"`
	Format string `json:"format,omitempty"` // text (default) or html
}

// TurnResponse is the answer plus an optional HTML rendering.
type TurnResponse struct {
	agent.Answer
	HTML string `json:"html,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	query := strings.TrimSpace(req.Query)
	switch {
	case query == "":
		s.errorResponse(w, http.StatusBadRequest, "query is required")
		return
	case utf8.RuneCountInString(query) > MaxQueryChars:
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("query exceeds %d characters", MaxQueryChars))
		return
	}

	switch req.Format {
	case "", "text", "html":
	default:
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q (expected text or html)", req.Format))
		return
	}

	answer := s.turns.RunTurn(r.Context(), query)
	s.stats.Record(answer)

	resp := TurnResponse{Answer: answer}
	if req.Format == "html" {
		html, err := render.Fragment(answer.Text)
		if err != nil {
			s.logger.Warn("failed to render answer", "run_id", answer.RunID, "error", err)
		}
		resp.HTML = html
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	Hours   int                       `json:"hours"`
	Total   *usage.Summary            `json:"total"`
	ByRole  map[string]*usage.Summary `json:"by_role"`
	ByModel map[string]*usage.Summary `json:"by_model"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usageStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}

	resp, err := UsageReport(s.usageStore, time.Now(), hours)
	if err != nil {
		s.logger.Error("usage query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// UsageReport summarizes usage for the hours before now.
func UsageReport(store *usage.Store, now time.Time, hours int) (*UsageResponse, error) {
	start := now.Add(-time.Duration(hours) * time.Hour)
	end := now.Add(time.Second)

	total, err := store.Summary(start, end)
	if err != nil {
		return nil, err
	}
	byRole, err := store.SummaryByRole(start, end)
	if err != nil {
		return nil, err
	}
	byModel, err := store.SummaryByModel(start, end)
	if err != nil {
		return nil, err
	}
	return &UsageResponse{Hours: hours, Total: total, ByRole: byRole, ByModel: byModel}, nil
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
