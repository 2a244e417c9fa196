// Package api provides the kernel's read/control HTTP surface: status,
// workcells, history, and stats over plain JSON, plus a websocket stream of
// live telemetry events for external collaborators (e.g. a terminal UI).
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cyntra-dev/cyntra/internal/config"
	"github.com/cyntra-dev/cyntra/internal/metrics"
	"github.com/cyntra-dev/cyntra/internal/store"
	"github.com/cyntra-dev/cyntra/internal/telemetry"
)

// runnerControl is the subset of the Runner's pause switch the API needs;
// declared here rather than imported to avoid a dependency cycle (the
// Runner wires the API, not the other way around).
type runnerControl interface {
	Pause()
	Resume()
	Paused() bool
}

// Server is the kernel's control API.
type Server struct {
	cfg            *config.Config
	store          *store.Store
	metrics        *metrics.Metrics
	runner         runnerControl
	hub            *streamHub
	logger         *slog.Logger
	startTime      time.Time
	httpServer     *http.Server
	authMiddleware *AuthMiddleware
}

// NewServer creates the control API server. runner may be nil, in which
// case /scheduler/pause and /scheduler/resume report 503.
func NewServer(cfg *config.Config, s *store.Store, m *metrics.Metrics, runner runnerControl, logger *slog.Logger) (*Server, error) {
	authMiddleware, err := NewAuthMiddleware(&cfg.API.Security, logger)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:            cfg,
		store:          s,
		metrics:        m,
		runner:         runner,
		hub:            newStreamHub(),
		logger:         logger,
		startTime:      time.Now(),
		authMiddleware: authMiddleware,
	}, nil
}

// Close releases resources held by the server (audit log file, stream hub).
func (s *Server) Close() error {
	s.hub.closeAll()
	if s.authMiddleware != nil {
		return s.authMiddleware.Close()
	}
	return nil
}

// Publish fans a telemetry event out to every subscribed /stream client.
// Events reach /stream only through this method; events written by
// telemetry.Writer.Emit are not forwarded here automatically.
func (s *Server) Publish(event telemetry.Event) {
	s.hub.broadcast(event)
}

// instrument wraps a handler so every request updates the control-API
// request counter/duration histogram, regardless of route.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Start begins listening on the configured bind address. Blocks until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", s.instrument("/status", s.handleStatus))
	mux.HandleFunc("/workcells", s.instrument("/workcells", s.handleWorkcells))
	mux.HandleFunc("/workcells/", s.instrument("/workcells/", s.handleWorkcellDetail))
	mux.HandleFunc("/history", s.instrument("/history", s.handleHistory))
	mux.HandleFunc("/stats", s.instrument("/stats", s.handleStats))
	mux.HandleFunc("/health", s.instrument("/health", s.handleHealth))
	mux.HandleFunc("/stream", s.handleStream)

	mux.HandleFunc("/scheduler/pause", s.instrument("/scheduler/pause", s.authMiddleware.RequireAuth(s.handleSchedulerPause)))
	mux.HandleFunc("/scheduler/resume", s.instrument("/scheduler/resume", s.authMiddleware.RequireAuth(s.handleSchedulerResume)))
	mux.HandleFunc("/scheduler/status", s.instrument("/scheduler/status", s.handleSchedulerStatus))

	s.httpServer = &http.Server{
		Addr:        s.cfg.API.Bind,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "bind", s.cfg.API.Bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// GET /status — mirrors `cyntra status`.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	running, _ := s.store.ListRunningWorkcells()

	paused := false
	if s.runner != nil {
		paused = s.runner.Paused()
	}

	writeJSON(w, map[string]any{
		"uptime_s":       time.Since(s.startTime).Seconds(),
		"running_count":  len(running),
		"paused":         paused,
		"max_concurrent": s.cfg.MaxConcurrentWorkcells,
		"max_tokens":     s.cfg.MaxConcurrentTokens,
	})
}

// GET /workcells — mirrors `cyntra workcells`.
func (s *Server) handleWorkcells(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"

	var (
		rows []store.WorkcellRecord
		err  error
	)
	if all {
		rows, err = s.store.ListAllWorkcells()
	} else {
		rows, err = s.store.ListRunningWorkcells()
	}
	if err != nil {
		s.logger.Error("failed to list workcells", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list workcells")
		return
	}
	writeJSON(w, rows)
}

// GET /workcells/{issue_id} — workcells for one issue.
func (s *Server) handleWorkcellDetail(w http.ResponseWriter, r *http.Request) {
	issueID := strings.TrimPrefix(r.URL.Path, "/workcells/")
	if issueID == "" {
		s.handleWorkcells(w, r)
		return
	}

	rows, err := s.store.ListWorkcellsByIssue(issueID)
	if err != nil {
		s.logger.Error("failed to list workcells for issue", "issue", issueID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list workcells")
		return
	}
	writeJSON(w, rows)
}

// GET /history?issue=ID&limit=N — all proofs of one issue, or the most
// recent N proofs. There is no run filter; a run parameter is ignored.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var (
		rows []store.ProofRecord
		err  error
	)
	switch {
	case q.Get("issue") != "":
		rows, err = s.store.ListProofsByIssue(q.Get("issue"))
	default:
		rows, err = s.store.ListRecentProofs(limit)
	}
	if err != nil {
		s.logger.Error("failed to query history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	writeJSON(w, rows)
}

// GET /stats?cost=true&success_rate=true&time=true — mirrors `cyntra stats`.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	recent, err := s.store.ListRecentProofs(500)
	if err != nil {
		s.logger.Error("failed to compute stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	var (
		total, succeeded int
		totalCost        float64
		totalDurationMS  int64
	)
	for _, p := range recent {
		total++
		if p.Status == "success" {
			succeeded++
		}
		totalCost += p.CostUSD
		totalDurationMS += p.DurationMS
	}

	q := r.URL.Query()
	cost := q.Get("cost") == "true"
	successRate := q.Get("success_rate") == "true"
	showTime := q.Get("time") == "true"
	showAll := !cost && !successRate && !showTime

	resp := map[string]any{
		"sample_size": total,
	}
	if total > 0 {
		if successRate || showAll {
			resp["success_rate"] = float64(succeeded) / float64(total)
		}
		if cost || showAll {
			resp["total_cost_usd"] = totalCost
		}
		if showTime || showAll {
			resp["avg_duration_ms"] = totalDurationMS / int64(total)
		}
	}
	writeJSON(w, resp)
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := s.store.DB().QueryContext(r.Context(), "SELECT 1")
	healthy := err == nil

	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, map[string]any{"healthy": healthy})
}

// POST /scheduler/pause
func (s *Server) handleSchedulerPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner not wired")
		return
	}
	s.runner.Pause()
	writeJSON(w, map[string]any{"paused": true})
}

// POST /scheduler/resume
func (s *Server) handleSchedulerResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner not wired")
		return
	}
	s.runner.Resume()
	writeJSON(w, map[string]any{"paused": false})
}

// GET /scheduler/status
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	paused := false
	if s.runner != nil {
		paused = s.runner.Paused()
	}
	writeJSON(w, map[string]any{
		"paused":        paused,
		"tick_interval": s.cfg.General.TickInterval.String(),
	})
}
