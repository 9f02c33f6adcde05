// Package transport provides the status API: HTTP handlers, a websocket
// event stream and the live run tracker behind them.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/refiner/internal/storage"
	"github.com/gateway-fm/refiner/pkg/types"
)

// Pagination defaults and caps.
const (
	defaultRunsLimit = 50
	maxRunsLimit     = 100
	defaultTxLimit   = 100
	maxTxLimit       = 1000
)

// readyTimeout bounds each readiness check.
const readyTimeout = 5 * time.Second

// StatusProvider returns the live run state.
type StatusProvider interface {
	Snapshot() types.RunSnapshot
}

// History is the subset of storage.Storage the API reads from.
type History interface {
	ListRuns(ctx context.Context, limit, offset int) (*storage.PaginatedRuns, error)
	GetRun(ctx context.Context, id string) (*storage.Run, error)
	DeleteRun(ctx context.Context, id string) error
	GetTxRecords(ctx context.Context, runID string, limit, offset int) (*storage.PaginatedTxRecords, error)
}

// HealthChecker checks upstream dependencies for readiness probes.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// CheckRPC calls f.
func (f HealthCheckFunc) CheckRPC(ctx context.Context) error { return f(ctx) }

// ServerConfig holds the collaborators of a Server. Only Status is required.
type ServerConfig struct {
	Status  StatusProvider
	Events  EventSource
	History History
	Health  HealthChecker
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer           prometheus.Gatherer
	CORSAllowedOrigins string
	Logger             *slog.Logger
}

// Server handles HTTP requests for the status API.
type Server struct {
	status    StatusProvider
	history   History
	health    HealthChecker
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	corsAllowedOrigins []string
	corsAllowAll       bool // "*" or empty
}

// NewServer creates a new HTTP server and starts its event stream.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	wsServer := NewWebSocketServer(cfg.Status, cfg.Events, logger)
	wsServer.Start()

	s := &Server{
		status:    cfg.Status,
		history:   cfg.History,
		health:    cfg.Health,
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  wsServer,
	}

	origins := strings.TrimSpace(cfg.CORSAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Close stops the event stream and disconnects websocket clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/runs", s.corsMiddleware(s.handleRuns))
	mux.HandleFunc("/v1/runs/", s.corsMiddleware(s.handleRunDetail))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	// Health endpoints (unversioned, standard probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleStatus returns the live run snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.status.Snapshot())
}

// handleRuns returns run history with optional pagination.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeJSONError(w, "Run history is disabled", http.StatusServiceUnavailable)
		return
	}

	limit, offset := pagination(r, defaultRunsLimit, maxRunsLimit)
	result, err := s.history.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to get runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result)
}

// handleRunDetail handles /v1/runs/{id} and /v1/runs/{id}/transactions.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		s.writeJSONError(w, "Missing run ID", http.StatusBadRequest)
		return
	}
	runID := parts[0]

	if s.history == nil {
		s.writeJSONError(w, "Run history is disabled", http.StatusServiceUnavailable)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "transactions":
		s.handleRunTransactions(w, r, runID)
		return
	case len(parts) > 1:
		s.writeJSONError(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		run, err := s.history.GetRun(r.Context(), runID)
		if err != nil {
			s.writeJSONError(w, "Failed to get run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if run == nil {
			s.writeJSONError(w, "Run not found", http.StatusNotFound)
			return
		}
		s.writeJSON(w, run)

	case http.MethodDelete:
		if err := s.history.DeleteRun(r.Context(), runID); err != nil {
			s.writeJSONError(w, "Failed to delete run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]bool{"deleted": true})

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunTransactions handles GET /v1/runs/{id}/transactions.
func (s *Server) handleRunTransactions(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, offset := pagination(r, defaultTxLimit, maxTxLimit)
	result, err := s.history.GetTxRecords(r.Context(), runID, limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to get transactions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result)
}

// pagination reads limit and offset, ignoring out-of-range values.
func pagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxLimit {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"ws_clients":     s.wsServer.ClientCount(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok", "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		start := time.Now()
		err := s.health.CheckRPC(ctx)
		check := ReadinessCheck{
			Name:      "rpc",
			LatencyMs: time.Since(start).Milliseconds(),
			Status:    "ok",
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		}
		checks = append(checks, check)
	}

	w.Header().Set("Content-Type", "application/json")
	if allHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	})
}
