// Package health serves the read-only JSON status endpoint spec.md §6
// names (`GET /`, `/health`, `/healthz`), returning 200 when the latest
// published Status is ok and 503 otherwise, plus a Prometheus `/metrics`
// handler. Grounded on the teacher's internal/infrastructure/health and
// internal/infrastructure/server packages: the same component-registry +
// background-HTTP-goroutine shape, generalized from a free-form
// string-status map to the typed Status snapshot spec.md §6 specifies.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market_maker/internal/core"
)

// CycleStatus summarizes the most recently completed (or in-flight) cycle.
type CycleStatus struct {
	Status          string  `json:"status"`
	Proposals       int     `json:"proposals"`
	Approved        int     `json:"approved"`
	Executed        int     `json:"executed"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// PortfolioSummary is the health endpoint's trimmed portfolio view.
type PortfolioSummary struct {
	OpenPositions  int             `json:"open_positions"`
	PendingBuckets int             `json:"pending_buckets"`
	AccountValueUSD float64        `json:"account_value_usd"`
}

// Status is the full JSON body the health endpoint serves, matching
// spec.md §6's field list exactly.
type Status struct {
	Timestamp          time.Time              `json:"timestamp"`
	Mode               core.Mode              `json:"mode"`
	Regime             string                 `json:"regime"`
	ReadOnly           bool                   `json:"read_only"`
	Running            bool                   `json:"running"`
	Cycle              CycleStatus            `json:"cycle"`
	StageDurations     map[string]float64     `json:"stage_durations"`
	RateUsage          map[string]float64     `json:"rate_usage"`
	ExchangeRateLimits map[string]interface{} `json:"exchange_rate_limits"`
	LastAPIEvent       string                 `json:"last_api_event"`
	MetricsEnabled     bool                   `json:"metrics_enabled"`
	AlertsEnabled      bool                   `json:"alerts_enabled"`
	KillSwitchActive   bool                   `json:"kill_switch_active"`
	Portfolio          PortfolioSummary       `json:"portfolio"`
	Circuit            map[string]string      `json:"circuit"`
	Issues             []string               `json:"issues"`
	OK                 bool                   `json:"ok"`
}

// Server exposes the latest published Status over HTTP.
type Server struct {
	port   int
	logger core.Logger
	srv    *http.Server

	mu     sync.RWMutex
	status Status
}

// NewServer builds a Server bound to port, initially reporting not-ok
// (nothing has run yet).
func NewServer(port int, logger core.Logger) *Server {
	return &Server{
		port:   port,
		logger: logger,
		status: Status{OK: false, Issues: []string{"not yet started"}},
	}
}

// UpdateStatus replaces the published snapshot. Called by TradingLoop
// after every cycle.
func (s *Server) UpdateStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Start launches the HTTP server in a background goroutine. Per spec.md
// §5, this goroutine must never mutate PortfolioState or OrderStateMachine
// — it only reads the last published Status.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/health", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		if s.logger != nil {
			s.logger.Info("starting health server", "port", s.port)
		}
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("health server failed", "error", err.Error())
			}
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if status.OK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
