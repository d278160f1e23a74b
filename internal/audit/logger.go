// Package audit writes one structured JSONL record per trading cycle,
// covering universe composition, proposals, risk outcomes, and final
// orders, for compliance and postmortem analysis, per spec.md §2's
// AuditLogger component. Grounded on original_source/core/audit_log.py's
// AuditLogger.log_cycle.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"market_maker/internal/core"
)

// CycleStatus summarizes the outcome of one trading cycle.
type CycleStatus string

const (
	StatusExecuted       CycleStatus = "EXECUTED"
	StatusNoOpportunities CycleStatus = "NO_OPPORTUNITIES"
	StatusNoTrade        CycleStatus = "NO_TRADE"
)

// OrderOutcome is the flattened per-order detail recorded in a cycle.
type OrderOutcome struct {
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	SizeUSD string `json:"size_usd"`
	OrderID string `json:"order_id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CycleRecord is one complete trading cycle's audit trail.
type CycleRecord struct {
	EventID            string             `json:"event_id"`
	Timestamp          time.Time          `json:"timestamp"`
	Mode               string             `json:"mode"`
	Status             CycleStatus        `json:"status"`
	NoTradeReason      string             `json:"no_trade_reason,omitempty"`
	UniverseSize       int                `json:"universe_size"`
	BaseProposalCount  int                `json:"base_proposal_count"`
	RiskApprovedCount  int                `json:"risk_approved_count"`
	FinalOrderCount    int                `json:"final_order_count"`
	RiskViolations     []string           `json:"risk_violations,omitempty"`
	StageLatenciesMs   map[string]float64 `json:"stage_latencies_ms,omitempty"`
	Orders             []OrderOutcome     `json:"orders"`
}

// Logger appends CycleRecords to a JSONL file.
type Logger struct {
	path   string
	logger core.Logger
	mu     sync.Mutex
}

// New opens (creating parent directories as needed) an audit log at path.
func New(path string, logger core.Logger) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	_ = f.Close()
	return &Logger{path: path, logger: logger}, nil
}

// LogCycle records one cycle's full decision trail. noTradeReason is empty
// when the cycle placed at least one order or simply found nothing to do.
func (l *Logger) LogCycle(mode core.Mode, universeSize, baseProposals, riskApproved int, orders []OrderOutcome, noTradeReason string, riskViolations []string, stageLatenciesMs map[string]float64) {
	status := StatusNoOpportunities
	switch {
	case noTradeReason != "":
		status = StatusNoTrade
	case len(orders) > 0:
		status = StatusExecuted
	}

	rec := CycleRecord{
		EventID:           uuid.NewString(),
		Timestamp:         time.Now().UTC(),
		Mode:              string(mode),
		Status:            status,
		NoTradeReason:     noTradeReason,
		UniverseSize:      universeSize,
		BaseProposalCount: baseProposals,
		RiskApprovedCount: riskApproved,
		FinalOrderCount:   len(orders),
		RiskViolations:    riskViolations,
		StageLatenciesMs:  stageLatenciesMs,
		Orders:            orders,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if l.logger != nil {
			l.logger.Error("audit log append failed", "error", err.Error())
		}
		return
	}
	defer f.Close()
	data, err := json.Marshal(rec)
	if err != nil {
		if l.logger != nil {
			l.logger.Error("audit record marshal failed", "error", err.Error())
		}
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil && l.logger != nil {
		l.logger.Error("audit log write failed", "error", err.Error())
	}
}

// RecentCycles returns up to n of the most recently logged cycles, newest
// first. Malformed lines are skipped.
func (l *Logger) RecentCycles(n int) ([]CycleRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}

	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	out := make([]CycleRecord, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] == "" {
			continue
		}
		var rec CycleRecord
		if err := json.Unmarshal([]byte(lines[i]), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
