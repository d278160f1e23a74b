package execution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"market_maker/internal/core"
)

// shadowOrderRecord is one DRY_RUN execution plan, detailed enough to
// compare against a parallel live run without ever reaching the exchange.
type shadowOrderRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	ClientOrderID   string    `json:"client_order_id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	SizeUSD         string    `json:"size_usd"`
	SizeBase        string    `json:"size_base"`
	IntendedRoute   string    `json:"intended_route"`
	IntendedPrice   string    `json:"intended_price"`
	WouldPlace      bool      `json:"would_place"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
}

// ShadowExecutor appends detailed execution-plan records to a JSONL file
// for DRY_RUN runs, grounded on original_source/core/shadow_execution.py's
// ShadowExecutionLogger: logging the full intended-order plan (route,
// price, size, rejection reason) without ever submitting to the exchange,
// for offline comparison against a parallel live/paper run.
type ShadowExecutor struct {
	path   string
	logger core.Logger
	mu     sync.Mutex
}

// NewShadowExecutor opens (creating parent directories as needed) a JSONL
// log at path.
func NewShadowExecutor(path string, logger core.Logger) (*ShadowExecutor, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("shadow: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shadow: open log: %w", err)
	}
	_ = f.Close()
	return &ShadowExecutor{path: path, logger: logger}, nil
}

// LogOrder appends one shadow execution plan.
func (s *ShadowExecutor) LogOrder(req core.PlaceOrderRequest) {
	rec := shadowOrderRecord{
		Timestamp:     time.Now().UTC(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		SizeUSD:       req.QuoteSize.String(),
		SizeBase:      req.BaseSize.String(),
		IntendedRoute: string(req.Route),
		IntendedPrice: req.LimitPrice.String(),
		WouldPlace:    true,
	}
	s.append(rec)
}

// LogRejection appends a shadow record for a proposal that failed gating
// before it would have reached the exchange.
func (s *ShadowExecutor) LogRejection(symbol string, side core.Side, sizeUSD float64, reason string) {
	rec := shadowOrderRecord{
		Timestamp:       time.Now().UTC(),
		Symbol:          symbol,
		Side:            string(side),
		SizeUSD:         fmt.Sprintf("%.2f", sizeUSD),
		WouldPlace:      false,
		RejectionReason: reason,
	}
	s.append(rec)
}

func (s *ShadowExecutor) append(rec shadowOrderRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("shadow log append failed", "error", err.Error())
		}
		return
	}
	defer f.Close()
	_, _ = f.Write(append(data, '\n'))
}
