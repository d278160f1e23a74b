package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names exported on /metrics.
const (
	MetricCycleDurationSeconds   = "trader_cycle_duration_seconds"
	MetricStageDurationSeconds   = "trader_stage_duration_seconds"
	MetricProposalsTotal         = "trader_proposals_total"
	MetricOrdersPlacedTotal      = "trader_orders_placed_total"
	MetricOrdersFilledTotal      = "trader_orders_filled_total"
	MetricOrdersRejectedTotal    = "trader_orders_rejected_total"
	MetricNoTradeTotal           = "trader_no_trade_total"
	MetricRateLimitUtilization   = "trader_rate_limit_utilization"
	MetricCircuitBreakerOpen     = "trader_circuit_breaker_open"
	MetricAccountValueUSD        = "trader_account_value_usd"
	MetricOpenPositions          = "trader_open_positions"
)

// MetricsHolder holds initialized OTel instruments plus the mutable maps that
// back the observable gauges.
type MetricsHolder struct {
	CycleDuration  metric.Float64Histogram
	StageDuration  metric.Float64Histogram
	ProposalsTotal metric.Int64Counter
	OrdersPlaced   metric.Int64Counter
	OrdersFilled   metric.Int64Counter
	OrdersRejected metric.Int64Counter
	NoTradeTotal   metric.Int64Counter

	RateLimitUtil  metric.Float64ObservableGauge
	CircuitOpen    metric.Int64ObservableGauge
	AccountValue   metric.Float64ObservableGauge
	OpenPositions  metric.Int64ObservableGauge

	mu            sync.RWMutex
	rateLimitMap  map[string]float64
	circuitMap    map[string]int64
	accountValue  float64
	openPositions int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			rateLimitMap: make(map[string]float64),
			circuitMap:   make(map[string]int64),
		}
	})
	return globalMetrics
}

// Init initializes instruments using the given meter.
func (m *MetricsHolder) Init(meter metric.Meter) error {
	var err error

	if m.CycleDuration, err = meter.Float64Histogram(MetricCycleDurationSeconds, metric.WithDescription("Duration of a full trading cycle")); err != nil {
		return err
	}
	if m.StageDuration, err = meter.Float64Histogram(MetricStageDurationSeconds, metric.WithDescription("Duration of a single cycle stage"), metric.WithUnit("s")); err != nil {
		return err
	}
	if m.ProposalsTotal, err = meter.Int64Counter(MetricProposalsTotal, metric.WithDescription("Trade proposals produced by strategies")); err != nil {
		return err
	}
	if m.OrdersPlaced, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Orders submitted to the exchange")); err != nil {
		return err
	}
	if m.OrdersFilled, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Orders reaching FILLED")); err != nil {
		return err
	}
	if m.OrdersRejected, err = meter.Int64Counter(MetricOrdersRejectedTotal, metric.WithDescription("Orders rejected by risk or the exchange")); err != nil {
		return err
	}
	if m.NoTradeTotal, err = meter.Int64Counter(MetricNoTradeTotal, metric.WithDescription("Cycles that completed with no trade, by reason"), ); err != nil {
		return err
	}

	m.RateLimitUtil, err = meter.Float64ObservableGauge(MetricRateLimitUtilization, metric.WithDescription("RateLimiter utilization per endpoint"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for ep, v := range m.rateLimitMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("endpoint", ep)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CircuitOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen, metric.WithDescription("Circuit breaker open state (1=open)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, v := range m.circuitMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("name", name)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.AccountValue, err = meter.Float64ObservableGauge(MetricAccountValueUSD, metric.WithDescription("Account value in USD"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.accountValue)
			return nil
		}))
	if err != nil {
		return err
	}

	m.OpenPositions, err = meter.Int64ObservableGauge(MetricOpenPositions, metric.WithDescription("Count of open positions"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.openPositions)
			return nil
		}))
	return err
}

func (m *MetricsHolder) SetRateLimitUtilization(endpoint string, util float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitMap[endpoint] = util
}

func (m *MetricsHolder) SetCircuitOpen(name string, open bool) {
	v := int64(0)
	if open {
		v = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitMap[name] = v
}

func (m *MetricsHolder) SetAccountValue(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountValue = v
}

func (m *MetricsHolder) SetOpenPositions(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions = n
}

// RateLimitSnapshot returns a copy of the current per-endpoint utilization map.
func (m *MetricsHolder) RateLimitSnapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.rateLimitMap))
	for k, v := range m.rateLimitMap {
		out[k] = v
	}
	return out
}

// CircuitSnapshot returns a copy of the current circuit-open map.
func (m *MetricsHolder) CircuitSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.circuitMap))
	for k, v := range m.circuitMap {
		out[k] = v
	}
	return out
}
