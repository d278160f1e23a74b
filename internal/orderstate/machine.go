// Package orderstate holds the in-memory order lifecycle: idempotent
// creation, strict transition validation, fill aggregation, and cleanup.
package orderstate

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/core"
)

// fillPromoteThreshold is the fraction of size_usd filled at which an order
// auto-promotes to FILLED even if the exchange hasn't said so explicitly.
const fillPromoteThreshold = 0.999

// validTransitions enumerates every allowed non-override transition.
var validTransitions = map[core.OrderStatus]map[core.OrderStatus]bool{
	core.OrderStatusNew: {
		core.OrderStatusOpen:     true,
		core.OrderStatusFailed:   true,
		core.OrderStatusRejected: true,
	},
	core.OrderStatusOpen: {
		core.OrderStatusPartialFill: true,
		core.OrderStatusFilled:      true,
		core.OrderStatusCanceled:    true,
		core.OrderStatusExpired:     true,
		core.OrderStatusRejected:    true,
	},
	core.OrderStatusPartialFill: {
		core.OrderStatusFilled:   true,
		core.OrderStatusCanceled: true,
		core.OrderStatusExpired:  true,
	},
}

// lateFillOverride is the one documented exception: a terminal order can
// still transition to FILLED when reconciliation turns up a late fill.
var lateFillOverride = map[core.OrderStatus]bool{
	core.OrderStatusCanceled: true,
	core.OrderStatusExpired:  true,
	core.OrderStatusFailed:   true,
}

// Machine holds every tracked order keyed by client_order_id.
type Machine struct {
	mu     sync.Mutex
	orders map[string]*core.Order
	logger core.Logger
}

// New creates an empty Machine.
func New(logger core.Logger) *Machine {
	return &Machine{orders: make(map[string]*core.Order), logger: logger}
}

// CreateOrder is idempotent: if clientOrderID is already known, the existing
// order is returned unchanged.
func (m *Machine) CreateOrder(clientOrderID, symbol string, side core.Side, sizeUSD decimal.Decimal, route core.Route) *core.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.orders[clientOrderID]; ok {
		return existing
	}
	order := &core.Order{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		SizeUSD:       sizeUSD,
		Status:        core.OrderStatusNew,
		Route:         route,
		Timestamps:    core.OrderTimestamps{Created: time.Now().UTC()},
	}
	m.orders[clientOrderID] = order
	return order
}

// Transition validates and applies a status change. allowOverride permits any
// transition regardless of the table (used by explicit operator/reconciler
// actions); otherwise only the table and the late-fill override apply.
func (m *Machine) Transition(clientOrderID string, newStatus core.OrderStatus, allowOverride bool) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[clientOrderID]
	if !ok {
		return nil, core.NewStateTransitionInvalid(clientOrderID, "", newStatus)
	}

	if !allowOverride && !m.isAllowed(order.Status, newStatus) {
		return nil, core.NewStateTransitionInvalid(clientOrderID, order.Status, newStatus)
	}

	order.Status = newStatus
	now := time.Now().UTC()
	switch newStatus {
	case core.OrderStatusOpen:
		order.Timestamps.Submitted = now
	case core.OrderStatusFilled, core.OrderStatusCanceled, core.OrderStatusExpired, core.OrderStatusRejected, core.OrderStatusFailed:
		order.Timestamps.Completed = now
	}
	return order, nil
}

func (m *Machine) isAllowed(from, to core.OrderStatus) bool {
	if from.IsTerminal() {
		return lateFillOverride[from] && to == core.OrderStatusFilled
	}
	return validTransitions[from][to]
}

// UpdateFill aggregates a new fill batch into the order's cumulative totals
// and auto-promotes PARTIAL_FILL/FILLED based on the filled fraction.
func (m *Machine) UpdateFill(clientOrderID string, fills []core.Fill) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[clientOrderID]
	if !ok {
		return nil, core.NewStateTransitionInvalid(clientOrderID, "", core.OrderStatusPartialFill)
	}

	totalBase, totalQuote, totalFees := decimal.Zero, decimal.Zero, decimal.Zero
	for _, f := range fills {
		totalBase = totalBase.Add(f.EffectiveBaseSize())
		totalQuote = totalQuote.Add(f.EffectiveQuoteSize())
		totalFees = totalFees.Add(f.Commission)
	}

	order.Fills = append(order.Fills, fills...)
	order.FilledSize = order.FilledSize.Add(totalBase)
	order.FilledValue = order.FilledValue.Add(totalQuote)
	order.Fees = order.Fees.Add(totalFees)
	if !order.FilledSize.IsZero() {
		order.AveragePrice = order.FilledValue.Div(order.FilledSize)
	}
	if order.Timestamps.FirstFill.IsZero() && len(fills) > 0 {
		order.Timestamps.FirstFill = time.Now().UTC()
	}

	fillPct := order.FillPct()
	if order.SizeBase.IsZero() && !order.SizeUSD.IsZero() {
		// Quote-denominated orders (e.g. market buys sized in USD) have no
		// base-unit target to divide by; fall back to value-filled fraction.
		fillPct = order.FilledValue.Div(order.SizeUSD)
	}
	now := time.Now().UTC()
	threshold := decimal.NewFromFloat(fillPromoteThreshold)
	switch {
	case fillPct.GreaterThanOrEqual(threshold):
		if m.isAllowed(order.Status, core.OrderStatusFilled) || order.Status.IsTerminal() {
			order.Status = core.OrderStatusFilled
			order.Timestamps.Completed = now
		}
	case fillPct.IsPositive() && order.Status == core.OrderStatusOpen:
		order.Status = core.OrderStatusPartialFill
	}
	return order, nil
}

// Get returns the tracked order, if any.
func (m *Machine) Get(clientOrderID string) (*core.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[clientOrderID]
	return o, ok
}

// Active returns every order not yet in a terminal state.
func (m *Machine) Active() []*core.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Order
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	sortByCreated(out)
	return out
}

// Terminal returns every order in a terminal state.
func (m *Machine) Terminal() []*core.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Order
	for _, o := range m.orders {
		if o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	sortByCreated(out)
	return out
}

// ByStatus returns every order currently in the given status.
func (m *Machine) ByStatus(status core.OrderStatus) []*core.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	sortByCreated(out)
	return out
}

// StaleByAge returns active orders older than maxAge.
func (m *Machine) StaleByAge(maxAge time.Duration) []*core.Order {
	cutoff := time.Now().UTC().Add(-maxAge)
	var out []*core.Order
	for _, o := range m.Active() {
		if o.Timestamps.Created.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out
}

// ClientIDByExchangeID looks up the tracked client_order_id for an
// exchange-assigned order id, returning "" when untracked.
func (m *Machine) ClientIDByExchangeID(exchangeOrderID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.orders {
		if o.ExchangeOrderID == exchangeOrderID {
			return id
		}
	}
	return ""
}

// CleanupOldOrders drops the oldest terminal orders beyond keepLastN.
func (m *Machine) CleanupOldOrders(keepLastN int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var terminal []*core.Order
	for _, o := range m.orders {
		if o.Status.IsTerminal() {
			terminal = append(terminal, o)
		}
	}
	sortByCreated(terminal)
	if len(terminal) <= keepLastN {
		return 0
	}
	toDrop := terminal[:len(terminal)-keepLastN]
	for _, o := range toDrop {
		delete(m.orders, o.ClientOrderID)
	}
	return len(toDrop)
}

// Summary is the counts-by-status view GetSummary exposes for the health endpoint.
type Summary struct {
	Total           int
	ByStatus        map[core.OrderStatus]int
	OldestActiveAge time.Duration
}

// GetSummary reports counts and the age of the oldest active order.
func (m *Machine) GetSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{ByStatus: make(map[core.OrderStatus]int)}
	now := time.Now().UTC()
	var oldest time.Time
	for _, o := range m.orders {
		s.Total++
		s.ByStatus[o.Status]++
		if !o.Status.IsTerminal() {
			if oldest.IsZero() || o.Timestamps.Created.Before(oldest) {
				oldest = o.Timestamps.Created
			}
		}
	}
	if !oldest.IsZero() {
		s.OldestActiveAge = now.Sub(oldest)
	}
	return s
}

func sortByCreated(orders []*core.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Timestamps.Created.Before(orders[j].Timestamps.Created)
	})
}
