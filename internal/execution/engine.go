// Package execution implements the ExecutionEngine: preview/liquidity
// gating, route selection, idempotent order submission, post-submit
// tracking, and fill reconciliation, grounded on the teacher's
// internal/trading/order.Executor and internal/risk.OrderCleaner.
package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/config"
	"market_maker/internal/core"
	"market_maker/internal/costmodel"
	"market_maker/internal/orderstate"
	"market_maker/pkg/concurrency"
)

const clientOrderIDLen = 24

// Engine routes approved proposals to the exchange, honoring the
// configured operating mode.
type Engine struct {
	mode     core.Mode
	client   core.ExchangeClient
	store    core.StateStore
	states   *orderstate.Machine
	cost     *costmodel.Model
	policy   *config.PolicyConfig
	logger   core.Logger

	mu           sync.Mutex
	inFlight     map[string]bool
	recentlyCanceled map[string]time.Time

	cancelPool *concurrency.WorkerPool
	shadow     *ShadowExecutor
}

// WithShadowLog attaches a ShadowExecutor so DRY_RUN submissions append a
// detailed execution-plan record. Optional; a nil shadow executor (the
// default) just skips the extra logging.
func (e *Engine) WithShadowLog(shadow *ShadowExecutor) *Engine {
	e.shadow = shadow
	return e
}

// New builds an ExecutionEngine bound to one operating mode.
func New(mode core.Mode, client core.ExchangeClient, store core.StateStore, states *orderstate.Machine, cost *costmodel.Model, policy *config.PolicyConfig, logger core.Logger) *Engine {
	return &Engine{
		mode:             mode,
		client:           client,
		store:            store,
		states:           states,
		cost:             cost,
		policy:           policy,
		logger:           logger,
		inFlight:         make(map[string]bool),
		recentlyCanceled: make(map[string]time.Time),
		cancelPool:       concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "order-cancel-fanout", MaxWorkers: 8, MaxCapacity: 64}, logger),
	}
}

// ClientOrderID derives the deterministic, minute-bucketed id REQ mandates:
// identical symbol/side/size/minute inputs always produce the same id, so a
// retried submission safely dedupes both in-process and against the
// persisted open_orders index.
func ClientOrderID(prefix, symbol string, side core.Side, sizeUSD decimal.Decimal, at time.Time) string {
	bucket := at.Unix() / 60
	rounded := sizeUSD.Round(2)
	raw := fmt.Sprintf("%s|%s|%s|%d", symbol, side, rounded.String(), bucket)
	sum := sha256.Sum256([]byte(raw))
	id := prefix + hex.EncodeToString(sum[:])
	if len(id) > clientOrderIDLen {
		id = id[:clientOrderIDLen]
	}
	return id
}

// PlanResult is the output of evaluating preview/liquidity gates for one proposal.
type PlanResult struct {
	Allowed bool
	Reason  string
	Warning string
}

// CheckLiquidity applies the quote-freshness, spread, and depth gates.
// LIVE mode fails closed on any violation; PAPER/DRY_RUN degrade depth
// failures to a warning so shadow runs still observe flow.
func (e *Engine) CheckLiquidity(quote core.Quote, book core.OrderbookSnapshot, side core.Side, sizeUSD decimal.Decimal, now time.Time) PlanResult {
	age := quote.AgeSeconds(now)
	maxAge := e.policy.Microstructure.MaxQuoteAgeSeconds
	if maxAge > 0 && (age > maxAge || age < 0) {
		return PlanResult{Allowed: false, Reason: fmt.Sprintf("stale quote: age=%.1fs", age)}
	}

	spreadBps := quote.SpreadBps()
	maxSpread := decimal.NewFromFloat(e.policy.Microstructure.MaxSpreadBps)
	if e.policy.Microstructure.MaxSpreadBps > 0 && spreadBps.GreaterThan(maxSpread) {
		return PlanResult{Allowed: false, Reason: "spread exceeds max_spread_bps"}
	}

	depthMultiplier := e.policy.Execution.DepthMultiplier
	if depthMultiplier <= 0 {
		depthMultiplier = 2
	}
	required := sizeUSD.Mul(decimal.NewFromFloat(depthMultiplier))
	depth := book.DepthForSide(side)
	if depth.LessThan(required) {
		msg := "insufficient orderbook depth for order size"
		if e.mode == core.ModeLive {
			return PlanResult{Allowed: false, Reason: msg}
		}
		return PlanResult{Allowed: true, Warning: msg}
	}
	return PlanResult{Allowed: true}
}

// AdjustSize enforces exchange increments and the post-fee minimum notional,
// returning the adjusted base size along with whether it changed.
func (e *Engine) AdjustSize(sizeUSD, price decimal.Decimal, meta core.ProductMetadata, isMaker bool) (decimal.Decimal, decimal.Decimal, bool, string) {
	if meta.BaseIncrement.IsZero() {
		return sizeUSD, decimal.Zero, false, "missing product metadata: size not increment-adjusted"
	}

	adjustedUSD, feeAdjusted := e.cost.AdjustSizeForFees(sizeUSD, meta.MinMarketFunds, isMaker)

	baseSize := decimal.Zero
	if !price.IsZero() {
		baseSize = adjustedUSD.Div(price)
		baseSize = roundToIncrement(baseSize, meta.BaseIncrement)
	}
	adjustedUSD = roundToIncrement(adjustedUSD, meta.QuoteIncrement)
	return adjustedUSD, baseSize, feeAdjusted, ""
}

func roundToIncrement(v, increment decimal.Decimal) decimal.Decimal {
	if increment.IsZero() {
		return v
	}
	units := v.Div(increment).Floor()
	return units.Mul(increment)
}

// SelectRoute implements the maker-first, taker-fallback plan builder.
func (e *Engine) SelectRoute(sizeUSD decimal.Decimal, tier core.Tier, estimatedTakerSlippageBps decimal.Decimal) core.Route {
	smallOrderThreshold := decimal.NewFromFloat(e.policy.Execution.SmallOrderMarketThresholdUSD)
	if e.policy.Execution.SmallOrderMarketThresholdUSD > 0 && sizeUSD.LessThan(smallOrderThreshold) {
		return core.RouteTakerMarket
	}
	return core.RouteMakerPostOnly
}

// ShouldFallbackToTaker reports whether the estimated taker slippage is
// within the tier's cap, clearing the route for fallback after a maker TTL
// expires without a fill.
func (e *Engine) ShouldFallbackToTaker(estimatedSlippageBps decimal.Decimal, tier core.Tier) bool {
	if !e.policy.Execution.TakerFallback {
		return false
	}
	capBps, ok := e.policy.Execution.TakerMaxSlippageBps[tierKey(tier)]
	if !ok {
		capBps, ok = e.policy.Execution.TakerMaxSlippageBps["default"]
	}
	if !ok {
		return true
	}
	return estimatedSlippageBps.LessThanOrEqual(decimal.NewFromFloat(capBps))
}

func tierKey(tier core.Tier) string {
	return fmt.Sprintf("T%d", int(tier))
}

// EstimateTakerSlippageBps estimates the slippage a market order of sizeUSD
// would incur at the given spread, for feeding ShouldFallbackToTaker.
func (e *Engine) EstimateTakerSlippageBps(sizeUSD decimal.Decimal, tier core.Tier, spreadBps decimal.Decimal) decimal.Decimal {
	return e.cost.CalculateTradeCost(sizeUSD, false, tier, spreadBps, costmodel.OrderTypeMarket).SlippageBps
}

// MakerPrice prices a post-only order maker_cushion_ticks inside the touch:
// cushion ticks below the best bid for a BUY, above the best ask for a SELL.
// Pricing at the touch itself (or worse, at the mid) risks a post-only
// rejection the instant the book ticks against the order before it rests.
func (e *Engine) MakerPrice(side core.Side, quote core.Quote, meta core.ProductMetadata) decimal.Decimal {
	tick := meta.QuoteIncrement
	cushion := decimal.NewFromInt(int64(e.policy.Execution.MakerCushionTicks))
	offset := tick.Mul(cushion)
	if side == core.SideBuy {
		price := quote.Bid.Sub(offset)
		if price.LessThanOrEqual(decimal.Zero) {
			return quote.Bid
		}
		return price
	}
	return quote.Ask.Add(offset)
}

// makerTTL returns the TTL for a given reprice attempt: post_only_ttl_seconds
// halved on each successive attempt, floored at maker_first_min_ttl_sec and
// capped at maker_max_ttl_sec, so the order gets patient time to rest on the
// first attempt and increasingly aggressive (shorter-lived) reprices after.
func (e *Engine) makerTTL(attempt int) time.Duration {
	base := e.policy.Execution.PostOnlyTTLSeconds
	if base <= 0 {
		base = 10
	}
	minTTL := e.policy.Execution.MakerFirstMinTTLSec
	if minTTL <= 0 {
		minTTL = 2
	}
	maxTTL := e.policy.Execution.MakerMaxTTLSec
	if maxTTL <= 0 {
		maxTTL = base
	}
	ttl := base
	for i := 0; i < attempt; i++ {
		ttl /= 2
	}
	if ttl < minTTL {
		ttl = minTTL
	}
	if ttl > maxTTL {
		ttl = maxTTL
	}
	return time.Duration(ttl) * time.Second
}

// Submit places an order idempotently: an in-flight or persisted order
// sharing the client id is returned as skipped_duplicate without touching
// the exchange. DRY_RUN never calls PlaceOrder.
func (e *Engine) Submit(ctx context.Context, req core.PlaceOrderRequest) (core.Order, bool, error) {
	e.mu.Lock()
	if e.inFlight[req.ClientOrderID] {
		e.mu.Unlock()
		return core.Order{}, true, nil
	}
	e.inFlight[req.ClientOrderID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, req.ClientOrderID)
		e.mu.Unlock()
	}()

	if e.store != nil {
		snapshot := e.store.Snapshot()
		if _, exists := snapshot.OpenOrders[req.ClientOrderID]; exists {
			return core.Order{}, true, nil
		}
	}

	sizeUSD := req.QuoteSize
	if sizeUSD.IsZero() && !req.BaseSize.IsZero() && !req.LimitPrice.IsZero() {
		sizeUSD = req.BaseSize.Mul(req.LimitPrice)
	}
	order := e.states.CreateOrder(req.ClientOrderID, req.Symbol, req.Side, sizeUSD, req.Route)
	if order.Status != core.OrderStatusNew {
		return *order, true, nil
	}
	order.SizeBase = req.BaseSize

	if e.mode == core.ModeDryRun {
		// Mutates the stored order's Status directly rather than going
		// through Transition, since DRY_RUN never reaches a real OPEN
		// acknowledgment to transition from.
		order.Status = core.OrderStatusOpen
		e.logger.Info("dry-run order shadow-logged", "client_order_id", req.ClientOrderID, "symbol", req.Symbol, "side", string(req.Side))
		if e.shadow != nil {
			e.shadow.LogOrder(req)
		}
		return *order, false, nil
	}

	placed, err := e.client.PlaceOrder(ctx, req)
	if err != nil {
		e.states.Transition(req.ClientOrderID, core.OrderStatusFailed, false)
		return core.Order{}, false, err
	}

	if placed.Status == core.OrderStatusRejected {
		e.states.Transition(req.ClientOrderID, core.OrderStatusRejected, false)
		return placed, false, nil
	}

	updated, _ := e.states.Transition(req.ClientOrderID, core.OrderStatusOpen, false)
	updated.ExchangeOrderID = placed.ExchangeOrderID
	if e.store != nil {
		_ = e.store.RecordOpenOrder(req.ClientOrderID, *updated)
	}
	return *updated, false, nil
}

const makerPollInterval = 2 * time.Second

// syncFromExchange polls the exchange for a submitted order's current state
// and merges any newly observed fill into the local machine, so a polling
// loop in LIVE/PAPER mode sees real fills instead of waiting for the next
// cycle's batch fill reconciliation. DRY_RUN never has an exchange order to
// poll, so it just echoes the local state back.
func (e *Engine) syncFromExchange(ctx context.Context, clientOrderID, exchangeOrderID string) (*core.Order, error) {
	local, ok := e.states.Get(clientOrderID)
	if !ok {
		return nil, core.NewStateTransitionInvalid(clientOrderID, "", core.OrderStatusOpen)
	}
	if e.mode == core.ModeDryRun || exchangeOrderID == "" {
		return local, nil
	}

	remote, err := e.client.GetOrderStatus(ctx, exchangeOrderID)
	if err != nil {
		return nil, err
	}
	if remote.FilledSize.GreaterThan(local.FilledSize) {
		fill := core.Fill{
			OrderID:    exchangeOrderID,
			ProductID:  local.Symbol,
			BaseSize:   remote.FilledSize.Sub(local.FilledSize),
			QuoteSize:  remote.FilledValue.Sub(local.FilledValue),
			Commission: remote.Fees.Sub(local.Fees),
			TradeTime:  time.Now().UTC(),
		}
		if _, err := e.states.UpdateFill(clientOrderID, []core.Fill{fill}); err != nil {
			return nil, err
		}
	}
	if remote.Status.IsTerminal() {
		// allowOverride: the exchange is authoritative on terminal status,
		// even for a transition (e.g. OPEN straight to REJECTED after an
		// amend) the local table wouldn't otherwise allow.
		if updated, err := e.states.Transition(clientOrderID, remote.Status, true); err == nil {
			return updated, nil
		}
	}
	order, _ := e.states.Get(clientOrderID)
	return order, nil
}

// pollUntilTerminal polls syncFromExchange every makerPollInterval until the
// order reaches a terminal state or ttl elapses, returning the last known
// order snapshot either way.
func (e *Engine) pollUntilTerminal(ctx context.Context, clientOrderID, exchangeOrderID string, ttl time.Duration) core.Order {
	interval := makerPollInterval
	if interval > ttl {
		interval = ttl
	}
	deadline := time.Now().Add(ttl)
	last := core.Order{ClientOrderID: clientOrderID, ExchangeOrderID: exchangeOrderID, Status: core.OrderStatusOpen}
	for {
		if synced, err := e.syncFromExchange(ctx, clientOrderID, exchangeOrderID); err == nil && synced != nil {
			last = *synced
			if last.Status.IsTerminal() {
				return last
			}
		}
		if !time.Now().Before(deadline) {
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(interval):
		}
	}
}

// ExecuteRoute runs the maker-first execution plan (REQ §4.6): place a
// post-only limit order maker_cushion_ticks inside the touch, poll it to a
// terminal state or its adaptive TTL, and on TTL expiry cancel and reprice
// up to maker_max_reprices times against a fresh quote with a decaying TTL.
// Once reprices are exhausted, ShouldFallbackToTaker decides whether the
// unfilled remainder converts to an immediate taker order. req.Route, set by
// SelectRoute, decides whether this is a maker plan at all — small orders
// routed straight to RouteTakerMarket (and any DRY_RUN submission, which
// never reaches the exchange to poll) skip the loop and submit once.
func (e *Engine) ExecuteRoute(ctx context.Context, req core.PlaceOrderRequest, meta core.ProductMetadata, tier core.Tier, spreadBps decimal.Decimal, quoteFn func(context.Context, string) (core.Quote, error)) (core.Order, bool, error) {
	if e.mode == core.ModeDryRun || req.Route != core.RouteMakerPostOnly {
		order, skipped, err := e.Submit(ctx, req)
		if err == nil && !skipped && order.ExchangeOrderID != "" {
			if synced, serr := e.syncFromExchange(ctx, order.ClientOrderID, order.ExchangeOrderID); serr == nil && synced != nil {
				order = *synced
			}
		}
		return order, skipped, err
	}

	remainingBase := req.BaseSize
	var lastOrder core.Order
	maxReprices := e.policy.Execution.MakerMaxReprices

	for attempt := 0; attempt <= maxReprices; attempt++ {
		if remainingBase.LessThanOrEqual(decimal.Zero) {
			break
		}
		quote, err := quoteFn(ctx, req.Symbol)
		if err != nil {
			return lastOrder, false, err
		}

		attemptReq := req
		attemptReq.LimitPrice = e.MakerPrice(req.Side, quote, meta)
		attemptReq.BaseSize = remainingBase
		attemptReq.QuoteSize = decimal.Zero
		if attempt > 0 {
			attemptReq.ClientOrderID = fmt.Sprintf("mkr_%s_%s_%d_%d", req.Symbol, req.Side, attempt, time.Now().UnixNano())
		}

		order, skipped, err := e.Submit(ctx, attemptReq)
		if err != nil {
			return lastOrder, false, err
		}
		if skipped {
			continue
		}
		lastOrder = order

		final := e.pollUntilTerminal(ctx, order.ClientOrderID, order.ExchangeOrderID, e.makerTTL(attempt))
		lastOrder = final
		remainingBase = remainingBase.Sub(final.FilledSize)

		if final.Status == core.OrderStatusFilled {
			return final, false, nil
		}
		if !final.Status.IsTerminal() {
			_ = e.CancelWithTolerance(ctx, final.ClientOrderID, final.ExchangeOrderID)
			if updated, ok := e.states.Get(final.ClientOrderID); ok {
				lastOrder = *updated
			}
		}
	}

	if remainingBase.LessThanOrEqual(decimal.Zero) {
		return lastOrder, false, nil
	}

	estimatedSlippageBps := e.EstimateTakerSlippageBps(decimal.Zero, tier, spreadBps)
	if !e.ShouldFallbackToTaker(estimatedSlippageBps, tier) {
		return lastOrder, false, nil
	}

	quote, err := quoteFn(ctx, req.Symbol)
	if err != nil {
		return lastOrder, false, err
	}
	takerPrice := quote.Ask
	if req.Side == core.SideSell {
		takerPrice = quote.Bid
	}

	takerReq := req
	takerReq.Route = core.RouteTakerIOC
	takerReq.PostOnly = false
	takerReq.BaseSize = remainingBase
	takerReq.QuoteSize = decimal.Zero
	takerReq.LimitPrice = takerPrice
	takerReq.ClientOrderID = fmt.Sprintf("tkr_%s_%s_%d", req.Symbol, req.Side, time.Now().UnixNano())

	order, skipped, err := e.Submit(ctx, takerReq)
	if err != nil || skipped {
		return lastOrder, skipped, err
	}
	if synced, serr := e.syncFromExchange(ctx, order.ClientOrderID, order.ExchangeOrderID); serr == nil && synced != nil {
		return *synced, false, nil
	}
	return order, false, nil
}

// CancelWithTolerance cancels an order, treating a 404/not-found as already
// closed rather than an error, and marks the id as recently-canceled so
// ListOpenOrders echoes from the exchange don't resurrect it as a ghost.
func (e *Engine) CancelWithTolerance(ctx context.Context, clientOrderID, exchangeOrderID string) error {
	if e.mode != core.ModeDryRun {
		if err := e.client.CancelOrder(ctx, exchangeOrderID); err != nil {
			e.logger.Warn("cancel request failed, treating as already closed", "order_id", exchangeOrderID, "error", err.Error())
		}
	}
	e.mu.Lock()
	e.recentlyCanceled[clientOrderID] = time.Now()
	e.mu.Unlock()
	_, _ = e.states.Transition(clientOrderID, core.OrderStatusCanceled, false)
	return nil
}

// FilterGhosts removes orders still echoed by the exchange shortly after a
// local cancel, until the exchange catches up.
func (e *Engine) FilterGhosts(orders []core.Order, ttl time.Duration) []core.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	out := orders[:0:0]
	for _, o := range orders {
		if canceledAt, ok := e.recentlyCanceled[o.ClientOrderID]; ok {
			if now.Sub(canceledAt) < ttl {
				continue
			}
			delete(e.recentlyCanceled, o.ClientOrderID)
		}
		out = append(out, o)
	}
	return out
}

// ManageOpenOrders cancels any order older than cancel_after_seconds. It
// attempts a single batch cancel first and falls back to individual calls;
// local state always transitions even if the exchange call errors, so the
// tracked state never drifts stuck-OPEN.
func (e *Engine) ManageOpenOrders(ctx context.Context, now time.Time) error {
	if e.policy.Execution.CancelAfterSeconds <= 0 {
		return nil
	}
	maxAge := time.Duration(e.policy.Execution.CancelAfterSeconds) * time.Second
	stale := e.states.StaleByAge(maxAge)
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, 0, len(stale))
	for _, o := range stale {
		if o.ExchangeOrderID != "" {
			ids = append(ids, o.ExchangeOrderID)
		}
	}

	if e.mode != core.ModeDryRun && len(ids) > 0 {
		if err := e.client.CancelOrders(ctx, ids); err != nil {
			e.logger.Warn("batch cancel failed, falling back to individual cancels", "error", err.Error())
			tasks := make([]func(), 0, len(stale))
			for _, o := range stale {
				if o.ExchangeOrderID == "" {
					continue
				}
				o := o
				tasks = append(tasks, func() { _ = e.CancelWithTolerance(ctx, o.ClientOrderID, o.ExchangeOrderID) })
			}
			e.cancelPool.SubmitWait(tasks...)
		}
	}

	for _, o := range stale {
		e.mu.Lock()
		e.recentlyCanceled[o.ClientOrderID] = now
		e.mu.Unlock()
		_, _ = e.states.Transition(o.ClientOrderID, core.OrderStatusExpired, false)
		if e.store != nil {
			_ = e.store.CloseOrder(o.ClientOrderID, core.OrderStatusExpired, map[string]interface{}{"reason": "TTL"})
		}
	}
	return nil
}

// ReconcileFills fetches fills since now-lookback, groups them by order id,
// and feeds each group into the OrderStateMachine and StateStore.
// Unmatched fills (no tracked order) are logged and still recorded as
// StateStore fill events; fees are not totalled here.
func (e *Engine) ReconcileFills(ctx context.Context, lookback time.Duration, now time.Time) error {
	fills, err := e.client.ListFills(ctx, "", "", now.Add(-lookback))
	if err != nil {
		return err
	}

	byOrder := make(map[string][]core.Fill)
	for _, f := range fills {
		byOrder[f.OrderID] = append(byOrder[f.OrderID], f)
	}

	for exchangeOrderID, group := range byOrder {
		clientOrderID := e.states.ClientIDByExchangeID(exchangeOrderID)
		if clientOrderID == "" {
			e.logger.Warn("unmatched fill: no tracked order", "exchange_order_id", exchangeOrderID)
			if e.store != nil {
				_ = e.store.UpdateFromFills(group)
			}
			continue
		}
		updated, err := e.states.UpdateFill(clientOrderID, group)
		if err != nil {
			e.logger.Warn("failed to apply fill", "client_order_id", clientOrderID, "error", err.Error())
			continue
		}
		if e.store != nil {
			_ = e.store.UpdateFromFills(group)
			if updated.Status.IsTerminal() {
				_ = e.store.CloseOrder(clientOrderID, updated.Status, map[string]interface{}{"filled_value": updated.FilledValue.String()})
			}
		}
	}
	return nil
}

// Shutdown cancels every active order (skipped in DRY_RUN) and transitions
// them locally to CANCELED regardless of the exchange call's outcome.
// Failures are logged and swallowed so shutdown always completes.
func (e *Engine) Shutdown(ctx context.Context) {
	active := e.states.Active()
	if len(active) == 0 {
		return
	}

	ids := make([]string, 0, len(active))
	for _, o := range active {
		if o.ExchangeOrderID != "" {
			ids = append(ids, o.ExchangeOrderID)
		}
	}

	if e.mode != core.ModeDryRun && len(ids) > 0 {
		if err := e.client.CancelOrders(ctx, ids); err != nil {
			e.logger.Error("shutdown batch cancel failed, attempting individual cancels", "error", err.Error())
			tasks := make([]func(), 0, len(active))
			for _, o := range active {
				if o.ExchangeOrderID == "" {
					continue
				}
				o := o
				tasks = append(tasks, func() {
					if cerr := e.client.CancelOrder(ctx, o.ExchangeOrderID); cerr != nil {
						e.logger.Error("shutdown cancel failed, state forced to CANCELED locally", "client_order_id", o.ClientOrderID, "error", cerr.Error())
					}
				})
			}
			e.cancelPool.SubmitWait(tasks...)
		}
	}

	for _, o := range active {
		_, _ = e.states.Transition(o.ClientOrderID, core.OrderStatusCanceled, false)
		if e.store != nil {
			_ = e.store.CloseOrder(o.ClientOrderID, core.OrderStatusCanceled, map[string]interface{}{"reason": "shutdown"})
		}
	}
	if e.store != nil {
		_ = e.store.Save(ctx)
	}
	e.cancelPool.Stop()
}
