package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/core"
)

// TwapResult summarizes a liquidation run.
type TwapResult struct {
	FilledUSD   decimal.Decimal
	Slices      int
	ForcedTaker bool
	Residual    decimal.Decimal
}

// SellViaMarketOrder liquidates up to usdTarget of symbol's position in
// slice_usd chunks, submitting each slice as a post-only limit order with a
// fixed replace_seconds TTL and polling it to a terminal state before cutting
// the next slice. It stops once total_filled_usd reaches usd_target, the
// remainder is within max_residual_usd, the balance is used up, or the
// max_slices/max_duration_seconds budget is exhausted. With
// allow_taker_fallback on, once max_consecutive_no_fill empty slices have
// passed and the remainder is under taker_fallback_threshold_usd, each further
// slice is sent as an IOC taker order; slices are not widened or repriced
// more aggressively after empty slices.
func (e *Engine) SellViaMarketOrder(ctx context.Context, symbol string, balance, usdTarget decimal.Decimal, tier core.Tier, quoteFn func(context.Context, string) (core.Quote, error)) (TwapResult, error) {
	cfg := e.policy.PortfolioManagement.PurgeExecution
	sliceUSD := decimal.NewFromFloat(cfg.SliceUSD)
	if sliceUSD.LessThanOrEqual(decimal.Zero) {
		sliceUSD = decimal.NewFromInt(100)
	}

	deadline := time.Now().Add(time.Duration(cfg.MaxDurationSeconds) * time.Second)
	if cfg.MaxDurationSeconds <= 0 {
		deadline = time.Now().Add(10 * time.Minute)
	}
	pollInterval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	result := TwapResult{}
	remaining := balance
	consecutiveNoFill := 0

	for slices := 0; slices < cfg.MaxSlices || cfg.MaxSlices == 0; slices++ {
		if result.FilledUSD.GreaterThanOrEqual(usdTarget) {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}

		quote, err := quoteFn(ctx, symbol)
		if err != nil {
			return result, fmt.Errorf("twap: refresh quote: %w", err)
		}

		target := decimal.Min(sliceUSD, usdTarget.Sub(result.FilledUSD))
		baseSize := decimal.Min(remaining, target.Div(quote.Bid))

		forceTaker := cfg.AllowTakerFallback && consecutiveNoFill >= cfg.MaxConsecutiveNoFill &&
			usdTarget.Sub(result.FilledUSD).LessThan(decimal.NewFromFloat(cfg.TakerFallbackThresholdUSD))

		route := core.RouteMakerPostOnly
		if forceTaker {
			route = core.RouteTakerIOC
		}

		// Slice ids are not derived from ClientOrderID's minute-bucketed
		// determinism: consecutive slices can legitimately share symbol,
		// side, and size within the same minute, which that helper would
		// otherwise collapse into one idempotent order.
		clientOrderID := fmt.Sprintf("twap_%s_%d_%d", symbol, slices, time.Now().UnixNano())
		req := core.PlaceOrderRequest{
			ClientOrderID: clientOrderID,
			Symbol:        symbol,
			Side:          core.SideSell,
			Route:         route,
			BaseSize:      baseSize,
			LimitPrice:    quote.Bid,
			PostOnly:      route == core.RouteMakerPostOnly,
		}

		order, dup, err := e.Submit(ctx, req)
		if err != nil {
			return result, fmt.Errorf("twap: submit slice: %w", err)
		}
		if dup {
			continue
		}
		if forceTaker {
			result.ForcedTaker = true
		}

		ttl := time.Duration(cfg.ReplaceSeconds) * time.Second
		if ttl <= 0 {
			ttl = 15 * time.Second
		}
		filled := e.pollSliceToTerminal(ctx, order.ClientOrderID, order.ExchangeOrderID, ttl, pollInterval)

		if filled.IsZero() {
			consecutiveNoFill++
		} else {
			consecutiveNoFill = 0
		}
		result.FilledUSD = result.FilledUSD.Add(filled)
		result.Slices++
		if tracked, ok := e.states.Get(order.ClientOrderID); ok {
			remaining = remaining.Sub(tracked.FilledSize)
		}

		if cfg.MaxResidualUSD > 0 && usdTarget.Sub(result.FilledUSD).LessThanOrEqual(decimal.NewFromFloat(cfg.MaxResidualUSD)) {
			break
		}
	}

	result.Residual = usdTarget.Sub(result.FilledUSD)
	return result, nil
}

// pollSliceToTerminal waits for a submitted slice to reach a terminal state
// or its TTL to expire, canceling it if it hasn't filled. It delegates to
// pollUntilTerminal for the actual polling so a slice observes real fills via
// GetOrderStatus in LIVE/PAPER instead of only the locally cached state,
// which nothing else updates between submission and the next reconcile
// cycle. Returns the USD value filled by the slice.
func (e *Engine) pollSliceToTerminal(ctx context.Context, clientOrderID, exchangeOrderID string, ttl, pollInterval time.Duration) decimal.Decimal {
	final := e.pollUntilTerminal(ctx, clientOrderID, exchangeOrderID, ttl)
	if !final.Status.IsTerminal() {
		_ = e.CancelWithTolerance(ctx, clientOrderID, exchangeOrderID)
		if order, ok := e.states.Get(clientOrderID); ok {
			return order.FilledValue
		}
	}
	return final.FilledValue
}
