package risk

import (
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/config"
	"market_maker/internal/core"
)

// Result is the outcome of one Evaluate call: the proposals cleared for
// execution, which named checks (if any) blocked the whole batch, and a
// per-symbol breakdown of why any individual proposal was dropped or shrunk.
type Result struct {
	Approved            bool
	ApprovedProposals   []core.TradeProposal
	ViolatedChecks      []string
	Reason              string
	ProposalRejections  map[string][]string
}

func newResult() Result {
	return Result{ProposalRejections: make(map[string][]string)}
}

func (r *Result) reject(symbol, reason string) {
	r.ProposalRejections[symbol] = append(r.ProposalRejections[symbol], reason)
}

// Engine is the hard-gate authority: strategies and the AI layer may only
// shrink or skip proposals, never force one through. Grounded on the
// teacher's CircuitBreaker (trip/cooldown state machine, generalized into
// BreakerSet) and RiskMonitor (per-symbol tracked state), rebuilt against
// the policy schema instead of protobuf-carried config.
type Engine struct {
	policy   *config.PolicyConfig
	breakers *BreakerSet
	logger   core.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

// New builds a RiskEngine bound to a policy snapshot and breaker set.
func New(policy *config.PolicyConfig, breakers *BreakerSet, logger core.Logger) *Engine {
	return &Engine{
		policy:    policy,
		breakers:  breakers,
		logger:    logger,
		cooldowns: make(map[string]time.Time),
	}
}

// ApplySymbolCooldown records a per-symbol "do not re-enter until" timestamp,
// using the longer stop-loss cooldown when the exit was a hard stop.
func (e *Engine) ApplySymbolCooldown(symbol string, isStopLoss bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seconds := e.policy.Risk.NormalCooldownSeconds
	if isStopLoss {
		seconds = e.policy.Risk.StopLossCooldownSeconds
	}
	if seconds <= 0 {
		return
	}
	e.cooldowns[symbol] = time.Now().Add(time.Duration(seconds) * time.Second)
}

func (e *Engine) cooldownActive(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.cooldowns[symbol]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(e.cooldowns, symbol)
		return false
	}
	return true
}

// Evaluate runs the full ten-check gate over a proposal batch and returns
// the subset (possibly size-shrunk) cleared to reach the ExecutionEngine.
func (e *Engine) Evaluate(mode core.Mode, portfolio core.PortfolioState, proposals []core.TradeProposal, products map[string]core.ProductMetadata) Result {
	result := newResult()

	// 1. Dead-man switch.
	if mode == core.ModeLive && !e.policy.Governance.LiveTradingEnabled {
		return e.rejectAll(result, "governance.live_trading_enabled", "live trading disabled by governance switch")
	}

	// 2. Kill-switch file.
	if e.policy.Governance.KillSwitchFile != "" {
		if _, err := os.Stat(e.policy.Governance.KillSwitchFile); err == nil {
			return e.rejectAll(result, "kill_switch", "kill-switch file present")
		}
	}

	// 3. Minimum account value.
	minAccountValue := decimal.NewFromFloat(e.policy.Risk.MinAccountValueUSD)
	if e.policy.Risk.MinAccountValueUSD > 0 && portfolio.AccountValueUSD.LessThan(minAccountValue) {
		return e.rejectAll(result, "min_account_value", "account value below configured minimum")
	}

	// 4. PnL / drawdown caps.
	if exceeded, why := e.pnlCapsExceeded(portfolio); exceeded {
		return e.rejectAll(result, "pnl_caps", why)
	}

	// 5. Trade count caps.
	tradesCapped := (e.policy.Risk.MaxTradesPerDay > 0 && portfolio.TradesToday >= e.policy.Risk.MaxTradesPerDay) ||
		(e.policy.Risk.MaxTradesPerHour > 0 && portfolio.TradesThisHour >= e.policy.Risk.MaxTradesPerHour)

	// 10. Circuit breakers — any trip blocks the whole cycle.
	if e.breakers != nil {
		if name, reason, tripped := e.breakers.Tripped(); tripped {
			return e.rejectAll(result, name, reason)
		}
	}

	nav := portfolio.AccountValueUSD
	maxAtRisk := nav.Mul(decimal.NewFromFloat(e.policy.Risk.MaxTotalAtRiskPct)).Div(decimal.NewFromInt(100))
	perSymbolCap := nav.Mul(decimal.NewFromFloat(e.policy.Risk.PerSymbolCapPct)).Div(decimal.NewFromInt(100))

	atRisk := sumOpenPositionsUSD(portfolio).Add(sumPendingBuyUSD(portfolio))

	for _, p := range proposals {
		if p.Side == core.SideBuy && tradesCapped {
			result.reject(p.Symbol, "trade count cap reached for this period")
			continue
		}

		// 6. Per-symbol cooldown (buys only; exits always proceed).
		if p.Side == core.SideBuy && e.policy.Risk.PerSymbolCooldownEnabled && e.cooldownActive(p.Symbol) {
			result.reject(p.Symbol, "symbol is in re-entry cooldown")
			continue
		}

		notional := p.NotionalUSD
		if notional.IsZero() && !p.TargetWeightPct.IsZero() && !nav.IsZero() {
			notional = nav.Mul(p.TargetWeightPct).Div(decimal.NewFromInt(100))
		}

		if p.Side == core.SideBuy {
			// 7. Total-at-risk: shrink or drop new buys to fit.
			room := maxAtRisk.Sub(atRisk)
			if room.LessThanOrEqual(decimal.Zero) {
				result.reject(p.Symbol, "total-at-risk cap already reached")
				continue
			}
			if notional.GreaterThan(room) {
				notional = room
			}

			// 8. Per-symbol exposure cap.
			existing := decimal.Zero
			if pos, ok := portfolio.OpenPositions[p.Symbol]; ok {
				existing = pos.CurrentUSD
			}
			symbolRoom := perSymbolCap.Sub(existing)
			if symbolRoom.LessThanOrEqual(decimal.Zero) {
				result.reject(p.Symbol, "per-symbol exposure cap already reached")
				continue
			}
			if notional.GreaterThan(symbolRoom) {
				notional = symbolRoom
			}
		}

		// 9. Minimum notional: the policy minimum or the product's
		// min_market_funds, whichever is larger. Sizes are not rounded to
		// increments here.
		minNotional := decimal.NewFromFloat(e.policy.Risk.MinTradeNotionalUSD)
		if meta, ok := products[p.Symbol]; ok && meta.MinMarketFunds.GreaterThan(minNotional) {
			minNotional = meta.MinMarketFunds
		}
		if notional.LessThan(minNotional) {
			result.reject(p.Symbol, "size below minimum tradeable notional after caps")
			continue
		}

		approved := p
		approved.NotionalUSD = notional
		approved.TargetWeightPct = decimal.Zero
		result.ApprovedProposals = append(result.ApprovedProposals, approved)

		if approved.Side == core.SideBuy {
			atRisk = atRisk.Add(notional)
		}
	}

	result.Approved = len(result.ApprovedProposals) > 0
	if !result.Approved && result.Reason == "" {
		result.Reason = "no proposals cleared risk checks"
	}
	return result
}

func (e *Engine) rejectAll(result Result, check, reason string) Result {
	result.Approved = false
	result.ViolatedChecks = append(result.ViolatedChecks, check)
	result.Reason = reason
	return result
}

func (e *Engine) pnlCapsExceeded(portfolio core.PortfolioState) (bool, string) {
	if e.policy.Risk.DailyLossPct > 0 {
		cap := decimal.NewFromFloat(e.policy.Risk.DailyLossPct).Neg()
		if portfolio.DailyPnLPct.LessThanOrEqual(cap) {
			return true, "daily loss cap breached"
		}
	}
	if e.policy.Risk.WeeklyLossPct > 0 {
		cap := decimal.NewFromFloat(e.policy.Risk.WeeklyLossPct).Neg()
		if portfolio.WeeklyPnLPct.LessThanOrEqual(cap) {
			return true, "weekly loss cap breached"
		}
	}
	if e.policy.Risk.MaxDrawdownPct > 0 {
		cap := decimal.NewFromFloat(e.policy.Risk.MaxDrawdownPct)
		if portfolio.MaxDrawdownPct.GreaterThanOrEqual(cap) {
			return true, "max drawdown cap breached"
		}
	}
	return false, ""
}

func sumOpenPositionsUSD(p core.PortfolioState) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.OpenPositions {
		total = total.Add(pos.CurrentUSD)
	}
	return total
}

func sumPendingBuyUSD(p core.PortfolioState) decimal.Decimal {
	total := decimal.Zero
	for _, notional := range p.PendingOrders[core.SideBuy] {
		total = total.Add(notional)
	}
	return total
}
