// Package positionmanager inspects open positions against the exit policy
// attached to them at entry and against the account-wide exposure caps, and
// emits sell-side TradeProposals the same way a strategy would. It never
// touches the exchange directly; the risk engine and execution engine still
// gate and size every proposal it produces.
package positionmanager

import (
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/config"
	"market_maker/internal/core"
)

// Manager evaluates stop-loss, take-profit, max-hold, and auto-trim exits.
// Grounded on the teacher's trading/position manager, whose job was to turn
// position state into order actions each cycle; generalized here from its
// inventory-slot grid bookkeeping to the flat long-only position model
// core.PortfolioState uses.
type Manager struct {
	policy *config.PolicyConfig
	logger core.Logger
}

// New returns a Manager driven by the portfolio_management and risk sections
// of policy.
func New(policy *config.PolicyConfig, logger core.Logger) *Manager {
	return &Manager{policy: policy, logger: logger}
}

// EvaluateExits returns one full-exit sell proposal per open position whose
// attached ManagedPositionMeta stop-loss, take-profit, or max-hold threshold
// has been breached. A position with no attached meta (e.g. restored from a
// prior run without one) is left alone.
func (m *Manager) EvaluateExits(portfolio core.PortfolioState, now time.Time) []core.TradeProposal {
	var proposals []core.TradeProposal
	for symbol, pos := range portfolio.OpenPositions {
		meta, ok := portfolio.ManagedPositions[symbol]
		if !ok {
			continue
		}
		reason, breached := exitReason(pos, meta, now)
		if !breached {
			continue
		}
		m.logger.Info("position exit triggered", "symbol", symbol, "reason", reason, "pnl_pct", pos.PnLPct().String())
		proposals = append(proposals, core.TradeProposal{
			Symbol:      symbol,
			Side:        core.SideSell,
			NotionalUSD: pos.CurrentUSD,
			Confidence:  decimal.NewFromInt(1),
			Tier:        core.TierOne,
			TriggerName: reason,
			Notes:       "position_manager exit",
		})
	}
	return proposals
}

func exitReason(pos core.Position, meta core.ManagedPositionMeta, now time.Time) (string, bool) {
	pnlPct := pos.PnLPct()
	if meta.StopLossPct.GreaterThan(decimal.Zero) && pnlPct.LessThanOrEqual(meta.StopLossPct.Neg()) {
		return "stop_loss", true
	}
	if meta.TakeProfitPct.GreaterThan(decimal.Zero) && pnlPct.GreaterThanOrEqual(meta.TakeProfitPct) {
		return "take_profit", true
	}
	if meta.MaxHoldHours > 0 && !meta.OpenedAt.IsZero() {
		held := now.Sub(meta.OpenedAt).Hours()
		if held >= meta.MaxHoldHours {
			return "max_hold_exceeded", true
		}
	}
	return "", false
}

// EvaluateTrim returns partial-sell proposals trimming any symbol whose
// exposure exceeds the per-symbol risk cap back down to cap minus
// trim_target_buffer_pct, when portfolio_management.auto_trim_to_risk_cap is
// enabled. At most trim_max_liquidations symbols are trimmed per cycle so a
// single bad cycle cannot liquidate the whole book at once.
func (m *Manager) EvaluateTrim(portfolio core.PortfolioState) []core.TradeProposal {
	cfg := m.policy.PortfolioManagement
	if !cfg.AutoTrimToRiskCap || portfolio.AccountValueUSD.IsZero() {
		return nil
	}
	capPct := decimal.NewFromFloat(m.policy.Risk.PerSymbolCapPct)
	bufferPct := decimal.NewFromFloat(cfg.TrimTargetBufferPct)
	targetPct := capPct.Sub(bufferPct)
	if targetPct.IsNegative() {
		targetPct = decimal.Zero
	}
	targetUSD := portfolio.AccountValueUSD.Mul(targetPct).Div(decimal.NewFromInt(100))
	capUSD := portfolio.AccountValueUSD.Mul(capPct).Div(decimal.NewFromInt(100))

	maxTrims := cfg.TrimMaxLiquidations
	if maxTrims <= 0 {
		maxTrims = len(portfolio.OpenPositions)
	}

	var proposals []core.TradeProposal
	for symbol, pos := range portfolio.OpenPositions {
		if len(proposals) >= maxTrims {
			break
		}
		if pos.CurrentUSD.LessThanOrEqual(capUSD) {
			continue
		}
		trimUSD := pos.CurrentUSD.Sub(targetUSD)
		if trimUSD.LessThan(decimal.NewFromFloat(cfg.TrimMinValueUSD)) {
			continue
		}
		m.logger.Info("position trim triggered", "symbol", symbol, "current_usd", pos.CurrentUSD.String(), "target_usd", targetUSD.String())
		proposals = append(proposals, core.TradeProposal{
			Symbol:      symbol,
			Side:        core.SideSell,
			NotionalUSD: trimUSD,
			Confidence:  decimal.NewFromInt(1),
			Tier:        core.TierOne,
			TriggerName: "auto_trim_to_risk_cap",
			Notes:       "position_manager trim",
		})
	}
	return proposals
}
