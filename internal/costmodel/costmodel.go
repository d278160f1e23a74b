// Package costmodel centralizes the deterministic fee/slippage math used by
// the execution and risk layers, grounded on the teacher's tradingutils math
// helpers but recomputed for maker/taker fee-tier semantics instead of grid
// pricing.
package costmodel

import (
	"github.com/shopspring/decimal"

	"market_maker/internal/core"
)

// OrderType selects which slippage multiplier CalculateTradeCost applies.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeAggressiveLimit OrderType = "aggressive_limit"
	OrderTypePostOnly     OrderType = "post_only"
)

var slippageMultiplier = map[OrderType]decimal.Decimal{
	OrderTypeMarket:          decimal.NewFromFloat(0.5),
	OrderTypeAggressiveLimit: decimal.NewFromFloat(0.25),
	OrderTypePostOnly:        decimal.NewFromFloat(0.1),
}

// Model holds the fee schedule applied by every cost calculation.
type Model struct {
	MakerFeeBps decimal.Decimal
	TakerFeeBps decimal.Decimal
}

// New builds a Model from the policy execution section's fee bps.
func New(makerFeeBps, takerFeeBps float64) *Model {
	return &Model{
		MakerFeeBps: decimal.NewFromFloat(makerFeeBps),
		TakerFeeBps: decimal.NewFromFloat(takerFeeBps),
	}
}

// TradeCost is the full cost breakdown CalculateTradeCost returns.
type TradeCost struct {
	FeeUSD        decimal.Decimal
	FeePct        decimal.Decimal
	SlippageUSD   decimal.Decimal
	SlippageBps   decimal.Decimal
	TotalCostUSD  decimal.Decimal
	TotalCostPct  decimal.Decimal
	IsMaker       bool
}

// CalculateTradeCost computes the expected fee and slippage cost of a trade.
// spreadBps may be zero when unavailable (slippage is then zero too).
func (m *Model) CalculateTradeCost(sizeUSD decimal.Decimal, isMaker bool, tier core.Tier, spreadBps decimal.Decimal, orderType OrderType) TradeCost {
	feeBps := m.TakerFeeBps
	if isMaker {
		feeBps = m.MakerFeeBps
	}
	feePct := feeBps.Div(decimal.NewFromInt(10000))
	feeUSD := sizeUSD.Mul(feePct)

	mult, ok := slippageMultiplier[orderType]
	if !ok {
		mult = decimal.Zero
	}
	slippageBps := spreadBps.Mul(mult)
	slippageUSD := sizeUSD.Mul(slippageBps).Div(decimal.NewFromInt(10000))

	totalCostUSD := feeUSD.Add(slippageUSD)
	totalCostPct := decimal.Zero
	if !sizeUSD.IsZero() {
		totalCostPct = totalCostUSD.Div(sizeUSD)
	}

	return TradeCost{
		FeeUSD:       feeUSD,
		FeePct:       feePct,
		SlippageUSD:  slippageUSD,
		SlippageBps:  slippageBps,
		TotalCostUSD: totalCostUSD,
		TotalCostPct: totalCostPct,
		IsMaker:      isMaker,
	}
}

// MinProfitableMove returns the break-even fractional price move required to
// cover the maker or taker fee for one leg, or for both legs (entry + exit)
// when roundTrip is set, plus a slippage cushion that grows with the tier.
func (m *Model) MinProfitableMove(isMaker bool, tier core.Tier, roundTrip bool) decimal.Decimal {
	feeBps := m.TakerFeeBps
	if isMaker {
		feeBps = m.MakerFeeBps
	}
	feePct := feeBps.Div(decimal.NewFromInt(10000))
	legs := decimal.NewFromInt(1)
	if roundTrip {
		legs = decimal.NewFromInt(2)
	}
	// Higher tiers (less liquid) carry a wider implicit slippage cushion.
	tierCushion := decimal.NewFromFloat(float64(tier)-1).Mul(decimal.NewFromFloat(0.0005))
	return feePct.Mul(legs).Add(tierCushion)
}

// AdjustSizeForFees returns the gross notional that nets to at least
// postFeeMin after fees are deducted, when target would otherwise round
// below the minimum.
func (m *Model) AdjustSizeForFees(target, postFeeMin decimal.Decimal, isMaker bool) (decimal.Decimal, bool) {
	feeBps := m.TakerFeeBps
	if isMaker {
		feeBps = m.MakerFeeBps
	}
	feePct := feeBps.Div(decimal.NewFromInt(10000))
	net := target.Mul(decimal.NewFromInt(1).Sub(feePct))
	if net.GreaterThanOrEqual(postFeeMin) {
		return target, false
	}
	adjusted := postFeeMin.Div(decimal.NewFromInt(1).Sub(feePct))
	return adjusted, true
}

// fillProbabilityTable is a coarse, tabular estimate of fill likelihood by
// order type and liquidity tier, used only as a hint for route selection.
var fillProbabilityTable = map[OrderType]map[core.Tier]decimal.Decimal{
	OrderTypeMarket: {
		core.TierOne: decimal.NewFromFloat(0.99), core.TierTwo: decimal.NewFromFloat(0.97), core.TierThree: decimal.NewFromFloat(0.90),
	},
	OrderTypeAggressiveLimit: {
		core.TierOne: decimal.NewFromFloat(0.95), core.TierTwo: decimal.NewFromFloat(0.85), core.TierThree: decimal.NewFromFloat(0.65),
	},
	OrderTypePostOnly: {
		core.TierOne: decimal.NewFromFloat(0.80), core.TierTwo: decimal.NewFromFloat(0.60), core.TierThree: decimal.NewFromFloat(0.35),
	},
}

// EstimateFillProbability returns the tabular fill-probability estimate for
// an order type and tier combination.
func EstimateFillProbability(orderType OrderType, tier core.Tier) decimal.Decimal {
	byTier, ok := fillProbabilityTable[orderType]
	if !ok {
		return decimal.NewFromFloat(0.5)
	}
	if p, ok := byTier[tier]; ok {
		return p
	}
	return decimal.NewFromFloat(0.5)
}
