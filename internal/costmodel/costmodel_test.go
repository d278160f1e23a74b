package costmodel

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"market_maker/internal/core"
)

func TestCalculateTradeCostMaker(t *testing.T) {
	m := New(40, 60) // 40bps maker, 60bps taker
	cost := m.CalculateTradeCost(decimal.NewFromInt(1000), true, core.TierOne, decimal.NewFromInt(20), OrderTypePostOnly)

	assert.True(t, cost.IsMaker)
	assert.True(t, cost.FeeUSD.Equal(decimal.NewFromFloat(4.0)))
	// slippage = 20bps * 0.1 = 2bps of 1000 = 0.2
	assert.True(t, cost.SlippageUSD.Equal(decimal.NewFromFloat(0.2)))
	assert.True(t, cost.TotalCostUSD.Equal(decimal.NewFromFloat(4.2)))
}

func TestCalculateTradeCostTakerMarket(t *testing.T) {
	m := New(40, 60)
	cost := m.CalculateTradeCost(decimal.NewFromInt(1000), false, core.TierOne, decimal.NewFromInt(20), OrderTypeMarket)

	// slippage = 20bps * 0.5 = 10bps of 1000 = 1.0
	assert.True(t, cost.SlippageUSD.Equal(decimal.NewFromFloat(1.0)))
	assert.True(t, cost.FeeUSD.Equal(decimal.NewFromFloat(6.0)))
}

func TestMinProfitableMoveRoundTripDoublesSingleLeg(t *testing.T) {
	m := New(40, 60)
	single := m.MinProfitableMove(true, core.TierOne, false)
	roundTrip := m.MinProfitableMove(true, core.TierOne, true)
	assert.True(t, roundTrip.GreaterThan(single))
}

func TestMinProfitableMoveWidensWithTier(t *testing.T) {
	m := New(40, 60)
	t1 := m.MinProfitableMove(true, core.TierOne, true)
	t3 := m.MinProfitableMove(true, core.TierThree, true)
	assert.True(t, t3.GreaterThan(t1))
}

func TestAdjustSizeForFeesLeavesSizeWhenAlreadySufficient(t *testing.T) {
	m := New(40, 60)
	adjusted, changed := m.AdjustSizeForFees(decimal.NewFromInt(100), decimal.NewFromInt(5), true)
	assert.False(t, changed)
	assert.True(t, adjusted.Equal(decimal.NewFromInt(100)))
}

func TestAdjustSizeForFeesGrowsSizeWhenBelowMin(t *testing.T) {
	m := New(40, 60)
	adjusted, changed := m.AdjustSizeForFees(decimal.NewFromFloat(4.98), decimal.NewFromInt(5), true)
	assert.True(t, changed)
	assert.True(t, adjusted.GreaterThan(decimal.NewFromInt(5)))
}

func TestEstimateFillProbabilityOrdering(t *testing.T) {
	market := EstimateFillProbability(OrderTypeMarket, core.TierOne)
	postOnly := EstimateFillProbability(OrderTypePostOnly, core.TierOne)
	assert.True(t, market.GreaterThan(postOnly))
}

func TestEstimateFillProbabilityUnknownFallsBackToHalf(t *testing.T) {
	p := EstimateFillProbability(OrderType("bogus"), core.TierOne)
	assert.True(t, p.Equal(decimal.NewFromFloat(0.5)))
}
