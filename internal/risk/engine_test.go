package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/config"
	"market_maker/internal/core"
)

func testPolicy() *config.PolicyConfig {
	p := config.DefaultPolicyConfig()
	p.Governance.LiveTradingEnabled = true
	p.Governance.KillSwitchFile = filepath.Join(os.TempDir(), "nonexistent-kill-switch-file")
	p.Risk.MinAccountValueUSD = 100
	p.Risk.MaxTotalAtRiskPct = 50
	p.Risk.PerSymbolCapPct = 20
	p.Risk.MinTradeNotionalUSD = 5
	return p
}

func testPortfolio(nav float64) core.PortfolioState {
	pf := core.NewPortfolioState()
	pf.AccountValueUSD = decimal.NewFromFloat(nav)
	return pf
}

func TestEvaluateDeadManSwitchBlocksLive(t *testing.T) {
	policy := testPolicy()
	policy.Governance.LiveTradingEnabled = false
	e := New(policy, NewBreakerSet(3, 0), nil)

	result := e.Evaluate(core.ModeLive, testPortfolio(1000), []core.TradeProposal{{Symbol: "BTC-USD", Side: core.SideBuy, NotionalUSD: decimal.NewFromInt(50)}}, nil)
	assert.False(t, result.Approved)
	assert.Contains(t, result.ViolatedChecks, "governance.live_trading_enabled")
}

func TestEvaluateDeadManSwitchIgnoredInDryRun(t *testing.T) {
	policy := testPolicy()
	policy.Governance.LiveTradingEnabled = false
	e := New(policy, NewBreakerSet(3, 0), nil)

	result := e.Evaluate(core.ModeDryRun, testPortfolio(1000), []core.TradeProposal{{Symbol: "BTC-USD", Side: core.SideBuy, NotionalUSD: decimal.NewFromInt(50)}}, nil)
	assert.True(t, result.Approved)
}

func TestEvaluateKillSwitchFileBlocksAll(t *testing.T) {
	f, err := os.CreateTemp("", "kill-switch")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	f.Close()

	policy := testPolicy()
	policy.Governance.KillSwitchFile = f.Name()
	e := New(policy, NewBreakerSet(3, 0), nil)

	result := e.Evaluate(core.ModeDryRun, testPortfolio(1000), []core.TradeProposal{{Symbol: "BTC-USD", Side: core.SideBuy, NotionalUSD: decimal.NewFromInt(50)}}, nil)
	assert.False(t, result.Approved)
	assert.Contains(t, result.ViolatedChecks, "kill_switch")
}

func TestEvaluateRejectsBelowMinAccountValue(t *testing.T) {
	policy := testPolicy()
	e := New(policy, NewBreakerSet(3, 0), nil)

	result := e.Evaluate(core.ModeDryRun, testPortfolio(50), []core.TradeProposal{{Symbol: "BTC-USD", Side: core.SideBuy, NotionalUSD: decimal.NewFromInt(10)}}, nil)
	assert.False(t, result.Approved)
	assert.Contains(t, result.ViolatedChecks, "min_account_value")
}

func TestEvaluateRejectsOnDailyLossCap(t *testing.T) {
	policy := testPolicy()
	policy.Risk.DailyLossPct = 5
	e := New(policy, NewBreakerSet(3, 0), nil)

	pf := testPortfolio(1000)
	pf.DailyPnLPct = decimal.NewFromFloat(-6)
	result := e.Evaluate(core.ModeDryRun, pf, []core.TradeProposal{{Symbol: "BTC-USD", Side: core.SideBuy, NotionalUSD: decimal.NewFromInt(10)}}, nil)
	assert.False(t, result.Approved)
	assert.Contains(t, result.ViolatedChecks, "pnl_caps")
}

func TestEvaluateTripBreakerBlocksAll(t *testing.T) {
	policy := testPolicy()
	breakers := NewBreakerSet(3, 0)
	breakers.RecordRateLimited()
	e := New(policy, breakers, nil)

	result := e.Evaluate(core.ModeDryRun, testPortfolio(1000), []core.TradeProposal{{Symbol: "BTC-USD", Side: core.SideBuy, NotionalUSD: decimal.NewFromInt(10)}}, nil)
	assert.False(t, result.Approved)
	assert.Contains(t, result.ViolatedChecks, "rate_limit_cooldown")
}

func TestEvaluateShrinksBuyToFitTotalAtRiskCap(t *testing.T) {
	policy := testPolicy()
	policy.Risk.MaxTotalAtRiskPct = 10 // 10% of 1000 = 100
	policy.Risk.PerSymbolCapPct = 100
	e := New(policy, NewBreakerSet(3, 0), nil)

	pf := testPortfolio(1000)
	result := e.Evaluate(core.ModeDryRun, pf, []core.TradeProposal{{Symbol: "BTC-USD", Side: core.SideBuy, NotionalUSD: decimal.NewFromInt(500)}}, nil)
	require.True(t, result.Approved)
	require.Len(t, result.ApprovedProposals, 1)
	assert.True(t, result.ApprovedProposals[0].NotionalUSD.Equal(decimal.NewFromInt(100)))
}

func TestEvaluateRejectsBelowMinNotionalAfterShrink(t *testing.T) {
	policy := testPolicy()
	policy.Risk.MaxTotalAtRiskPct = 10
	policy.Risk.MinTradeNotionalUSD = 200
	e := New(policy, NewBreakerSet(3, 0), nil)

	pf := testPortfolio(1000)
	result := e.Evaluate(core.ModeDryRun, pf, []core.TradeProposal{{Symbol: "BTC-USD", Side: core.SideBuy, NotionalUSD: decimal.NewFromInt(500)}}, nil)
	assert.False(t, result.Approved)
	assert.Contains(t, result.ProposalRejections["BTC-USD"], "size below minimum tradeable notional after caps")
}

func TestEvaluateHonorsSymbolCooldown(t *testing.T) {
	policy := testPolicy()
	policy.Risk.PerSymbolCooldownEnabled = true
	policy.Risk.NormalCooldownSeconds = 60
	e := New(policy, NewBreakerSet(3, 0), nil)
	e.ApplySymbolCooldown("BTC-USD", false)

	pf := testPortfolio(1000)
	result := e.Evaluate(core.ModeDryRun, pf, []core.TradeProposal{{Symbol: "BTC-USD", Side: core.SideBuy, NotionalUSD: decimal.NewFromInt(50)}}, nil)
	assert.False(t, result.Approved)
	assert.Contains(t, result.ProposalRejections["BTC-USD"], "symbol is in re-entry cooldown")
}

func TestEvaluateSellBypassesCooldownAndRiskCaps(t *testing.T) {
	policy := testPolicy()
	policy.Risk.PerSymbolCooldownEnabled = true
	policy.Risk.NormalCooldownSeconds = 60
	e := New(policy, NewBreakerSet(3, 0), nil)
	e.ApplySymbolCooldown("BTC-USD", false)

	pf := testPortfolio(1000)
	result := e.Evaluate(core.ModeDryRun, pf, []core.TradeProposal{{Symbol: "BTC-USD", Side: core.SideSell, NotionalUSD: decimal.NewFromInt(50)}}, nil)
	assert.True(t, result.Approved)
}
