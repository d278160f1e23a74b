package positionmanager

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"market_maker/internal/config"
	"market_maker/internal/core"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                    {}
func (noopLogger) Info(string, ...interface{})                     {}
func (noopLogger) Warn(string, ...interface{})                     {}
func (noopLogger) Error(string, ...interface{})                    {}
func (noopLogger) Fatal(string, ...interface{})                    {}
func (l noopLogger) WithField(string, interface{}) core.Logger     { return l }
func (l noopLogger) WithFields(map[string]interface{}) core.Logger { return l }

func TestEvaluateExitsTriggersStopLoss(t *testing.T) {
	policy := config.DefaultPolicyConfig()
	m := New(policy, noopLogger{})

	portfolio := core.NewPortfolioState()
	portfolio.OpenPositions["BTC-USD"] = core.Position{
		Symbol:        "BTC-USD",
		EntryValueUSD: decimal.NewFromInt(1000),
		CurrentUSD:    decimal.NewFromInt(900), // -10%
	}
	portfolio.ManagedPositions["BTC-USD"] = core.ManagedPositionMeta{
		StopLossPct:   decimal.NewFromInt(5),
		TakeProfitPct: decimal.NewFromInt(20),
		OpenedAt:      time.Now(),
	}

	proposals := m.EvaluateExits(portfolio, time.Now())
	assert.Len(t, proposals, 1)
	assert.Equal(t, "BTC-USD", proposals[0].Symbol)
	assert.Equal(t, core.SideSell, proposals[0].Side)
	assert.Equal(t, "stop_loss", proposals[0].TriggerName)
}

func TestEvaluateExitsTriggersTakeProfit(t *testing.T) {
	policy := config.DefaultPolicyConfig()
	m := New(policy, noopLogger{})

	portfolio := core.NewPortfolioState()
	portfolio.OpenPositions["ETH-USD"] = core.Position{
		Symbol:        "ETH-USD",
		EntryValueUSD: decimal.NewFromInt(1000),
		CurrentUSD:    decimal.NewFromInt(1250), // +25%
	}
	portfolio.ManagedPositions["ETH-USD"] = core.ManagedPositionMeta{
		StopLossPct:   decimal.NewFromInt(5),
		TakeProfitPct: decimal.NewFromInt(20),
		OpenedAt:      time.Now(),
	}

	proposals := m.EvaluateExits(portfolio, time.Now())
	assert.Len(t, proposals, 1)
	assert.Equal(t, "take_profit", proposals[0].TriggerName)
}

func TestEvaluateExitsTriggersMaxHold(t *testing.T) {
	policy := config.DefaultPolicyConfig()
	m := New(policy, noopLogger{})

	opened := time.Now().Add(-48 * time.Hour)
	portfolio := core.NewPortfolioState()
	portfolio.OpenPositions["SOL-USD"] = core.Position{
		Symbol:        "SOL-USD",
		EntryValueUSD: decimal.NewFromInt(500),
		CurrentUSD:    decimal.NewFromInt(510),
	}
	portfolio.ManagedPositions["SOL-USD"] = core.ManagedPositionMeta{
		StopLossPct:   decimal.NewFromInt(5),
		TakeProfitPct: decimal.NewFromInt(20),
		MaxHoldHours:  24,
		OpenedAt:      opened,
	}

	proposals := m.EvaluateExits(portfolio, time.Now())
	assert.Len(t, proposals, 1)
	assert.Equal(t, "max_hold_exceeded", proposals[0].TriggerName)
}

func TestEvaluateExitsSkipsUnmanagedPositions(t *testing.T) {
	policy := config.DefaultPolicyConfig()
	m := New(policy, noopLogger{})

	portfolio := core.NewPortfolioState()
	portfolio.OpenPositions["DOGE-USD"] = core.Position{
		Symbol:        "DOGE-USD",
		EntryValueUSD: decimal.NewFromInt(100),
		CurrentUSD:    decimal.NewFromInt(1),
	}

	proposals := m.EvaluateExits(portfolio, time.Now())
	assert.Empty(t, proposals)
}

func TestEvaluateTrimNoopWhenDisabled(t *testing.T) {
	policy := config.DefaultPolicyConfig()
	policy.PortfolioManagement.AutoTrimToRiskCap = false
	m := New(policy, noopLogger{})

	portfolio := core.NewPortfolioState()
	portfolio.AccountValueUSD = decimal.NewFromInt(10000)
	portfolio.OpenPositions["BTC-USD"] = core.Position{Symbol: "BTC-USD", CurrentUSD: decimal.NewFromInt(5000)}

	proposals := m.EvaluateTrim(portfolio)
	assert.Empty(t, proposals)
}

func TestEvaluateTrimTrimsOverCapPosition(t *testing.T) {
	policy := config.DefaultPolicyConfig()
	policy.PortfolioManagement.AutoTrimToRiskCap = true
	policy.PortfolioManagement.TrimTargetBufferPct = 2
	policy.PortfolioManagement.TrimMinValueUSD = 10
	policy.PortfolioManagement.TrimMaxLiquidations = 5
	policy.Risk.PerSymbolCapPct = 15

	m := New(policy, noopLogger{})

	portfolio := core.NewPortfolioState()
	portfolio.AccountValueUSD = decimal.NewFromInt(10000)
	portfolio.OpenPositions["BTC-USD"] = core.Position{Symbol: "BTC-USD", CurrentUSD: decimal.NewFromInt(2000)} // 20% > 15% cap

	proposals := m.EvaluateTrim(portfolio)
	assert.Len(t, proposals, 1)
	assert.Equal(t, "auto_trim_to_risk_cap", proposals[0].TriggerName)
	assert.True(t, proposals[0].NotionalUSD.GreaterThan(decimal.Zero))
}
