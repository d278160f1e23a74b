package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyConfig is the root of policy.yaml (risk/execution/governance knobs).
type PolicyConfig struct {
	Risk               RiskSection               `yaml:"risk"`
	Execution          ExecutionSection          `yaml:"execution"`
	Microstructure     MicrostructureSection     `yaml:"microstructure"`
	CircuitBreakers    CircuitBreakersSection    `yaml:"circuit_breakers"`
	Governance         GovernanceSection         `yaml:"governance"`
	PortfolioManagement PortfolioManagementSection `yaml:"portfolio_management"`
	Twap               TwapSection               `yaml:"twap"`
}

type RiskSection struct {
	MaxTotalAtRiskPct       float64  `yaml:"max_total_at_risk_pct" validate:"required,min=0,max=100"`
	PerSymbolCapPct         float64  `yaml:"per_symbol_cap_pct" validate:"required,min=0,max=100"`
	DailyLossPct            float64  `yaml:"daily_loss_pct"`
	WeeklyLossPct           float64  `yaml:"weekly_loss_pct"`
	MaxDrawdownPct          float64  `yaml:"max_drawdown_pct"`
	MinTradeNotionalUSD     float64  `yaml:"min_trade_notional_usd"`
	CashEquivalents         []string `yaml:"cash_equivalents"`
	PerSymbolCooldownEnabled bool    `yaml:"per_symbol_cooldown_enabled"`
	MaxTradesPerDay         int      `yaml:"max_trades_per_day"`
	MaxTradesPerHour        int      `yaml:"max_trades_per_hour"`
	MinAccountValueUSD      float64  `yaml:"min_account_value_usd"`
	NormalCooldownSeconds   int      `yaml:"normal_cooldown_seconds"`
	StopLossCooldownSeconds int      `yaml:"stop_loss_cooldown_seconds"`
}

type ExecutionSection struct {
	DefaultOrderType            string             `yaml:"default_order_type"`
	MakerFeeBps                 float64            `yaml:"maker_fee_bps"`
	TakerFeeBps                 float64            `yaml:"taker_fee_bps"`
	MakerMaxReprices            int                `yaml:"maker_max_reprices"`
	MakerMaxTTLSec              int                `yaml:"maker_max_ttl_sec"`
	MakerFirstMinTTLSec         int                `yaml:"maker_first_min_ttl_sec"`
	CancelAfterSeconds          int                `yaml:"cancel_after_seconds"`
	PostOnlyTTLSeconds          int                `yaml:"post_only_ttl_seconds"`
	SmallOrderMarketThresholdUSD float64           `yaml:"small_order_market_threshold_usd"`
	TakerFallback                bool              `yaml:"taker_fallback"`
	TakerMaxSlippageBps          map[string]float64 `yaml:"taker_max_slippage_bps"`
	FailedOrderCooldownSeconds   int               `yaml:"failed_order_cooldown_seconds"`
	PostTradeReconcileWaitSeconds int              `yaml:"post_trade_reconcile_wait_seconds"`
	PreferredQuoteCurrencies     []string           `yaml:"preferred_quote_currencies"`
	ClampSmallTrades             bool              `yaml:"clamp_small_trades"`
	DepthMultiplier              float64           `yaml:"depth_multiplier"`
	MakerCushionTicks            int               `yaml:"maker_cushion_ticks"`
}

type MicrostructureSection struct {
	MaxExpectedSlippageBps float64 `yaml:"max_expected_slippage_bps"`
	MaxQuoteAgeSeconds     float64 `yaml:"max_quote_age_seconds" validate:"required,min=1"`
	MaxSpreadBps           float64 `yaml:"max_spread_bps" validate:"required,min=0"`
}

type CircuitBreakersSection struct {
	MaxQuoteAgeSeconds        float64 `yaml:"max_quote_age_seconds"`
	MaxConsecutiveAPIErrors   int     `yaml:"max_consecutive_api_errors"`
	RateLimitCooldownCycles   int     `yaml:"rate_limit_cooldown_cycles"`
	VolatilityDrawdownPct     float64 `yaml:"volatility_drawdown_pct"`
	VolatilityWindowCycles    int     `yaml:"volatility_window_cycles"`
	ExchangeHealthStaleCount  int     `yaml:"exchange_health_stale_count"`
}

type GovernanceSection struct {
	LiveTradingEnabled bool   `yaml:"live_trading_enabled"`
	KillSwitchFile     string `yaml:"kill_switch_file"`
}

type PurgeExecutionSection struct {
	SliceUSD              float64 `yaml:"slice_usd"`
	ReplaceSeconds        int     `yaml:"replace_seconds"`
	MaxDurationSeconds    int     `yaml:"max_duration_seconds"`
	PollIntervalSeconds   int     `yaml:"poll_interval_seconds"`
	MaxSlices             int     `yaml:"max_slices"`
	MaxResidualUSD        float64 `yaml:"max_residual_usd"`
	MaxConsecutiveNoFill  int     `yaml:"max_consecutive_no_fill"`
	AllowTakerFallback    bool    `yaml:"allow_taker_fallback"`
	TakerFallbackThresholdUSD float64 `yaml:"taker_fallback_threshold_usd"`
	TakerMaxSlippageBps   float64 `yaml:"taker_max_slippage_bps"`
}

type PortfolioManagementSection struct {
	AutoTrimToRiskCap           bool                  `yaml:"auto_trim_to_risk_cap"`
	TrimTargetBufferPct         float64               `yaml:"trim_target_buffer_pct"`
	TrimTolerancePct            float64               `yaml:"trim_tolerance_pct"`
	TrimMinValueUSD             float64               `yaml:"trim_min_value_usd"`
	TrimMaxLiquidations         int                   `yaml:"trim_max_liquidations"`
	TrimPreferredQuotes         []string              `yaml:"trim_preferred_quotes"`
	TrimSlippageBufferPct       float64               `yaml:"trim_slippage_buffer_pct"`
	AutoLiquidateIneligible     bool                  `yaml:"auto_liquidate_ineligible"`
	MinLiquidationValueUSD      float64               `yaml:"min_liquidation_value_usd"`
	MaxLiquidationsPerCycle     int                   `yaml:"max_liquidations_per_cycle"`
	AutoRebalanceWorstPerformer bool                  `yaml:"auto_rebalance_worst_performer"`
	PurgeExecution              PurgeExecutionSection `yaml:"purge_execution"`
	MaxTrimFailuresBeforeAlert  int                   `yaml:"max_trim_failures_before_alert"`
}

type TwapSection struct {
	ReplaceSeconds       int `yaml:"replace_seconds"`
	MaxConsecutiveNoFill int `yaml:"max_consecutive_no_fill"`
}

// LoadPolicyConfig loads policy.yaml from configDir.
func LoadPolicyConfig(configDir string) (*PolicyConfig, error) {
	path := filepath.Join(configDir, "policy.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy.yaml: %w", err)
	}

	var cfg PolicyConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy.yaml: %w", err)
	}
	applyPolicyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("policy.yaml validation failed: %w", err)
	}
	return &cfg, nil
}

func applyPolicyDefaults(c *PolicyConfig) {
	if c.Microstructure.MaxQuoteAgeSeconds == 0 {
		c.Microstructure.MaxQuoteAgeSeconds = 30
	}
	if c.Microstructure.MaxSpreadBps == 0 {
		c.Microstructure.MaxSpreadBps = 50
	}
	if c.Execution.DepthMultiplier == 0 {
		c.Execution.DepthMultiplier = 2
	}
	if c.Execution.MakerFirstMinTTLSec == 0 {
		c.Execution.MakerFirstMinTTLSec = 5
	}
	if c.Execution.MakerMaxTTLSec == 0 {
		c.Execution.MakerMaxTTLSec = 30
	}
	if c.Execution.MakerMaxReprices == 0 {
		c.Execution.MakerMaxReprices = 3
	}
	if c.Execution.CancelAfterSeconds == 0 {
		c.Execution.CancelAfterSeconds = 120
	}
	if c.Execution.TakerMaxSlippageBps == nil {
		c.Execution.TakerMaxSlippageBps = map[string]float64{"T1": 10, "default": 25}
	}
	if c.CircuitBreakers.MaxConsecutiveAPIErrors == 0 {
		c.CircuitBreakers.MaxConsecutiveAPIErrors = 5
	}
	if c.CircuitBreakers.RateLimitCooldownCycles == 0 {
		c.CircuitBreakers.RateLimitCooldownCycles = 3
	}
	if c.Risk.NormalCooldownSeconds == 0 {
		c.Risk.NormalCooldownSeconds = 900
	}
	if c.Risk.StopLossCooldownSeconds == 0 {
		c.Risk.StopLossCooldownSeconds = 3600
	}
	if c.PortfolioManagement.TrimTargetBufferPct == 0 {
		c.PortfolioManagement.TrimTargetBufferPct = 2
	}
	if c.PortfolioManagement.PurgeExecution.SliceUSD == 0 {
		c.PortfolioManagement.PurgeExecution.SliceUSD = 100
	}
	if c.PortfolioManagement.PurgeExecution.PollIntervalSeconds == 0 {
		c.PortfolioManagement.PurgeExecution.PollIntervalSeconds = 5
	}
	if c.PortfolioManagement.PurgeExecution.MaxConsecutiveNoFill == 0 {
		c.PortfolioManagement.PurgeExecution.MaxConsecutiveNoFill = 3
	}
}

// Validate performs comprehensive validation of policy.yaml.
func (c *PolicyConfig) Validate() error {
	var errs []string

	if c.Risk.MaxTotalAtRiskPct <= 0 || c.Risk.MaxTotalAtRiskPct > 100 {
		errs = append(errs, ValidationError{Field: "risk.max_total_at_risk_pct", Value: c.Risk.MaxTotalAtRiskPct, Message: "must be in (0,100]"}.Error())
	}
	if c.Risk.PerSymbolCapPct <= 0 || c.Risk.PerSymbolCapPct > 100 {
		errs = append(errs, ValidationError{Field: "risk.per_symbol_cap_pct", Value: c.Risk.PerSymbolCapPct, Message: "must be in (0,100]"}.Error())
	}
	if c.Microstructure.MaxQuoteAgeSeconds <= 0 {
		errs = append(errs, ValidationError{Field: "microstructure.max_quote_age_seconds", Value: c.Microstructure.MaxQuoteAgeSeconds, Message: "must be > 0"}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// DefaultPolicyConfig returns a default configuration for tests.
func DefaultPolicyConfig() *PolicyConfig {
	cfg := &PolicyConfig{
		Risk: RiskSection{
			MaxTotalAtRiskPct:   80,
			PerSymbolCapPct:     15,
			DailyLossPct:        5,
			WeeklyLossPct:       15,
			MaxDrawdownPct:      20,
			MinTradeNotionalUSD: 5,
			CashEquivalents:     []string{"USD", "USDC"},
		},
		Execution: ExecutionSection{
			DefaultOrderType:             "limit_post_only",
			MakerFeeBps:                  40,
			TakerFeeBps:                  60,
			SmallOrderMarketThresholdUSD: 10,
			TakerFallback:                true,
		},
		Governance: GovernanceSection{LiveTradingEnabled: false, KillSwitchFile: "data/KILL_SWITCH"},
	}
	applyPolicyDefaults(cfg)
	return cfg
}
