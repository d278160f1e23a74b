// Command trader is the always-on algorithmic trading entrypoint: it loads
// configuration, wires every core component, runs startup validations, and
// drives the TradingLoop until a termination signal arrives or --once
// completes a single cycle. Grounded on the teacher's cmd/live_server
// main.go: flag-parsed entrypoint, Zap logger, signal.Notify-driven
// graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"market_maker/internal/alert"
	"market_maker/internal/audit"
	"market_maker/internal/clocksync"
	"market_maker/internal/config"
	"market_maker/internal/core"
	"market_maker/internal/costmodel"
	"market_maker/internal/exchange/coinbase"
	"market_maker/internal/execution"
	"market_maker/internal/health"
	"market_maker/internal/instancelock"
	"market_maker/internal/logging"
	"market_maker/internal/orderstate"
	"market_maker/internal/positionmanager"
	"market_maker/internal/ratelimit"
	"market_maker/internal/risk"
	"market_maker/internal/secretrotation"
	"market_maker/internal/statestore"
	"market_maker/internal/strategy"
	"market_maker/internal/telemetry"
	"market_maker/internal/tradingloop"
	"market_maker/internal/universe"
)

// exit codes per spec.md §6: 0 normal, non-zero for startup validation
// failures (bad config, missing credentials in LIVE, stale clock in LIVE,
// another instance running).
const (
	exitOK             = 0
	exitConfigError    = 1
	exitCredentialsErr = 2
	exitValidationErr  = 3
)

type universeFile struct {
	Symbols []string `yaml:"symbols"`
}

func main() {
	once := flag.Bool("once", false, "run exactly one cycle and exit")
	interval := flag.Int("interval", 0, "override loop.interval_seconds from app.yaml")
	configDir := flag.String("config-dir", "configs", "directory containing app.yaml, policy.yaml, signals.yaml, universe.yaml")
	dryRun := flag.Bool("dry-run", false, "override app.mode to DRY_RUN regardless of app.yaml")
	flag.Parse()

	os.Exit(run(*once, *interval, *configDir, *dryRun))
}

func run(once bool, intervalOverride int, configDir string, dryRunOverride bool) int {
	appCfg, err := config.LoadAppConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfigError
	}
	policyCfg, err := config.LoadPolicyConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfigError
	}
	if dryRunOverride {
		appCfg.App.Mode = config.ModeDryRun
	}
	if intervalOverride > 0 {
		appCfg.Loop.IntervalSeconds = intervalOverride
	}

	logger, err := logging.New(appCfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return exitConfigError
	}

	mode := core.Mode(appCfg.App.Mode)
	logger.Info("trader starting", "mode", string(mode), "config_dir", configDir)

	if appCfg.Monitoring.MetricsEnabled {
		otelTelemetry, err := telemetry.Setup("trader")
		if err != nil {
			logger.Warn("failed to set up telemetry, continuing without it", "error", err.Error())
		} else {
			defer func() {
				if err := otelTelemetry.Shutdown(context.Background()); err != nil {
					logger.Warn("telemetry shutdown failed", "error", err.Error())
				}
			}()
		}
	}

	creds, err := coinbase.LoadCredentialsFromEnv()
	if err != nil {
		if mode == core.ModeLive {
			logger.Error("missing exchange credentials", "error", err.Error())
			return exitCredentialsErr
		}
		logger.Warn("missing exchange credentials, continuing in non-live mode", "error", err.Error())
	}

	latency := telemetry.NewLatencyTracker(200)
	exchangeClient, err := coinbase.NewClient(creds, logger, latency)
	if err != nil {
		logger.Error("failed to construct exchange client", "error", err.Error())
		return exitConfigError
	}

	dataDir := "data"
	store, err := statestore.New(dataDir, logger)
	if err != nil {
		logger.Error("failed to open state store", "error", err.Error())
		return exitConfigError
	}
	if err := store.Load(context.Background()); err != nil {
		logger.Error("failed to load persisted state", "error", err.Error())
		return exitConfigError
	}

	states := orderstate.New(logger)
	cost := costmodel.New(policyCfg.Execution.MakerFeeBps, policyCfg.Execution.TakerFeeBps)
	breakers := risk.NewBreakerSet(policyCfg.CircuitBreakers.RateLimitCooldownCycles, time.Duration(appCfg.Loop.IntervalSeconds)*time.Second)
	riskEngine := risk.New(policyCfg, breakers, logger)

	execEngine := execution.New(mode, exchangeClient, store, states, cost, policyCfg, logger)
	if mode == core.ModeDryRun {
		shadow, err := execution.NewShadowExecutor(filepath.Join(dataDir, "shadow_execution.jsonl"), logger)
		if err != nil {
			logger.Warn("failed to open shadow execution log", "error", err.Error())
		} else {
			execEngine = execEngine.WithShadowLog(shadow)
		}
	}

	auditLogger, err := audit.New(filepath.Join(dataDir, "audit.jsonl"), logger)
	if err != nil {
		logger.Error("failed to open audit log", "error", err.Error())
		return exitConfigError
	}

	alertService := alert.NewService(core.AlertLevel(appCfg.Monitoring.Alerts.MinSeverity), logger)
	if appCfg.Monitoring.AlertsEnabled {
		if sink := alert.NewSlackSink(string(appCfg.Monitoring.Alerts.SlackWebhook)); sink != nil {
			alertService.AddSink(sink)
		}
		if sink := alert.NewTelegramSink(string(appCfg.Monitoring.Alerts.TelegramBot), appCfg.Monitoring.Alerts.TelegramChat); sink != nil {
			alertService.AddSink(sink)
		}
	}

	exchangeClient = exchangeClient.WithRateLimiter(ratelimit.New(0, logger, alertService))

	universeSymbols := loadUniverseSymbols(configDir, logger)
	if len(universeSymbols) > 0 {
		exchangeClient = exchangeClient.WithTickerStream(universeSymbols, logger)
	}
	defer exchangeClient.CloseTickerStream()
	universeBuilder := universe.New(universeSymbols)
	strategyRegistry := strategy.NewRegistry(logger, strategy.NewPassthroughStrategy("reference"))
	positionMgr := positionmanager.New(policyCfg, logger)

	var healthServer *health.Server
	if appCfg.Monitoring.HealthcheckEnabled {
		healthServer = health.NewServer(appCfg.Monitoring.HealthcheckPort, logger)
	}

	clockValidator := clocksync.New(logger)
	if err := clockValidator.ValidateOrFail(mode); err != nil {
		logger.Error("clock sync validation failed", "error", err.Error())
		return exitValidationErr
	}

	secretTracker, err := secretrotation.New(filepath.Join(dataDir, "secret_rotation.json"), logger)
	if err != nil {
		logger.Error("failed to open secret rotation tracker", "error", err.Error())
		return exitConfigError
	}

	lock, err := instancelock.New("trader", dataDir, logger)
	if err != nil {
		logger.Error("failed to construct instance lock", "error", err.Error())
		return exitConfigError
	}

	loop := tradingloop.New(tradingloop.Deps{
		AppCfg:        appCfg,
		PolicyCfg:     policyCfg,
		Logger:        logger,
		Exchange:      exchangeClient,
		Store:         store,
		Universe:      universeBuilder,
		Strategies:    strategyRegistry,
		Risk:          riskEngine,
		Breakers:      breakers,
		Execution:     execEngine,
		Audit:         auditLogger,
		Alerts:        alertService,
		Health:        healthServer,
		Positions:     positionMgr,
		Clock:         clockValidator,
		SecretTracker: secretTracker,
		Lock:          lock,
		ConfigDir:     configDir,
	}, "default")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		acquired, err := lock.Acquire(false)
		if err != nil || !acquired {
			logger.Error("instance lock failed", "error", err)
			return exitValidationErr
		}
		defer lock.Release()

		outcome := loop.RunOnce(ctx)
		logger.Info("single cycle complete", "no_trade_reason", outcome.NoTradeReason, "proposals", outcome.Proposals, "approved", outcome.Approved, "executed", outcome.Executed)
		return exitOK
	}

	if err := loop.Run(ctx); err != nil {
		logger.Error("trading loop exited with error", "error", err.Error())
		return exitValidationErr
	}
	return exitOK
}

func loadUniverseSymbols(configDir string, logger core.Logger) []string {
	data, err := os.ReadFile(filepath.Join(configDir, "universe.yaml"))
	if err != nil {
		logger.Warn("universe.yaml not found, starting with an empty universe", "error", err.Error())
		return nil
	}
	var u universeFile
	if err := yaml.Unmarshal(data, &u); err != nil {
		logger.Warn("failed to parse universe.yaml", "error", err.Error())
		return nil
	}
	return u.Symbols
}
