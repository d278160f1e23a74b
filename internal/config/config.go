// Package config loads and validates app.yaml and policy.yaml with
// environment-variable expansion, following the teacher's load->expand->
// validate pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode mirrors core.Mode without importing internal/core, keeping config
// dependency-free of the domain package.
type Mode string

const (
	ModeDryRun Mode = "DRY_RUN"
	ModePaper  Mode = "PAPER"
	ModeLive   Mode = "LIVE"
)

// AppConfig is the root of app.yaml.
type AppConfig struct {
	App        AppSection        `yaml:"app"`
	Exchange   ExchangeSection   `yaml:"exchange"`
	Logging    LoggingSection    `yaml:"logging"`
	Monitoring MonitoringSection `yaml:"monitoring"`
	Loop       LoopSection       `yaml:"loop"`
	AutoTune   AutoTuneSection   `yaml:"auto_tune"`
	State      StateSection      `yaml:"state"`
}

type AppSection struct {
	Mode Mode `yaml:"mode" validate:"required,oneof=DRY_RUN PAPER LIVE"`
}

type ExchangeSection struct {
	ReadOnly bool `yaml:"read_only"`
}

type LoggingSection struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type AlertsSection struct {
	MinSeverity  string `yaml:"min_severity"`
	SlackWebhook Secret `yaml:"slack_webhook"`
	TelegramBot  Secret `yaml:"telegram_bot_token"`
	TelegramChat string `yaml:"telegram_chat_id"`
}

type MonitoringSection struct {
	MetricsEnabled      bool          `yaml:"metrics_enabled"`
	MetricsPort         int           `yaml:"metrics_port"`
	HealthcheckEnabled  bool          `yaml:"healthcheck_enabled"`
	HealthcheckPort     int           `yaml:"healthcheck_port"`
	AlertsEnabled       bool          `yaml:"alerts_enabled"`
	Alerts              AlertsSection `yaml:"alerts"`
}

type LoopSection struct {
	IntervalSeconds      int     `yaml:"interval_seconds" validate:"required,min=1"`
	JitterPct            float64 `yaml:"jitter_pct" validate:"min=0,max=20"`
	UniverseCacheSeconds int     `yaml:"universe_cache_seconds"`
}

type AutoTuneSection struct {
	ZeroTriggerCycles int      `yaml:"zero_trigger_cycles"`
	Loosen            float64  `yaml:"loosen"`
	Floors            map[string]float64 `yaml:"floors"`
}

type StateSection struct {
	PersistIntervalSeconds int    `yaml:"persist_interval_seconds" validate:"required,min=1"`
	BackupEnabled          bool   `yaml:"backup_enabled"`
	BackupIntervalHours    int    `yaml:"backup_interval_hours"`
	BackupPath             string `yaml:"backup_path"`
	BackupMaxFiles         int    `yaml:"backup_max_files"`
	Path                   string `yaml:"path"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadAppConfig loads app.yaml from configDir with environment-variable expansion.
func LoadAppConfig(configDir string) (*AppConfig, error) {
	path := filepath.Join(configDir, "app.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app.yaml: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse app.yaml: %w", err)
	}
	applyAppDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app.yaml validation failed: %w", err)
	}
	return &cfg, nil
}

func applyAppDefaults(c *AppConfig) {
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Loop.IntervalSeconds == 0 {
		c.Loop.IntervalSeconds = 60
	}
	if c.Loop.JitterPct == 0 {
		c.Loop.JitterPct = 10
	}
	if c.Monitoring.MetricsPort == 0 {
		c.Monitoring.MetricsPort = 9090
	}
	if c.Monitoring.HealthcheckPort == 0 {
		c.Monitoring.HealthcheckPort = 8080
	}
	if c.State.PersistIntervalSeconds == 0 {
		c.State.PersistIntervalSeconds = 30
	}
	if c.State.Path == "" {
		c.State.Path = "data/state.json"
	}
	if c.State.BackupPath == "" {
		c.State.BackupPath = "data/backups"
	}
	if c.State.BackupMaxFiles == 0 {
		c.State.BackupMaxFiles = 10
	}
}

// Validate performs comprehensive validation of app.yaml.
func (c *AppConfig) Validate() error {
	var errs []string

	switch c.App.Mode {
	case ModeDryRun, ModePaper, ModeLive:
	default:
		errs = append(errs, ValidationError{Field: "app.mode", Value: c.App.Mode, Message: "must be one of DRY_RUN, PAPER, LIVE"}.Error())
	}

	if c.Loop.IntervalSeconds < 1 {
		errs = append(errs, ValidationError{Field: "loop.interval_seconds", Value: c.Loop.IntervalSeconds, Message: "must be >= 1"}.Error())
	}
	if c.Loop.JitterPct < 0 || c.Loop.JitterPct > 20 {
		errs = append(errs, ValidationError{Field: "loop.jitter_pct", Value: c.Loop.JitterPct, Message: "must be in [0,20]"}.Error())
	}
	if c.State.PersistIntervalSeconds < 1 {
		errs = append(errs, ValidationError{Field: "state.persist_interval_seconds", Value: c.State.PersistIntervalSeconds, Message: "must be >= 1"}.Error())
	}

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.Logging.Level)) {
		errs = append(errs, ValidationError{Field: "logging.level", Value: c.Logging.Level, Message: "must be one of " + strings.Join(validLevels, ", ")}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// String returns a YAML representation with secrets masked.
func (c *AppConfig) String() string {
	cp := *c
	data, _ := yaml.Marshal(cp)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}

// DefaultAppConfig returns a default configuration for tests.
func DefaultAppConfig() *AppConfig {
	cfg := &AppConfig{
		App:      AppSection{Mode: ModeDryRun},
		Exchange: ExchangeSection{ReadOnly: false},
		Logging:  LoggingSection{Level: "INFO"},
		Monitoring: MonitoringSection{
			MetricsEnabled:     true,
			HealthcheckEnabled: true,
			AlertsEnabled:      false,
		},
		Loop: LoopSection{IntervalSeconds: 60, JitterPct: 10, UniverseCacheSeconds: 300},
		State: StateSection{PersistIntervalSeconds: 30, BackupEnabled: true, BackupIntervalHours: 6, BackupMaxFiles: 10},
	}
	applyAppDefaults(cfg)
	return cfg
}
