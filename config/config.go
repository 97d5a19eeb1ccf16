package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration. Scalar knobs come from the
// environment (.env supported); set-valued policy (ticker allow-list,
// blackout windows, per-kind structure limits) comes from a YAML policy file.
type Config struct {
	// Risk limits
	MaxPositionRiskPct   float64 // Worst-case loss per structure as a fraction of equity (e.g. 0.05)
	MaxCumulativeRiskPct float64 // Worst-case loss across all open positions plus the proposal (e.g. 0.10)

	// Timeouts
	LedgerMaxStaleness     time.Duration // Ledger older than this blocks all approvals
	StaleOrderTimeout      time.Duration // SUBMITTED orders older than this are cancelled
	PartialFillGracePeriod time.Duration // PARTIALLY_FILLED longer than this triggers unwind
	FillDeadline           time.Duration // How long the coordinator watches fills before unwinding

	// Scheduling
	SyncInterval  time.Duration // Reconciliation cadence
	SweepInterval time.Duration // Unwind sweep cadence

	// Policy (from PolicyPath)
	Policy *Policy

	// Infrastructure
	DBPath      string
	PolicyPath  string
	MetricsAddr string // Prometheus listen address, empty disables the listener
	LogLevel    string
}

// Load reads configuration from environment variables (.env file) and the
// YAML policy file.
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.MaxPositionRiskPct, err = getEnvAsFloatRequired("MAX_POSITION_RISK_PCT", 0.05)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_RISK_PCT: %v", err))
	} else if cfg.MaxPositionRiskPct <= 0 || cfg.MaxPositionRiskPct >= 1 {
		errs = append(errs, "MAX_POSITION_RISK_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.MaxCumulativeRiskPct, err = getEnvAsFloatRequired("MAX_CUMULATIVE_RISK_PCT", 0.10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_CUMULATIVE_RISK_PCT: %v", err))
	} else if cfg.MaxCumulativeRiskPct <= 0 || cfg.MaxCumulativeRiskPct >= 1 {
		errs = append(errs, "MAX_CUMULATIVE_RISK_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	if cfg.MaxPositionRiskPct > cfg.MaxCumulativeRiskPct {
		errs = append(errs, "MAX_POSITION_RISK_PCT must not exceed MAX_CUMULATIVE_RISK_PCT")
	}

	cfg.LedgerMaxStaleness, err = getEnvAsDuration("LEDGER_MAX_STALENESS", 10*time.Minute)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEDGER_MAX_STALENESS: %v", err))
	}
	cfg.StaleOrderTimeout, err = getEnvAsDuration("STALE_ORDER_TIMEOUT", 4*time.Hour)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STALE_ORDER_TIMEOUT: %v", err))
	}
	cfg.PartialFillGracePeriod, err = getEnvAsDuration("PARTIAL_FILL_GRACE_PERIOD", 2*time.Minute)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PARTIAL_FILL_GRACE_PERIOD: %v", err))
	}
	cfg.FillDeadline, err = getEnvAsDuration("FILL_DEADLINE", 90*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FILL_DEADLINE: %v", err))
	}
	cfg.SyncInterval, err = getEnvAsDuration("SYNC_INTERVAL", time.Minute)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SYNC_INTERVAL: %v", err))
	}
	cfg.SweepInterval, err = getEnvAsDuration("SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SWEEP_INTERVAL: %v", err))
	}

	for name, d := range map[string]time.Duration{
		"LEDGER_MAX_STALENESS":      cfg.LedgerMaxStaleness,
		"STALE_ORDER_TIMEOUT":       cfg.StaleOrderTimeout,
		"PARTIAL_FILL_GRACE_PERIOD": cfg.PartialFillGracePeriod,
		"FILL_DEADLINE":             cfg.FillDeadline,
		"SYNC_INTERVAL":             cfg.SyncInterval,
		"SWEEP_INTERVAL":            cfg.SweepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive", name))
		}
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/tradegate.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.PolicyPath = getEnv("POLICY_PATH", "./policy.yaml")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	if cfg.PolicyPath != "" {
		cfg.Policy, err = LoadPolicy(cfg.PolicyPath)
		if err != nil {
			errs = append(errs, fmt.Sprintf("policy file: %v", err))
		}
	} else {
		errs = append(errs, "POLICY_PATH must be set")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
