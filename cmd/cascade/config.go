package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/viper"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Store        StoreConfig        `mapstructure:"store"`
	Docker       DockerConfig       `mapstructure:"docker"`
	Probe        ProbeConfig        `mapstructure:"probe"`
	API          APIConfig          `mapstructure:"api"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Rollback     RollbackConfig     `mapstructure:"rollback"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// ProbeConfig holds HTTP probe configuration.
type ProbeConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	SuitePaths []string      `mapstructure:"suite_paths"`
}

// APIConfig holds the status API configuration.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// CoordinationConfig holds the coordination run configuration.
type CoordinationConfig struct {
	BatchSize               int           `mapstructure:"batch_size"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	ContinuationThreshold   float64       `mapstructure:"continuation_threshold"`
	AllowUnordered          bool          `mapstructure:"allow_unordered"`
	Strategy                string        `mapstructure:"strategy"`
	Environment             string        `mapstructure:"environment"`
	ValidationEnabled       bool          `mapstructure:"validation_enabled"`
	TestingEnabled          bool          `mapstructure:"testing_enabled"`
	PropagationDelay        time.Duration `mapstructure:"propagation_delay"`
	CriticalTestFailureRate float64       `mapstructure:"critical_test_failure_rate"`
	AuditEnabled            bool          `mapstructure:"audit_enabled"`
}

// RollbackConfig holds rollback engine configuration.
type RollbackConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	Timeout            time.Duration `mapstructure:"timeout"`
	InitialDelay       time.Duration `mapstructure:"initial_delay"`
	BackoffMultiplier  float64       `mapstructure:"backoff_multiplier"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	Checks             []string      `mapstructure:"checks"`
	RecoveryEnabled    bool          `mapstructure:"recovery_enabled"`
	MaxHistoryAttempts int           `mapstructure:"max_history_attempts"`
}

// =============================================================================
// Loading
// =============================================================================

// LoadConfig reads configuration from an optional YAML file and
// CASCADE_* environment variables, over built-in defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.dsn", "cascade.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("probe.timeout", 10*time.Second)
	v.SetDefault("probe.suite_paths", []string{"/", "/healthz"})
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", "127.0.0.1:8844")
	v.SetDefault("coordination.batch_size", 3)
	v.SetDefault("coordination.timeout", 30*time.Minute)
	v.SetDefault("coordination.continuation_threshold", 0.5)
	v.SetDefault("coordination.allow_unordered", false)
	v.SetDefault("coordination.strategy", "rolling")
	v.SetDefault("coordination.environment", "production")
	v.SetDefault("coordination.validation_enabled", true)
	v.SetDefault("coordination.testing_enabled", true)
	v.SetDefault("coordination.propagation_delay", 5*time.Second)
	v.SetDefault("coordination.critical_test_failure_rate", 0.5)
	v.SetDefault("coordination.audit_enabled", true)
	v.SetDefault("rollback.enabled", true)
	v.SetDefault("rollback.max_attempts", 3)
	v.SetDefault("rollback.timeout", 5*time.Minute)
	v.SetDefault("rollback.initial_delay", 5*time.Second)
	v.SetDefault("rollback.backoff_multiplier", 2.0)
	v.SetDefault("rollback.max_delay", 60*time.Second)
	v.SetDefault("rollback.checks", []string{"state", "connectivity", "functionality"})
	v.SetDefault("rollback.recovery_enabled", true)
	v.SetDefault("rollback.max_history_attempts", 3)

	v.SetEnvPrefix("CASCADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Coordination.BatchSize < 1 {
		return fmt.Errorf("coordination.batch_size must be at least 1, got %d", c.Coordination.BatchSize)
	}
	if c.Coordination.ContinuationThreshold < 0 || c.Coordination.ContinuationThreshold > 1 {
		return fmt.Errorf("coordination.continuation_threshold must be in [0,1], got %g", c.Coordination.ContinuationThreshold)
	}
	if c.Coordination.CriticalTestFailureRate < 0 || c.Coordination.CriticalTestFailureRate > 1 {
		return fmt.Errorf("coordination.critical_test_failure_rate must be in [0,1], got %g", c.Coordination.CriticalTestFailureRate)
	}
	if c.Rollback.MaxAttempts < 1 {
		return fmt.Errorf("rollback.max_attempts must be at least 1, got %d", c.Rollback.MaxAttempts)
	}
	for _, check := range c.Rollback.Checks {
		switch domain.ValidationCheck(check) {
		case domain.CheckState, domain.CheckConnectivity, domain.CheckFunctionality:
		default:
			return fmt.Errorf("unknown rollback check %q", check)
		}
	}
	return nil
}

// Options maps the configuration onto coordination run options.
func (c *Config) Options() domain.Options {
	checks := make([]domain.ValidationCheck, 0, len(c.Rollback.Checks))
	for _, check := range c.Rollback.Checks {
		checks = append(checks, domain.ValidationCheck(check))
	}

	return domain.Options{
		BatchSize:               c.Coordination.BatchSize,
		CoordinationTimeout:     c.Coordination.Timeout,
		ContinuationThreshold:   c.Coordination.ContinuationThreshold,
		AllowUnordered:          c.Coordination.AllowUnordered,
		Strategy:                c.Coordination.Strategy,
		Environment:             c.Coordination.Environment,
		ValidationEnabled:       c.Coordination.ValidationEnabled,
		TestingEnabled:          c.Coordination.TestingEnabled,
		PropagationDelay:        c.Coordination.PropagationDelay,
		CriticalTestFailureRate: c.Coordination.CriticalTestFailureRate,
		AuditEnabled:            c.Coordination.AuditEnabled,
		Rollback: domain.RollbackOptions{
			Enabled:     c.Rollback.Enabled,
			MaxAttempts: c.Rollback.MaxAttempts,
			Timeout:     c.Rollback.Timeout,
			Retry: domain.RetryOptions{
				InitialDelay:      c.Rollback.InitialDelay,
				BackoffMultiplier: c.Rollback.BackoffMultiplier,
				MaxDelay:          c.Rollback.MaxDelay,
			},
			Checks:             checks,
			RecoveryEnabled:    c.Rollback.RecoveryEnabled,
			MaxHistoryAttempts: c.Rollback.MaxHistoryAttempts,
		},
	}
}

// =============================================================================
// Logger
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}
