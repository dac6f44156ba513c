// Package config defines all configuration for the execution core. Config
// is assembled from layered YAML files with environment-variable overrides,
// exactly as the teacher's config package does it, generalized from a
// single-file/POLY_ prefix scheme to a profile-layered/TESSER__ scheme.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	DryRun       bool               `mapstructure:"dry_run"`
	Execution    ExecutionConfig    `mapstructure:"execution"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Repository   RepositoryConfig   `mapstructure:"repository"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ExecutionConfig selects the sizer and the pre-trade risk limits the
// engine enforces on every parent and protective-leg order.
type ExecutionConfig struct {
	Sizer       string         `mapstructure:"sizer"`        // "fixed_quantity" | "percent_of_equity" | "risk_adjusted"
	SizerParams map[string]any `mapstructure:"sizer_params"` // sizer-specific knobs, e.g. quantity/percent/risk_fraction
	RiskLimits  RiskLimits     `mapstructure:"risk_limits"`
}

// RiskLimits carries the two caps risk.BasicChecker enforces, as decimal
// strings — the config layer never does float arithmetic on money.
type RiskLimits struct {
	MaxOrderQuantity    string `mapstructure:"max_order_quantity"`
	MaxPositionQuantity string `mapstructure:"max_position_quantity"`
}

// OrchestratorConfig tunes the algorithm orchestrator: timer cadence and
// where plugin binaries are loaded from. SnapshotRetention is loaded and
// defaulted, but nothing reads it; terminal snapshots are never deleted.
type OrchestratorConfig struct {
	TimerInterval     time.Duration `mapstructure:"timer_interval"`
	SnapshotRetention time.Duration `mapstructure:"snapshot_retention"`
	PluginDir         string        `mapstructure:"plugin_dir"`
}

// RepositoryConfig selects and locates the algorithm-state repository.
type RepositoryConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" | "file"
	Path   string `mapstructure:"path"`
}

// BrokerConfig configures the reference REST/WS broker adapters.
type BrokerConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	WSFillsURL string        `mapstructure:"ws_fills_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	APIKey     string        `mapstructure:"api_key"`
	Secret     string        `mapstructure:"secret"`
}

// LoggingConfig controls slog construction in cmd/tesserun.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dry_run", false)
	v.SetDefault("execution.sizer", "fixed_quantity")
	v.SetDefault("execution.sizer_params.quantity", "0")
	v.SetDefault("execution.risk_limits.max_order_quantity", "0")
	v.SetDefault("execution.risk_limits.max_position_quantity", "0")
	v.SetDefault("orchestrator.timer_interval", time.Second)
	v.SetDefault("orchestrator.snapshot_retention", 24*time.Hour)
	v.SetDefault("orchestrator.plugin_dir", "plugins")
	v.SetDefault("repository.driver", "sqlite")
	v.SetDefault("repository.path", "data/snapshots.db")
	v.SetDefault("broker.timeout", 10*time.Second)
	v.SetDefault("broker.retry_count", 3)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load builds a Config by merging, low to high precedence: built-in
// defaults, configDir/default.yaml, configDir/<TESSER__PROFILE>.yaml (only
// if that env var is set), configDir/local.yaml (git-ignored, if present),
// and finally the process environment — which always wins.
func Load(configDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := mergeFileIfExists(v, filepath.Join(configDir, "default.yaml")); err != nil {
		return nil, err
	}

	if profile := os.Getenv("TESSER__PROFILE"); profile != "" {
		profilePath := filepath.Join(configDir, profile+".yaml")
		if err := mergeFile(v, profilePath); err != nil {
			return nil, fmt.Errorf("load profile %q: %w", profile, err)
		}
	}

	if err := mergeFileIfExists(v, filepath.Join(configDir, "local.yaml")); err != nil {
		return nil, err
	}

	// TESSER__ prefix with "__" as the nesting delimiter: SetEnvPrefix adds
	// one underscore automatically, so a prefix of "TESSER_" plus a
	// "."->"__"  replacer yields e.g. TESSER__EXECUTION__SIZER for the key
	// "execution.sizer".
	v.SetEnvPrefix("TESSER_")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func mergeFileIfExists(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return mergeFile(v, path)
}

func mergeFile(v *viper.Viper, path string) error {
	layer := viper.New()
	layer.SetConfigFile(path)
	if err := layer.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return v.MergeConfigMap(layer.AllSettings())
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Execution.Sizer {
	case "fixed_quantity", "percent_of_equity", "risk_adjusted":
	default:
		return fmt.Errorf("execution.sizer must be one of fixed_quantity, percent_of_equity, risk_adjusted, got %q", c.Execution.Sizer)
	}

	switch c.Repository.Driver {
	case "sqlite", "file":
	default:
		return fmt.Errorf("repository.driver must be sqlite or file, got %q", c.Repository.Driver)
	}
	if c.Repository.Path == "" {
		return fmt.Errorf("repository.path is required")
	}

	if c.Orchestrator.TimerInterval <= 0 {
		return fmt.Errorf("orchestrator.timer_interval must be > 0")
	}
	if c.Orchestrator.PluginDir == "" {
		return fmt.Errorf("orchestrator.plugin_dir is required")
	}

	if c.Broker.BaseURL == "" && !c.DryRun {
		return fmt.Errorf("broker.base_url is required unless dry_run is true")
	}
	if c.Broker.Timeout <= 0 {
		return fmt.Errorf("broker.timeout must be > 0")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}
