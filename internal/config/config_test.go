package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadAppliesBuiltInDefaultsWithNoFiles(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Execution.Sizer != "fixed_quantity" {
		t.Errorf("Execution.Sizer = %s, want fixed_quantity", cfg.Execution.Sizer)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("Repository.Driver = %s, want sqlite", cfg.Repository.Driver)
	}
	if cfg.Orchestrator.TimerInterval != time.Second {
		t.Errorf("Orchestrator.TimerInterval = %s, want 1s", cfg.Orchestrator.TimerInterval)
	}
}

func TestLoadMergesDefaultYAMLOverBuiltins(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "repository:\n  driver: file\n  path: /var/lib/tesserun/algos\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Repository.Driver != "file" || cfg.Repository.Path != "/var/lib/tesserun/algos" {
		t.Errorf("Repository = %+v", cfg.Repository)
	}
	// Unrelated default untouched.
	if cfg.Execution.Sizer != "fixed_quantity" {
		t.Errorf("Execution.Sizer = %s, want fixed_quantity (untouched)", cfg.Execution.Sizer)
	}
}

func TestLoadMergesLocalYAMLOverDefaultYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "broker:\n  base_url: https://exchange.example.com\n")
	writeConfigFile(t, dir, "local.yaml", "broker:\n  base_url: http://localhost:9999\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Broker.BaseURL != "http://localhost:9999" {
		t.Errorf("Broker.BaseURL = %s, want local override", cfg.Broker.BaseURL)
	}
}

func TestLoadMergesNamedProfileWhenEnvVarSet(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "logging:\n  level: info\n")
	writeConfigFile(t, dir, "staging.yaml", "logging:\n  level: debug\n")

	t.Setenv("TESSER__PROFILE", "staging")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug (from staging profile)", cfg.Logging.Level)
	}
}

func TestLoadEnvVarOverridesEverything(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "logging:\n  level: info\n")
	writeConfigFile(t, dir, "local.yaml", "logging:\n  level: warn\n")

	t.Setenv("TESSER__LOGGING__LEVEL", "debug")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug (env var wins)", cfg.Logging.Level)
	}
}

func TestValidateRejectsUnknownSizer(t *testing.T) {
	cfg := &Config{
		Execution:    ExecutionConfig{Sizer: "moon_phase"},
		Repository:   RepositoryConfig{Driver: "sqlite", Path: "x.db"},
		Orchestrator: OrchestratorConfig{TimerInterval: time.Second, PluginDir: "plugins"},
		Broker:       BrokerConfig{Timeout: time.Second},
		Logging:      LoggingConfig{Format: "text"},
		DryRun:       true,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate with unknown sizer = nil error, want error")
	}
}

func TestValidateRequiresBrokerBaseURLUnlessDryRun(t *testing.T) {
	cfg := &Config{
		Execution:    ExecutionConfig{Sizer: "fixed_quantity"},
		Repository:   RepositoryConfig{Driver: "sqlite", Path: "x.db"},
		Orchestrator: OrchestratorConfig{TimerInterval: time.Second, PluginDir: "plugins"},
		Broker:       BrokerConfig{Timeout: time.Second},
		Logging:      LoggingConfig{Format: "text"},
		DryRun:       false,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate with empty BaseURL and DryRun=false = nil error, want error")
	}

	cfg.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate with DryRun=true and empty BaseURL = %v, want nil", err)
	}
}

func TestValidatePassesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	cfg.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate on defaults (dry-run) = %v, want nil", err)
	}
}
