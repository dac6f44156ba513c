// Command tesserun is the execution core's entry point: it loads config,
// wires the broker, repository, risk checker, sizer, WASM plugin engine and
// algorithm orchestrator together, restores any algorithms left running
// from a prior process, and serves until SIGINT/SIGTERM.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires everything, waits for SIGINT/SIGTERM
//	internal/config            — layered YAML + env-var configuration
//	internal/money             — exact decimal arithmetic helpers
//	internal/core              — shared domain types (orders, fills, signals, risk context)
//	internal/sizer             — polymorphic order sizing (fixed/percent-of-equity/risk-adjusted)
//	internal/risk              — pre-trade risk checks (order size, position exposure, liquidate-only)
//	internal/engine            — signal -> parent order + protective legs
//	internal/broker            — execution-client port, REST+WS reference adapters
//	internal/repository        — durable algorithm-state snapshots (sqlite or file)
//	internal/wasmplugin        — sandboxed WASM execution-algorithm plugins
//	internal/orchestrator      — owns every live algorithm's lifecycle and event routing
//
// Grounded on 0xtitan6-polymarket-mm/cmd/bot/main.go's load-config ->
// build-logger -> wire-engine -> start -> wait-for-signal -> stop shape,
// generalized from a single-exchange market-making bot to a broker-agnostic
// execution core hosting plugin-defined algorithms.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"tesserun/internal/broker"
	"tesserun/internal/broker/restclient"
	"tesserun/internal/broker/wsfeed"
	"tesserun/internal/config"
	"tesserun/internal/core"
	"tesserun/internal/engine"
	"tesserun/internal/orchestrator"
	"tesserun/internal/repository"
	"tesserun/internal/risk"
	"tesserun/internal/sizer"
	"tesserun/internal/wasmplugin"
)

func main() {
	configDir := "configs"
	if p := os.Getenv("TESSER_CONFIG_DIR"); p != "" {
		configDir = p
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config_dir", configDir)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := buildRepository(cfg.Repository)
	if err != nil {
		logger.Error("failed to open repository", "error", err)
		os.Exit(1)
	}

	client, wsFeed := buildBrokerClient(*cfg, logger)
	if wsFeed != nil {
		go func() {
			if err := wsFeed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("fills feed stopped unexpectedly", "error", err)
			}
		}()
	}

	s, err := buildSizer(cfg.Execution)
	if err != nil {
		logger.Error("failed to build sizer", "error", err)
		os.Exit(1)
	}

	riskLimits, err := parseRiskLimits(cfg.Execution.RiskLimits)
	if err != nil {
		logger.Error("failed to parse risk limits", "error", err)
		os.Exit(1)
	}
	checker := risk.NewBasicChecker(riskLimits)

	// The engine translates a standalone Signal into an order; the strategy
	// or market-data process that produces Signals is an external
	// collaborator outside this module's scope, so eng has no caller here
	// yet. It is wired so a future signal-ingestion process can be handed
	// this exact instance rather than re-deriving it.
	eng := engine.New(s, checker, client, logger)
	_ = eng

	wasmEngine, err := wasmplugin.NewEngine(ctx)
	if err != nil {
		logger.Error("failed to start wasm engine", "error", err)
		os.Exit(1)
	}
	defer wasmEngine.Close(ctx)

	riskCtxFn := buildRiskContextFunc()

	orch := orchestrator.New(repo, checker, client, riskCtxFn, logger)
	plugins, err := registerPlugins(ctx, wasmEngine, orch, cfg.Orchestrator.PluginDir, cfg.Execution.SizerParams)
	if err != nil {
		logger.Error("failed to register plugins", "error", err)
		os.Exit(1)
	}
	logger.Info("registered plugins", "count", len(plugins), "plugins", plugins)

	if err := orch.RestoreAll(ctx); err != nil {
		logger.Error("failed to restore algorithms", "error", err)
		os.Exit(1)
	}

	timerStop := startTimerLoop(ctx, orch, cfg.Orchestrator.TimerInterval)
	defer timerStop()

	startFillDispatch(ctx, orch, client, logger)

	logger.Info("tesserun started",
		"sizer", cfg.Execution.Sizer,
		"repository_driver", cfg.Repository.Driver,
		"plugin_dir", cfg.Orchestrator.PluginDir,
		"dry_run", cfg.DryRun,
	)

	<-ctx.Done()
	logger.Info("received shutdown signal, draining algorithms")
	orch.Shutdown()
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildRepository(cfg config.RepositoryConfig) (repository.Repository, error) {
	switch cfg.Driver {
	case "file":
		return repository.OpenFileRepository(cfg.Path)
	default:
		return repository.OpenSQLite(cfg.Path)
	}
}

// buildBrokerClient wires a broker.Client out of the REST reference
// adapter and, when broker.ws_fills_url is set, a paired WebSocket fills
// feed; dry-run mode does not change whether the feed is built. The
// returned *wsfeed.Feed is nil when no feed was built, telling main not to
// start its Run loop.
func buildBrokerClient(cfg config.Config, logger *slog.Logger) (broker.Client, *wsfeed.Feed) {
	creds := broker.Credentials{APIKey: cfg.Broker.APIKey, Secret: cfg.Broker.Secret}

	orders := restclient.New(restclient.Config{
		BaseURL:    cfg.Broker.BaseURL,
		Timeout:    cfg.Broker.Timeout,
		RetryCount: cfg.Broker.RetryCount,
		DryRun:     cfg.DryRun,
		Creds:      creds,
	}, logger)

	if cfg.Broker.WSFillsURL == "" {
		return broker.NewCompositeClient(orders, nil), nil
	}

	feed := wsfeed.New(cfg.Broker.WSFillsURL, creds, logger)
	return broker.NewCompositeClient(orders, feed), feed
}

func buildSizer(cfg config.ExecutionConfig) (sizer.Sizer, error) {
	switch cfg.Sizer {
	case "percent_of_equity":
		pct, err := decimalParam(cfg.SizerParams, "percent")
		if err != nil {
			return nil, err
		}
		return sizer.PercentOfEquity{Percent: pct}, nil
	case "risk_adjusted":
		fraction, err := decimalParam(cfg.SizerParams, "risk_fraction")
		if err != nil {
			return nil, err
		}
		return sizer.RiskAdjusted{RiskFraction: fraction}, nil
	default:
		qty, err := decimalParam(cfg.SizerParams, "quantity")
		if err != nil {
			return nil, err
		}
		return sizer.Fixed{Quantity: qty}, nil
	}
}

func decimalParam(params map[string]any, key string) (decimal.Decimal, error) {
	raw, ok := params[key]
	if !ok {
		return decimal.Zero, nil
	}
	s, ok := raw.(string)
	if !ok {
		s = fmt.Sprintf("%v", raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("sizer_params.%s: %w", key, err)
	}
	return d, nil
}

func parseRiskLimits(cfg config.RiskLimits) (core.RiskLimits, error) {
	maxOrder, err := decimal.NewFromString(orDefault(cfg.MaxOrderQuantity, "0"))
	if err != nil {
		return core.RiskLimits{}, fmt.Errorf("execution.risk_limits.max_order_quantity: %w", err)
	}
	maxPosition, err := decimal.NewFromString(orDefault(cfg.MaxPositionQuantity, "0"))
	if err != nil {
		return core.RiskLimits{}, fmt.Errorf("execution.risk_limits.max_position_quantity: %w", err)
	}
	return core.RiskLimits{MaxOrderQuantity: maxOrder, MaxPositionQuantity: maxPosition}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// registerPlugins compiles every *.wasm file under dir and registers a
// WasmFactory for it, keyed by the plugin's base filename (without
// extension) so Submit(kind, ...) and restored snapshots route to the
// right guest module.
func registerPlugins(ctx context.Context, wasmEngine *wasmplugin.Engine, orch *orchestrator.Orchestrator, dir string, sizerParams map[string]any) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wasm") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".wasm")
		path := filepath.Join(dir, entry.Name())

		if err := wasmEngine.Register(ctx, name, path); err != nil {
			return nil, fmt.Errorf("register plugin %s: %w", name, err)
		}

		orch.RegisterFactory(name, &orchestrator.WasmFactory{
			Engine:     wasmEngine,
			PluginName: name,
			Params:     sizerParams,
		})
		names = append(names, name)
	}
	return names, nil
}

func buildRiskContextFunc() orchestrator.RiskContextFunc {
	return func(symbol core.Symbol) core.RiskContext {
		// A standalone portfolio/market-data service would populate this
		// from live account and book state; until that is wired, algorithms
		// get a conservative, liquidate-only-false zero-exposure snapshot.
		return core.RiskContext{}
	}
}

// startTimerLoop drives orchestrator.OnTimer() at interval until ctx is
// cancelled. The returned func does not stop the loop: it blocks until the
// loop has exited, which happens once ctx is cancelled.
func startTimerLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				orch.OnTimer()
			}
		}
	}()
	return func() { <-done }
}

// startFillDispatch drains client's fills stream and routes each one to
// orch.OnFill, for the lifetime of ctx.
func startFillDispatch(ctx context.Context, orch *orchestrator.Orchestrator, client broker.Client, logger *slog.Logger) {
	fills, err := client.FillsStream(ctx)
	if err != nil {
		logger.Warn("no fills stream available, fills will not be delivered to algorithms", "error", err)
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case fill, ok := <-fills:
				if !ok {
					return
				}
				orch.OnFill(fill)
			}
		}
	}()
}
