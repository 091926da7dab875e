// Trading engine core — the control plane between venue adapters and
// strategy plug-ins.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/                  — orchestrator: lifecycle, event dispatch, order pipeline, state tracking
//	subscription/            — reference-counted market data subscriptions, push vs poll selection
//	ordersync/               — periodic open-order reconciliation with duplicate suppression
//	orders/                  — in-memory order mirror indexed by id/symbol/status/venue
//	precision/               — per-symbol rounding and lot/tick/notional validation
//	risk/                    — pre-trade limit checks (position, daily loss, drawdown, count, leverage)
//	rules/                   — TTL cache of symbol trading rules with stale fallback
//	events/                  — typed publish/subscribe hub for all engine-visible events
//	store/                   — external persistence surface + JSON file implementation
//	venue/                   — adapter interface, rate-limited REST base, reconnecting WS stream
//
// Venue adapters and strategies are registered by the hosting application
// through engine.AddVenue and engine.AddStrategy before Start.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tradecore/internal/config"
	"tradecore/internal/engine"
	"tradecore/internal/events"
	"tradecore/internal/store"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	dm, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open data store", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	eng, err := engine.New(*cfg, bus, dm, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(context.Background()); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("trading engine started",
		"sync_interval", cfg.Sync.Interval,
		"rules_ttl", cfg.Rules.TTL,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
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
