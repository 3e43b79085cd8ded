// VeloZ is a crypto-market trading runtime: a single process that
// consumes exchange market data, maintains synchronized local order
// books, feeds a fleet of concurrently running algorithmic strategies,
// and routes the orders those strategies emit back out.
//
// Architecture:
//
//	main.go                     — entry point: loads config, starts the runtime, waits for SIGINT/SIGTERM
//	internal/runtime/runtime.go — orchestrator: wires exchange client -> managed book -> dispatcher -> strategy host
//	internal/core               — lock-free MPSC queue, hierarchical timer wheel, event dispatcher
//	internal/market             — plain + managed order book, K-line aggregator, quality analyzer
//	internal/exchange           — Binance-style WebSocket client, REST snapshot client, rate limiter
//	internal/strategy           — strategy interface, host, and five built-in kernels
//	internal/account            — paper ledger (balances, pending order requests, venue counter)
//	internal/snapshot           — versioned, sequenced, checksummed state persistence
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/veloz/veloz/internal/config"
	"github.com/veloz/veloz/internal/runtime"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("VELOZ_CONFIG"); p != "" {
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

	rt, err := runtime.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create runtime", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("failed to start runtime", "error", err)
		os.Exit(1)
	}

	logger.Info("veloz runtime started",
		"venue", cfg.Venue.Name,
		"symbols", cfg.Venue.Symbols,
		"strategies", len(cfg.Strategies),
	)

	<-ctx.Done()
	logger.Info("received shutdown signal")

	if err := rt.Stop(); err != nil {
		logger.Error("runtime stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
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
