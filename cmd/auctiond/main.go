// Command auctiond runs the sealed-bid batch auction clearing daemon.
//
// Architecture:
//
//	main.go                  — entry point: loads config, builds the engine, waits for SIGINT/SIGTERM
//	internal/engine           — orchestrator: the 8 operations, wiring every collaborator below
//	internal/auction          — per-auction state and phase guards
//	internal/book             — the ordered bid book and its 256-bit order keys
//	internal/clearing         — the two-phase uniform-price solver and settlement accounting
//	internal/directory        — address <-> user_id mapping
//	internal/fees             — process-wide fee parameters and pro-rata fee split
//	internal/signing          — EIP-712 placement authorization
//	internal/ledger           — HTTP client for the external ledger collaborator (push/pull)
//	internal/store            — JSON file persistence for auction and directory state
//	internal/api              — dashboard HTTP + WebSocket server
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sealedauction/internal/api"
	"sealedauction/internal/config"
	"sealedauction/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("AUCTION_CONFIG"); p != "" {
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

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real ledger transfers will be made")
	}

	logger.Info("auction daemon started",
		"store_dir", cfg.Store.DataDir,
		"ledger_url", cfg.Ledger.BaseURL,
		"fee_numerator", cfg.Fees.Numerator,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

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
