package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accrue/internal/backtest"
	"accrue/internal/config"
	"accrue/internal/httpapi"
	"accrue/internal/pricing"
	"accrue/internal/runner"
	"accrue/internal/store"
	"accrue/internal/util"
)

func main() {
	// Load config.
	cfgPath := "config/accrue.yaml"
	if p := os.Getenv("ACCRUE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging: console plus a dated file.
	logFileName := fmt.Sprintf("/tmp/accrue-server-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Stores.
	prices := store.NewParquetStore(cfg.Storage.DataDir)
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening run store: %v", err)
	}
	defer runs.Close()

	// Price resolution chain: parquet cache, then Alpaca when credentials
	// are configured, then the synthetic generator.
	var remote pricing.Remote
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		remote = pricing.NewAlpacaSource(
			cfg.Alpaca.APIKey,
			cfg.Alpaca.APISecret,
			cfg.Alpaca.DataURL,
			cfg.MarketData.RateLimitPerMin,
			cfg.MarketData.MaxRetries,
			time.Duration(cfg.MarketData.FetchTimeoutSecs)*time.Second,
		)
	} else {
		logger.Warn("no Alpaca credentials, serving cached or synthetic prices only")
	}
	resolver := pricing.NewResolver(prices, remote, cfg.MarketData.MaxConcurrentFetch)

	engine := backtest.NewEngine(resolver, cfg.Simulation.RiskFreeRate, cfg.MarketData.ForceSynthetic)
	manager := runner.NewManager(engine, runs, cfg.Simulation.MaxConcurrentRuns)
	srv := httpapi.NewServer(manager, resolver)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("accrue server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down accrue server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	manager.Close()
}
