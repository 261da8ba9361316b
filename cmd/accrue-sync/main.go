package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"accrue/internal/config"
	"accrue/internal/domain"
	"accrue/internal/pricing"
	"accrue/internal/store"
	"accrue/internal/util"
)

func main() {
	var (
		cfgPath = flag.String("config", "config/accrue.yaml", "config file path")
		symbols = flag.String("symbols", "", "comma-separated symbols to sync, e.g. SPY,QQQ,AAPL")
		from    = flag.String("from", "", "window start, YYYY-MM-DD")
		to      = flag.String("to", "", "window end, YYYY-MM-DD (defaults to today)")
	)
	flag.Parse()

	if *symbols == "" {
		log.Fatal("-symbols is required")
	}

	cfg, err := config.Load(*cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("Alpaca credentials are required, set ALPACA_API_KEY and ALPACA_API_SECRET")
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/accrue-sync-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("creating log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLoggerTo(w, cfg.Logging.Level, "text")
	util.SetDefault(logger)

	start, err := domain.ParseDate(*from)
	if err != nil {
		log.Fatalf("bad -from %q: %v", *from, err)
	}
	end := domain.DateOf(time.Now().UTC())
	if *to != "" {
		if end, err = domain.ParseDate(*to); err != nil {
			log.Fatalf("bad -to %q: %v", *to, err)
		}
	}
	if end.Before(start) {
		log.Fatalf("window end %s precedes start %s", end, start)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	src := pricing.NewAlpacaSource(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		cfg.MarketData.RateLimitPerMin,
		cfg.MarketData.MaxRetries,
		time.Duration(cfg.MarketData.FetchTimeoutSecs)*time.Second,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting price sync", "from", start, "to", end, "logFile", logFileName)

	total := 0
	failed := 0
	for _, sym := range strings.Split(*symbols, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if ctx.Err() != nil {
			logger.Warn("sync interrupted", "remaining", sym)
			break
		}

		records, err := src.Bars(ctx, sym, start, end)
		if err != nil {
			logger.Error("fetching bars", "symbol", sym, "error", err)
			failed++
			continue
		}
		if len(records) == 0 {
			logger.Warn("no bars returned", "symbol", sym)
			continue
		}
		if err := pstore.WritePrices(ctx, records); err != nil {
			logger.Error("writing bars", "symbol", sym, "error", err)
			failed++
			continue
		}
		logger.Info("synced", "symbol", sym, "bars", len(records))
		total += len(records)
	}

	logger.Info("price sync complete", "bars", total, "failures", failed)
	if failed > 0 {
		os.Exit(1)
	}
}
