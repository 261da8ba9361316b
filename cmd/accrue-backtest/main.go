package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"accrue/internal/backtest"
	"accrue/internal/config"
	"accrue/internal/domain"
	"accrue/internal/httpapi"
	"accrue/internal/pricing"
	"accrue/internal/store"
	"accrue/internal/util"
)

func main() {
	var (
		cfgPath   = flag.String("config", "config/accrue.yaml", "config file path")
		request   = flag.String("request", "", "JSON request file (same document as POST /api/backtests)")
		symbol    = flag.String("symbol", "", "instrument symbol for an inline single-instrument run")
		frequency = flag.String("frequency", "MONTHLY", "contribution frequency: DAILY, WEEKLY or MONTHLY")
		weekday   = flag.String("weekday", "", "weekday for WEEKLY plans, e.g. MONDAY")
		monthDay  = flag.Int("day", 1, "day of month for MONTHLY plans")
		amount    = flag.String("amount", "1000", "cash amount per contribution")
		shares    = flag.String("shares", "", "share count per contribution (switches the plan to SHARES)")
		feeRate   = flag.String("fee", "", "proportional fee rate, defaults to 0.0003")
		from      = flag.String("from", "", "window start, YYYY-MM-DD")
		to        = flag.String("to", "", "window end, YYYY-MM-DD")
		synthetic = flag.Bool("synthetic", false, "skip real data sources and price everything synthetically")
		asJSON    = flag.Bool("json", false, "print the full result as JSON instead of a summary")
		outPath   = flag.String("out", "", "also write the full result JSON to this file")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	util.SetDefault(logger)

	p, start, end, err := buildRequest(*request, *symbol, *frequency, *weekday, *monthDay, *amount, *shares, *feeRate, *from, *to)
	if err != nil {
		log.Fatalf("building request: %v", err)
	}

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
	}
	resolver := pricing.NewResolver(store.NewParquetStore(cfg.Storage.DataDir), remote, cfg.MarketData.MaxConcurrentFetch)
	engine := backtest.NewEngine(resolver, cfg.Simulation.RiskFreeRate, cfg.MarketData.ForceSynthetic)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := engine.Run(ctx, p, start, end, *synthetic)
	if err != nil {
		log.Fatalf("running backtest: %v", err)
	}

	if *outPath != "" {
		if err := writeResultFile(*outPath, result); err != nil {
			log.Fatalf("writing result file: %v", err)
		}
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("encoding result: %v", err)
		}
		return
	}
	printSummary(result)
}

// buildRequest assembles the portfolio and window either from a request
// file or from the inline single-instrument flags. Window flags override
// the file's dates when both are present.
func buildRequest(reqPath, symbol, frequency, weekday string, monthDay int, amount, shares, feeRate, from, to string) (domain.Portfolio, domain.Date, domain.Date, error) {
	if reqPath != "" {
		data, err := os.ReadFile(reqPath)
		if err != nil {
			return domain.Portfolio{}, domain.Date{}, domain.Date{}, err
		}
		var req httpapi.BacktestRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return domain.Portfolio{}, domain.Date{}, domain.Date{}, fmt.Errorf("parsing %s: %w", reqPath, err)
		}
		if from != "" {
			req.StartDate = from
		}
		if to != "" {
			req.EndDate = to
		}
		return req.ToDomain()
	}

	if symbol == "" {
		return domain.Portfolio{}, domain.Date{}, domain.Date{}, errors.New("either -request or -symbol is required")
	}

	ic := domain.InstrumentConfig{
		Symbol:    symbol,
		Frequency: domain.Frequency(frequency),
		Weekday:   weekday,
		MonthDay:  monthDay,
		BuyType:   domain.BuyAmount,
		FeeRate:   domain.DefaultFeeRate,
	}
	var err error
	if shares != "" {
		ic.BuyType = domain.BuyShares
		if ic.Shares, err = decimal.NewFromString(shares); err != nil {
			return domain.Portfolio{}, domain.Date{}, domain.Date{}, fmt.Errorf("bad -shares %q: %w", shares, err)
		}
	} else if ic.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Portfolio{}, domain.Date{}, domain.Date{}, fmt.Errorf("bad -amount %q: %w", amount, err)
	}
	if feeRate != "" {
		if ic.FeeRate, err = decimal.NewFromString(feeRate); err != nil {
			return domain.Portfolio{}, domain.Date{}, domain.Date{}, fmt.Errorf("bad -fee %q: %w", feeRate, err)
		}
	}

	start, err := domain.ParseDate(from)
	if err != nil {
		return domain.Portfolio{}, domain.Date{}, domain.Date{}, fmt.Errorf("bad -from %q: %w", from, err)
	}
	end, err := domain.ParseDate(to)
	if err != nil {
		return domain.Portfolio{}, domain.Date{}, domain.Date{}, fmt.Errorf("bad -to %q: %w", to, err)
	}

	p := domain.Portfolio{
		Name:        fmt.Sprintf("%s-%s", symbol, frequency),
		Instruments: []domain.InstrumentConfig{ic},
	}
	return p, start, end, nil
}

func writeResultFile(path string, result *domain.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func printSummary(r *domain.Result) {
	fmt.Printf("Backtest %s, %s to %s\n", r.Portfolio.Name, r.Start, r.End)

	if r.Metrics == nil {
		fmt.Println("  no contributions were executed, metrics unavailable")
	} else {
		m := r.Metrics
		fmt.Printf("  invested       %s\n", m.TotalInvested.StringFixed(2))
		fmt.Printf("  final value    %s\n", m.FinalValue.StringFixed(2))
		fmt.Printf("  fees           %s\n", m.TotalFees.StringFixed(2))
		fmt.Printf("  trades         %d\n", m.TotalTrades)
		fmt.Printf("  total return   %.2f%%\n", m.TotalReturn*100)
		fmt.Printf("  CAGR           %s\n", fmtPct(m.AnnualizedReturn))
		fmt.Printf("  volatility     %s\n", fmtPct(m.Volatility))
		fmt.Printf("  sharpe         %s\n", fmtRatio(m.SharpeRatio))
		fmt.Printf("  max drawdown   %.2f%%\n", m.MaxDrawdown*100)
	}

	if len(r.Holdings) > 0 {
		fmt.Println("Holdings:")
		for _, h := range r.Holdings {
			fmt.Printf("  %-6s %s shares  value %s  weight %.1f%%  pnl %s\n",
				h.Symbol, h.Shares, h.MarketValue.StringFixed(2), h.Weight*100, h.UnrealizedPnL.StringFixed(2))
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Println("Warnings:")
		for _, w := range r.Warnings {
			fmt.Printf("  [%s] %s\n", w.Code, w.Message)
		}
	}
}

func fmtPct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", *v*100)
}

func fmtRatio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}
