package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"accrue/internal/domain"
	"accrue/internal/pricing"
	"accrue/internal/schedule"
)

// Engine runs the full pipeline for one portfolio: validate, expand the
// contribution schedule, resolve prices, simulate, and analyze. Each Run is
// an independent computation; the engine holds no state between runs.
type Engine struct {
	resolver       *pricing.Resolver
	riskFreeRate   float64
	forceSynthetic bool
	log            *slog.Logger
}

// NewEngine creates an Engine. riskFreeRate is annualized (0.02 = 2%);
// forceSynthetic routes every run through generated prices.
func NewEngine(resolver *pricing.Resolver, riskFreeRate float64, forceSynthetic bool) *Engine {
	return &Engine{
		resolver:       resolver,
		riskFreeRate:   riskFreeRate,
		forceSynthetic: forceSynthetic,
		log:            slog.Default().With("component", "backtest"),
	}
}

// Run executes one simulation over [from, to]. Configuration problems fail
// before any pricing or simulation work; data problems degrade to synthetic
// prices and warnings instead of failing the run. forceSynthetic skips real
// price sources for this run on top of the engine-wide setting.
func (e *Engine) Run(ctx context.Context, p domain.Portfolio, from, to domain.Date, forceSynthetic bool) (*domain.Result, error) {
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateWindow(from, to); err != nil {
		return nil, err
	}

	events, err := schedule.Merge(p, from, to)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(p.Instruments))
	for _, ic := range p.Instruments {
		symbols = append(symbols, ic.Symbol)
	}
	prices, err := e.resolver.Resolve(ctx, symbols, from, to, e.forceSynthetic || forceSynthetic)
	if err != nil {
		return nil, fmt.Errorf("resolving prices: %w", err)
	}

	sim := Simulate(events, prices)

	warnings := provenanceWarnings(prices)
	warnings = append(warnings, sim.Warnings...)

	metrics, err := Analyze(sim, e.riskFreeRate)
	if err != nil {
		if !domain.IsInsufficientData(err) {
			return nil, err
		}
		e.log.Warn("metrics unavailable", "portfolio", p.Name, "err", err)
		metrics = nil
	}

	e.log.Info("backtest complete",
		"portfolio", p.Name,
		"window", fmt.Sprintf("%s..%s", from, to),
		"events", len(events),
		"trades", len(sim.Ledger),
		"warnings", len(warnings),
	)

	return &domain.Result{
		Portfolio:   p,
		Start:       from,
		End:         to,
		Ledger:      sim.Ledger,
		EquityCurve: sim.Curve,
		Metrics:     metrics,
		Holdings:    holdings(sim.Positions, prices),
		Warnings:    warnings,
	}, nil
}

// provenanceWarnings surfaces which symbols ran on generated or partially
// generated prices, in symbol order.
func provenanceWarnings(prices *pricing.SeriesSet) []domain.Warning {
	var out []domain.Warning
	for _, sym := range prices.Symbols() {
		prov, filled := prices.Provenance(sym)
		switch prov {
		case pricing.ProvenanceSynthetic:
			out = append(out, domain.Warning{
				Code:    domain.WarnSyntheticData,
				Symbol:  sym,
				Message: fmt.Sprintf("no market data for %s, the whole series is synthetic", sym),
			})
		case pricing.ProvenanceHybrid:
			out = append(out, domain.Warning{
				Code:    domain.WarnHybridData,
				Symbol:  sym,
				Message: fmt.Sprintf("%d trading dates for %s were filled synthetically", filled, sym),
			})
		}
	}
	return out
}

// holdings snapshots final positions valued at the window end, sorted by
// symbol.
func holdings(positions map[string]*domain.Position, prices *pricing.SeriesSet) []domain.Holding {
	symbols := make([]string, 0, len(positions))
	for sym := range positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	values := make(map[string]decimal.Decimal, len(symbols))
	total := decimal.Zero
	for _, sym := range symbols {
		pos := positions[sym]
		if pos.Shares.Sign() == 0 {
			continue
		}
		if close, ok := prices.ValueAt(sym, prices.To); ok {
			mv := pos.Shares.Mul(close).Round(moneyPlaces)
			values[sym] = mv
			total = total.Add(mv)
		}
	}

	out := make([]domain.Holding, 0, len(symbols))
	for _, sym := range symbols {
		pos := positions[sym]
		h := domain.Holding{
			Symbol:    pos.Symbol,
			Shares:    pos.Shares,
			CostBasis: pos.CostBasis,
		}
		if mv, ok := values[sym]; ok {
			h.MarketValue = mv
			h.UnrealizedPnL = mv.Sub(pos.CostBasis)
			if total.Sign() > 0 {
				h.Weight = mv.Div(total).InexactFloat64()
			}
		} else {
			h.UnrealizedPnL = pos.CostBasis.Neg()
		}
		out = append(out, h)
	}
	return out
}
