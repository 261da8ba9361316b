package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"accrue/internal/domain"
	"accrue/internal/store"
)

// Cache is the persistence surface the resolver reads through and writes
// fetched bars back to. *store.ParquetStore satisfies it.
type Cache interface {
	ReadPrices(ctx context.Context, symbol string, from, to domain.Date) ([]store.PriceRecord, error)
	WritePrices(ctx context.Context, records []store.PriceRecord) error
}

// Remote is a network-backed price source whose bars can be persisted in
// store form. *AlpacaSource satisfies it.
type Remote interface {
	Name() string
	Bars(ctx context.Context, symbol string, from, to domain.Date) ([]store.PriceRecord, error)
}

// Resolver assembles a complete per-symbol price series for a backtest
// window: cached bars first, then the remote source, then the synthetic
// generator for symbols (or individual weekdays) neither could supply.
// Data problems never fail a resolve; they degrade to synthetic prices.
type Resolver struct {
	cache         Cache
	remote        Remote
	synth         *Synthetic
	maxConcurrent int
	log           *slog.Logger
}

// NewResolver creates a Resolver. cache and remote may be nil, which skips
// the corresponding layer; maxConcurrent bounds parallel symbol resolution.
func NewResolver(cache Cache, remote Remote, maxConcurrent int) *Resolver {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Resolver{
		cache:         cache,
		remote:        remote,
		synth:         NewSynthetic(),
		maxConcurrent: maxConcurrent,
		log:           slog.Default().With("component", "pricing"),
	}
}

// Resolve builds the SeriesSet for the given symbols over an inclusive date
// window. With forceSynthetic every symbol uses generated prices regardless
// of cache or remote availability.
func (r *Resolver) Resolve(ctx context.Context, symbols []string, from, to domain.Date, forceSynthetic bool) (*SeriesSet, error) {
	if err := domain.ValidateWindow(from, to); err != nil {
		return nil, err
	}

	normalized := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		normalized = append(normalized, sym)
	}

	results := make([]*symbolSeries, len(normalized))
	sem := make(chan struct{}, r.maxConcurrent)

	g, gctx := errgroup.WithContext(ctx)
	for i, sym := range normalized {
		i, sym := i, sym
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := gctx.Err(); err != nil {
				return err
			}
			series, err := r.resolveSymbol(gctx, sym, from, to, forceSynthetic)
			if err != nil {
				return err
			}
			results[i] = series
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := &SeriesSet{
		From:   from,
		To:     to,
		series: make(map[string]*symbolSeries, len(normalized)),
	}
	for i, sym := range normalized {
		set.series[sym] = results[i]
	}
	return set, nil
}

// resolveSymbol runs the three-layer lookup for one symbol. It only returns
// an error on context cancellation; data unavailability falls through to the
// synthetic generator.
func (r *Resolver) resolveSymbol(ctx context.Context, symbol string, from, to domain.Date, force bool) (*symbolSeries, error) {
	if force {
		return r.syntheticSeries(symbol, from, to), nil
	}

	var records []store.PriceRecord
	if r.cache != nil {
		recs, err := r.cache.ReadPrices(ctx, symbol, from, to)
		if err != nil {
			r.log.Warn("price cache read failed", "symbol", symbol, "err", err)
		} else {
			records = recs
		}
	}
	fromCache := len(records) > 0

	if len(records) == 0 && r.remote != nil {
		recs, err := r.remote.Bars(ctx, symbol, from, to)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			r.log.Warn("remote fetch failed, using synthetic prices",
				"symbol", symbol, "source", r.remote.Name(), "err", err)
		} else {
			records = recs
		}
	}

	if len(records) == 0 {
		return r.syntheticSeries(symbol, from, to), nil
	}

	if !fromCache && r.cache != nil {
		if err := r.cache.WritePrices(ctx, records); err != nil {
			r.log.Warn("price cache write failed", "symbol", symbol, "err", err)
		}
	}
	return r.realSeries(symbol, from, to, records), nil
}

// syntheticSeries builds a fully generated series. The point map covers
// every calendar day so contributions scheduled on weekends still price;
// the trading-date list stays on the weekday grid.
func (r *Resolver) syntheticSeries(symbol string, from, to domain.Date) *symbolSeries {
	calendar := r.synth.Calendar(symbol, from, to)
	points := make(map[domain.Date]domain.PricePoint, len(calendar))
	dates := make([]domain.Date, 0, len(calendar))
	for _, pt := range calendar {
		points[pt.Date] = pt
		if pt.Date.IsWeekday() {
			dates = append(dates, pt.Date)
		}
	}
	return &symbolSeries{provenance: ProvenanceSynthetic, points: points, dates: dates}
}

// realSeries builds a series from fetched bars, plugging weekday holes
// (halts, holidays, vendor gaps) with generated prices. Filled series are
// flagged hybrid; missing weekdays are never forward-filled from a prior
// close.
func (r *Resolver) realSeries(symbol string, from, to domain.Date, records []store.PriceRecord) *symbolSeries {
	points := make(map[domain.Date]domain.PricePoint, len(records))
	for _, rec := range records {
		pt := rec.Point()
		points[pt.Date] = pt
	}

	var calendar map[domain.Date]domain.PricePoint
	filled := 0
	for d := from; !d.After(to); d = d.AddDays(1) {
		if !d.IsWeekday() {
			continue
		}
		if _, ok := points[d]; ok {
			continue
		}
		if calendar == nil {
			calendar = make(map[domain.Date]domain.PricePoint)
			for _, pt := range r.synth.Calendar(symbol, from, to) {
				calendar[pt.Date] = pt
			}
		}
		points[d] = calendar[d]
		filled++
	}
	if filled > 0 {
		r.log.Debug("filled series gaps", "symbol", symbol, "filled", filled)
	}

	dates := make([]domain.Date, 0, len(points))
	for d := range points {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	prov := ProvenanceReal
	if filled > 0 {
		prov = ProvenanceHybrid
	}
	return &symbolSeries{provenance: prov, points: points, dates: dates, filled: filled}
}

// ---------------------------------------------------------------------------
// SeriesSet — resolved prices for one backtest window
// ---------------------------------------------------------------------------

type symbolSeries struct {
	provenance Provenance
	points     map[domain.Date]domain.PricePoint
	dates      []domain.Date // trading dates, ascending
	filled     int
}

// SeriesSet holds the resolved price series for every symbol in a backtest
// window and answers point lookups for the simulator.
type SeriesSet struct {
	From domain.Date
	To   domain.Date

	series map[string]*symbolSeries
}

// Symbols returns the resolved symbols in ascending order.
func (ss *SeriesSet) Symbols() []string {
	out := make([]string, 0, len(ss.series))
	for sym := range ss.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// At returns the price point for a symbol on an exact date. It returns
// ErrOutOfRange outside the resolved window and ErrPriceUnavailable when the
// symbol has no quote for that date.
func (ss *SeriesSet) At(symbol string, date domain.Date) (domain.PricePoint, error) {
	if date.Before(ss.From) || date.After(ss.To) {
		return domain.PricePoint{}, fmt.Errorf("%s on %s: %w", symbol, date, domain.ErrOutOfRange)
	}
	sym, ok := ss.series[symbol]
	if !ok {
		return domain.PricePoint{}, fmt.Errorf("%s: %w", symbol, domain.ErrPriceUnavailable)
	}
	pt, ok := sym.points[date]
	if !ok {
		return domain.PricePoint{}, fmt.Errorf("%s on %s: %w", symbol, date, domain.ErrPriceUnavailable)
	}
	return pt, nil
}

// ValueAt returns the closing price in effect on a date: the exact quote if
// one exists, otherwise the most recent close before it. The second return
// is false when no quote exists at or before the date.
func (ss *SeriesSet) ValueAt(symbol string, date domain.Date) (decimal.Decimal, bool) {
	sym, ok := ss.series[symbol]
	if !ok {
		return decimal.Decimal{}, false
	}
	if pt, ok := sym.points[date]; ok {
		return pt.Close, true
	}
	idx := sort.Search(len(sym.dates), func(i int) bool { return sym.dates[i].After(date) })
	if idx == 0 {
		return decimal.Decimal{}, false
	}
	return sym.points[sym.dates[idx-1]].Close, true
}

// Timeline returns the sorted union of all symbols' trading dates.
func (ss *SeriesSet) Timeline() []domain.Date {
	seen := make(map[domain.Date]struct{})
	var out []domain.Date
	for _, sym := range ss.series {
		for _, d := range sym.dates {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Points returns a symbol's trading-date price points in date order.
func (ss *SeriesSet) Points(symbol string) []domain.PricePoint {
	sym, ok := ss.series[symbol]
	if !ok {
		return nil
	}
	out := make([]domain.PricePoint, len(sym.dates))
	for i, d := range sym.dates {
		out[i] = sym.points[d]
	}
	return out
}

// Provenance reports where a symbol's series came from and, for hybrid
// series, how many trading dates were filled from the generator.
func (ss *SeriesSet) Provenance(symbol string) (Provenance, int) {
	sym, ok := ss.series[symbol]
	if !ok {
		return "", 0
	}
	return sym.provenance, sym.filled
}
