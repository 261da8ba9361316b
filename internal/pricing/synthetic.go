package pricing

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/shopspring/decimal"

	"accrue/internal/domain"
)

// Synthetic generates deterministic daily price series from a seeded
// random walk. The seed is a pure function of (symbol, from, to), so the
// same request yields the same series in every run and every process,
// while a different date range yields a different but equally stable one.
type Synthetic struct{}

// NewSynthetic returns the deterministic fallback generator.
func NewSynthetic() *Synthetic { return &Synthetic{} }

// Name implements Source.
func (s *Synthetic) Name() string { return "synthetic" }

// Reference starting prices for well-known symbols; anything unknown
// starts at 100.
var basePrices = map[string]float64{
	"SPY":   400.0,
	"QQQ":   350.0,
	"AAPL":  150.0,
	"MSFT":  250.0,
	"GOOGL": 100.0,
	"TSLA":  200.0,
}

// Broad-market ETFs walk with lower drift and volatility than individual
// stocks.
var etfSymbols = map[string]bool{
	"SPY": true, "QQQ": true, "DIA": true,
	"IWM": true, "VTI": true, "VOO": true,
}

type walkParams struct {
	base  float64
	drift float64 // mean daily return
	vol   float64 // daily return standard deviation
}

func paramsFor(symbol string) walkParams {
	p := walkParams{base: 100.0, drift: 0.0005, vol: 0.02}
	if b, ok := basePrices[symbol]; ok {
		p.base = b
	}
	if etfSymbols[symbol] {
		p.drift = 0.0003
		p.vol = 0.012
	}
	return p
}

// walkSeed derives the walk seed from the full request triple.
func walkSeed(symbol string, from, to domain.Date) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(symbol)))
	h.Write([]byte{'|'})
	h.Write([]byte(from.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(to.String()))
	return h.Sum64()
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Calendar returns one synthetic point for every calendar date in
// [from, to], weekends included. The walk is indexed by calendar-day
// offset, so a point's value depends only on the request triple and the
// date's position in it.
func (s *Synthetic) Calendar(symbol string, from, to domain.Date) []domain.PricePoint {
	if from.IsZero() || to.IsZero() || from.After(to) {
		return nil
	}
	symbol = strings.ToUpper(symbol)
	p := paramsFor(symbol)

	seed := walkSeed(symbol, from, to)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	n := from.DaysUntil(to) + 1
	points := make([]domain.PricePoint, 0, n)
	price := p.base
	for i := 0; i < n; i++ {
		if i > 0 {
			step := 1 + p.drift + p.vol*rng.NormFloat64()
			if step < 0.01 {
				step = 0.01
			}
			price *= step
		}
		points = append(points, domain.PricePoint{
			Symbol: symbol,
			Date:   from.AddDays(i),
			Close:  decimal.NewFromFloat(round4(price)),
			Origin: domain.OriginSynthetic,
		})
	}
	return points
}

// Series implements Source, emitting the weekday subset of Calendar.
func (s *Synthetic) Series(_ context.Context, symbol string, from, to domain.Date) ([]domain.PricePoint, error) {
	all := s.Calendar(symbol, from, to)
	points := make([]domain.PricePoint, 0, len(all))
	for _, pt := range all {
		if pt.Date.IsWeekday() {
			points = append(points, pt)
		}
	}
	return points, nil
}
