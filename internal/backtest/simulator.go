// Package backtest replays periodic-contribution plans against resolved
// price series and reduces the outcome to performance metrics.
package backtest

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"accrue/internal/domain"
	"accrue/internal/pricing"
	"accrue/internal/schedule"
)

// moneyPlaces is the scale ledger money and share quantities are rounded
// to at the point each trade is booked. Cumulative figures sum the rounded
// values, so ledger totals reconcile exactly.
const moneyPlaces = 6

// Simulation is the raw outcome of replaying a contribution stream: the
// trade ledger, the equity curve, final per-symbol positions, and any
// non-fatal warnings raised along the way.
type Simulation struct {
	Ledger    []domain.LedgerEntry
	Curve     []domain.EquityCurvePoint
	Positions map[string]*domain.Position
	Warnings  []domain.Warning
}

// Simulate applies the contribution events in order against the resolved
// prices. Events are assumed ordered by (date, symbol); application is
// strictly sequential and deterministic. Contributions that cannot price
// are skipped with a warning, never failed.
func Simulate(events []schedule.Event, prices *pricing.SeriesSet) *Simulation {
	sim := &Simulation{Positions: make(map[string]*domain.Position)}

	dates := valuationDates(events, prices)
	invested := decimal.Zero

	next := 0
	for _, day := range dates {
		for next < len(events) && !events[next].Date.After(day) {
			invested = invested.Add(sim.apply(events[next], prices))
			next++
		}
		sim.Curve = append(sim.Curve, domain.EquityCurvePoint{
			Date:         day,
			MarketValue:  sim.marketValue(day, prices),
			CashInvested: invested,
		})
	}
	return sim
}

// apply books one contribution and returns the net cash it moved into the
// position, zero when the event was skipped.
func (s *Simulation) apply(ev schedule.Event, prices *pricing.SeriesSet) decimal.Decimal {
	ic := ev.Instrument

	pt, err := prices.At(ic.Symbol, ev.Date)
	if err != nil || pt.Close.Sign() <= 0 {
		s.Warnings = append(s.Warnings, domain.Warning{
			Code:    domain.WarnSkippedContribution,
			Symbol:  ic.Symbol,
			Date:    ev.Date,
			Message: fmt.Sprintf("no usable price for %s on %s, contribution skipped", ic.Symbol, ev.Date),
		})
		return decimal.Zero
	}
	price := pt.Close

	var shares, spent, fee decimal.Decimal
	switch ic.BuyType {
	case domain.BuyShares:
		shares = ic.Shares
		spent = shares.Mul(price).Round(moneyPlaces)
		fee = spent.Mul(ic.FeeRate).Round(moneyPlaces)
	default:
		gross := ic.Amount
		fee = gross.Mul(ic.FeeRate).Round(moneyPlaces)
		spent = gross.Sub(fee)
		shares = spent.Div(price).Round(moneyPlaces)
	}

	pos := s.Positions[ic.Symbol]
	if pos == nil {
		pos = &domain.Position{Symbol: ic.Symbol}
		s.Positions[ic.Symbol] = pos
	}
	pos.Shares = pos.Shares.Add(shares)
	pos.CostBasis = pos.CostBasis.Add(spent)
	pos.FeesPaid = pos.FeesPaid.Add(fee)
	pos.Trades++

	s.Ledger = append(s.Ledger, domain.LedgerEntry{
		Date:             ev.Date,
		Symbol:           ic.Symbol,
		BuyType:          ic.BuyType,
		Price:            price,
		Shares:           shares,
		AmountSpent:      spent,
		FeePaid:          fee,
		CumulativeShares: pos.Shares,
		CumulativeCost:   pos.CostBasis,
	})
	return spent
}

// marketValue prices every held position with the close in effect on the
// given date. Symbols quoted only after this date contribute nothing yet.
func (s *Simulation) marketValue(day domain.Date, prices *pricing.SeriesSet) decimal.Decimal {
	mv := decimal.Zero
	for sym, pos := range s.Positions {
		if pos.Shares.Sign() == 0 {
			continue
		}
		close, ok := prices.ValueAt(sym, day)
		if !ok {
			continue
		}
		mv = mv.Add(pos.Shares.Mul(close))
	}
	return mv.Round(moneyPlaces)
}

// valuationDates returns the sorted union of the window's trading dates,
// the event dates (weekend contributions still get a curve point), and the
// window endpoints.
func valuationDates(events []schedule.Event, prices *pricing.SeriesSet) []domain.Date {
	seen := make(map[domain.Date]struct{})
	var out []domain.Date
	add := func(d domain.Date) {
		if d.IsZero() {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}

	for _, d := range prices.Timeline() {
		add(d)
	}
	for _, ev := range events {
		add(ev.Date)
	}
	add(prices.From)
	add(prices.To)

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
