package backtest

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"accrue/internal/domain"
)

// daysPerYear is the calendar-day basis for compounding annualized return.
const daysPerYear = 365.25

// Analyze reduces a finished simulation to summary metrics. It returns
// InsufficientDataError when no capital was invested; the caller keeps the
// ledger and curve either way.
func Analyze(sim *Simulation, riskFreeRate float64) (*domain.Metrics, error) {
	invested := decimal.Zero
	fees := decimal.Zero
	for _, e := range sim.Ledger {
		invested = invested.Add(e.AmountSpent)
		fees = fees.Add(e.FeePaid)
	}
	if invested.Sign() == 0 {
		return nil, &domain.InsufficientDataError{Reason: "no contributions were executed"}
	}

	curve := sim.Curve
	final := curve[len(curve)-1].MarketValue
	ratio := final.Div(invested).InexactFloat64()

	m := &domain.Metrics{
		TotalInvested: invested,
		FinalValue:    final,
		TotalFees:     fees,
		TotalTrades:   len(sim.Ledger),
		TotalReturn:   ratio - 1,
		MaxDrawdown:   maxDrawdown(curve),
	}

	// Compounding runs from the first executed contribution, in calendar
	// days, so partial years annualize on a day-count basis.
	days := sim.Ledger[0].Date.DaysUntil(curve[len(curve)-1].Date)
	if days >= 1 {
		cagr := math.Pow(ratio, daysPerYear/float64(days)) - 1
		m.AnnualizedReturn = &cagr
	}

	returns := periodReturns(curve)
	if len(returns) >= 2 {
		periodsPerYear := annualizationFactor(curve)
		vol := stddev(returns) * math.Sqrt(periodsPerYear)
		m.Volatility = &vol
		if vol > 0 {
			sharpe := (mean(returns)*periodsPerYear - riskFreeRate) / vol
			m.SharpeRatio = &sharpe
		}
	}
	return m, nil
}

// periodReturns computes simple returns between consecutive curve points.
// Intervals starting from a zero value (before the first executed buy)
// carry no return. Contribution inflows are deliberately left in: the
// curve is the investor's experience, jumps and all.
func periodReturns(curve []domain.EquityCurvePoint) []float64 {
	var out []float64
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].MarketValue
		if prev.Sign() <= 0 {
			continue
		}
		out = append(out, curve[i].MarketValue.Div(prev).InexactFloat64()-1)
	}
	return out
}

// annualizationFactor picks the periods-per-year constant from the curve's
// dominant sampling interval: daily, weekly, monthly, or quarterly.
func annualizationFactor(curve []domain.EquityCurvePoint) float64 {
	if len(curve) < 2 {
		return 252
	}
	gaps := make([]int, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		gaps = append(gaps, curve[i-1].Date.DaysUntil(curve[i].Date))
	}
	sort.Ints(gaps)

	switch median := gaps[len(gaps)/2]; {
	case median <= 4:
		return 252
	case median <= 10:
		return 52
	case median <= 45:
		return 12
	default:
		return 4
	}
}

// maxDrawdown is the deepest decline from a running peak, in [-1, 0].
func maxDrawdown(curve []domain.EquityCurvePoint) float64 {
	peak, dd := 0.0, 0.0
	for _, pt := range curve {
		v := pt.MarketValue.InexactFloat64()
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if d := v/peak - 1; d < dd {
			dd = d
		}
	}
	return dd
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation (n-1 denominator).
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mu := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
