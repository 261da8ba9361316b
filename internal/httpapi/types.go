// Package httpapi provides the HTTP REST API for submitting backtests,
// polling their status, and fetching results and price series as JSON.
package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"accrue/internal/domain"
	"accrue/internal/store"
)

// InstrumentRequest is the wire form of one contribution plan. It differs
// from the domain type in two ways: dates arrive as YYYY-MM-DD strings and
// fee_rate is optional, defaulting when omitted.
type InstrumentRequest struct {
	Symbol    string           `json:"symbol"`
	Frequency string           `json:"frequency"`
	Weekday   string           `json:"weekday,omitempty"`
	MonthDay  int              `json:"month_day,omitempty"`
	BuyType   string           `json:"buy_type"`
	Amount    decimal.Decimal  `json:"amount"`
	Shares    decimal.Decimal  `json:"shares"`
	FeeRate   *decimal.Decimal `json:"fee_rate"`
	StartDate string           `json:"start_date,omitempty"`
	EndDate   string           `json:"end_date,omitempty"`
}

// PortfolioRequest is the wire form of a portfolio.
type PortfolioRequest struct {
	Name           string              `json:"name"`
	InitialCapital decimal.Decimal     `json:"initial_capital"`
	Currency       string              `json:"currency"`
	Instruments    []InstrumentRequest `json:"instruments"`
}

// BacktestRequest is the POST /api/backtests payload. ForceSynthetic makes
// this run price everything from the generator, for reproducible results.
type BacktestRequest struct {
	Portfolio      PortfolioRequest `json:"portfolio"`
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
	ForceSynthetic bool             `json:"force_synthetic,omitempty"`
}

// ToDomain converts the request into a portfolio and window, reporting
// malformed dates as configuration errors. The CLI reuses it so a request
// file and a POST body mean exactly the same thing.
func (req *BacktestRequest) ToDomain() (domain.Portfolio, domain.Date, domain.Date, error) {
	p := domain.Portfolio{
		Name:           req.Portfolio.Name,
		InitialCapital: req.Portfolio.InitialCapital,
		Currency:       req.Portfolio.Currency,
	}

	for i, ir := range req.Portfolio.Instruments {
		ic := domain.InstrumentConfig{
			Symbol:    ir.Symbol,
			Frequency: domain.Frequency(ir.Frequency),
			Weekday:   ir.Weekday,
			MonthDay:  ir.MonthDay,
			BuyType:   domain.BuyType(ir.BuyType),
			Amount:    ir.Amount,
			Shares:    ir.Shares,
			FeeRate:   domain.DefaultFeeRate,
		}
		if ir.FeeRate != nil {
			ic.FeeRate = *ir.FeeRate
		}
		if ir.StartDate != "" {
			d, err := domain.ParseDate(ir.StartDate)
			if err != nil {
				return domain.Portfolio{}, domain.Date{}, domain.Date{},
					domain.NewConfigError("instruments", "instrument %d: bad start_date %q", i, ir.StartDate)
			}
			ic.Start = d
		}
		if ir.EndDate != "" {
			d, err := domain.ParseDate(ir.EndDate)
			if err != nil {
				return domain.Portfolio{}, domain.Date{}, domain.Date{},
					domain.NewConfigError("instruments", "instrument %d: bad end_date %q", i, ir.EndDate)
			}
			ic.End = d
		}
		p.Instruments = append(p.Instruments, ic)
	}

	from, err := domain.ParseDate(req.StartDate)
	if err != nil {
		return domain.Portfolio{}, domain.Date{}, domain.Date{},
			domain.NewConfigError("start_date", "bad start_date %q", req.StartDate)
	}
	to, err := domain.ParseDate(req.EndDate)
	if err != nil {
		return domain.Portfolio{}, domain.Date{}, domain.Date{},
			domain.NewConfigError("end_date", "bad end_date %q", req.EndDate)
	}
	return p, from, to, nil
}

// SubmitResponse acknowledges an accepted backtest.
type SubmitResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunSummary is the JSON representation of a run's lifecycle state,
// without the result payload.
type RunSummary struct {
	RunID         string     `json:"run_id"`
	PortfolioName string     `json:"portfolio,omitempty"`
	StartDate     string     `json:"start_date"`
	EndDate       string     `json:"end_date"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func runSummary(rec *store.RunRecord) RunSummary {
	s := RunSummary{
		RunID:         rec.ID,
		PortfolioName: rec.PortfolioName,
		StartDate:     rec.Start.String(),
		EndDate:       rec.End.String(),
		Status:        rec.Status,
		Error:         rec.Error,
		SubmittedAt:   rec.SubmittedAt,
	}
	if !rec.StartedAt.IsZero() {
		t := rec.StartedAt
		s.StartedAt = &t
	}
	if !rec.FinishedAt.IsZero() {
		t := rec.FinishedAt
		s.FinishedAt = &t
	}
	return s
}

// ResultResponse wraps a finished run's full output.
type ResultResponse struct {
	RunID  string         `json:"run_id"`
	Status string         `json:"status"`
	Result *domain.Result `json:"result"`
}

// nonNullResult copies a result with nil slices replaced by empty ones so
// the JSON arrays are never null.
func nonNullResult(res *domain.Result) *domain.Result {
	out := *res
	if out.Ledger == nil {
		out.Ledger = []domain.LedgerEntry{}
	}
	if out.EquityCurve == nil {
		out.EquityCurve = []domain.EquityCurvePoint{}
	}
	if out.Holdings == nil {
		out.Holdings = []domain.Holding{}
	}
	if out.Warnings == nil {
		out.Warnings = []domain.Warning{}
	}
	return &out
}

// PriceSeriesResponse is the GET /api/prices/{symbol} payload.
type PriceSeriesResponse struct {
	Symbol     string              `json:"symbol"`
	StartDate  string              `json:"start_date"`
	EndDate    string              `json:"end_date"`
	Provenance string              `json:"provenance"`
	Filled     int                 `json:"filled,omitempty"`
	Points     []domain.PricePoint `json:"points"`
}
