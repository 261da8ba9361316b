// Package accrue provides a Go client for the accrue-server REST API:
// submitting recurring-investment backtests, polling run status and
// fetching results and price series.
package accrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the server does not know the run id.
var ErrNotFound = errors.New("run not found")

// ErrNotReady is returned by GetResult while the run is still pending or
// running.
var ErrNotReady = errors.New("result not ready")

// Client calls the accrue-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new accrue API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// Instrument configures one recurring contribution plan. Dates are
// YYYY-MM-DD strings; FeeRate nil means the server default.
type Instrument struct {
	Symbol    string           `json:"symbol"`
	Frequency string           `json:"frequency"`
	Weekday   string           `json:"weekday,omitempty"`
	MonthDay  int              `json:"month_day,omitempty"`
	BuyType   string           `json:"buy_type"`
	Amount    decimal.Decimal  `json:"amount"`
	Shares    decimal.Decimal  `json:"shares"`
	FeeRate   *decimal.Decimal `json:"fee_rate,omitempty"`
	StartDate string           `json:"start_date,omitempty"`
	EndDate   string           `json:"end_date,omitempty"`
}

// Portfolio is the wire form of a portfolio configuration.
type Portfolio struct {
	Name           string          `json:"name,omitempty"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Currency       string          `json:"currency,omitempty"`
	Instruments    []Instrument    `json:"instruments"`
}

// Request is the backtest submission payload. ForceSynthetic prices the
// whole run from the server's deterministic generator.
type Request struct {
	Portfolio      Portfolio `json:"portfolio"`
	StartDate      string    `json:"start_date"`
	EndDate        string    `json:"end_date"`
	ForceSynthetic bool      `json:"force_synthetic,omitempty"`
}

// Submitted acknowledges an accepted run.
type Submitted struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunSummary is one run's lifecycle state without its payload.
type RunSummary struct {
	RunID         string     `json:"run_id"`
	PortfolioName string     `json:"portfolio,omitempty"`
	StartDate     string     `json:"start_date"`
	EndDate       string     `json:"end_date"`
	Status        string     `json:"status"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// LedgerEntry is one executed contribution.
type LedgerEntry struct {
	Date             string          `json:"date"`
	Symbol           string          `json:"symbol"`
	BuyType          string          `json:"buy_type"`
	Price            decimal.Decimal `json:"price"`
	Shares           decimal.Decimal `json:"shares"`
	AmountSpent      decimal.Decimal `json:"amount_spent"`
	FeePaid          decimal.Decimal `json:"fee_paid"`
	CumulativeShares decimal.Decimal `json:"cumulative_shares"`
	CumulativeCost   decimal.Decimal `json:"cumulative_cost"`
}

// CurvePoint samples portfolio state on one date.
type CurvePoint struct {
	Date         string          `json:"date"`
	MarketValue  decimal.Decimal `json:"total_market_value"`
	CashInvested decimal.Decimal `json:"total_cash_invested"`
}

// Metrics summarizes performance. Pointer fields are null when the run's
// data cannot support them.
type Metrics struct {
	TotalInvested    decimal.Decimal `json:"total_invested"`
	FinalValue       decimal.Decimal `json:"final_value"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	TotalTrades      int             `json:"total_trades"`
	TotalReturn      float64         `json:"total_return"`
	AnnualizedReturn *float64        `json:"annualized_return"`
	Volatility       *float64        `json:"volatility"`
	SharpeRatio      *float64        `json:"sharpe_ratio"`
	MaxDrawdown      float64         `json:"max_drawdown"`
}

// Holding is one instrument's final position.
type Holding struct {
	Symbol        string          `json:"symbol"`
	Shares        decimal.Decimal `json:"shares"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Weight        float64         `json:"weight"`
}

// Warning is one non-fatal simulation event.
type Warning struct {
	Code    string `json:"code"`
	Symbol  string `json:"symbol,omitempty"`
	Date    string `json:"date,omitempty"`
	Message string `json:"message"`
}

// Result is a finished run's full payload. Portfolio echoes the normalized
// configuration the run executed with.
type Result struct {
	Portfolio   Portfolio     `json:"portfolio"`
	StartDate   string        `json:"start_date"`
	EndDate     string        `json:"end_date"`
	Ledger      []LedgerEntry `json:"ledger"`
	EquityCurve []CurvePoint  `json:"equity_curve"`
	Metrics     *Metrics      `json:"metrics"`
	Holdings    []Holding     `json:"holdings"`
	Warnings    []Warning     `json:"warnings"`
}

// PricePoint is one resolved daily close.
type PricePoint struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"`
	Close  decimal.Decimal `json:"close"`
	Origin string          `json:"origin"`
}

// PriceSeries is one symbol's resolved series with its provenance.
type PriceSeries struct {
	Symbol     string       `json:"symbol"`
	StartDate  string       `json:"start_date"`
	EndDate    string       `json:"end_date"`
	Provenance string       `json:"provenance"`
	Filled     int          `json:"filled,omitempty"`
	Points     []PricePoint `json:"points"`
}

type resultEnvelope struct {
	RunID  string  `json:"run_id"`
	Status string  `json:"status"`
	Result *Result `json:"result"`
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// SubmitBacktest queues a backtest and returns its run id.
func (c *Client) SubmitBacktest(ctx context.Context, req Request) (Submitted, error) {
	var out Submitted
	err := c.do(ctx, http.MethodPost, "/api/backtests", req, &out)
	return out, err
}

// GetRun fetches one run's lifecycle state.
func (c *Client) GetRun(ctx context.Context, runID string) (RunSummary, error) {
	var out RunSummary
	err := c.do(ctx, http.MethodGet, "/api/backtests/"+url.PathEscape(runID), nil, &out)
	return out, err
}

// ListRuns fetches up to limit recent runs, newest first. A non-positive
// limit uses the server default.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	path := "/api/backtests"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []RunSummary
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetResult fetches a finished run's payload. It returns ErrNotReady while
// the run is pending or running and ErrNotFound for unknown ids.
func (c *Client) GetResult(ctx context.Context, runID string) (*Result, error) {
	var env resultEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/backtests/"+url.PathEscape(runID)+"/result", nil, &env); err != nil {
		return nil, err
	}
	return env.Result, nil
}

// WaitForResult polls until the run finishes or ctx expires.
func (c *Client) WaitForResult(ctx context.Context, runID string, poll time.Duration) (*Result, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		res, err := c.GetResult(ctx, runID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrNotReady) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetPrices fetches one symbol's resolved daily closes over [start, end].
// Dates are YYYY-MM-DD; synthetic forces generated prices.
func (c *Client) GetPrices(ctx context.Context, symbol, start, end string, synthetic bool) (PriceSeries, error) {
	q := url.Values{}
	q.Set("start", start)
	q.Set("end", end)
	if synthetic {
		q.Set("synthetic", "true")
	}
	var out PriceSeries
	err := c.do(ctx, http.MethodGet, "/api/prices/"+url.PathEscape(symbol)+"?"+q.Encode(), nil, &out)
	return out, err
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/healthz", nil, nil)
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// apiError maps an error response onto the client's sentinel errors,
// keeping the server's message.
func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrNotReady, msg)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
}
