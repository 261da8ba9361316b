// Package domain defines the core types of the recurring-investment
// simulator: portfolio and instrument configuration, resolved prices,
// the trade ledger, the equity curve and performance metrics.
package domain

import (
	"github.com/shopspring/decimal"
)

// Frequency is the cadence of a recurring contribution plan.
type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
)

// BuyType selects how each contribution is sized.
type BuyType string

const (
	// BuyAmount invests a fixed cash amount per contribution; the fee is
	// deducted from that amount before shares are bought.
	BuyAmount BuyType = "AMOUNT"
	// BuyShares buys a fixed share quantity per contribution; the fee is
	// charged on top of the gross amount.
	BuyShares BuyType = "SHARES"
)

// PriceOrigin tells whether a price point came from real market data or
// from the deterministic synthetic generator.
type PriceOrigin string

const (
	OriginReal      PriceOrigin = "real"
	OriginSynthetic PriceOrigin = "synthetic"
)

// DefaultFeeRate is the proportional transaction fee applied when a
// portfolio does not specify one.
var DefaultFeeRate = decimal.NewFromFloat(0.0003)

// InstrumentConfig describes one instrument's recurring contribution plan
// inside a portfolio.
type InstrumentConfig struct {
	Symbol    string    `json:"symbol"`
	Frequency Frequency `json:"frequency"`

	// Weekday names the contribution day for WEEKLY plans, e.g. "monday".
	Weekday string `json:"weekday,omitempty"`
	// MonthDay is the contribution day-of-month for MONTHLY plans (1..31).
	// Days past the end of a short month clamp to its last day.
	MonthDay int `json:"month_day,omitempty"`

	BuyType BuyType `json:"buy_type"`
	// Amount is the cash contribution per event for AMOUNT plans.
	Amount decimal.Decimal `json:"amount,omitzero"`
	// Shares is the share quantity per event for SHARES plans.
	Shares decimal.Decimal `json:"shares,omitzero"`

	// FeeRate is the proportional transaction fee (0.0003 = 3 bps).
	FeeRate decimal.Decimal `json:"fee_rate"`

	// Start and End bound this instrument's own contribution window inside
	// the simulation window. Zero values mean unbounded.
	Start Date `json:"start_date,omitzero"`
	End   Date `json:"end_date,omitzero"`
}

// Portfolio is the top-level simulation input: a set of instruments with
// shared metadata. InitialCapital and Currency are carried through to the
// result; contributions themselves are modeled as external cash inflows.
type Portfolio struct {
	Name           string             `json:"name,omitempty"`
	InitialCapital decimal.Decimal    `json:"initial_capital"`
	Currency       string             `json:"currency"`
	Instruments    []InstrumentConfig `json:"instruments"`
}

// PricePoint is one resolved closing price.
type PricePoint struct {
	Symbol string          `json:"symbol"`
	Date   Date            `json:"date"`
	Close  decimal.Decimal `json:"close"`
	Origin PriceOrigin     `json:"origin"`
}

// LedgerEntry records one executed contribution.
type LedgerEntry struct {
	Date    Date    `json:"date"`
	Symbol  string  `json:"symbol"`
	BuyType BuyType `json:"buy_type"`

	Price  decimal.Decimal `json:"price"`
	Shares decimal.Decimal `json:"shares"`
	// AmountSpent is the cash that went into shares, net of fees.
	AmountSpent decimal.Decimal `json:"amount_spent"`
	FeePaid     decimal.Decimal `json:"fee_paid"`

	CumulativeShares decimal.Decimal `json:"cumulative_shares"`
	CumulativeCost   decimal.Decimal `json:"cumulative_cost"`
}

// EquityCurvePoint samples total portfolio state on one date.
type EquityCurvePoint struct {
	Date Date `json:"date"`
	// MarketValue is the sum over instruments of shares held times that
	// date's close.
	MarketValue decimal.Decimal `json:"total_market_value"`
	// CashInvested is the cumulative net amount contributed so far.
	CashInvested decimal.Decimal `json:"total_cash_invested"`
}

// Position is the running per-symbol state inside the simulator.
type Position struct {
	Symbol    string          `json:"symbol"`
	Shares    decimal.Decimal `json:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	FeesPaid  decimal.Decimal `json:"fees_paid"`
	Trades    int             `json:"trades"`
}

// Holding is the end-of-simulation snapshot of one position.
type Holding struct {
	Symbol        string          `json:"symbol"`
	Shares        decimal.Decimal `json:"shares"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	// Weight is this holding's share of total portfolio market value.
	Weight float64 `json:"weight"`
}

// Metrics summarizes simulation performance. Ratios that cannot be
// computed from the available data are nil and serialize as JSON null.
type Metrics struct {
	TotalInvested decimal.Decimal `json:"total_invested"`
	FinalValue    decimal.Decimal `json:"final_value"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	TotalTrades   int             `json:"total_trades"`

	TotalReturn float64 `json:"total_return"`
	// AnnualizedReturn is nil when the simulation spans less than one day.
	AnnualizedReturn *float64 `json:"annualized_return"`
	// Volatility is nil when fewer than two period returns exist.
	Volatility *float64 `json:"volatility"`
	// SharpeRatio is nil when volatility is zero or unavailable.
	SharpeRatio *float64 `json:"sharpe_ratio"`
	MaxDrawdown float64  `json:"max_drawdown"`
}

// WarningCode classifies non-fatal simulation warnings.
type WarningCode string

const (
	// WarnSyntheticData marks a symbol whose entire series came from the
	// synthetic generator.
	WarnSyntheticData WarningCode = "synthetic_data"
	// WarnHybridData marks a symbol whose real series had gaps filled
	// synthetically.
	WarnHybridData WarningCode = "hybrid_data"
	// WarnSkippedContribution marks a scheduled contribution that could
	// not execute.
	WarnSkippedContribution WarningCode = "skipped_contribution"
)

// Warning is a non-fatal condition encountered during a run.
type Warning struct {
	Code    WarningCode `json:"code"`
	Symbol  string      `json:"symbol,omitempty"`
	Date    Date        `json:"date,omitzero"`
	Message string      `json:"message"`
}

// Result is the complete output of one simulation run.
type Result struct {
	Portfolio Portfolio `json:"portfolio"`
	Start     Date      `json:"start_date"`
	End       Date      `json:"end_date"`

	Ledger      []LedgerEntry      `json:"ledger"`
	EquityCurve []EquityCurvePoint `json:"equity_curve"`
	// Metrics is nil when no capital was invested (every contribution
	// skipped); the ledger and curve are still populated.
	Metrics  *Metrics  `json:"metrics"`
	Holdings []Holding `json:"holdings"`
	Warnings []Warning `json:"warnings"`
}
