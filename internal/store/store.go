// Package store persists market data and finished simulation runs. Daily
// prices live in parquet files partitioned by symbol and year; run records
// live in a SQLite database.
package store

import (
	"context"
	"time"

	"accrue/internal/domain"
)

// PriceStore persists and retrieves daily price bars.
type PriceStore interface {
	// WritePrices persists a batch of daily bars, merging with any already
	// stored and deduplicating by (symbol, date).
	WritePrices(ctx context.Context, records []PriceRecord) error

	// ReadPrices returns stored bars for the symbol within [from, to],
	// ordered by date.
	ReadPrices(ctx context.Context, symbol string, from, to domain.Date) ([]PriceRecord, error)

	// ListSymbols returns all distinct symbols with stored price data.
	ListSymbols(ctx context.Context) ([]string, error)
}

// RunStore persists finished simulation runs.
type RunStore interface {
	// SaveRun inserts or replaces a run record.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// GetRun retrieves one run with its full result payload. It returns
	// domain.ErrRunNotFound for unknown ids.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns up to limit recent run records, newest first, without
	// result payloads.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// RunRecord is the persisted form of one simulation run.
type RunRecord struct {
	ID            string
	PortfolioName string
	Start         domain.Date
	End           domain.Date
	Status        string
	Error         string

	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time

	// Result is the full output of a succeeded run; nil in listings and
	// for failed runs.
	Result *domain.Result
}
