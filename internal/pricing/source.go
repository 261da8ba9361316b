// Package pricing resolves daily closing prices for simulation runs. A
// Resolver layers three providers: the local parquet cache, the remote
// Alpaca market-data API, and a deterministic synthetic generator that
// takes over whenever real data cannot be obtained. Real series with
// missing weekdays are completed point-by-point from the synthetic
// generator — never by carrying neighbouring real prices forward.
package pricing

import (
	"context"

	"accrue/internal/domain"
)

// Source provides a daily closing-price series for one symbol.
type Source interface {
	// Name identifies the source in logs and provenance records.
	Name() string
	// Series returns points ordered by date covering [from, to]. A source
	// may legitimately return fewer dates than the range spans (markets
	// close); returning an empty slice means it has no data at all.
	Series(ctx context.Context, symbol string, from, to domain.Date) ([]domain.PricePoint, error)
}

// Provenance describes where a resolved series ultimately came from.
type Provenance string

const (
	// ProvenanceReal marks a series built entirely from market data.
	ProvenanceReal Provenance = "real"
	// ProvenanceSynthetic marks a series generated in full.
	ProvenanceSynthetic Provenance = "synthetic"
	// ProvenanceHybrid marks a real series whose gaps were filled
	// synthetically.
	ProvenanceHybrid Provenance = "hybrid"
)
