package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"accrue/internal/domain"
	"accrue/internal/store"
	"accrue/internal/util"
)

var _ Source = (*AlpacaSource)(nil)

// AlpacaSource fetches daily close prices for US equities and ETFs from the
// Alpaca market-data API.
type AlpacaSource struct {
	client     *marketdata.Client
	limiter    *util.RateLimiter
	maxRetries int
	timeout    time.Duration
	log        *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource with the given credentials and
// request budget. An empty dataURL uses the SDK default endpoint; a
// non-positive timeout disables the per-fetch deadline.
func NewAlpacaSource(apiKey, apiSecret, dataURL string, rateLimitPerMin, maxRetries int, timeout time.Duration) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaSource{
		client:     marketdata.NewClient(opts),
		limiter:    util.NewRateLimiter(rateLimitPerMin),
		maxRetries: maxRetries,
		timeout:    timeout,
		log:        slog.Default().With("source", "alpaca"),
	}
}

// Name returns the source identifier.
func (s *AlpacaSource) Name() string { return "alpaca" }

// Bars fetches daily OHLCV bars for one symbol over an inclusive date range,
// in store form so callers can persist them directly.
func (s *AlpacaSource) Bars(ctx context.Context, symbol string, from, to domain.Date) ([]store.PriceRecord, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bars []marketdata.Bar
	err := util.Retry(ctx, s.maxRetries, 500*time.Millisecond, func() error {
		var ferr error
		// Daily bars are stamped at the session's first minute, so the end
		// bound must reach past midnight of the final day.
		bars, ferr = s.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     from.Time,
			End:       to.AddDays(1).Time,
			Feed:      "sip",
		})
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	records := make([]store.PriceRecord, 0, len(bars))
	for _, b := range bars {
		day := domain.DateOf(b.Timestamp)
		if day.Before(from) || day.After(to) {
			continue
		}
		records = append(records, store.PriceRecord{
			Symbol: symbol,
			Date:   day.UnixMilli(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}

	s.log.Debug("fetched bars", "symbol", symbol, "from", from, "to", to, "count", len(records))
	return records, nil
}

// Series fetches the daily close series for one symbol over an inclusive
// date range.
func (s *AlpacaSource) Series(ctx context.Context, symbol string, from, to domain.Date) ([]domain.PricePoint, error) {
	records, err := s.Bars(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	points := make([]domain.PricePoint, len(records))
	for i, r := range records {
		points[i] = r.Point()
	}
	return points, nil
}
