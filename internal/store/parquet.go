package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"accrue/internal/domain"
)

func timeFromMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Compile-time interface check.
var _ PriceStore = (*ParquetStore)(nil)

// ParquetStore implements PriceStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// PriceRecord is the Parquet schema for one daily bar. Only real market
// data is ever written here; synthetic prices are recomputed on demand.
type PriceRecord struct {
	Symbol string  `parquet:"symbol"`
	Date   int64   `parquet:"date,timestamp(millisecond)"` // Unix ms, UTC midnight
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume int64   `parquet:"volume"`
}

// Day returns the record's calendar date.
func (r PriceRecord) Day() domain.Date {
	return domain.DateOf(timeFromMilli(r.Date))
}

// Point converts the record to a resolved price point.
func (r PriceRecord) Point() domain.PricePoint {
	return domain.PricePoint{
		Symbol: r.Symbol,
		Date:   r.Day(),
		Close:  decimal.NewFromFloat(r.Close),
		Origin: domain.OriginReal,
	}
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

// WritePrices writes daily bars to Parquet files organized by symbol and
// year. Each symbol+year combination produces a separate file at:
//
//	<DataDir>/prices/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WritePrices(_ context.Context, records []PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]PriceRecord)
	for _, r := range records {
		r.Symbol = strings.ToUpper(r.Symbol)
		k := key{symbol: r.Symbol, year: r.Day().Year()}
		groups[k] = append(groups[k], r)
	}

	for k, recs := range groups {
		path := s.pricePath(k.symbol, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[PriceRecord](path)
		merged := mergePriceRecords(existing, recs)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing prices for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadPrices reads daily bars for the given symbol and date range.
func (s *ParquetStore) ReadPrices(_ context.Context, symbol string, from, to domain.Date) ([]PriceRecord, error) {
	symbol = strings.ToUpper(symbol)
	var out []PriceRecord
	for year := from.Year(); year <= to.Year(); year++ {
		path := s.pricePath(symbol, year)

		records, err := readParquetFile[PriceRecord](path)
		if err != nil {
			// No file for this year — skip.
			continue
		}

		for _, r := range records {
			d := r.Day()
			if !d.Before(from) && !d.After(to) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// ListSymbols lists all symbols that have stored price data.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "prices")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// pricePath returns the filesystem path for a price Parquet file.
// Layout: <dataDir>/prices/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) pricePath(symbol string, year int) string {
	return filepath.Join(s.DataDir, "prices", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergePriceRecords deduplicates records by (symbol, date), preferring new
// records over existing ones. Results are sorted by date.
func mergePriceRecords(existing, incoming []PriceRecord) []PriceRecord {
	type key struct {
		symbol string
		date   int64
	}
	seen := make(map[key]PriceRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Date}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Date}] = r
	}

	merged := make([]PriceRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
