package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"accrue/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, ensures
// the schema exists, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	portfolio_name    TEXT NOT NULL DEFAULT '',
	start_date        TEXT NOT NULL,
	end_date          TEXT NOT NULL,
	status            TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	submitted_at      TEXT NOT NULL,
	started_at        TEXT NOT NULL DEFAULT '',
	finished_at       TEXT NOT NULL DEFAULT '',
	total_invested    REAL,
	final_value       REAL,
	total_return      REAL,
	annualized_return REAL,
	volatility        REAL,
	sharpe_ratio      REAL,
	max_drawdown      REAL,
	total_fees        REAL,
	total_trades      INTEGER,
	result_json       BLOB
);
CREATE INDEX IF NOT EXISTS idx_runs_submitted_at ON runs(submitted_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating runs schema: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts or replaces a run record, flattening headline metrics
// into columns and keeping the full result as a JSON payload.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	var resultJSON []byte
	var m *domain.Metrics
	if rec.Result != nil {
		var err error
		resultJSON, err = json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshaling result for run %s: %w", rec.ID, err)
		}
		m = rec.Result.Metrics
	}

	var (
		totalInvested, finalValue, totalReturn sql.NullFloat64
		annualized, volatility, sharpe         sql.NullFloat64
		maxDrawdown, totalFees                 sql.NullFloat64
		totalTrades                            sql.NullInt64
	)
	if m != nil {
		totalInvested = sql.NullFloat64{Float64: m.TotalInvested.InexactFloat64(), Valid: true}
		finalValue = sql.NullFloat64{Float64: m.FinalValue.InexactFloat64(), Valid: true}
		totalReturn = sql.NullFloat64{Float64: m.TotalReturn, Valid: true}
		maxDrawdown = sql.NullFloat64{Float64: m.MaxDrawdown, Valid: true}
		totalFees = sql.NullFloat64{Float64: m.TotalFees.InexactFloat64(), Valid: true}
		totalTrades = sql.NullInt64{Int64: int64(m.TotalTrades), Valid: true}
		annualized = nullableFloat(m.AnnualizedReturn)
		volatility = nullableFloat(m.Volatility)
		sharpe = nullableFloat(m.SharpeRatio)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO runs (
	id, portfolio_name, start_date, end_date, status, error,
	submitted_at, started_at, finished_at,
	total_invested, final_value, total_return, annualized_return,
	volatility, sharpe_ratio, max_drawdown, total_fees, total_trades,
	result_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PortfolioName, rec.Start.String(), rec.End.String(),
		rec.Status, rec.Error,
		formatTime(rec.SubmittedAt), formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
		totalInvested, finalValue, totalReturn, annualized,
		volatility, sharpe, maxDrawdown, totalFees, totalTrades,
		resultJSON,
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", rec.ID, err)
	}
	return nil
}

// GetRun retrieves one run with its full result payload.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, portfolio_name, start_date, end_date, status, error,
	submitted_at, started_at, finished_at, result_json
FROM runs WHERE id = ?`, id)

	var rec RunRecord
	var startDate, endDate, submitted, started, finished string
	var resultJSON []byte
	err := row.Scan(&rec.ID, &rec.PortfolioName, &startDate, &endDate,
		&rec.Status, &rec.Error, &submitted, &started, &finished, &resultJSON)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}

	if rec.Start, err = domain.ParseDate(startDate); err != nil {
		return nil, err
	}
	if rec.End, err = domain.ParseDate(endDate); err != nil {
		return nil, err
	}
	rec.SubmittedAt = parseTime(submitted)
	rec.StartedAt = parseTime(started)
	rec.FinishedAt = parseTime(finished)

	if len(resultJSON) > 0 {
		var result domain.Result
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("unmarshaling result for run %s: %w", id, err)
		}
		rec.Result = &result
	}
	return &rec, nil
}

// ListRuns returns up to limit recent runs, newest first, without result
// payloads.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, portfolio_name, start_date, end_date, status, error,
	submitted_at, started_at, finished_at
FROM runs ORDER BY submitted_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startDate, endDate, submitted, started, finished string
		if err := rows.Scan(&rec.ID, &rec.PortfolioName, &startDate, &endDate,
			&rec.Status, &rec.Error, &submitted, &started, &finished); err != nil {
			return nil, err
		}
		if rec.Start, err = domain.ParseDate(startDate); err != nil {
			return nil, err
		}
		if rec.End, err = domain.ParseDate(endDate); err != nil {
			return nil, err
		}
		rec.SubmittedAt = parseTime(submitted)
		rec.StartedAt = parseTime(started)
		rec.FinishedAt = parseTime(finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Column helpers
// ---------------------------------------------------------------------------

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
