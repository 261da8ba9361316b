package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"accrue/internal/backtest"
	"accrue/internal/domain"
	"accrue/internal/pricing"
	"accrue/internal/runner"
)

type failingEngine struct{ err error }

func (f *failingEngine) Run(context.Context, domain.Portfolio, domain.Date, domain.Date, bool) (*domain.Result, error) {
	return nil, f.err
}

type blockingEngine struct{ release chan struct{} }

func (b *blockingEngine) Run(context.Context, domain.Portfolio, domain.Date, domain.Date, bool) (*domain.Result, error) {
	<-b.release
	return &domain.Result{}, nil
}

// newTestHandler wires a synthetic-only engine behind the full HTTP stack.
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	resolver := pricing.NewResolver(nil, nil, 2)
	engine := backtest.NewEngine(resolver, 0, true)
	m := runner.NewManager(engine, nil, 2)
	t.Cleanup(m.Close)
	return NewServer(m, resolver).Handler()
}

func do(h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func postJSON(t *testing.T, h http.Handler, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	return do(h, "POST", path, bytes.NewReader(b))
}

func validRequest() BacktestRequest {
	return BacktestRequest{
		Portfolio: PortfolioRequest{
			Name: "spy-monthly",
			Instruments: []InstrumentRequest{{
				Symbol:    "SPY",
				Frequency: "MONTHLY",
				MonthDay:  1,
				BuyType:   "AMOUNT",
				Amount:    decimal.NewFromInt(1000),
			}},
		},
		StartDate:      "2023-01-01",
		EndDate:        "2023-03-31",
		ForceSynthetic: true,
	}
}

func submitRun(t *testing.T, h http.Handler, req BacktestRequest) string {
	t.Helper()
	rr := postJSON(t, h, "/api/backtests", req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, want %d (body %s)", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	var resp SubmitResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding submit response: %v", err)
	}
	if resp.RunID == "" {
		t.Fatal("submit response has empty run_id")
	}
	if resp.Status != runner.StatusPending {
		t.Errorf("submit status = %q, want %q", resp.Status, runner.StatusPending)
	}
	return resp.RunID
}

func waitStatus(t *testing.T, h http.Handler, id, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rr := do(h, "GET", "/api/backtests/"+id, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("get run status = %d, body %s", rr.Code, rr.Body.String())
		}
		var sum RunSummary
		if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
			t.Fatalf("decoding run summary: %v", err)
		}
		if sum.Status == want {
			return
		}
		if sum.Status == runner.StatusSucceeded || sum.Status == runner.StatusFailed {
			t.Fatalf("run reached terminal status %q, want %q", sum.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %q", id, want)
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)

	rr := do(h, "GET", "/api/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf(`status field = %q, want "ok"`, body["status"])
	}
}

func TestSubmitAndFetchResult(t *testing.T) {
	h := newTestHandler(t)

	id := submitRun(t, h, validRequest())
	waitStatus(t, h, id, runner.StatusSucceeded)

	rr := do(h, "GET", "/api/backtests/"+id+"/result", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("result status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp ResultResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if resp.RunID != id {
		t.Errorf("run_id = %q, want %q", resp.RunID, id)
	}
	if resp.Result == nil {
		t.Fatal("result is null")
	}
	if got := len(resp.Result.Ledger); got != 3 {
		t.Fatalf("ledger has %d entries, want 3", got)
	}
	wantDates := []string{"2023-01-01", "2023-02-01", "2023-03-01"}
	for i, want := range wantDates {
		if got := resp.Result.Ledger[i].Date.String(); got != want {
			t.Errorf("ledger[%d].Date = %s, want %s", i, got, want)
		}
	}
	if resp.Result.Metrics == nil {
		t.Fatal("metrics is null")
	}
	if got := resp.Result.Metrics.TotalInvested; !got.Equal(decimal.RequireFromString("2999.1")) {
		t.Errorf("TotalInvested = %s, want 2999.1", got)
	}
	if len(resp.Result.EquityCurve) == 0 {
		t.Error("equity curve is empty")
	}
}

func TestSubmitMalformedJSON(t *testing.T) {
	h := newTestHandler(t)

	rr := do(h, "POST", "/api/backtests", bytes.NewReader([]byte("{")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSubmitBadConfig(t *testing.T) {
	noInstruments := validRequest()
	noInstruments.Portfolio.Instruments = nil

	badFrequency := validRequest()
	badFrequency.Portfolio.Instruments[0].Frequency = "FORTNIGHTLY"

	badDate := validRequest()
	badDate.StartDate = "01/01/2023"

	tests := []struct {
		name string
		req  BacktestRequest
	}{
		{"no instruments", noInstruments},
		{"bad frequency", badFrequency},
		{"bad date format", badDate},
	}
	h := newTestHandler(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(t, h, "/api/backtests", tt.req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, http.StatusBadRequest, rr.Body.String())
			}
		})
	}
}

func TestRunNotFound(t *testing.T) {
	h := newTestHandler(t)

	for _, path := range []string{
		"/api/backtests/no-such-run",
		"/api/backtests/no-such-run/result",
	} {
		rr := do(h, "GET", path, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, rr.Code, http.StatusNotFound)
		}
	}
}

func TestResultNotReady(t *testing.T) {
	eng := &blockingEngine{release: make(chan struct{})}
	m := runner.NewManager(eng, nil, 1)
	h := NewServer(m, pricing.NewResolver(nil, nil, 2)).Handler()

	id := submitRun(t, h, validRequest())
	rr := do(h, "GET", "/api/backtests/"+id+"/result", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("result status = %d, want %d", rr.Code, http.StatusConflict)
	}

	close(eng.release)
	m.Close()
}

func TestResultForFailedRun(t *testing.T) {
	eng := &failingEngine{err: errors.New("price source exploded")}
	m := runner.NewManager(eng, nil, 1)
	t.Cleanup(m.Close)
	h := NewServer(m, pricing.NewResolver(nil, nil, 2)).Handler()

	id := submitRun(t, h, validRequest())
	waitStatus(t, h, id, runner.StatusFailed)

	rr := do(h, "GET", "/api/backtests/"+id+"/result", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("result status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("price source exploded")) {
		t.Errorf("error body %q does not mention the run error", rr.Body.String())
	}
}

func TestListRuns(t *testing.T) {
	h := newTestHandler(t)

	id := submitRun(t, h, validRequest())
	waitStatus(t, h, id, runner.StatusSucceeded)

	rr := do(h, "GET", "/api/backtests", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", rr.Code, rr.Body.String())
	}
	var runs []RunSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("list has %d runs, want 1", len(runs))
	}
	if runs[0].RunID != id {
		t.Errorf("run_id = %q, want %q", runs[0].RunID, id)
	}
}

func TestPricesEndpoint(t *testing.T) {
	h := newTestHandler(t)

	rr := do(h, "GET", "/api/prices/spy?start=2023-01-02&end=2023-01-31&synthetic=true", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp PriceSeriesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Symbol != "SPY" {
		t.Errorf("symbol = %q, want SPY", resp.Symbol)
	}
	if resp.Provenance != string(pricing.ProvenanceSynthetic) {
		t.Errorf("provenance = %q, want %q", resp.Provenance, pricing.ProvenanceSynthetic)
	}
	// 2023-01-02 through 2023-01-31 spans 22 weekdays.
	if len(resp.Points) != 22 {
		t.Errorf("series has %d points, want 22", len(resp.Points))
	}
	if len(resp.Points) > 0 && !resp.Points[0].Close.Equal(decimal.NewFromInt(400)) {
		t.Errorf("first close = %s, want 400", resp.Points[0].Close)
	}
}

func TestPricesBadDates(t *testing.T) {
	h := newTestHandler(t)

	for _, path := range []string{
		"/api/prices/SPY?start=2023-13-01&end=2023-01-31",
		"/api/prices/SPY?start=2023-01-01",
		"/api/prices/SPY?start=2023-02-01&end=2023-01-01",
	} {
		rr := do(h, "GET", path, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want %d", path, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t)

	rr := do(h, "OPTIONS", "/api/backtests", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf(`Allow-Origin = %q, want "*"`, got)
	}
}
