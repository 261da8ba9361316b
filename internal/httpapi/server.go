package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"accrue/internal/domain"
	"accrue/internal/pricing"
	"accrue/internal/runner"
)

// Server serves the backtest REST API.
type Server struct {
	runs     *runner.Manager
	resolver *pricing.Resolver
	log      *slog.Logger
}

// NewServer creates a Server over the given run manager and price resolver.
func NewServer(runs *runner.Manager, resolver *pricing.Resolver) *Server {
	return &Server{
		runs:     runs,
		resolver: resolver,
		log:      slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/backtests", s.handleSubmit)
	mux.HandleFunc("GET /api/backtests", s.handleList)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/backtests/{id}/result", s.handleResult)
	mux.HandleFunc("GET /api/prices/{symbol}", s.handlePrices)
	mux.HandleFunc("GET /api/healthz", s.handleHealthz)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeSubmitError maps submission failures onto status codes.
func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsConfigError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, runner.ErrQueueFull), errors.Is(err, runner.ErrShutDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseLimit extracts the "limit" query param, defaulting to 50.
func parseLimit(r *http.Request) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 50
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 500 {
		return 50
	}
	return n
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}

	p, from, to, err := req.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.runs.Submit(r.Context(), p, from, to, req.ForceSynthetic)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, SubmitResponse{RunID: id, Status: runner.StatusPending})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List(r.Context(), parseLimit(r))
	if err != nil {
		s.log.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}

	out := make([]RunSummary, len(runs))
	for i := range runs {
		out[i] = runSummary(&runs[i])
	}
	writeJSON(w, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.log.Error("fetching run", "error", err)
		writeError(w, http.StatusInternalServerError, "fetching run failed")
		return
	}
	writeJSON(w, runSummary(rec))
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.log.Error("fetching run", "error", err)
		writeError(w, http.StatusInternalServerError, "fetching run failed")
		return
	}

	switch rec.Status {
	case runner.StatusSucceeded:
		if rec.Result == nil {
			writeError(w, http.StatusInternalServerError, "run succeeded but its result is missing")
			return
		}
		writeJSON(w, ResultResponse{
			RunID:  rec.ID,
			Status: rec.Status,
			Result: nonNullResult(rec.Result),
		})
	case runner.StatusFailed:
		writeError(w, http.StatusInternalServerError, rec.Error)
	default:
		writeError(w, http.StatusConflict,
			fmt.Sprintf("run is %s, result not ready", rec.Status))
	}
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	q := r.URL.Query()

	from, err := domain.ParseDate(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad start date %q", q.Get("start")))
		return
	}
	to, err := domain.ParseDate(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad end date %q", q.Get("end")))
		return
	}
	force, _ := strconv.ParseBool(q.Get("synthetic"))

	set, err := s.resolver.Resolve(r.Context(), []string{symbol}, from, to, force)
	if err != nil {
		if domain.IsConfigError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("resolving prices", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "resolving prices failed")
		return
	}

	prov, filled := set.Provenance(symbol)
	points := set.Points(symbol)
	if points == nil {
		points = []domain.PricePoint{}
	}
	writeJSON(w, PriceSeriesResponse{
		Symbol:     symbol,
		StartDate:  from.String(),
		EndDate:    to.String(),
		Provenance: string(prov),
		Filled:     filled,
		Points:     points,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}
