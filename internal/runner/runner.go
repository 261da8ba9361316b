// Package runner dispatches backtests as asynchronous units of work,
// tracks their lifecycle, and persists finished runs.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"accrue/internal/domain"
	"accrue/internal/store"
)

// Run lifecycle states.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// ErrShutDown is returned by Submit after Close.
var ErrShutDown = errors.New("runner is shut down")

// ErrQueueFull is returned by Submit when the run queue has no room.
var ErrQueueFull = errors.New("run queue is full")

// ErrRunNotFinished is returned by Result while the run is still pending
// or running.
var ErrRunNotFinished = errors.New("run not finished")

// Engine runs one backtest synchronously. *backtest.Engine satisfies it.
type Engine interface {
	Run(ctx context.Context, p domain.Portfolio, from, to domain.Date, forceSynthetic bool) (*domain.Result, error)
}

// Manager owns the run queue: Submit validates a request up front, assigns
// it an id, and hands it to a bounded worker pool. Terminal states are
// persisted to the run store when one is configured.
type Manager struct {
	engine Engine
	store  store.RunStore
	log    *slog.Logger

	mu     sync.Mutex
	runs   map[string]*store.RunRecord
	closed bool

	jobs chan job
	wg   sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

type job struct {
	id    string
	p     domain.Portfolio
	from  domain.Date
	to    domain.Date
	force bool
}

// NewManager creates a Manager running at most workers backtests at once.
// st may be nil, which keeps run state in memory only.
func NewManager(engine Engine, st store.RunStore, workers int) *Manager {
	if workers <= 0 {
		workers = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		engine:  engine,
		store:   st,
		log:     slog.Default().With("component", "runner"),
		runs:    make(map[string]*store.RunRecord),
		jobs:    make(chan job, 256),
		baseCtx: ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for j := range m.jobs {
		m.execute(j)
	}
}

// Submit validates the request synchronously and queues the run, returning
// its id. Malformed configurations fail here, before any run exists.
// forceSynthetic makes this run price everything from the generator.
func (m *Manager) Submit(ctx context.Context, p domain.Portfolio, from, to domain.Date, forceSynthetic bool) (string, error) {
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return "", err
	}
	if err := domain.ValidateWindow(from, to); err != nil {
		return "", err
	}

	id := uuid.NewString()
	rec := &store.RunRecord{
		ID:            id,
		PortfolioName: p.Name,
		Start:         from,
		End:           to,
		Status:        StatusPending,
		SubmittedAt:   time.Now().UTC(),
	}

	// The record must be registered before the job is visible to a worker,
	// and the send stays under the lock so Close cannot race it.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrShutDown
	}
	m.runs[id] = rec
	select {
	case m.jobs <- job{id: id, p: p, from: from, to: to, force: forceSynthetic}:
	default:
		delete(m.runs, id)
		m.mu.Unlock()
		return "", ErrQueueFull
	}
	snapshot := *rec
	m.mu.Unlock()

	m.persist(ctx, &snapshot)
	m.log.Info("run queued", "id", id, "portfolio", p.Name, "from", from, "to", to)
	return id, nil
}

func (m *Manager) execute(j job) {
	m.transition(j.id, func(rec *store.RunRecord) {
		rec.Status = StatusRunning
		rec.StartedAt = time.Now().UTC()
	})

	res, err := m.engine.Run(m.baseCtx, j.p, j.from, j.to, j.force)
	if err != nil {
		m.log.Error("run failed", "id", j.id, "err", err)
		m.transition(j.id, func(rec *store.RunRecord) {
			rec.Status = StatusFailed
			rec.Error = err.Error()
			rec.FinishedAt = time.Now().UTC()
		})
		return
	}

	m.transition(j.id, func(rec *store.RunRecord) {
		rec.Status = StatusSucceeded
		rec.Result = res
		rec.FinishedAt = time.Now().UTC()
	})
	m.log.Info("run succeeded", "id", j.id, "trades", len(res.Ledger), "warnings", len(res.Warnings))
}

// transition mutates a run under the lock and persists a snapshot of it.
func (m *Manager) transition(id string, mutate func(*store.RunRecord)) {
	m.mu.Lock()
	rec, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	mutate(rec)
	snapshot := *rec
	m.mu.Unlock()

	m.persist(context.Background(), &snapshot)
}

func (m *Manager) persist(ctx context.Context, rec *store.RunRecord) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRun(ctx, rec); err != nil {
		m.log.Error("persisting run failed", "id", rec.ID, "status", rec.Status, "err", err)
	}
}

// Get returns the current state of a run, checking live runs first and the
// run store second, so finished runs survive process restarts.
func (m *Manager) Get(ctx context.Context, id string) (*store.RunRecord, error) {
	m.mu.Lock()
	if rec, ok := m.runs[id]; ok {
		snapshot := *rec
		m.mu.Unlock()
		return &snapshot, nil
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil, domain.ErrRunNotFound
	}
	return m.store.GetRun(ctx, id)
}

// Result returns a finished run's payload. It returns ErrRunNotFound for
// unknown ids, ErrRunNotFinished while the run is in flight, and the run's
// own error when it failed.
func (m *Manager) Result(ctx context.Context, id string) (*domain.Result, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case StatusSucceeded:
		return rec.Result, nil
	case StatusFailed:
		return nil, errors.New(rec.Error)
	default:
		return nil, ErrRunNotFinished
	}
}

// List returns run summaries, newest first, without result payloads.
func (m *Manager) List(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if m.store != nil {
		return m.store.ListRuns(ctx, limit)
	}
	if limit <= 0 {
		limit = 50
	}

	m.mu.Lock()
	out := make([]store.RunRecord, 0, len(m.runs))
	for _, rec := range m.runs {
		snapshot := *rec
		snapshot.Result = nil
		out = append(out, snapshot)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close stops accepting submissions and waits for queued runs to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()

	m.wg.Wait()
	m.cancel()
}
