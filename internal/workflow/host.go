package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/core/runstate"
)

// HostConfig controls how runs are started.
type HostConfig struct {
	// ResumeOnStart resumes every non-terminal run when the host starts.
	ResumeOnStart bool
	// Lock, when set, allows one run at a time. Trigger returns
	// domain.ErrRunInProgress while it is held.
	Lock Lock
}

type execution struct {
	done   chan struct{}
	result *domain.RunResult
	err    error
}

// Host starts runs in the background and reports their status.
type Host struct {
	runner *Runner
	runs   runstate.Manager
	cfg    HostConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*execution
}

// NewHost creates a host. Runs started by it are cancelled by Stop.
func NewHost(runner *Runner, runs runstate.Manager, cfg HostConfig) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		runner: runner,
		runs:   runs,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*execution),
	}
}

// Start resumes interrupted runs when configured to.
func (h *Host) Start(ctx context.Context) error {
	if !h.cfg.ResumeOnStart {
		return nil
	}

	active, err := h.runs.Active(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active runs: %w", err)
	}
	for _, run := range active {
		release, err := h.acquire(ctx)
		if err != nil {
			slog.Warn("Not resuming run", "run", run.ID, "state", run.State, "error", err)
			continue
		}
		slog.Info("Resuming run", "run", run.ID, "state", run.State, "cursor", run.Cursor)
		h.launch(run.ID, release)
	}
	return nil
}

// Trigger creates a run and starts it in the background.
func (h *Host) Trigger(ctx context.Context, triggeredBy string) (*Status, error) {
	if triggeredBy == "" {
		triggeredBy = "manual"
	}

	release, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}

	run, err := h.runs.Create(ctx, triggeredBy)
	if err != nil {
		release()
		return nil, err
	}

	slog.Info("Run triggered", "run", run.ID, "triggered_by", triggeredBy)
	h.launch(run.ID, release)
	return newStatus(run), nil
}

// Status reports the current status of a run. The output is included once
// the run is complete.
func (h *Host) Status(ctx context.Context, id string) (*Status, error) {
	if id == "" {
		return nil, domain.ErrMissingIdentifier
	}

	run, err := h.runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	st := newStatus(run).withThroughput(h.runs.GetMetrics(run.ID))
	if run.State == domain.RunStateCompleted {
		out, err := h.runner.Result(ctx, run)
		if err != nil {
			return nil, err
		}
		st.Output = out
	}
	return st, nil
}

// Wait blocks until a run started by this host finishes, then returns its status.
func (h *Host) Wait(ctx context.Context, id string) (*Status, error) {
	h.mu.Lock()
	ex, ok := h.active[id]
	h.mu.Unlock()

	if ok {
		select {
		case <-ex.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.Status(ctx, id)
}

// List returns recent runs, newest first.
func (h *Host) List(ctx context.Context, limit int) ([]*Status, error) {
	runs, err := h.runs.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Status, len(runs))
	for i, run := range runs {
		out[i] = newStatus(run).withThroughput(h.runs.GetMetrics(run.ID))
	}
	return out, nil
}

// Abandon fails a non-terminal run. A run still executing in this host stops
// at its next step boundary.
func (h *Host) Abandon(ctx context.Context, id, reason string) error {
	if id == "" {
		return domain.ErrMissingIdentifier
	}
	if reason == "" {
		reason = "abandoned"
	}
	return h.runs.Fail(ctx, id, errors.New(reason))
}

// Running returns the number of runs executing in this host.
func (h *Host) Running() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

// Stop cancels running runs and waits for them to exit. Cancelled runs keep
// their persisted state and resume on the next Start.
func (h *Host) Stop(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for runs to stop: %w", ctx.Err())
	}
}

func (h *Host) launch(id string, release func()) {
	ex := &execution{done: make(chan struct{})}

	h.mu.Lock()
	h.active[id] = ex
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ex.result, ex.err = h.runner.Execute(h.ctx, id)
		if ex.err != nil && !errors.Is(ex.err, context.Canceled) {
			slog.Error("Run ended with error", "run", id, "error", ex.err)
		}
		// The lock is free before waiters are woken.
		release()

		h.mu.Lock()
		delete(h.active, id)
		h.mu.Unlock()
		close(ex.done)
	}()
}

// acquire takes the run lock if one is configured and keeps it alive until
// the returned release func is called.
func (h *Host) acquire(ctx context.Context) (func(), error) {
	if h.cfg.Lock == nil {
		return func() {}, nil
	}

	owner := uuid.NewString()
	ok, err := h.cfg.Lock.Acquire(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrRunInProgress
	}

	stop := make(chan struct{})
	if l, ok := h.cfg.Lock.(leased); ok && l.TTL() > 0 {
		go h.keepAlive(owner, l.TTL()/3, stop)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.cfg.Lock.Release(ctx, owner); err != nil {
				slog.Warn("Failed to release run lock", "error", err)
			}
		})
	}, nil
}

func (h *Host) keepAlive(owner string, every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := h.cfg.Lock.Refresh(ctx, owner); err != nil {
				slog.Warn("Failed to refresh run lock", "error", err)
			}
			cancel()
		}
	}
}
