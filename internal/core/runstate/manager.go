package runstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
)

var (
	// ErrCursorGap is returned when an item is recorded out of order.
	ErrCursorGap = errors.New("item out of cursor order")

	// ErrRunNotActive is returned when recording progress on a run that is not processing.
	ErrRunNotActive = errors.New("run is not processing")
)

// Manager handles run operations with state machine enforcement.
type Manager interface {
	// Create persists a new run in the pending_purge state.
	Create(ctx context.Context, triggeredBy string) (*domain.Run, error)

	// Get retrieves a run by id.
	Get(ctx context.Context, id string) (*domain.Run, error)

	// List returns recent runs, newest first.
	List(ctx context.Context, limit int) ([]*domain.Run, error)

	// Active returns runs that have not reached a terminal state.
	Active(ctx context.Context) ([]*domain.Run, error)

	// Items returns the run's persisted snapshot.
	Items(ctx context.Context, id string) ([]domain.RunItem, error)

	// SetState transitions a run to a new state (validates transition).
	SetState(ctx context.Context, id string, newState State, reason string) error

	// RecordSnapshot stores the item list and moves the run to processing.
	RecordSnapshot(ctx context.Context, id string, items []domain.RunItem) error

	// Advance records a classified item and moves the cursor past it.
	Advance(ctx context.Context, id string, seq int, analysis *domain.Analysis, attempts int) error

	// Skip records a failed item and moves the cursor past it.
	Skip(ctx context.Context, id string, seq int, attempts int, cause error) error

	// Fail moves a non-terminal run to failed.
	Fail(ctx context.Context, id string, cause error) error

	// GetMetrics returns throughput metrics for a run handled by this process.
	GetMetrics(id string) Metrics

	// SetStateChangeCallback registers callback for state changes.
	SetStateChangeCallback(fn func(runID string, t Transition))
}

// DefaultManager implements Manager with state machine enforcement.
type DefaultManager struct {
	repo          storage.RunRepository
	mu            sync.RWMutex
	stateCallback func(string, Transition)
	itemHistory   map[string]*MetricsCollector
}

// Create persists a new run in the pending_purge state.
func (m *DefaultManager) Create(ctx context.Context, triggeredBy string) (*domain.Run, error) {
	now := time.Now()
	run := &domain.Run{
		ID:          uuid.New().String(),
		TriggeredBy: triggeredBy,
		State:       domain.RunStatePendingPurge,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	m.mu.Lock()
	m.itemHistory[run.ID] = NewMetricsCollector(100)
	m.mu.Unlock()

	return run, nil
}

// Get retrieves a run by id.
func (m *DefaultManager) Get(ctx context.Context, id string) (*domain.Run, error) {
	return m.repo.Get(ctx, id)
}

// List returns recent runs, newest first.
func (m *DefaultManager) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	return m.repo.List(ctx, limit)
}

// Active returns runs that have not reached a terminal state.
func (m *DefaultManager) Active(ctx context.Context) ([]*domain.Run, error) {
	return m.repo.ListActive(ctx)
}

// Items returns the run's persisted snapshot.
func (m *DefaultManager) Items(ctx context.Context, id string) ([]domain.RunItem, error) {
	return m.repo.Items(ctx, id)
}

// SetState transitions a run to a new state.
func (m *DefaultManager) SetState(ctx context.Context, id string, newState State, reason string) error {
	run, err := m.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	if !CanTransition(run.State, newState) {
		return fmt.Errorf(
			"%w: cannot transition from %s to %s",
			ErrInvalidTransition,
			run.State,
			newState,
		)
	}

	lastError := ""
	if newState == domain.RunStateFailed {
		lastError = reason
	}
	if err := m.repo.UpdateState(ctx, id, run.State, newState, lastError); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	m.recordTransition(id, NewTransition(run.State, newState, reason))
	return nil
}

// RecordSnapshot stores the item list and moves the run to processing.
func (m *DefaultManager) RecordSnapshot(ctx context.Context, id string, items []domain.RunItem) error {
	run, err := m.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	if !CanTransition(run.State, domain.RunStateProcessing) {
		return fmt.Errorf(
			"%w: cannot record snapshot in state %s",
			ErrInvalidTransition,
			run.State,
		)
	}

	for i := range items {
		items[i].Seq = i
		items[i].Status = domain.ItemStatusPending
	}

	if err := m.repo.SaveSnapshot(ctx, id, items); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	m.recordTransition(id, NewTransition(
		run.State,
		domain.RunStateProcessing,
		fmt.Sprintf("snapshot of %d items", len(items)),
	))
	return nil
}

// Advance records a classified item and moves the cursor past it.
func (m *DefaultManager) Advance(
	ctx context.Context,
	id string,
	seq int,
	analysis *domain.Analysis,
	attempts int,
) error {
	run, err := m.checkCursor(ctx, id, seq)
	if err != nil || run == nil {
		return err
	}

	if err := m.repo.CompleteItem(ctx, id, seq, analysis, attempts); err != nil {
		if errors.Is(err, storage.ErrStateConflict) {
			return fmt.Errorf("%w: item %d: %w", ErrCursorGap, seq, err)
		}
		return fmt.Errorf("failed to complete item: %w", err)
	}

	m.recordItem(id, seq)
	return nil
}

// Skip records a failed item and moves the cursor past it.
func (m *DefaultManager) Skip(ctx context.Context, id string, seq int, attempts int, cause error) error {
	run, err := m.checkCursor(ctx, id, seq)
	if err != nil || run == nil {
		return err
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := m.repo.FailItem(ctx, id, seq, attempts, msg); err != nil {
		if errors.Is(err, storage.ErrStateConflict) {
			return fmt.Errorf("%w: item %d: %w", ErrCursorGap, seq, err)
		}
		return fmt.Errorf("failed to record item failure: %w", err)
	}

	m.recordItem(id, seq)
	return nil
}

// checkCursor validates that seq is the next item of a processing run.
// It returns a nil run with no error when seq was already recorded.
func (m *DefaultManager) checkCursor(ctx context.Context, id string, seq int) (*domain.Run, error) {
	run, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if run.State != domain.RunStateProcessing {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunNotActive, id, run.State)
	}

	// Already recorded (resumed unit whose commit landed). Treat as success.
	if seq < run.Cursor {
		return nil, nil
	}

	if seq != run.Cursor {
		return nil, fmt.Errorf("%w: expected item %d, got %d", ErrCursorGap, run.Cursor, seq)
	}
	return run, nil
}

// Fail moves a non-terminal run to failed.
func (m *DefaultManager) Fail(ctx context.Context, id string, cause error) error {
	reason := "failed"
	if cause != nil {
		reason = cause.Error()
	}
	return m.SetState(ctx, id, domain.RunStateFailed, reason)
}

// GetMetrics returns throughput metrics for a run.
func (m *DefaultManager) GetMetrics(id string) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if collector, ok := m.itemHistory[id]; ok {
		return collector.GetMetrics()
	}

	return Metrics{}
}

// SetStateChangeCallback registers a callback for state changes.
func (m *DefaultManager) SetStateChangeCallback(fn func(runID string, t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}

func (m *DefaultManager) recordItem(id string, seq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collector(id).RecordItem(seq, time.Now())
}

func (m *DefaultManager) recordTransition(id string, t Transition) {
	m.mu.Lock()
	callback := m.stateCallback
	if t.To.Terminal() {
		// Terminal runs no longer need throughput tracking.
		delete(m.itemHistory, id)
	}
	m.mu.Unlock()

	if callback != nil {
		callback(id, t)
	}
}

// collector must be called with mu held.
func (m *DefaultManager) collector(id string) *MetricsCollector {
	c, ok := m.itemHistory[id]
	if !ok {
		c = NewMetricsCollector(100)
		m.itemHistory[id] = c
	}
	return c
}
