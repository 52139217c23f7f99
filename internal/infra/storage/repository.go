package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/triage/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a run doesn't exist
	ErrRunNotFound = domain.ErrRunNotFound

	// ErrStateConflict is returned when a guarded state or cursor update matched no row
	ErrStateConflict = errors.New("run state changed concurrently")
)

// FeedbackFilter narrows a feedback listing
type FeedbackFilter struct {
	Source string
}

// FeedbackRepository handles feedback storage operations
type FeedbackRepository interface {
	// List returns feedback newest first, each joined with its analysis
	List(ctx context.Context, filter FeedbackFilter) ([]*domain.Feedback, error)

	// Snapshot returns every feedback item ordered by id ascending
	Snapshot(ctx context.Context) ([]domain.RunItem, error)

	// Create stores a new feedback record
	Create(ctx context.Context, source, text string) (*domain.Feedback, error)

	// Stats returns grouped counts by source, category, sentiment and urgency
	Stats(ctx context.Context) (*domain.Stats, error)
}

// AnalysisRepository handles classifier results
type AnalysisRepository interface {
	// Purge deletes every analysis row
	Purge(ctx context.Context) (int64, error)

	// List returns all analysis rows ordered by feedback id
	List(ctx context.Context) ([]*domain.Analysis, error)
}

// RunRepository persists workflow runs and their snapshots
type RunRepository interface {
	// Create saves a new run
	Create(ctx context.Context, run *domain.Run) error

	// Get retrieves a run by id
	Get(ctx context.Context, id string) (*domain.Run, error)

	// List returns the most recent runs first
	List(ctx context.Context, limit int) ([]*domain.Run, error)

	// ListActive returns runs not yet in a terminal state, oldest first
	ListActive(ctx context.Context) ([]*domain.Run, error)

	// UpdateState moves a run from one state to another (guarded on from)
	UpdateState(ctx context.Context, id string, from, to domain.RunState, lastError string) error

	// SaveSnapshot replaces the run's items and moves it to processing
	SaveSnapshot(ctx context.Context, id string, items []domain.RunItem) error

	// Items returns the run's snapshot ordered by position
	Items(ctx context.Context, id string) ([]domain.RunItem, error)

	// CompleteItem stores the analysis, marks the item done and advances the cursor atomically
	CompleteItem(ctx context.Context, id string, seq int, analysis *domain.Analysis, attempts int) error

	// FailItem marks the item failed and advances the cursor atomically
	FailItem(ctx context.Context, id string, seq int, attempts int, lastError string) error

	// DeleteFinishedBefore removes terminal runs completed before the given time
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}
