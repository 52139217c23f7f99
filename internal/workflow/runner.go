// Package workflow runs the batch classification pipeline.
//
// A run moves through pending_purge, snapshotting and processing before it
// completes or fails. Each step is persisted before the next begins, so a run
// interrupted at any point resumes from its last recorded state:
//
//	pending_purge -> snapshotting -> processing(cursor) -> completed
//	      \               \               \
//	       `---------------`---------------`-----> failed
//
// Every unit (the purge, the snapshot and each item) runs under the
// configured retry.Policy.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/triage/internal/classifier"
	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/core/retry"
	"github.com/vietddude/triage/internal/core/runstate"
	"github.com/vietddude/triage/internal/infra/storage"
	"github.com/vietddude/triage/internal/metrics"
)

// ErrRunFailed is returned when executing a run that already failed.
var ErrRunFailed = errors.New("run failed")

// FailurePolicy decides what happens to a run when an item exhausts its retries.
type FailurePolicy string

const (
	// FailureAbort fails the whole run.
	FailureAbort FailurePolicy = "abort"
	// FailureSkip records the item as failed and continues.
	FailureSkip FailurePolicy = "skip"
)

// ParseFailurePolicy maps a configured value to a FailurePolicy. Empty means abort.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailureAbort:
		return FailureAbort, nil
	case FailureSkip:
		return FailureSkip, nil
	default:
		return "", fmt.Errorf("unknown item failure policy %q (supported: abort, skip)", s)
	}
}

// Runner drives runs through their state machine.
type Runner struct {
	runs       runstate.Manager
	feedback   storage.FeedbackRepository
	analysis   storage.AnalysisRepository
	classifier classifier.Provider
	exec       *retry.Executor
	onFailure  FailurePolicy
}

// RunnerConfig holds the runner dependencies.
type RunnerConfig struct {
	Runs       runstate.Manager
	Feedback   storage.FeedbackRepository
	Analysis   storage.AnalysisRepository
	Classifier classifier.Provider
	Policy     retry.Policy
	OnFailure  FailurePolicy
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	exec := retry.NewExecutor(cfg.Policy)
	exec.OnRetry(func(attempt int, err error, delay time.Duration) {
		slog.Warn("Workflow unit failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.Policy.MaxAttempts,
			"delay", delay,
			"error", err,
		)
	})

	onFailure := cfg.OnFailure
	if onFailure == "" {
		onFailure = FailureAbort
	}

	return &Runner{
		runs:       cfg.Runs,
		feedback:   cfg.Feedback,
		analysis:   cfg.Analysis,
		classifier: cfg.Classifier,
		exec:       exec,
		onFailure:  onFailure,
	}
}

// Execute advances the run until it reaches a terminal state and returns the
// completion report. If ctx is cancelled the run keeps its persisted state and
// a later Execute resumes it.
func (r *Runner) Execute(ctx context.Context, runID string) (*domain.RunResult, error) {
	for {
		run, err := r.runs.Get(ctx, runID)
		if err != nil {
			return nil, err
		}

		switch run.State {
		case domain.RunStatePendingPurge:
			err = r.purge(ctx, run)
		case domain.RunStateSnapshotting:
			err = r.snapshot(ctx, run)
		case domain.RunStateProcessing:
			err = r.process(ctx, run)
		case domain.RunStateCompleted:
			return r.Result(ctx, run)
		case domain.RunStateFailed:
			return nil, fmt.Errorf("%w: %s", ErrRunFailed, run.Error)
		default:
			return nil, fmt.Errorf("run %s has unknown state %q", run.ID, run.State)
		}
		if err != nil {
			return nil, err
		}
	}
}

// Result builds the completion report of a completed run.
func (r *Runner) Result(ctx context.Context, run *domain.Run) (*domain.RunResult, error) {
	if run.State != domain.RunStateCompleted {
		return nil, fmt.Errorf("run %s is %s, not completed", run.ID, run.State)
	}

	result := &domain.RunResult{
		Success:     true,
		Processed:   run.Total,
		Failed:      run.Failed,
		TriggeredBy: run.TriggeredBy,
		CompletedAt: run.UpdatedAt,
	}
	if run.CompletedAt != nil {
		result.CompletedAt = *run.CompletedAt
	}

	if run.Failed > 0 {
		items, err := r.runs.Items(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if it.Status == domain.ItemStatusFailed {
				result.FailedItems = append(result.FailedItems, it.FeedbackID)
			}
		}
	}
	return result, nil
}

func (r *Runner) purge(ctx context.Context, run *domain.Run) error {
	var purged int64
	_, err := r.exec.Do(ctx, func(ctx context.Context, attempt int) error {
		n, err := r.analysis.Purge(ctx)
		purged = n
		return err
	})
	if err != nil {
		return r.failRun(ctx, run.ID, "purge", err)
	}

	slog.Info("Purged previous analysis", "run", run.ID, "rows", purged)
	return r.runs.SetState(ctx, run.ID, domain.RunStateSnapshotting, fmt.Sprintf("purged %d rows", purged))
}

func (r *Runner) snapshot(ctx context.Context, run *domain.Run) error {
	var total int
	_, err := r.exec.Do(ctx, func(ctx context.Context, attempt int) error {
		items, err := r.feedback.Snapshot(ctx)
		if err != nil {
			return err
		}
		if err := r.runs.RecordSnapshot(ctx, run.ID, items); err != nil {
			if errors.Is(err, runstate.ErrInvalidTransition) {
				return retry.Permanent(err)
			}
			return err
		}
		total = len(items)
		return nil
	})
	if err != nil {
		return r.failRun(ctx, run.ID, "snapshot", err)
	}

	slog.Info("Snapshot recorded", "run", run.ID, "items", total)
	return nil
}

func (r *Runner) process(ctx context.Context, run *domain.Run) error {
	items, err := r.runs.Items(ctx, run.ID)
	if err != nil {
		return err
	}
	if run.Cursor > 0 {
		slog.Info("Resuming run", "run", run.ID, "cursor", run.Cursor, "total", len(items))
	}

	for seq := run.Cursor; seq < len(items); seq++ {
		item := items[seq]

		attempts, err := r.exec.Do(ctx, func(ctx context.Context, attempt int) error {
			return r.classifyAndStore(ctx, run.ID, item, attempt)
		})
		metrics.WorkflowUnitAttempts.Observe(float64(attempts))
		if err == nil {
			metrics.WorkflowItemsTotal.WithLabelValues("classified").Inc()
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		unitErr := fmt.Errorf("item %d (feedback %d): %w", seq, item.FeedbackID, err)
		if errors.Is(err, retry.ErrExhausted) {
			unitErr = fmt.Errorf("%w: %w", domain.ErrClassifierUnitExhausted, unitErr)
		}
		metrics.WorkflowItemsTotal.WithLabelValues("failed").Inc()

		if r.onFailure == FailureSkip && !errors.Is(err, runstate.ErrRunNotActive) {
			slog.Warn("Skipping item", "run", run.ID, "seq", seq, "feedback_id", item.FeedbackID, "error", err)
			if err := r.runs.Skip(ctx, run.ID, seq, attempts, unitErr); err != nil {
				return err
			}
			continue
		}
		return r.failRun(ctx, run.ID, "classify", unitErr)
	}

	if err := r.runs.SetState(ctx, run.ID, domain.RunStateCompleted, fmt.Sprintf("processed %d items", len(items))); err != nil {
		return err
	}
	metrics.WorkflowRunsTotal.WithLabelValues(string(domain.RunStateCompleted)).Inc()
	slog.Info("Run completed", "run", run.ID, "items", len(items))
	return nil
}

// classifyAndStore is one attempt of an item unit. Nothing is written unless the
// classifier output normalizes to valid labels.
func (r *Runner) classifyAndStore(ctx context.Context, runID string, item domain.RunItem, attempt int) error {
	out, err := r.classifier.Classify(ctx, item.Source, item.Text)
	if err != nil {
		return err
	}
	labels, err := classifier.Normalize(out)
	if err != nil {
		return err
	}

	err = r.runs.Advance(ctx, runID, item.Seq, &domain.Analysis{
		FeedbackID: item.FeedbackID,
		Category:   labels.Category,
		Sentiment:  labels.Sentiment,
		Urgency:    labels.Urgency,
	}, attempt)
	if errors.Is(err, runstate.ErrRunNotActive) || errors.Is(err, runstate.ErrCursorGap) {
		return retry.Permanent(err)
	}
	return err
}

// failRun marks the run failed unless ctx was cancelled, in which case the run
// is left as is for a later resume.
func (r *Runner) failRun(ctx context.Context, runID, step string, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	err := fmt.Errorf("%s: %w", step, cause)
	slog.Error("Run failed", "run", runID, "step", step, "error", cause)

	if ferr := r.runs.Fail(ctx, runID, err); ferr != nil {
		if errors.Is(ferr, runstate.ErrInvalidTransition) {
			// Already terminal, e.g. abandoned by an operator.
			return err
		}
		return errors.Join(err, ferr)
	}
	metrics.WorkflowRunsTotal.WithLabelValues(string(domain.RunStateFailed)).Inc()
	return err
}
