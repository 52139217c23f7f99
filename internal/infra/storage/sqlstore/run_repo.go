package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
)

// RunRepo implements storage.RunRepository. Timestamps are stored as unix millis.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new SQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

const runColumns = `id, triggered_by, state, item_cursor, total, processed, failed, last_error,
	created_at, updated_at, completed_at`

type runRow struct {
	ID          string        `db:"id"`
	TriggeredBy string        `db:"triggered_by"`
	State       string        `db:"state"`
	Cursor      int           `db:"item_cursor"`
	Total       int           `db:"total"`
	Processed   int           `db:"processed"`
	Failed      int           `db:"failed"`
	LastError   string        `db:"last_error"`
	CreatedAt   int64         `db:"created_at"`
	UpdatedAt   int64         `db:"updated_at"`
	CompletedAt sql.NullInt64 `db:"completed_at"`
}

func (row runRow) toDomain() *domain.Run {
	run := &domain.Run{
		ID:          row.ID,
		TriggeredBy: row.TriggeredBy,
		State:       domain.RunState(row.State),
		Cursor:      row.Cursor,
		Total:       row.Total,
		Processed:   row.Processed,
		Failed:      row.Failed,
		Error:       row.LastError,
		CreatedAt:   time.UnixMilli(row.CreatedAt),
		UpdatedAt:   time.UnixMilli(row.UpdatedAt),
	}
	if row.CompletedAt.Valid {
		t := time.UnixMilli(row.CompletedAt.Int64)
		run.CompletedAt = &t
	}
	return run
}

// Create saves a new run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	query := r.db.Rebind(`
		INSERT INTO workflow_runs (id, triggered_by, state, item_cursor, total, processed, failed, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.TriggeredBy,
		string(run.State),
		run.Cursor,
		run.Total,
		run.Processed,
		run.Failed,
		run.Error,
		run.CreatedAt.UnixMilli(),
		run.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create run: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves a run by id.
func (r *RunRepo) Get(ctx context.Context, id string) (*domain.Run, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get run: %w", domain.ErrStoreUnavailable, err)
	}
	return row.toDomain(), nil
}

// List returns the most recent runs first. A limit of zero returns all runs.
func (r *RunRepo) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.selectRuns(ctx, r.db.Rebind(query), args...)
}

// ListActive returns runs not yet in a terminal state, oldest first.
func (r *RunRepo) ListActive(ctx context.Context) ([]*domain.Run, error) {
	query := r.db.Rebind(`SELECT ` + runColumns + ` FROM workflow_runs
		WHERE state NOT IN (?, ?) ORDER BY created_at ASC, id ASC`)
	return r.selectRuns(ctx, query, string(domain.RunStateCompleted), string(domain.RunStateFailed))
}

func (r *RunRepo) selectRuns(ctx context.Context, query string, args ...any) ([]*domain.Run, error) {
	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: failed to list runs: %w", domain.ErrStoreUnavailable, err)
	}
	out := make([]*domain.Run, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// UpdateState moves a run from one state to another. It fails with
// storage.ErrStateConflict if the run is no longer in from.
func (r *RunRepo) UpdateState(ctx context.Context, id string, from, to domain.RunState, lastError string) error {
	return r.inTx(ctx, id, func(uow *UnitOfWork) error {
		return uow.SetState(ctx, id, from, to, lastError)
	})
}

// SaveSnapshot replaces the run's items and moves it from snapshotting to processing.
func (r *RunRepo) SaveSnapshot(ctx context.Context, id string, items []domain.RunItem) error {
	return r.inTx(ctx, id, func(uow *UnitOfWork) error {
		if err := uow.SetState(ctx, id, domain.RunStateSnapshotting, domain.RunStateProcessing, ""); err != nil {
			return err
		}
		if err := uow.ReplaceItems(ctx, id, items); err != nil {
			return err
		}
		return uow.StartProcessing(ctx, id, len(items))
	})
}

// Items returns the run's snapshot ordered by position.
func (r *RunRepo) Items(ctx context.Context, id string) ([]domain.RunItem, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	var rows []struct {
		Seq        int    `db:"seq"`
		FeedbackID int64  `db:"feedback_id"`
		Source     string `db:"source"`
		Text       string `db:"text"`
		Status     string `db:"status"`
		Attempts   int    `db:"attempts"`
		LastError  string `db:"last_error"`
	}
	query := r.db.Rebind(`SELECT seq, feedback_id, source, text, status, attempts, last_error
		FROM workflow_run_items WHERE run_id = ? ORDER BY seq`)
	if err := r.db.SelectContext(ctx, &rows, query, id); err != nil {
		return nil, fmt.Errorf("%w: failed to list run items: %w", domain.ErrStoreUnavailable, err)
	}

	items := make([]domain.RunItem, len(rows))
	for i, row := range rows {
		items[i] = domain.RunItem{
			Seq:        row.Seq,
			FeedbackID: row.FeedbackID,
			Source:     row.Source,
			Text:       row.Text,
			Status:     domain.ItemStatus(row.Status),
			Attempts:   row.Attempts,
			Error:      row.LastError,
		}
	}
	return items, nil
}

// CompleteItem stores the analysis, marks the item done and advances the cursor
// in one transaction.
func (r *RunRepo) CompleteItem(ctx context.Context, id string, seq int, analysis *domain.Analysis, attempts int) error {
	return r.inTx(ctx, id, func(uow *UnitOfWork) error {
		if err := uow.AdvanceCursor(ctx, id, seq, false); err != nil {
			return err
		}
		if err := uow.InsertAnalysis(ctx, analysis); err != nil {
			return err
		}
		return uow.MarkItem(ctx, id, seq, domain.ItemStatusDone, attempts, "")
	})
}

// FailItem marks the item failed and advances the cursor in one transaction.
func (r *RunRepo) FailItem(ctx context.Context, id string, seq int, attempts int, lastError string) error {
	return r.inTx(ctx, id, func(uow *UnitOfWork) error {
		if err := uow.AdvanceCursor(ctx, id, seq, true); err != nil {
			return err
		}
		return uow.MarkItem(ctx, id, seq, domain.ItemStatusFailed, attempts, lastError)
	})
}

// DeleteFinishedBefore removes terminal runs completed before the given time.
func (r *RunRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = uow.Rollback()
	}()

	cutoff := before.UnixMilli()
	// Items first; not every dialect enforces the cascade.
	_, err = uow.tx.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM workflow_run_items WHERE run_id IN (
			SELECT id FROM workflow_runs WHERE completed_at IS NOT NULL AND completed_at < ?
		)`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete run items: %w", err)
	}

	res, err := uow.tx.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM workflow_runs WHERE completed_at IS NOT NULL AND completed_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run cleanup: %w", err)
	}
	return n, nil
}

// inTx runs fn in a unit of work. A conflict on a missing run is reported as not found.
func (r *RunRepo) inTx(ctx context.Context, id string, fn func(uow *UnitOfWork) error) error {
	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	defer func() {
		_ = uow.Rollback()
	}()

	if err := fn(uow); err != nil {
		if errors.Is(err, storage.ErrStateConflict) {
			_ = uow.Rollback()
			if _, getErr := r.Get(ctx, id); errors.Is(getErr, storage.ErrRunNotFound) {
				return getErr
			}
		}
		return err
	}
	return uow.Commit()
}
