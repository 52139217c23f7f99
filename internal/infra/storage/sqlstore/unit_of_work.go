package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
)

// UnitOfWork bundles the writes of one workflow step into a single database
// transaction, ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	db *DB
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &UnitOfWork{db: db, tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// InsertAnalysis stores one analysis row. labeled_at is assigned by the database.
func (u *UnitOfWork) InsertAnalysis(ctx context.Context, a *domain.Analysis) error {
	_, err := u.tx.ExecContext(ctx, u.tx.Rebind(
		`INSERT INTO feedback_analysis (feedback_id, category, sentiment, urgency) VALUES (?, ?, ?, ?)`),
		a.FeedbackID, string(a.Category), string(a.Sentiment), string(a.Urgency),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	return nil
}

// MarkItem records the outcome of one snapshot item.
func (u *UnitOfWork) MarkItem(
	ctx context.Context,
	runID string,
	seq int,
	status domain.ItemStatus,
	attempts int,
	lastError string,
) error {
	res, err := u.tx.ExecContext(ctx, u.tx.Rebind(
		`UPDATE workflow_run_items SET status = ?, attempts = ?, last_error = ? WHERE run_id = ? AND seq = ?`),
		string(status), attempts, lastError, runID, seq,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return expectOne(res, "item %s/%d", runID, seq)
}

// AdvanceCursor moves the run cursor from seq to seq+1, counting the item as
// processed or failed. It matches no row unless the run is processing at seq.
func (u *UnitOfWork) AdvanceCursor(ctx context.Context, runID string, seq int, failed bool) error {
	counter := "processed"
	if failed {
		counter = "failed"
	}
	query := fmt.Sprintf(
		`UPDATE workflow_runs SET item_cursor = ?, %[1]s = %[1]s + 1, updated_at = ?
		 WHERE id = ? AND item_cursor = ? AND state = ?`, counter)

	res, err := u.tx.ExecContext(ctx, u.tx.Rebind(query),
		seq+1, time.Now().UnixMilli(), runID, seq, string(domain.RunStateProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	return expectOne(res, "run %s at item %d", runID, seq)
}

// ReplaceItems writes a run's snapshot, dropping any partial earlier attempt.
func (u *UnitOfWork) ReplaceItems(ctx context.Context, runID string, items []domain.RunItem) error {
	if _, err := u.tx.ExecContext(ctx, u.tx.Rebind(`DELETE FROM workflow_run_items WHERE run_id = ?`), runID); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}

	stmt, err := u.tx.PreparexContext(ctx, u.tx.Rebind(
		`INSERT INTO workflow_run_items (run_id, seq, feedback_id, source, text, status, attempts, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, 0, '')`))
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, runID, it.Seq, it.FeedbackID, it.Source, it.Text, string(domain.ItemStatusPending)); err != nil {
			return fmt.Errorf("failed to insert item %d: %w", it.Seq, err)
		}
	}
	return nil
}

// SetState moves the run from one state to another. A non-empty lastError is stored.
func (u *UnitOfWork) SetState(ctx context.Context, runID string, from, to domain.RunState, lastError string) error {
	now := time.Now().UnixMilli()
	var completedAt sql.NullInt64
	if to.Terminal() {
		completedAt = sql.NullInt64{Int64: now, Valid: true}
	}

	query := `UPDATE workflow_runs SET state = ?, completed_at = ?, updated_at = ?`
	args := []any{string(to), completedAt, now}
	if lastError != "" {
		query += `, last_error = ?`
		args = append(args, lastError)
	}
	query += ` WHERE id = ? AND state = ?`
	args = append(args, runID, string(from))

	res, err := u.tx.ExecContext(ctx, u.tx.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}
	return expectOne(res, "run %s in state %s", runID, from)
}

// StartProcessing records the snapshot size and rewinds the cursor.
func (u *UnitOfWork) StartProcessing(ctx context.Context, runID string, total int) error {
	_, err := u.tx.ExecContext(ctx, u.tx.Rebind(
		`UPDATE workflow_runs SET total = ?, item_cursor = 0, processed = 0, failed = 0 WHERE id = ?`),
		total, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record snapshot size: %w", err)
	}
	return nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func expectOne(res rowsAffected, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: no match for "+format, append([]any{storage.ErrStateConflict}, args...)...)
	}
	return nil
}
