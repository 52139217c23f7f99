package sqlstore

import (
	"context"
	"fmt"

	"github.com/vietddude/triage/internal/core/domain"
)

// AnalysisRepo implements storage.AnalysisRepository.
type AnalysisRepo struct {
	db *DB
}

// NewAnalysisRepo creates a new SQL analysis repository.
func NewAnalysisRepo(db *DB) *AnalysisRepo {
	return &AnalysisRepo{db: db}
}

// Purge deletes every analysis row. Running it twice is harmless.
func (r *AnalysisRepo) Purge(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM feedback_analysis`)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to purge analysis: %w", domain.ErrStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// List returns all analysis rows ordered by feedback id.
func (r *AnalysisRepo) List(ctx context.Context) ([]*domain.Analysis, error) {
	var rows []struct {
		FeedbackID int64  `db:"feedback_id"`
		Category   string `db:"category"`
		Sentiment  string `db:"sentiment"`
		Urgency    string `db:"urgency"`
	}
	query := `SELECT feedback_id, category, sentiment, urgency FROM feedback_analysis ORDER BY feedback_id, id`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("%w: failed to list analysis: %w", domain.ErrStoreUnavailable, err)
	}

	out := make([]*domain.Analysis, len(rows))
	for i, row := range rows {
		out[i] = &domain.Analysis{
			FeedbackID: row.FeedbackID,
			Category:   domain.Category(row.Category),
			Sentiment:  domain.Sentiment(row.Sentiment),
			Urgency:    domain.Urgency(row.Urgency),
		}
	}
	return out, nil
}
