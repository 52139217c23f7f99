package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
)

// FeedbackRepo implements storage.FeedbackRepository.
type FeedbackRepo struct {
	db *DB
}

// NewFeedbackRepo creates a new SQL feedback repository.
func NewFeedbackRepo(db *DB) *FeedbackRepo {
	return &FeedbackRepo{db: db}
}

type feedbackRow struct {
	ID        int64          `db:"id"`
	Source    string         `db:"source"`
	Text      string         `db:"text"`
	CreatedAt time.Time      `db:"created_at"`
	Category  sql.NullString `db:"category"`
	Sentiment sql.NullString `db:"sentiment"`
	Urgency   sql.NullString `db:"urgency"`
	LabeledAt sql.NullTime   `db:"labeled_at"`
}

func (row feedbackRow) toDomain() *domain.Feedback {
	f := &domain.Feedback{
		ID:        row.ID,
		Source:    row.Source,
		Text:      row.Text,
		CreatedAt: row.CreatedAt,
	}
	if row.Category.Valid {
		f.Analysis = &domain.Analysis{
			FeedbackID: row.ID,
			Category:   domain.Category(row.Category.String),
			Sentiment:  domain.Sentiment(row.Sentiment.String),
			Urgency:    domain.Urgency(row.Urgency.String),
			LabeledAt:  row.LabeledAt.Time,
		}
	}
	return f
}

// List returns feedback newest first, each joined with its analysis when present.
func (r *FeedbackRepo) List(ctx context.Context, filter storage.FeedbackFilter) ([]*domain.Feedback, error) {
	query := `
		SELECT f.id, f.source, f.text, f.created_at,
		       a.category, a.sentiment, a.urgency, a.labeled_at
		FROM feedback f
		LEFT JOIN feedback_analysis a ON a.feedback_id = f.id`
	var args []any
	if filter.Source != "" {
		query += ` WHERE f.source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY f.created_at DESC, f.id DESC, a.id ASC`

	var rows []feedbackRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("%w: failed to list feedback: %w", domain.ErrStoreUnavailable, err)
	}

	out := make([]*domain.Feedback, 0, len(rows))
	seen := make(map[int64]bool, len(rows))
	for _, row := range rows {
		// A feedback item joins at most one analysis; later duplicates are ignored.
		if seen[row.ID] {
			continue
		}
		seen[row.ID] = true
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Snapshot returns every feedback item ordered by id.
func (r *FeedbackRepo) Snapshot(ctx context.Context) ([]domain.RunItem, error) {
	var rows []struct {
		ID     int64  `db:"id"`
		Source string `db:"source"`
		Text   string `db:"text"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, source, text FROM feedback ORDER BY id`); err != nil {
		return nil, fmt.Errorf("%w: failed to snapshot feedback: %w", domain.ErrStoreUnavailable, err)
	}

	items := make([]domain.RunItem, len(rows))
	for i, row := range rows {
		items[i] = domain.RunItem{FeedbackID: row.ID, Source: row.Source, Text: row.Text}
	}
	return items, nil
}

// Create stores a new feedback record.
func (r *FeedbackRepo) Create(ctx context.Context, source, text string) (*domain.Feedback, error) {
	var id int64
	switch r.db.Dialect() {
	case DialectMySQL:
		res, err := r.db.ExecContext(ctx, `INSERT INTO feedback (source, text) VALUES (?, ?)`, source, text)
		if err != nil {
			return nil, fmt.Errorf("failed to create feedback: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("failed to read feedback id: %w", err)
		}
	default:
		query := r.db.Rebind(`INSERT INTO feedback (source, text) VALUES (?, ?) RETURNING id`)
		if err := r.db.GetContext(ctx, &id, query, source, text); err != nil {
			return nil, fmt.Errorf("failed to create feedback: %w", err)
		}
	}

	var row feedbackRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT id, source, text, created_at FROM feedback WHERE id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback %d: %w", id, err)
	}
	return row.toDomain(), nil
}

// Stats returns grouped counts. Sources and categories are ordered by count
// descending; sentiments and urgencies follow their fixed label order.
func (r *FeedbackRepo) Stats(ctx context.Context) (*domain.Stats, error) {
	var sources, categories, sentiments, urgencies []domain.Count

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.counts(gctx, &sources, `SELECT source AS name, COUNT(*) AS count FROM feedback GROUP BY source ORDER BY count DESC, name ASC`)
	})
	g.Go(func() error {
		return r.counts(gctx, &categories, `SELECT category AS name, COUNT(*) AS count FROM feedback_analysis GROUP BY category ORDER BY count DESC, name ASC`)
	})
	g.Go(func() error {
		return r.counts(gctx, &sentiments, `SELECT sentiment AS name, COUNT(*) AS count FROM feedback_analysis GROUP BY sentiment`)
	})
	g.Go(func() error {
		return r.counts(gctx, &urgencies, `SELECT urgency AS name, COUNT(*) AS count FROM feedback_analysis GROUP BY urgency`)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: failed to compute stats: %w", domain.ErrStoreUnavailable, err)
	}

	return &domain.Stats{
		Sources:    nonNil(sources),
		Categories: nonNil(categories),
		Sentiments: domain.OrderCounts(sentiments, domain.Sentiments),
		Urgencies:  domain.OrderCounts(urgencies, domain.Urgencies),
	}, nil
}

func (r *FeedbackRepo) counts(ctx context.Context, dest *[]domain.Count, query string) error {
	var rows []struct {
		Name  string `db:"name"`
		Count int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return err
	}
	out := make([]domain.Count, len(rows))
	for i, row := range rows {
		out[i] = domain.Count{Name: row.Name, Count: row.Count}
	}
	*dest = out
	return nil
}

func nonNil(c []domain.Count) []domain.Count {
	if c == nil {
		return []domain.Count{}
	}
	return c
}
