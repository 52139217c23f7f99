package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/triage/internal/infra/storage"
	"github.com/vietddude/triage/internal/infra/storage/memory"
	"github.com/vietddude/triage/internal/infra/storage/sqlstore"
)

// Store bundles the repositories behind one backend.
type Store struct {
	Feedback storage.FeedbackRepository
	Analysis storage.AnalysisRepository
	Runs     storage.RunRepository

	db *sqlstore.DB
}

// OpenStore connects to the configured database, or falls back to memory
// storage when no URL is set.
func OpenStore(ctx context.Context, cfg sqlstore.Config) (*Store, error) {
	if cfg.URL == "" {
		mem := memory.NewMemoryStorage()
		slog.Info("Using Memory storage")
		return &Store{
			Feedback: memory.NewFeedbackRepo(mem),
			Analysis: memory.NewAnalysisRepo(mem),
			Runs:     memory.NewRunRepo(mem),
		}, nil
	}

	db, err := sqlstore.NewDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	slog.Info("Using SQL storage", "dialect", db.Dialect())
	return &Store{
		Feedback: sqlstore.NewFeedbackRepo(db),
		Analysis: sqlstore.NewAnalysisRepo(db),
		Runs:     sqlstore.NewRunRepo(db),
		db:       db,
	}, nil
}

// Persistent reports whether the store is backed by a database.
func (s *Store) Persistent() bool {
	return s.db != nil
}

// Health pings the database. Memory storage is always healthy.
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Health(ctx)
}

// StartMetricsCollector publishes connection pool usage until ctx is done.
func (s *Store) StartMetricsCollector(ctx context.Context) {
	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
