package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
)

const statsKey = "stats"

// CachedFeedbackRepo caches dashboard stats in Redis in front of another
// feedback repository. Cache failures fall through to the wrapped repository.
type CachedFeedbackRepo struct {
	storage.FeedbackRepository
	client *Client
	ttl    time.Duration
}

// NewCachedFeedbackRepo wraps repo. Cached stats live for ttl.
func NewCachedFeedbackRepo(repo storage.FeedbackRepository, client *Client, ttl time.Duration) *CachedFeedbackRepo {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedFeedbackRepo{FeedbackRepository: repo, client: client, ttl: ttl}
}

// Stats returns cached stats when present.
func (r *CachedFeedbackRepo) Stats(ctx context.Context) (*domain.Stats, error) {
	key := r.client.cacheKey(statsKey)

	data, err := r.client.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var stats domain.Stats
		if jsonErr := json.Unmarshal(data, &stats); jsonErr == nil {
			return &stats, nil
		}
	case err != redis.Nil:
		slog.Warn("Stats cache read failed", "error", err)
	}

	stats, err := r.FeedbackRepository.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(stats); err == nil {
		if err := r.client.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
			slog.Warn("Stats cache write failed", "error", err)
		}
	}
	return stats, nil
}

// Create stores feedback and drops the cached stats.
func (r *CachedFeedbackRepo) Create(ctx context.Context, source, text string) (*domain.Feedback, error) {
	f, err := r.FeedbackRepository.Create(ctx, source, text)
	if err == nil {
		r.Invalidate(ctx)
	}
	return f, err
}

// Invalidate drops the cached stats.
func (r *CachedFeedbackRepo) Invalidate(ctx context.Context) {
	if err := r.client.rdb.Del(ctx, r.client.cacheKey(statsKey)).Err(); err != nil {
		slog.Warn("Stats cache invalidation failed", "error", err)
	}
}
