package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
	"github.com/vietddude/triage/internal/infra/storage/memory"
)

// newTestClient connects to TRIAGE_TEST_REDIS_URL when set, otherwise to an
// in-process miniredis. The returned server is nil for an external Redis.
func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	var mr *miniredis.Miniredis
	url := os.Getenv("TRIAGE_TEST_REDIS_URL")
	if url == "" {
		mr = miniredis.RunT(t)
		url = "redis://" + mr.Addr()
	}
	c, err := NewClient(Config{URL: url, Prefix: "triage-test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLock_OwnerChecked(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	lock := NewLock(client, "workflow", 5*time.Second)

	ok, err := lock.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held lock")

	assert.Error(t, lock.Refresh(ctx, "b"))
	assert.NoError(t, lock.Refresh(ctx, "a"))

	// Releasing as a non-owner leaves the lock in place.
	require.NoError(t, lock.Release(ctx, "b"))
	holder, err := lock.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", holder)

	require.NoError(t, lock.Release(ctx, "a"))
	holder, err = lock.Holder(ctx)
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestCachedFeedbackRepo_Stats(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	inner := memory.NewFeedbackRepo(memory.NewMemoryStorage())
	repo := NewCachedFeedbackRepo(inner, client, time.Minute)
	var _ storage.FeedbackRepository = repo

	_, err := repo.Create(ctx, "discord", "a")
	require.NoError(t, err)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Count{{Name: "discord", Count: 1}}, stats.Sources)

	// Writes behind the cache stay invisible until invalidated.
	_, err = inner.Create(ctx, "discord", "b")
	require.NoError(t, err)
	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sources[0].Count)

	repo.Invalidate(ctx)
	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sources[0].Count)
}

func TestLock_ExpiredLeaseMovesToNewOwner(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	if mr == nil {
		t.Skip("needs the in-process server to advance time")
	}
	lock := NewLock(client, "workflow", time.Second)

	ok, err := lock.Acquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = lock.Acquire(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok, "expired lease should be free")

	// The old owner can neither extend nor drop the new lease.
	assert.Error(t, lock.Refresh(ctx, "a"))
	require.NoError(t, lock.Release(ctx, "a"))
	holder, err := lock.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", holder)
}

func TestLock_RefreshExtendsLease(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	if mr == nil {
		t.Skip("needs the in-process server to advance time")
	}
	lock := NewLock(client, "workflow", 2*time.Second)

	ok, err := lock.Acquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(1500 * time.Millisecond)
	require.NoError(t, lock.Refresh(ctx, "a"))
	mr.FastForward(1500 * time.Millisecond)

	holder, err := lock.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", holder)
}

func TestClient_Ping(t *testing.T) {
	client, _ := newTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestCachedFeedbackRepo_FallsThroughWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	if mr == nil {
		t.Skip("needs the in-process server to stop it")
	}
	inner := memory.NewFeedbackRepo(memory.NewMemoryStorage())
	repo := NewCachedFeedbackRepo(inner, client, time.Minute)
	_, err := inner.Create(ctx, "docs", "a")
	require.NoError(t, err)

	mr.Close()

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Count{{Name: "docs", Count: 1}}, stats.Sources)
}

func TestCachedFeedbackRepo_EntryExpires(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	if mr == nil {
		t.Skip("needs the in-process server to advance time")
	}
	inner := memory.NewFeedbackRepo(memory.NewMemoryStorage())
	repo := NewCachedFeedbackRepo(inner, client, 10*time.Second)

	_, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists(client.cacheKey(statsKey)))

	mr.FastForward(11 * time.Second)
	assert.False(t, mr.Exists(client.cacheKey(statsKey)))
}
