package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

type cachedCard struct {
	StudentID string  `json:"student_id"`
	CGPA      float64 `json:"cgpa"`
}

func newCacheRepo(t *testing.T) (*CacheRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheRepository(client, "results", nil), mr
}

func TestCacheRepositorySetGet(t *testing.T) {
	repo, mr := newCacheRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "report:st-1", cachedCard{StudentID: "st-1", CGPA: 8.25}, time.Minute))
	assert.True(t, mr.Exists("results:report:st-1"))

	var got cachedCard
	require.NoError(t, repo.Get(ctx, "report:st-1", &got))
	assert.Equal(t, 8.25, got.CGPA)

	mr.FastForward(2 * time.Minute)
	err := repo.Get(ctx, "report:st-1", &got)
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
}

func TestCacheRepositoryDeleteByPattern(t *testing.T) {
	repo, mr := newCacheRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "report:st-1:json", cachedCard{StudentID: "st-1"}, time.Minute))
	require.NoError(t, repo.Set(ctx, "report:st-1:pdf", cachedCard{StudentID: "st-1"}, time.Minute))
	require.NoError(t, repo.Set(ctx, "report:st-2:json", cachedCard{StudentID: "st-2"}, time.Minute))

	deleted, err := repo.DeleteByPattern(ctx, "report:st-1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.False(t, mr.Exists("results:report:st-1:json"))
	assert.True(t, mr.Exists("results:report:st-2:json"))
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "", nil)
	var got cachedCard
	assert.ErrorIs(t, repo.Get(context.Background(), "k", &got), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(context.Background(), "k", got, time.Minute))
	deleted, err := repo.DeleteByPattern(context.Background(), "*")
	assert.NoError(t, err)
	assert.Zero(t, deleted)
}
