package valuation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr, client
}

func TestCacheServesGroupsUntilBumped(t *testing.T) {
	cache, mr, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (map[int64][]int64, error) {
		calls++
		return map[int64][]int64{1100: {1, 2}}, nil
	}

	groups, err := cache.ValuationGroups(ctx, []int64{2, 1}, loader)
	require.NoError(t, err)
	require.Equal(t, map[int64][]int64{1100: {1, 2}}, groups)
	require.True(t, mr.Exists(groupsKey(1, []int64{1, 2})))

	groups, err = cache.ValuationGroups(ctx, []int64{1, 2}, loader)
	require.NoError(t, err)
	require.Equal(t, map[int64][]int64{1100: {1, 2}}, groups)
	require.Equal(t, 1, calls)

	require.NoError(t, cache.Bump(ctx))
	_, err = cache.ValuationGroups(ctx, []int64{1, 2}, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(groupsKey(2, []int64{1, 2})))
}

func TestGroupsKeyIsBounded(t *testing.T) {
	ids := make([]int64, 0, 5000)
	for i := int64(5000); i > 0; i-- {
		ids = append(ids, i)
	}
	long := groupsKey(3, ids)
	require.Len(t, long, len(groupsKey(3, []int64{1})))
	require.True(t, strings.HasPrefix(long, "valuation:groups:"))
	require.True(t, strings.HasSuffix(long, ":3"))

	require.Equal(t, groupsKey(1, []int64{2, 1, 3}), groupsKey(1, []int64{3, 1, 2}))
	require.NotEqual(t, groupsKey(1, []int64{1, 2}), groupsKey(1, []int64{1, 2, 3}))
	require.NotEqual(t, groupsKey(1, []int64{1, 2}), groupsKey(2, []int64{1, 2}))
}

func TestCacheLoaderErrorIsNotCached(t *testing.T) {
	cache, mr, _ := newTestCache(t)
	boom := errors.New("boom")
	_, err := cache.ValuationGroups(context.Background(), []int64{1}, func(context.Context) (map[int64][]int64, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(groupsKey(1, []int64{1})))
}

func TestNilCacheCallsLoader(t *testing.T) {
	var cache *Cache
	groups, err := cache.ValuationGroups(context.Background(), []int64{1}, func(context.Context) (map[int64][]int64, error) {
		return map[int64][]int64{9: {1}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, map[int64][]int64{9: {1}}, groups)
	require.NoError(t, cache.Bump(context.Background()))
}

func TestCacheInvalidatesOnCatalogEvent(t *testing.T) {
	cache, _, client := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)

	require.NoError(t, cache.ListenForInvalidation(ctx, ""))
	require.NoError(t, client.Publish(ctx, InvalidationChannel, "product:10").Err())

	require.Eventually(t, func() bool {
		v, err := cache.Version(ctx)
		return err == nil && v == 2
	}, time.Second, 10*time.Millisecond)
}

func TestServiceUsesGroupCache(t *testing.T) {
	cache, _, _ := newTestCache(t)
	repo := newMemoryRepo()
	repo.products[10] = widget()
	svc, _ := newTestService(repo, ServiceConfig{Cache: cache})

	for i := 0; i < 3; i++ {
		groups, err := svc.ValuationAccountGroups(context.Background(), []int64{10})
		require.NoError(t, err)
		require.Equal(t, map[int64][]int64{1100: {10}}, groups)
	}
	require.Equal(t, 1, repo.listCalls)
}
