package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCache(maxEntries int, ttl time.Duration) *ViewCache {
	return New(Config{Kinds: map[ViewKind]KindConfig{
		ViewFlattenedTree: {TTL: ttl, MaxEntries: maxEntries},
		ViewEditorGraph:   {TTL: ttl, MaxEntries: maxEntries},
	}}, zap.NewNop())
}

func countingLoader(calls *int32, value string) Loader {
	return func(context.Context) (interface{}, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestViewCache_ReadThrough(t *testing.T) {
	c := testCache(10, time.Minute)
	var calls int32
	ctx := context.Background()

	v1, err := c.Get(ctx, ViewFlattenedTree, "brush", countingLoader(&calls, "tree"))
	require.NoError(t, err)
	v2, err := c.Get(ctx, ViewFlattenedTree, "brush", countingLoader(&calls, "other"))
	require.NoError(t, err)

	assert.Equal(t, "tree", v1)
	assert.Equal(t, "tree", v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stats := c.Stats()[ViewFlattenedTree]
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
}

func TestViewCache_InvalidateCategoryForcesReload(t *testing.T) {
	// Arrange
	c := testCache(10, time.Minute)
	var treeCalls, graphCalls, otherCalls int32
	ctx := context.Background()
	_, _ = c.Get(ctx, ViewFlattenedTree, "brush", countingLoader(&treeCalls, "tree"))
	_, _ = c.Get(ctx, ViewEditorGraph, "brush", countingLoader(&graphCalls, "graph"))
	_, _ = c.Get(ctx, ViewFlattenedTree, "pump", countingLoader(&otherCalls, "pump"))

	// Act
	removed := c.InvalidateCategory("brush")
	_, _ = c.Get(ctx, ViewFlattenedTree, "brush", countingLoader(&treeCalls, "tree"))
	_, _ = c.Get(ctx, ViewEditorGraph, "brush", countingLoader(&graphCalls, "graph"))
	_, _ = c.Get(ctx, ViewFlattenedTree, "pump", countingLoader(&otherCalls, "pump"))

	// Assert
	assert.Equal(t, 2, removed)
	assert.Equal(t, int32(2), treeCalls)
	assert.Equal(t, int32(2), graphCalls)
	assert.Equal(t, int32(1), otherCalls, "other categories stay cached")
}

func TestViewCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	c := testCache(10, time.Minute)
	var calls int32
	release := make(chan struct{})
	loader := func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "tree", nil
	}

	const callers = 20
	var wg sync.WaitGroup
	results := make([]interface{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), ViewFlattenedTree, "brush", loader)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Let every caller reach the flight before releasing the loader.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, v := range results {
		assert.Equal(t, "tree", v)
	}
}

func TestViewCache_LoadStartedBeforeInvalidationIsNotStored(t *testing.T) {
	c := testCache(10, time.Minute)
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan interface{})
	go func() {
		v, _ := c.Get(ctx, ViewFlattenedTree, "brush", func(context.Context) (interface{}, error) {
			close(started)
			<-release
			return "stale", nil
		})
		done <- v
	}()

	<-started
	c.InvalidateCategory("brush")

	var calls int32
	fresh, err := c.Get(ctx, ViewFlattenedTree, "brush", countingLoader(&calls, "fresh"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", fresh)
	assert.Equal(t, int32(1), calls, "a get after invalidation never joins the old load")

	close(release)
	assert.Equal(t, "stale", <-done)

	again, err := c.Get(ctx, ViewFlattenedTree, "brush", countingLoader(&calls, "unused"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", again)
}

func TestViewCache_LRUEviction(t *testing.T) {
	c := testCache(2, time.Minute)
	ctx := context.Background()
	var calls int32

	_, _ = c.Get(ctx, ViewFlattenedTree, "a", countingLoader(&calls, "a"))
	_, _ = c.Get(ctx, ViewFlattenedTree, "b", countingLoader(&calls, "b"))
	_, _ = c.Get(ctx, ViewFlattenedTree, "a", countingLoader(&calls, "a")) // a is now most recent
	_, _ = c.Get(ctx, ViewFlattenedTree, "c", countingLoader(&calls, "c")) // evicts b

	assert.Equal(t, int32(3), calls)
	stats := c.Stats()[ViewFlattenedTree]
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, uint64(1), stats.Evictions)

	_, _ = c.Get(ctx, ViewFlattenedTree, "a", countingLoader(&calls, "a"))
	assert.Equal(t, int32(3), calls, "a survived eviction")
	_, _ = c.Get(ctx, ViewFlattenedTree, "b", countingLoader(&calls, "b"))
	assert.Equal(t, int32(4), calls, "b was evicted")
}

func TestViewCache_TTLExpiry(t *testing.T) {
	c := testCache(10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()
	var calls int32

	_, _ = c.Get(ctx, ViewEditorGraph, "brush", countingLoader(&calls, "g"))
	now = now.Add(59 * time.Second)
	_, _ = c.Get(ctx, ViewEditorGraph, "brush", countingLoader(&calls, "g"))
	assert.Equal(t, int32(1), calls)

	now = now.Add(2 * time.Second)
	_, _ = c.Get(ctx, ViewEditorGraph, "brush", countingLoader(&calls, "g"))
	assert.Equal(t, int32(2), calls)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.RemoveExpired())
}

func TestViewCache_LoaderErrorIsNotCached(t *testing.T) {
	c := testCache(10, time.Minute)
	boom := errors.New("store down")
	var calls int32

	_, err := c.Get(context.Background(), ViewFlattenedTree, "brush", func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := c.Get(context.Background(), ViewFlattenedTree, "brush", countingLoader(&calls, "ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls)
}

func TestViewCache_UnknownKind(t *testing.T) {
	c := testCache(10, time.Minute)

	_, err := c.Get(context.Background(), ViewIssueList, GlobalScope, countingLoader(new(int32), "x"))

	assert.Error(t, err)
}

func TestViewCache_ReconfigureShrinks(t *testing.T) {
	c := testCache(5, time.Minute)
	ctx := context.Background()
	for _, cat := range []string{"a", "b", "c"} {
		_, _ = c.Get(ctx, ViewFlattenedTree, cat, countingLoader(new(int32), cat))
	}

	c.Reconfigure(Config{Kinds: map[ViewKind]KindConfig{ViewFlattenedTree: {TTL: time.Minute, MaxEntries: 1}}})

	stats := c.Stats()[ViewFlattenedTree]
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.MaxSize)
}

func TestGetAs(t *testing.T) {
	c := testCache(10, time.Minute)

	n, err := GetAs(context.Background(), c, ViewFlattenedTree, "brush", func(context.Context) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestCollector(t *testing.T) {
	c := testCache(10, time.Minute)
	_, _ = c.Get(context.Background(), ViewFlattenedTree, "brush", countingLoader(new(int32), "x"))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(c, "troubleshoot")))

	expected := `
# HELP troubleshoot_view_cache_entries Cached views
# TYPE troubleshoot_view_cache_entries gauge
troubleshoot_view_cache_entries{view="editor_graph"} 0
troubleshoot_view_cache_entries{view="flattened_tree"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "troubleshoot_view_cache_entries"))
}
