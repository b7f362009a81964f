package news

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinfeed/internal/feed"
	"coinfeed/internal/logger"
	"coinfeed/internal/store"
)

type spyCall struct {
	source string
	since  time.Time
}

// spyFetcher records every per-feed fetch and answers from a canned
// response function.
type spyFetcher struct {
	mu      sync.Mutex
	calls   []spyCall
	respond func(src feed.Source, since time.Time) ([]feed.NewsItem, error)
	block   chan struct{}
}

func (s *spyFetcher) FetchItems(ctx context.Context, src feed.Source, since time.Time) ([]feed.NewsItem, error) {
	s.mu.Lock()
	s.calls = append(s.calls, spyCall{source: src.Name, since: since})
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.respond(src, since)
}

func (s *spyFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *spyFetcher) snapshotCalls() []spyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]spyCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func allFeedsDown(feed.Source, time.Time) ([]feed.NewsItem, error) {
	return nil, feed.ErrFeedUnavailable
}

func testRegistry(n int) *feed.Registry {
	sources := make([]feed.Source, n)
	for i := range sources {
		sources[i] = feed.Source{
			Name: fmt.Sprintf("S%d", i+1),
			URL:  fmt.Sprintf("https://feeds.example.com/%d/rss", i+1),
		}
	}
	return feed.NewRegistry(sources)
}

func newTestService(t *testing.T, registry *feed.Registry, spy SourceFetcher) (*Service, *store.Store) {
	t.Helper()
	kv, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	st := store.New(kv, logger.Discard())
	return NewService(st, registry, spy, logger.Discard()), st
}

func item(id int, title string, publishedAt time.Time) feed.NewsItem {
	return feed.NewsItem{
		ID:          id,
		Title:       title,
		URL:         "https://example.com/" + title,
		PublishedAt: publishedAt.UTC(),
		SourceName:  "S1",
	}
}

func seedCache(t *testing.T, st *store.Store, items []feed.NewsItem, lastFetch, lastRefresh time.Time) {
	t.Helper()
	require.NoError(t, st.SaveCache(context.Background(), &store.CachedState{
		News:        items,
		LastFetch:   lastFetch.UnixMilli(),
		LastRefresh: lastRefresh.UnixMilli(),
	}))
}

func TestColdStartOneSurvivingFeed(t *testing.T) {
	now := time.Now()
	older := item(1, "older", now.Add(-2*time.Hour))
	newer := item(2, "newer", now.Add(-1*time.Hour))

	spy := &spyFetcher{respond: func(src feed.Source, since time.Time) ([]feed.NewsItem, error) {
		if src.Name == "S1" {
			return []feed.NewsItem{older, newer}, nil
		}
		return nil, feed.ErrFeedUnavailable
	}}
	svc, _ := newTestService(t, testRegistry(16), spy)

	items := svc.GetNews(context.Background(), 0)

	require.Len(t, items, 2)
	assert.Equal(t, "newer", items[0].Title)
	assert.Equal(t, "older", items[1].Title)

	// every registered feed was attempted, unconditionally
	calls := spy.snapshotCalls()
	require.Len(t, calls, 16)
	for _, c := range calls {
		assert.True(t, c.since.IsZero(), "full fetch must not pass a since cutoff")
	}

	diag := svc.Diagnostics(context.Background())
	assert.Equal(t, 2, diag.ItemCount)
	assert.Equal(t, diag.LastFullFetchAt, diag.LastRefreshAt)
	assert.WithinDuration(t, now, diag.LastFullFetchAt, 10*time.Second)
}

func TestFallbackWhenEveryFeedFails(t *testing.T) {
	spy := &spyFetcher{respond: allFeedsDown}
	svc, _ := newTestService(t, testRegistry(16), spy)

	items := svc.GetNews(context.Background(), 0)

	require.Len(t, items, 2, "built-in fallback set has two items")
	for _, it := range items {
		assert.NotEmpty(t, it.Title)
		assert.NotEmpty(t, it.URL)
		assert.Equal(t, feed.PlaceholderImageURL, it.ImageURL)
	}

	// fallback was cached, so an immediate follow-up serves it without
	// re-running the doomed cycle
	again := svc.GetNews(context.Background(), 0)
	assert.Len(t, again, 2)
	assert.Equal(t, 16, spy.callCount())
}

func TestLimitSlicingIsPrefixOfSortedSet(t *testing.T) {
	now := time.Now()
	items := make([]feed.NewsItem, 10)
	for i := range items {
		items[i] = item(i+1, fmt.Sprintf("story-%d", i), now.Add(-time.Duration(i)*time.Hour))
	}

	spy := &spyFetcher{respond: allFeedsDown}
	svc, st := newTestService(t, testRegistry(3), spy)
	seedCache(t, st, items, now.Add(-time.Hour), now.Add(-time.Minute))
	require.NoError(t, st.SaveUsage(context.Background(), now.Add(-5*time.Second)))

	full := svc.GetNews(context.Background(), 0)
	five := svc.GetNews(context.Background(), 5)

	require.Len(t, full, 10)
	require.Len(t, five, 5)
	assert.Equal(t, full[:5], five)
	assert.Zero(t, spy.callCount(), "fresh cache must not trigger a cycle")
}

func TestWarmIncrementalMergesNewItem(t *testing.T) {
	now := time.Now()
	cached := make([]feed.NewsItem, 50)
	for i := range cached {
		cached[i] = item(i+1, fmt.Sprintf("old-%d", i), now.Add(-time.Duration(i+10)*time.Minute))
	}
	lastFetch := now.Add(-time.Hour)

	fresh := item(999, "breaking", now.Add(-time.Minute))
	spy := &spyFetcher{respond: func(src feed.Source, since time.Time) ([]feed.NewsItem, error) {
		if src.Name == "S1" {
			return []feed.NewsItem{fresh}, nil
		}
		return nil, nil
	}}
	svc, st := newTestService(t, testRegistry(4), spy)
	seedCache(t, st, cached, lastFetch, now.Add(-6*time.Minute))
	require.NoError(t, st.SaveUsage(context.Background(), now.Add(-5*time.Second)))

	items := svc.GetNews(context.Background(), 0)

	require.Len(t, items, 51)
	assert.Equal(t, "breaking", items[0].Title, "new item sorts to its date-correct position")

	// refresh cycles ask feeds for only-recent items
	for _, c := range spy.snapshotCalls() {
		assert.WithinDuration(t, now.Add(-RefreshInterval), c.since, 10*time.Second)
	}

	diag := svc.Diagnostics(context.Background())
	assert.Equal(t, lastFetch.UnixMilli(), diag.LastFullFetchAt.UnixMilli(), "incremental keeps the full-fetch baseline")
	assert.WithinDuration(t, now, diag.LastRefreshAt, 10*time.Second)
	assert.True(t, !diag.LastFullFetchAt.After(diag.LastRefreshAt), "lastFullFetchAt <= lastRefreshAt must hold")
}

func TestRefreshWithNoNewItemsStillAdvancesRefreshStamp(t *testing.T) {
	now := time.Now()
	cached := []feed.NewsItem{item(1, "only", now.Add(-time.Hour))}
	lastRefresh := now.Add(-6 * time.Minute)

	spy := &spyFetcher{respond: func(feed.Source, time.Time) ([]feed.NewsItem, error) {
		return nil, nil
	}}
	svc, st := newTestService(t, testRegistry(3), spy)
	seedCache(t, st, cached, now.Add(-time.Hour), lastRefresh)
	require.NoError(t, st.SaveUsage(context.Background(), now.Add(-5*time.Second)))

	items := svc.GetNews(context.Background(), 0)

	require.Len(t, items, 1, "existing items are retained even when not re-seen")
	diag := svc.Diagnostics(context.Background())
	assert.True(t, diag.LastRefreshAt.After(lastRefresh), "empty refresh still advances lastRefreshAt")
}

func TestReopenTriggersFullFetchAcrossAllFeeds(t *testing.T) {
	now := time.Now()
	cached := []feed.NewsItem{item(1, "stale", now.Add(-time.Hour))}

	spy := &spyFetcher{respond: allFeedsDown}
	svc, st := newTestService(t, testRegistry(16), spy)
	// refresh is due (6m) and the previous call was 40s ago: reopen
	seedCache(t, st, cached, now.Add(-time.Hour), now.Add(-6*time.Minute))
	require.NoError(t, st.SaveUsage(context.Background(), now.Add(-40*time.Second)))

	svc.GetNews(context.Background(), 0)

	calls := spy.snapshotCalls()
	require.Len(t, calls, 16, "a reopen must re-query every registered feed")
	for _, c := range calls {
		assert.True(t, c.since.IsZero(), "reopen runs a full fetch, not a delta")
	}
}

func TestFullFetchAllFeedsDownPreservesStaleCache(t *testing.T) {
	now := time.Now()
	cached := []feed.NewsItem{
		item(1, "kept-1", now.Add(-14*time.Hour)),
		item(2, "kept-2", now.Add(-15*time.Hour)),
		item(3, "kept-3", now.Add(-16*time.Hour)),
	}
	lastFetch := now.Add(-13 * time.Hour)
	lastRefresh := now.Add(-13 * time.Hour)

	spy := &spyFetcher{respond: allFeedsDown}
	svc, st := newTestService(t, testRegistry(16), spy)
	// full TTL elapsed, so the TTL forces a full fetch that finds nothing
	seedCache(t, st, cached, lastFetch, lastRefresh)
	require.NoError(t, st.SaveUsage(context.Background(), now.Add(-5*time.Second)))

	items := svc.GetNews(context.Background(), 0)

	require.Len(t, items, 3, "stale cache must outlive a fully failed fetch")
	assert.Equal(t, "kept-1", items[0].Title)
	assert.Equal(t, 16, spy.callCount())

	// state is preserved as-is: timestamps keep their old baseline so the
	// next query retries the fetch instead of coasting for another TTL
	diag := svc.Diagnostics(context.Background())
	assert.Equal(t, 3, diag.ItemCount)
	assert.Equal(t, lastFetch.UnixMilli(), diag.LastFullFetchAt.UnixMilli())
	assert.Equal(t, lastRefresh.UnixMilli(), diag.LastRefreshAt.UnixMilli())
}

// stallFetcher blocks every fetch until released, ignoring context, so a
// cycle deterministically runs into its overall deadline.
type stallFetcher struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (f *stallFetcher) FetchItems(ctx context.Context, src feed.Source, since time.Time) ([]feed.NewsItem, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	<-f.release
	return nil, feed.ErrFeedUnavailable
}

func (f *stallFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCycleTimeoutIsTotalBatchFailurePreservingCache(t *testing.T) {
	now := time.Now()
	cached := []feed.NewsItem{
		item(1, "survivor-1", now.Add(-14*time.Hour)),
		item(2, "survivor-2", now.Add(-15*time.Hour)),
	}
	lastFetch := now.Add(-13 * time.Hour)
	lastRefresh := now.Add(-13 * time.Hour)

	stall := &stallFetcher{release: make(chan struct{})}
	t.Cleanup(func() { close(stall.release) })

	svc, st := newTestService(t, testRegistry(4), stall)
	svc.cycleTimeout = 50 * time.Millisecond
	seedCache(t, st, cached, lastFetch, lastRefresh)
	require.NoError(t, st.SaveUsage(context.Background(), now.Add(-5*time.Second)))

	items := svc.GetNews(context.Background(), 0)

	require.Len(t, items, 2, "a timed-out cycle serves the prior cache")
	assert.Equal(t, 4, stall.callCount(), "every feed was attempted before the deadline hit")

	diag := svc.Diagnostics(context.Background())
	assert.Equal(t, lastFetch.UnixMilli(), diag.LastFullFetchAt.UnixMilli(), "timeout must not touch the fetch baseline")
	assert.Equal(t, lastRefresh.UnixMilli(), diag.LastRefreshAt.UnixMilli(), "timeout must not touch the refresh stamp")
}

func TestCorruptCacheTriggersFreshFullFetch(t *testing.T) {
	now := time.Now()
	kv, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	st := store.New(kv, logger.Discard())
	require.NoError(t, kv.Set(context.Background(), store.CacheKey, []byte(`{"garbage": true}`)))

	fresh := item(7, "recovered", now)
	spy := &spyFetcher{respond: func(src feed.Source, since time.Time) ([]feed.NewsItem, error) {
		return []feed.NewsItem{fresh}, nil
	}}
	svc := NewService(st, testRegistry(2), spy, logger.Discard())

	items := svc.GetNews(context.Background(), 0)

	require.NotEmpty(t, items)
	assert.Equal(t, "recovered", items[0].Title)
	assert.Equal(t, 2, spy.callCount())
}

func TestForceRefreshRebuildsFromScratch(t *testing.T) {
	now := time.Now()
	spy := &spyFetcher{respond: func(src feed.Source, since time.Time) ([]feed.NewsItem, error) {
		if src.Name == "S1" {
			return []feed.NewsItem{item(42, "rebuilt", now)}, nil
		}
		return nil, feed.ErrFeedUnavailable
	}}
	svc, st := newTestService(t, testRegistry(3), spy)
	seedCache(t, st, []feed.NewsItem{item(1, "stale", now.Add(-time.Hour))}, now, now)
	require.NoError(t, st.SaveUsage(context.Background(), now))

	items := svc.ForceRefresh(context.Background())

	require.Len(t, items, 1)
	assert.Equal(t, "rebuilt", items[0].Title)
	for _, c := range spy.snapshotCalls() {
		assert.True(t, c.since.IsZero())
	}
}

func TestClearCacheEmptiesState(t *testing.T) {
	now := time.Now()
	spy := &spyFetcher{respond: allFeedsDown}
	svc, st := newTestService(t, testRegistry(2), spy)
	seedCache(t, st, []feed.NewsItem{item(1, "x", now)}, now, now)

	require.NoError(t, svc.ClearCache(context.Background()))

	diag := svc.Diagnostics(context.Background())
	assert.Zero(t, diag.ItemCount)
	assert.Nil(t, st.LoadCache(context.Background()))
}

func TestDiagnosticsHasNoSideEffects(t *testing.T) {
	now := time.Now()
	spy := &spyFetcher{respond: allFeedsDown}
	svc, st := newTestService(t, testRegistry(2), spy)
	seedCache(t, st, []feed.NewsItem{item(1, "x", now)}, now, now)

	diag := svc.Diagnostics(context.Background())
	assert.Equal(t, 1, diag.ItemCount)
	assert.Zero(t, spy.callCount())

	_, found := st.LoadUsage(context.Background())
	assert.False(t, found, "diagnostics must not stamp usage")
}

func TestConcurrentQueryDuringCycleIsNoOp(t *testing.T) {
	release := make(chan struct{})
	spy := &spyFetcher{
		block: release,
		respond: func(src feed.Source, since time.Time) ([]feed.NewsItem, error) {
			return []feed.NewsItem{item(1, "slow", time.Now())}, nil
		},
	}
	svc, _ := newTestService(t, testRegistry(4), spy)

	done := make(chan []feed.NewsItem, 1)
	go func() {
		done <- svc.GetNews(context.Background(), 0)
	}()

	// wait for the first cycle to be in flight
	require.Eventually(t, func() bool { return spy.callCount() > 0 }, 5*time.Second, 10*time.Millisecond)

	// a second query while the cycle runs serves the (empty) cache
	// immediately instead of queueing another cycle
	second := svc.GetNews(context.Background(), 0)
	assert.NotNil(t, second)
	assert.Empty(t, second)
	assert.LessOrEqual(t, spy.callCount(), 4)

	close(release)
	first := <-done
	assert.NotEmpty(t, first)
}
