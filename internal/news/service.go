package news

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"coinfeed/internal/feed"
	"coinfeed/internal/logger"
	"coinfeed/internal/store"
)

// defaultCycleTimeout bounds an entire fetch cycle across all feeds.
// Exceeding it is a total-batch failure that preserves whatever cache
// existed.
const defaultCycleTimeout = 60 * time.Second

// SourceFetcher retrieves and normalizes the items of a single feed. The
// production implementation composes the HTTP fetcher and the parser;
// tests substitute spies.
type SourceFetcher interface {
	FetchItems(ctx context.Context, src feed.Source, since time.Time) ([]feed.NewsItem, error)
}

// Diagnostics is the read-only introspection snapshot.
type Diagnostics struct {
	LastFullFetchAt time.Time `json:"lastFullFetchAt"`
	LastRefreshAt   time.Time `json:"lastRefreshAt"`
	ItemCount       int       `json:"itemCount"`
}

// Service is the aggregation engine and the single entry point UI code
// consumes. It owns the cache mirror, the usage timestamp, and the
// in-flight cycle guard; all collaborators are injected.
type Service struct {
	store        *store.Store
	registry     *feed.Registry
	source       SourceFetcher
	log          *logger.Logger
	now          func() time.Time
	cycleTimeout time.Duration

	mu     sync.RWMutex
	state  *store.CachedState
	loaded bool

	// cycleMu serializes fetch cycles. A query arriving while a cycle is
	// in flight serves the current cache instead of queueing.
	cycleMu sync.Mutex
}

// NewService wires the aggregation service.
func NewService(st *store.Store, registry *feed.Registry, source SourceFetcher, log *logger.Logger) *Service {
	return &Service{
		store:        st,
		registry:     registry,
		source:       source,
		log:          log,
		now:          time.Now,
		cycleTimeout: defaultCycleTimeout,
	}
}

// GetNews is the main query entry point. It stamps service usage, applies
// the refresh policy (possibly running a fetch cycle synchronously), and
// returns the cached items newest-first, sliced to limit (0 = unlimited).
// It never fails: every error path degrades to cached or built-in
// fallback content.
func (s *Service) GetNews(ctx context.Context, limit int) []feed.NewsItem {
	now := s.now()

	// The decision must see the previous usage value, so read before
	// stamping.
	prevUsage, _ := s.store.LoadUsage(ctx)
	if err := s.store.SaveUsage(ctx, now); err != nil {
		s.log.Warn("failed to persist usage timestamp: %v", err)
	}

	action := Decide(s.currentState(ctx), prevUsage, now)
	if action != ActionSkip {
		s.runGuardedCycle(ctx, action)
	}

	return s.snapshot(limit)
}

// ForceRefresh drops all cache and usage state, then rebuilds from a
// fresh full fetch. Reserved for explicit user-initiated resync; routine
// pull-to-refresh goes through GetNews.
func (s *Service) ForceRefresh(ctx context.Context) []feed.NewsItem {
	if err := s.ClearCache(ctx); err != nil {
		s.log.Warn("force refresh: clear failed: %v", err)
	}
	return s.GetNews(ctx, 0)
}

// ClearCache removes the persisted cache and usage timestamp.
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	s.mu.Lock()
	s.state = nil
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Diagnostics reports cache timestamps and size without side effects.
func (s *Service) Diagnostics(ctx context.Context) Diagnostics {
	state := s.currentState(ctx)
	if state == nil {
		return Diagnostics{}
	}
	return Diagnostics{
		LastFullFetchAt: state.LastFetchTime(),
		LastRefreshAt:   state.LastRefreshTime(),
		ItemCount:       len(state.News),
	}
}

// runGuardedCycle runs at most one fetch cycle at a time. When another
// cycle is in flight the call is a no-op and the caller serves whatever
// the cache currently holds; that is deliberate backpressure, not
// queuing.
func (s *Service) runGuardedCycle(ctx context.Context, action Action) {
	if !s.cycleMu.TryLock() {
		s.log.Debug("fetch cycle already in flight, serving current cache")
		return
	}
	defer s.cycleMu.Unlock()

	if err := s.runCycle(ctx, action); err != nil {
		s.log.Warn("%s cycle failed: %v", action, err)
	}

	// A total failure with no prior cache still must render something.
	state := s.currentState(ctx)
	if state == nil || len(state.News) == 0 {
		s.installFallback(ctx)
	}
}

type fetchResult struct {
	source string
	items  []feed.NewsItem
	err    error
}

// runCycle fans out to every registered feed in parallel with per-feed
// isolation, merges the survivors, and commits the new state. Feed
// failures are absorbed; only a whole-cycle timeout surfaces as an error,
// leaving the prior cache untouched.
func (s *Service) runCycle(ctx context.Context, action Action) error {
	now := s.now()
	sources := s.registry.Sources()

	var since time.Time
	if action == ActionRefresh {
		since = now.Add(-RefreshInterval)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	// Buffered to the fan-out width so abandoned goroutines can still
	// deliver and exit after a timeout.
	results := make(chan fetchResult, len(sources))
	for _, src := range sources {
		go func(src feed.Source) {
			items, err := s.source.FetchItems(cctx, src, since)
			results <- fetchResult{source: src.Name, items: items, err: err}
		}(src)
	}

	var fetched []feed.NewsItem
	var skipped []string
	for range sources {
		select {
		case res := <-results:
			if res.err != nil {
				skipped = append(skipped, res.source)
				continue
			}
			fetched = append(fetched, res.items...)
		case <-cctx.Done():
			return fmt.Errorf("cycle deadline exceeded, keeping prior cache: %w", cctx.Err())
		}
	}

	if len(skipped) > 0 {
		s.log.Warn("%s cycle: %d/%d feeds unavailable: %s",
			action, len(skipped), len(sources), strings.Join(skipped, ", "))
	}

	var state *store.CachedState
	if action == ActionFullFetch {
		state = s.buildFullState(ctx, fetched, now)
	} else {
		state = s.buildRefreshState(ctx, fetched, now)
	}

	s.commit(ctx, state)
	s.log.Info("%s cycle complete: %d items cached, %d new fetched", action, len(state.News), len(fetched))
	return nil
}

// buildFullState replaces the cache wholesale. When every feed comes
// back empty a valid prior cache is kept exactly as it was, timestamps
// included (stale is better than empty, and an unchanged baseline means
// the next query retries the fetch); only with no usable prior cache
// does the built-in fallback set stand in, so the UI always has
// something to render.
func (s *Service) buildFullState(ctx context.Context, fetched []feed.NewsItem, now time.Time) *store.CachedState {
	items := feed.Deduplicate(fetched)
	if len(items) == 0 {
		if prev := s.currentState(ctx); prev != nil && len(prev.News) > 0 {
			s.log.Warn("full fetch yielded no items from any feed, keeping %d cached items", len(prev.News))
			return prev
		}
		s.log.Warn("full fetch yielded no items and no prior cache exists, using fallback set")
		items = fallbackItems(now)
	}
	feed.SortByDateDesc(items)

	return &store.CachedState{
		News:        items,
		LastFetch:   now.UnixMilli(),
		LastRefresh: now.UnixMilli(),
	}
}

// buildRefreshState merges a refresh batch into the existing cache.
// Cached items are retained even when not re-seen, and LastRefresh
// advances even on a zero-item batch so an idle set of feeds cannot
// cause refresh-storming. LastFetch keeps its baseline.
func (s *Service) buildRefreshState(ctx context.Context, fetched []feed.NewsItem, now time.Time) *store.CachedState {
	var existing []feed.NewsItem
	lastFetch := now.UnixMilli()
	if prev := s.currentState(ctx); prev != nil {
		existing = prev.News
		lastFetch = prev.LastFetch
	}

	items := feed.Deduplicate(append(existing, fetched...))
	feed.SortByDateDesc(items)

	return &store.CachedState{
		News:        items,
		LastFetch:   lastFetch,
		LastRefresh: now.UnixMilli(),
	}
}

// installFallback caches the built-in item set so subsequent queries stop
// re-running doomed cycles until the policy says otherwise.
func (s *Service) installFallback(ctx context.Context) {
	now := s.now()
	items := fallbackItems(now)
	s.commit(ctx, &store.CachedState{
		News:        items,
		LastFetch:   now.UnixMilli(),
		LastRefresh: now.UnixMilli(),
	})
}

// commit persists the new state and updates the in-memory mirror.
func (s *Service) commit(ctx context.Context, state *store.CachedState) {
	if err := s.store.SaveCache(ctx, state); err != nil {
		s.log.Error("failed to persist news cache: %v", err)
	}

	s.mu.Lock()
	s.state = state
	s.loaded = true
	s.mu.Unlock()
}

// currentState returns the cache mirror, loading it from the store on
// first use.
func (s *Service) currentState(ctx context.Context) *store.CachedState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.state = s.store.LoadCache(ctx)
		s.loaded = true
	}
	return s.state
}

// snapshot copies the current item set, sliced to limit.
func (s *Service) snapshot(limit int) []feed.NewsItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return []feed.NewsItem{}
	}

	items := s.state.News
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	out := make([]feed.NewsItem, len(items))
	copy(out, items)
	return out
}
