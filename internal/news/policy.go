// Package news implements the aggregation service: the refresh policy,
// the fetch-cycle orchestrator, and the query interface the UI consumes.
package news

import (
	"time"

	"coinfeed/internal/store"
)

const (
	// FullCacheTTL is how long a full fetch stays authoritative.
	FullCacheTTL = 12 * time.Hour

	// RefreshInterval is the minimum gap between incremental refreshes.
	RefreshInterval = 5 * time.Minute

	// ReopenGap is the silence after which the next call is treated as an
	// application reopen rather than ordinary polling.
	ReopenGap = 30 * time.Second
)

// Action is the refresh decision for one query.
type Action int

const (
	// ActionSkip serves the cache as-is.
	ActionSkip Action = iota
	// ActionRefresh merges only-recent items into the existing cache.
	ActionRefresh
	// ActionFullFetch replaces the cache from all feeds unconditionally.
	ActionFullFetch
)

// String returns the action name for logs.
func (a Action) String() string {
	switch a {
	case ActionRefresh:
		return "refresh"
	case ActionFullFetch:
		return "full-fetch"
	default:
		return "skip"
	}
}

// Decide evaluates the refresh policy from pure inputs: the persisted
// cache state, the previous usage timestamp (zero when absent), and now.
//
// A long gap since the previous call suggests the host app was closed and
// reopened; when the cache is also due for a refresh that biases the
// decision up to a full fetch, so a returning user sees a rebuilt feed
// instead of a five-minute delta.
func Decide(cache *store.CachedState, prevUsage, now time.Time) Action {
	hasValidCache := cache != nil && len(cache.News) > 0

	shouldFullFetch := !hasValidCache ||
		now.Sub(cache.LastFetchTime()) >= FullCacheTTL
	shouldRefresh := hasValidCache &&
		now.Sub(cache.LastRefreshTime()) >= RefreshInterval
	appReopened := !prevUsage.IsZero() && now.Sub(prevUsage) > ReopenGap

	forceFullOnReopen := appReopened && shouldRefresh

	switch {
	case shouldFullFetch || forceFullOnReopen:
		return ActionFullFetch
	case shouldRefresh:
		return ActionRefresh
	default:
		return ActionSkip
	}
}
