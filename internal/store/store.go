// Package store persists the aggregated news cache and the service-usage
// timestamp in an opaque durable key-value store.
package store

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"coinfeed/internal/feed"
	"coinfeed/internal/logger"
)

const (
	// CacheKey holds the serialized CachedState.
	CacheKey = "crypto_news_cache"

	// UsageKey holds the string-encoded epoch-ms of the last service call.
	UsageKey = "last_service_usage"
)

// KV is the minimal durable key-value contract the store is built on.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// CachedState is the single persisted aggregate: the deduplicated item
// set plus the two cycle timestamps (epoch milliseconds). The invariant
// LastFetch <= LastRefresh holds after every completed cycle.
type CachedState struct {
	News        []feed.NewsItem `json:"news"`
	LastFetch   int64           `json:"lastFetch"`
	LastRefresh int64           `json:"lastRefresh"`
}

// LastFetchTime returns the last full fetch as a time.Time.
func (s *CachedState) LastFetchTime() time.Time {
	return time.UnixMilli(s.LastFetch)
}

// LastRefreshTime returns the last refresh as a time.Time.
func (s *CachedState) LastRefreshTime() time.Time {
	return time.UnixMilli(s.LastRefresh)
}

// cachedStateProbe mirrors CachedState with pointer fields so a load can
// tell "field absent or wrong type" apart from a zero value.
type cachedStateProbe struct {
	News        *[]feed.NewsItem `json:"news"`
	LastFetch   *int64           `json:"lastFetch"`
	LastRefresh *int64           `json:"lastRefresh"`
}

// Store is the schema and validation layer over a KV backend.
type Store struct {
	kv  KV
	log *logger.Logger
}

// New creates a store over the given backend.
func New(kv KV, log *logger.Logger) *Store {
	return &Store{kv: kv, log: log}
}

// LoadCache returns the persisted state, or nil when it is absent or
// structurally corrupt. Corruption is discarded, never propagated: the
// caller simply sees an empty cache and refetches.
func (s *Store) LoadCache(ctx context.Context) *CachedState {
	data, found, err := s.kv.Get(ctx, CacheKey)
	if err != nil {
		s.log.Warn("cache load failed: %v", err)
		return nil
	}
	if !found {
		return nil
	}

	var probe cachedStateProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		s.log.Warn("cache entry is corrupt, discarding: %v", err)
		return nil
	}
	if probe.News == nil || probe.LastFetch == nil || probe.LastRefresh == nil {
		s.log.Warn("cache entry has wrong shape, discarding")
		return nil
	}

	return &CachedState{
		News:        *probe.News,
		LastFetch:   *probe.LastFetch,
		LastRefresh: *probe.LastRefresh,
	}
}

// SaveCache persists the state as a single write.
func (s *Store) SaveCache(ctx context.Context, state *CachedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, CacheKey, data)
}

// LoadUsage returns the previous service-usage timestamp, if any. A
// malformed value is treated as absent.
func (s *Store) LoadUsage(ctx context.Context) (time.Time, bool) {
	data, found, err := s.kv.Get(ctx, UsageKey)
	if err != nil || !found {
		return time.Time{}, false
	}

	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// SaveUsage records the current service-usage timestamp.
func (s *Store) SaveUsage(ctx context.Context, t time.Time) error {
	return s.kv.Set(ctx, UsageKey, []byte(strconv.FormatInt(t.UnixMilli(), 10)))
}

// Clear removes both the news cache and the usage timestamp.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, CacheKey); err != nil {
		return err
	}
	return s.kv.Delete(ctx, UsageKey)
}
