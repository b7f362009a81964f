package news

import (
	"time"

	"coinfeed/internal/feed"
)

// fallbackItems is the built-in content served when no feed delivers
// anything and no prior cache exists. The set is intentionally small:
// just enough for the UI to render a populated list instead of an error
// state.
func fallbackItems(now time.Time) []feed.NewsItem {
	entries := []struct {
		title, description, url string
	}{
		{
			title:       "Bitcoin holds steady as markets await fresh catalysts",
			description: "Live crypto headlines are temporarily unavailable. The feed will refresh automatically once sources are reachable again.",
			url:         "https://www.coindesk.com/price/bitcoin",
		},
		{
			title:       "Ethereum ecosystem activity continues to grow",
			description: "Live crypto headlines are temporarily unavailable. Pull to refresh to retry your news sources.",
			url:         "https://cointelegraph.com/tags/ethereum",
		},
	}

	items := make([]feed.NewsItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, feed.NewsItem{
			ID:          feed.HashID(e.url),
			Title:       e.title,
			Description: e.description,
			URL:         e.url,
			ImageURL:    feed.PlaceholderImageURL,
			PublishedAt: now.UTC(),
			SourceName:  "Coinfeed",
			Categories:  []string{"news"},
		})
	}
	return items
}
