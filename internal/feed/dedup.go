package feed

import "strings"

// Deduplicate collapses items representing the same story. Two items are
// duplicates when they share a lowercased title and URL; the first-seen
// item wins and relative order is preserved, so callers merging a cache
// with a fresh batch pass existing items first.
func Deduplicate(items []NewsItem) []NewsItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]NewsItem, 0, len(items))

	for _, item := range items {
		key := strings.ToLower(item.Title) + "\x00" + item.URL
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}

	return out
}
