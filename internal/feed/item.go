package feed

import (
	"math"
	"sort"
	"time"
)

// NewsItem is the canonical shape every upstream feed entry is normalized
// into. Instances are immutable once produced by the parser.
type NewsItem struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"imageUrl"`
	PublishedAt time.Time `json:"publishedAt"`
	SourceName  string    `json:"sourceName"`
	Categories  []string  `json:"categories,omitempty"`
}

// HashID derives a stable item ID from the entry's guid, link, or title.
// It is a 32-bit rolling hash (h = h*31 + code) taken as an absolute
// value, so re-parsing the same upstream entry always yields the same ID.
func HashID(s string) int {
	var h int32
	for _, r := range s {
		h = h*31 + int32(r)
	}
	if h == math.MinInt32 {
		return 0
	}
	if h < 0 {
		h = -h
	}
	return int(h)
}

// SortByDateDesc orders items newest first. Ties keep their relative order
// so deduplicated batches stay stable across runs.
func SortByDateDesc(items []NewsItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
}
