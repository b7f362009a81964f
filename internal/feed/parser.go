package feed

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/text/unicode/norm"

	"coinfeed/internal/logger"
)

const (
	// maxDescriptionLen is the hard cap on cleaned description text.
	maxDescriptionLen = 300

	// PlaceholderImageURL is used when no image can be extracted from an
	// entry by any of the fallback strategies.
	PlaceholderImageURL = "https://static.coinfeed.app/img/news-placeholder.png"
)

// dateLayouts are tried in order when gofeed could not parse an entry's
// timestamp itself. Feed authors emit all of these in the wild.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var (
	// trailing timezone abbreviation (PST, AEST, ...) or +HHMM offset
	trailingTZRe     = regexp.MustCompile(`\s+(?:[A-Z]{2,5}|[+-]\d{4})$`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
	nonBreakingSpace = " "
)

// Parser normalizes raw RSS 2.0 / Atom documents into canonical NewsItems.
type Parser struct {
	parser *gofeed.Parser
	log    *logger.Logger
	now    func() time.Time
}

// NewParser creates a feed parser.
func NewParser(log *logger.Logger) *Parser {
	return &Parser{
		parser: gofeed.NewParser(),
		now:    time.Now,
		log:    log,
	}
}

// Parse converts one raw feed document into zero or more NewsItems. It
// never returns an error: an unrecognized document shape, a broken item,
// or an unparseable date all degrade to fewer (or zero) items, logged for
// diagnosis. Items older than since are dropped; a zero since keeps
// everything.
func (p *Parser) Parse(raw string, src Source, since time.Time) []NewsItem {
	switch gofeed.DetectFeedType(strings.NewReader(raw)) {
	case gofeed.FeedTypeRSS, gofeed.FeedTypeAtom:
	default:
		p.log.Warn("parse %s: unrecognized feed shape, skipping", src.Name)
		return nil
	}

	parsed, err := p.parser.ParseString(raw)
	if err != nil {
		p.log.Warn("parse %s failed: %v", src.Name, err)
		return nil
	}

	items := make([]NewsItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		// Cheap pre-filter on the timestamp gofeed already resolved,
		// before any of the heavier normalization work.
		if !since.IsZero() && entry.PublishedParsed != nil && entry.PublishedParsed.Before(since) {
			continue
		}

		item, ok := p.normalizeItem(entry, src)
		if !ok {
			continue
		}
		// Backstop for entries whose date only resolved during
		// normalization.
		if !since.IsZero() && item.PublishedAt.Before(since) {
			continue
		}
		items = append(items, item)
	}

	return items
}

// normalizeItem converts a single gofeed entry. Entries missing both a
// title and a link carry nothing worth rendering and are skipped.
func (p *Parser) normalizeItem(entry *gofeed.Item, src Source) (NewsItem, bool) {
	title := cleanText(entry.Title)
	link := strings.TrimSpace(entry.Link)
	if title == "" && link == "" {
		return NewsItem{}, false
	}

	description := cleanText(firstNonEmpty(entry.Description, entry.Content))
	if len([]rune(description)) > maxDescriptionLen {
		description = string([]rune(description)[:maxDescriptionLen])
	}

	return NewsItem{
		ID:          HashID(firstNonEmpty(entry.GUID, link, title)),
		Title:       title,
		Description: description,
		URL:         link,
		ImageURL:    p.extractImage(entry),
		PublishedAt: p.resolveDate(entry, src),
		SourceName:  src.Name,
		Categories:  entry.Categories,
	}, true
}

// resolveDate produces a valid timestamp for an entry no matter what the
// feed put on the wire. Unparseable dates fall back to now rather than
// surfacing an error.
func (p *Parser) resolveDate(entry *gofeed.Item, src Source) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}

	raw := firstNonEmpty(entry.Published, entry.Updated)
	if raw != "" {
		if t, ok := parseDate(raw); ok {
			return t.UTC()
		}
		p.log.Debug("parse %s: unparseable date %q, using now", src.Name, raw)
	}

	return p.now().UTC()
}

// parseDate tries the known layouts directly, then once more with any
// trailing timezone abbreviation or +HHMM offset stripped.
func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}

	stripped := strings.TrimSpace(trailingTZRe.ReplaceAllString(raw, ""))
	if stripped == raw {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, stripped); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// extractImage walks the fallback chain for an entry's image. Feed
// authors use wildly inconsistent conventions, so no single selector
// covers all sources.
func (p *Parser) extractImage(entry *gofeed.Item) string {
	// 1. enclosure with an image MIME type
	for _, enc := range entry.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}

	// 2. media:content, 3. media:thumbnail
	if url := mediaExtensionURL(entry, "content"); url != "" {
		return url
	}
	if url := mediaExtensionURL(entry, "thumbnail"); url != "" {
		return url
	}

	// 4. first <img> in content:encoded, 5. first <img> in description
	if url := firstImgSrc(entry.Content); url != "" {
		return url
	}
	if url := firstImgSrc(entry.Description); url != "" {
		return url
	}

	// gofeed-level item image, when a feed declares one outright
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}

	return PlaceholderImageURL
}

// mediaExtensionURL pulls the url attribute off a media:* extension node.
func mediaExtensionURL(entry *gofeed.Item, name string) string {
	media, ok := entry.Extensions["media"]
	if !ok {
		return ""
	}
	for _, node := range media[name] {
		if url := node.Attrs["url"]; url != "" {
			return url
		}
	}
	return ""
}

// firstImgSrc returns the src of the first <img> inside an HTML fragment.
func firstImgSrc(fragment string) string {
	if fragment == "" || !strings.Contains(fragment, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img").First().Attr("src")
	return strings.TrimSpace(src)
}

// cleanText strips HTML tags, decodes entities, collapses whitespace, and
// NFC-normalizes so downstream hashing and dedup see a canonical form.
func cleanText(s string) string {
	if s == "" {
		return ""
	}

	// Feeds frequently double-encode entities; decode before stripping so
	// "&amp;lt;b&amp;gt;" does not survive as markup text.
	s = html.UnescapeString(s)

	if strings.ContainsAny(s, "<>") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}

	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, nonBreakingSpace, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return norm.NFC.String(strings.TrimSpace(s))
}

// firstNonEmpty returns the first non-empty candidate, implementing the
// ordered field fallback used throughout normalization.
func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return strings.TrimSpace(c)
		}
	}
	return ""
}
