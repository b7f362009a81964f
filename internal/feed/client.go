package feed

import (
	"context"
	"time"

	"coinfeed/internal/logger"
)

// Client composes the HTTP fetcher and the parser into the one-call
// "items for this source" operation the orchestrator fans out over.
type Client struct {
	fetcher *HTTPFetcher
	parser  *Parser
}

// NewClient creates the production source fetcher.
func NewClient(log *logger.Logger) *Client {
	return &Client{
		fetcher: NewHTTPFetcher(log),
		parser:  NewParser(log),
	}
}

// FetchItems retrieves and normalizes one source's items. A zero since
// keeps every item; otherwise items older than since are dropped.
func (c *Client) FetchItems(ctx context.Context, src Source, since time.Time) ([]NewsItem, error) {
	raw, err := c.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	return c.parser.Parse(raw, src, since), nil
}
