package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"coinfeed/internal/logger"
)

const (
	// fetchTimeout bounds a single feed request.
	fetchTimeout = 20 * time.Second

	// minFeedSize is the smallest response length we accept as plausible
	// XML; anything shorter is treated as garbage.
	minFeedSize = 100

	// maxFeedSize caps how much of an untrusted response body we read.
	maxFeedSize = 10 * 1024 * 1024

	defaultUserAgent = "coinfeed/1.0 (+https://github.com/coinfeed)"
	acceptHeader     = "application/rss+xml, application/xml, text/xml"
)

// ErrFeedUnavailable covers every way a single feed can fail: network
// errors, timeouts, non-2xx statuses, and implausibly short bodies.
// Callers treat it as "this feed contributed zero items this cycle".
var ErrFeedUnavailable = errors.New("feed unavailable")

// HTTPFetcher retrieves raw feed XML over plain HTTP GET.
type HTTPFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	log       *logger.Logger
}

// NewHTTPFetcher creates a fetcher with a shared client and a politeness
// rate limit across all outbound feed requests.
func NewHTTPFetcher(log *logger.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: fetchTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
				MaxConnsPerHost: 4,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(10), 20),
		userAgent: defaultUserAgent,
		log:       log,
	}
}

// Fetch retrieves the raw XML for one source. All failure modes collapse
// into ErrFeedUnavailable so a single feed's trouble never propagates
// past its own boundary.
func (f *HTTPFetcher) Fetch(ctx context.Context, src Source) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, src.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, src.Name, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("fetch %s failed: %v", src.Name, err)
		return "", fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		f.log.Warn("fetch %s failed: HTTP %d", src.Name, resp.StatusCode)
		return "", fmt.Errorf("%w: %s: HTTP %d", ErrFeedUnavailable, src.Name, resp.StatusCode)
	}

	// Feeds declare all sorts of encodings; normalize to UTF-8 before the
	// body reaches the parser. A failure here means the preview read off
	// the body already broke (or the body is empty), so the stream cannot
	// be handed on intact.
	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		f.log.Warn("fetch %s charset detection failed: %v", src.Name, err)
		return "", fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, src.Name, err)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxFeedSize))
	if err != nil {
		f.log.Warn("fetch %s read failed: %v", src.Name, err)
		return "", fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, src.Name, err)
	}

	if len(body) < minFeedSize {
		f.log.Warn("fetch %s returned %d bytes, too short to be a feed", src.Name, len(body))
		return "", fmt.Errorf("%w: %s: response too short", ErrFeedUnavailable, src.Name)
	}

	return string(body), nil
}
