package feed

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Source is one registered RSS/Atom feed. Entries are immutable after the
// registry is built.
type Source struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
	Disabled bool   `yaml:"disabled"`
}

// Registry holds the static set of feed sources for the process lifetime.
type Registry struct {
	sources []Source
}

// DefaultSources is the built-in crypto news feed set used when no
// sources file is configured.
var DefaultSources = []Source{
	{Name: "CoinDesk", URL: "https://www.coindesk.com/arc/outboundfeeds/rss/", Category: "news"},
	{Name: "Cointelegraph", URL: "https://cointelegraph.com/rss", Category: "news"},
	{Name: "Decrypt", URL: "https://decrypt.co/feed", Category: "news"},
	{Name: "Bitcoin Magazine", URL: "https://bitcoinmagazine.com/feed", Category: "bitcoin"},
	{Name: "CryptoSlate", URL: "https://cryptoslate.com/feed/", Category: "news"},
	{Name: "NewsBTC", URL: "https://www.newsbtc.com/feed/", Category: "markets"},
	{Name: "Bitcoinist", URL: "https://bitcoinist.com/feed/", Category: "bitcoin"},
	{Name: "CryptoPotato", URL: "https://cryptopotato.com/feed/", Category: "news"},
	{Name: "BeInCrypto", URL: "https://beincrypto.com/feed/", Category: "news"},
	{Name: "CoinJournal", URL: "https://coinjournal.net/feed/", Category: "news"},
	{Name: "Crypto Briefing", URL: "https://cryptobriefing.com/feed/", Category: "analysis"},
	{Name: "AMBCrypto", URL: "https://ambcrypto.com/feed/", Category: "markets"},
	{Name: "U.Today", URL: "https://u.today/rss", Category: "news"},
	{Name: "The Daily Hodl", URL: "https://dailyhodl.com/feed/", Category: "news"},
	{Name: "Blockworks", URL: "https://blockworks.co/feed/", Category: "markets"},
	{Name: "CryptoNews", URL: "https://cryptonews.com/news/feed/", Category: "news"},
}

// NewRegistry builds a registry from the given sources, skipping disabled
// and malformed entries.
func NewRegistry(sources []Source) *Registry {
	active := make([]Source, 0, len(sources))
	for _, src := range sources {
		if src.Disabled || src.URL == "" {
			continue
		}
		if src.Name == "" {
			src.Name = src.URL
		}
		active = append(active, src)
	}
	return &Registry{sources: active}
}

// LoadRegistry reads a sources YAML file. An empty path yields the
// built-in default set.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(DefaultSources), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var sources []Source
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("sources file %s contains no entries", path)
	}

	return NewRegistry(sources), nil
}

// Sources returns the registered sources. The returned slice must not be
// mutated.
func (r *Registry) Sources() []Source {
	return r.sources
}

// Len returns the number of active sources.
func (r *Registry) Len() int {
	return len(r.sources)
}
