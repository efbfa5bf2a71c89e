// Package universe implements the Phase 3 UniverseProvider against
// CoinMarketCap's listings endpoint.
package universe

import (
	"context"
	"fmt"
	"time"

	"github.com/r3e-network/selun-engine/domain/phases"
	"github.com/r3e-network/selun-engine/infrastructure/cache"
	"github.com/r3e-network/selun-engine/infrastructure/fetch"
	"github.com/tidwall/gjson"
)

// Config configures the CoinMarketCap-backed provider.
type Config struct {
	APIKey  string
	BaseURL string
	Limit   int
	// CacheTTL bounds how long a listings response is reused across
	// back-to-back universe expansions before refetching. Zero disables
	// caching.
	CacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{BaseURL: "https://pro-api.coinmarketcap.com", Limit: 300, CacheTTL: 2 * time.Minute}
}

const universeCacheKey = "listings"

// Provider implements phases.UniverseProvider.
type Provider struct {
	cfg     Config
	fetcher *fetch.Fetcher
	cache   *cache.TTLCache
}

func New(cfg Config, fetcher *fetch.Fetcher) *Provider {
	if cfg.Limit <= 0 {
		cfg.Limit = 300
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://pro-api.coinmarketcap.com"
	}
	p := &Provider{cfg: cfg, fetcher: fetcher}
	if cfg.CacheTTL > 0 {
		p.cache = cache.NewTTLCache(cfg.CacheTTL)
	}
	return p
}

// FetchUniverse pulls the top-ranked listings and maps them onto the
// candidate token shape Phase 3 expects. Listings are reused within
// Config.CacheTTL so a burst of allocation requests and scheduler ticks
// don't each re-hit CoinMarketCap's rate-limited listings endpoint.
func (p *Provider) FetchUniverse(ctx context.Context) ([]phases.Token, error) {
	if p.cache != nil {
		if cached, ok := p.cache.Get(ctx, universeCacheKey); ok {
			return cached.([]phases.Token), nil
		}
	}

	url := fmt.Sprintf("%s/v1/cryptocurrency/listings/latest?limit=%d", p.cfg.BaseURL, p.cfg.Limit)
	toolCallID := time.Now().UTC().Format(time.RFC3339Nano)
	doc, _, err := p.fetcher.FetchJSON(ctx, url, toolCallID, "coinmarketcap", map[string]string{"X-CMC_PRO_API_KEY": p.cfg.APIKey})
	if err != nil {
		return nil, err
	}

	var tokens []phases.Token
	doc.Get("data").ForEach(func(_ gjson.Result, item gjson.Result) bool {
		volume24h := item.Get("quote.USD.volume_24h").Float()
		tokens = append(tokens, phases.Token{
			ID:                item.Get("id").String(),
			Symbol:            item.Get("symbol").String(),
			Name:              item.Get("name").String(),
			MarketCapRank:     int(item.Get("cmc_rank").Int()),
			Volume24hUsd:      volume24h,
			Volume7dUsd:       volume24h * 7,
			Volume30dUsd:      volume24h * 30,
			PriceChangePct7d:  item.Get("quote.USD.percent_change_7d").Float() / 100,
			PriceChangePct30d: item.Get("quote.USD.percent_change_30d").Float() / 100,
			SourceTags:        []string{"coinmarketcap"},
		})
		return true
	})

	if p.cache != nil {
		p.cache.Set(ctx, universeCacheKey, tokens)
	}
	return tokens, nil
}
