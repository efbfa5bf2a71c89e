package macrocollectors

import (
	"context"
	"fmt"
	"math"

	"github.com/r3e-network/selun-engine/infrastructure/fetch"
	"github.com/tidwall/gjson"
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// NewCoinMarketCapVolatilityProvider normalises BTC's absolute 24h price
// change into the [0,1] range the volatility domain expects.
func NewCoinMarketCapVolatilityProvider(apiKey, baseURL string) ProviderFunc {
	return func(ctx context.Context, fetcher *fetch.Fetcher, toolCallID string) (float64, error) {
		url := baseURL + "/v2/cryptocurrency/quotes/latest?symbol=BTC"
		doc, _, err := fetcher.FetchJSON(ctx, url, toolCallID, "coinmarketcap", map[string]string{"X-CMC_PRO_API_KEY": apiKey})
		if err != nil {
			return 0, err
		}
		pct := doc.Get("data.BTC.0.quote.USD.percent_change_24h").Float()
		return clamp01(math.Abs(pct) / 10), nil
	}
}

// NewCoinMarketCapLiquidityProvider normalises the global 24h volume/market
// cap turnover ratio into the [0,1] range the liquidity domain expects.
func NewCoinMarketCapLiquidityProvider(apiKey, baseURL string) ProviderFunc {
	return func(ctx context.Context, fetcher *fetch.Fetcher, toolCallID string) (float64, error) {
		url := baseURL + "/v1/global-metrics/quotes/latest"
		doc, _, err := fetcher.FetchJSON(ctx, url, toolCallID, "coinmarketcap", map[string]string{"X-CMC_PRO_API_KEY": apiKey})
		if err != nil {
			return 0, err
		}
		volume := doc.Get("data.quote.USD.total_volume_24h").Float()
		marketCap := doc.Get("data.quote.USD.total_market_cap").Float()
		if marketCap <= 0 {
			return 0, fmt.Errorf("coinmarketcap: zero market cap")
		}
		return clamp01(volume / marketCap * 10), nil
	}
}

// NewFearGreedSentimentProvider reads the public Alternative.me Fear & Greed
// index and rescales its 0-100 value into the [-1,1] sentiment range.
func NewFearGreedSentimentProvider(baseURL string) ProviderFunc {
	return func(ctx context.Context, fetcher *fetch.Fetcher, toolCallID string) (float64, error) {
		doc, _, err := fetcher.FetchJSON(ctx, baseURL+"/fng/?limit=1", toolCallID, "alternative.me", nil)
		if err != nil {
			return 0, err
		}
		value := doc.Get("data.0.value").Float()
		return clampSigned((value - 50) / 50), nil
	}
}

// NewCoinMarketCapBreadthProvider reports the fraction of the top listings
// with positive 24h price change.
func NewCoinMarketCapBreadthProvider(apiKey, baseURL string) ProviderFunc {
	return func(ctx context.Context, fetcher *fetch.Fetcher, toolCallID string) (float64, error) {
		url := baseURL + "/v1/cryptocurrency/listings/latest?limit=100"
		doc, _, err := fetcher.FetchJSON(ctx, url, toolCallID, "coinmarketcap", map[string]string{"X-CMC_PRO_API_KEY": apiKey})
		if err != nil {
			return 0, err
		}
		var positive, total int
		doc.Get("data").ForEach(func(_ gjson.Result, item gjson.Result) bool {
			total++
			if item.Get("quote.USD.percent_change_24h").Float() > 0 {
				positive++
			}
			return true
		})
		if total == 0 {
			return 0, fmt.Errorf("coinmarketcap: empty listings")
		}
		return float64(positive) / float64(total), nil
	}
}
