package phases

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPhase5AssignsBucketsAndRespectsStablecoinCap(t *testing.T) {
	cfg := Phase5Config{CoreSlots: 1, SatelliteSlots: 1, HighVolatilitySlots: 1, MaxSelectedStablecoins: 1}
	engine := NewPhase5Engine(cfg)
	p4 := Phase4Output{Tokens: []Token{
		{
			ID: "btc", Symbol: "BTC", Eligible: true, MarketCapRank: 1,
			ScreeningScore: 0.9, LiquidityScore: 0.95, StructuralScore: 0.95,
			Hints: ScreeningHints{RankBucket: 4, ExchangeDepthProxy: 0.95},
		},
		{
			ID: "b", Symbol: "BBB", Eligible: true, ScreeningScore: 0.4, LiquidityScore: 0.3,
			Hints: ScreeningHints{RankBucket: 4},
		},
		{
			ID: "usdc", Symbol: "USDC", Eligible: true, ScreeningScore: 0.95, LiquidityScore: 0.99,
			Hints: ScreeningHints{Category: CategoryStablecoin, StablecoinValidationState: ValidationFiatCustodial},
		},
		{
			ID: "meme", Symbol: "DOGE", Eligible: true, ScreeningScore: 0.3, LiquidityScore: 0.2,
			Hints: ScreeningHints{IsMeme: true},
		},
	}}
	out := engine.Run(Input{JobID: "j1"}, p4)
	require.Len(t, out.Shortlist, 4)

	byBucket := map[SelectionBucket]Token{}
	for _, tok := range out.Shortlist {
		byBucket[tok.SelectionBucket] = tok
	}
	require.Equal(t, "BTC", byBucket[BucketCore].Symbol)
	require.Equal(t, RiskClassLargeCapCrypto, byBucket[BucketCore].RiskClass)
	require.Equal(t, "USDC", byBucket[BucketStablecoin].Symbol)
	require.Equal(t, RiskClassStablecoin, byBucket[BucketStablecoin].RiskClass)
	require.Equal(t, "DOGE", byBucket[BucketHighVolatility].Symbol)
	require.Equal(t, RiskClassSpeculative, byBucket[BucketHighVolatility].RiskClass)
	require.Equal(t, "BBB", byBucket[BucketSatellite].Symbol)
}

func TestPhase5MaxSelectedStablecoinsCapsShortlist(t *testing.T) {
	cfg := Phase5Config{CoreSlots: 2, SatelliteSlots: 2, HighVolatilitySlots: 2, MaxSelectedStablecoins: 1}
	engine := NewPhase5Engine(cfg)
	p4 := Phase4Output{Tokens: []Token{
		{ID: "usdc", Symbol: "USDC", Eligible: true, Volume24hUsd: 5_000_000_000, ScreeningScore: 0.95, LiquidityScore: 0.99,
			Hints: ScreeningHints{Category: CategoryStablecoin, StablecoinValidationState: ValidationFiatCustodial}},
		{ID: "usdt", Symbol: "USDT", Eligible: true, Volume24hUsd: 4_000_000_000, ScreeningScore: 0.9, LiquidityScore: 0.95,
			Hints: ScreeningHints{Category: CategoryStablecoin, StablecoinValidationState: ValidationFiatCustodial}},
	}}
	out := engine.Run(Input{JobID: "j1"}, p4)
	require.Len(t, out.Shortlist, 1)
	require.Equal(t, "USDC", out.Shortlist[0].Symbol)
}
