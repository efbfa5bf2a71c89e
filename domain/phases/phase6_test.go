package phases

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPhase6AllocatesAndCapsSingleAsset(t *testing.T) {
	engine := NewPhase6Engine()
	envelope := PolicyEnvelope{MaxSingleAsset: 0.3, HighVolCap: 0.15, StablecoinMinimum: 0.2, RiskBudget: 0.4}
	shortlist := []Token{
		{ID: "usdc", Symbol: "USDC", SelectionBucket: BucketStablecoin, CompositeScore: 1.0, RiskScore: 0.05,
			Issuer: "circle", Hints: ScreeningHints{StablecoinValidationState: ValidationFiatCustodial}},
		{ID: "core1", Symbol: "AAA", SelectionBucket: BucketCore, CompositeScore: 0.9, RiskScore: 0.2},
		{ID: "core2", Symbol: "BBB", SelectionBucket: BucketCore, CompositeScore: 0.8, RiskScore: 0.22},
		{ID: "core3", Symbol: "CCC", SelectionBucket: BucketCore, CompositeScore: 0.7, RiskScore: 0.25},
		{ID: "sat1", Symbol: "DDD", SelectionBucket: BucketSatellite, CompositeScore: 0.6, RiskScore: 0.3},
		{ID: "sat2", Symbol: "EEE", SelectionBucket: BucketSatellite, CompositeScore: 0.5, RiskScore: 0.35},
		{ID: "sat3", Symbol: "FFF", SelectionBucket: BucketSatellite, CompositeScore: 0.4, RiskScore: 0.4},
	}
	out := engine.Run(Input{JobID: "j1", RiskTolerance: RiskBalanced}, Phase2Output{Envelope: envelope}, Phase5Output{Shortlist: shortlist})

	total := 0.0
	for _, a := range out.Allocations {
		total += a.AllocationWeight
		require.LessOrEqual(t, a.AllocationWeight, envelope.MaxSingleAsset+1e-6)
		require.GreaterOrEqual(t, a.AllocationWeight, 0.0)
	}
	require.InDelta(t, 1.0, total, 1e-6)
	require.Greater(t, out.StablecoinAllocation, 0.0)
	require.LessOrEqual(t, out.StablecoinAllocation, stableSleeveCap(envelope, RiskBalanced)+1e-6)
}

func TestPhase6CapsStablecoinSleeveAndIssuerShare(t *testing.T) {
	engine := NewPhase6Engine()
	envelope := PolicyEnvelope{MaxSingleAsset: 0.3, HighVolCap: 0.2, StablecoinMinimum: 0.2, RiskBudget: 0.4}
	shortlist := []Token{
		{ID: "usdc", Symbol: "USDC", SelectionBucket: BucketStablecoin, CompositeScore: 0.95, RiskScore: 0.05,
			Issuer: "circle", Hints: ScreeningHints{StablecoinValidationState: ValidationFiatCustodial}},
		{ID: "usdt", Symbol: "USDT", SelectionBucket: BucketStablecoin, CompositeScore: 0.9, RiskScore: 0.06,
			Issuer: "tether", Hints: ScreeningHints{StablecoinValidationState: ValidationFiatCustodial}},
		{ID: "dai", Symbol: "DAI", SelectionBucket: BucketStablecoin, CompositeScore: 0.85, RiskScore: 0.08,
			Issuer: "makerdao", Hints: ScreeningHints{StablecoinValidationState: ValidationCryptoCollateral}},
		{ID: "frax", Symbol: "FRAX", SelectionBucket: BucketStablecoin, CompositeScore: 0.8, RiskScore: 0.1,
			Issuer: "frax_finance", Hints: ScreeningHints{StablecoinValidationState: ValidationSyntheticYield}},
		{ID: "usde", Symbol: "USDE", SelectionBucket: BucketStablecoin, CompositeScore: 0.75, RiskScore: 0.12,
			Issuer: "ethena", Hints: ScreeningHints{StablecoinValidationState: ValidationSyntheticYield}},
		{ID: "core1", Symbol: "BTC", SelectionBucket: BucketCore, CompositeScore: 0.9, RiskScore: 0.2},
		{ID: "core2", Symbol: "ETH", SelectionBucket: BucketCore, CompositeScore: 0.85, RiskScore: 0.22},
		{ID: "sat1", Symbol: "DDD", SelectionBucket: BucketSatellite, CompositeScore: 0.5, RiskScore: 0.3},
	}
	out := engine.Run(Input{JobID: "j2", RiskTolerance: RiskBalanced}, Phase2Output{Envelope: envelope}, Phase5Output{Shortlist: shortlist})

	cap := stableSleeveCap(envelope, RiskBalanced)
	require.LessOrEqual(t, out.StablecoinAllocation, cap+1e-6)

	byIssuer := map[string]float64{}
	total := 0.0
	for _, a := range out.Allocations {
		total += a.AllocationWeight
		require.LessOrEqual(t, a.AllocationWeight, envelope.MaxSingleAsset+1e-6)
		if a.Bucket == BucketStablecoin {
			issuer := ""
			switch a.Symbol {
			case "USDC":
				issuer = "circle"
			case "USDT":
				issuer = "tether"
			case "DAI":
				issuer = "makerdao"
			case "FRAX":
				issuer = "frax_finance"
			case "USDE":
				issuer = "ethena"
			}
			byIssuer[issuer] += a.AllocationWeight
		}
	}
	require.InDelta(t, 1.0, total, 1e-6)
	if out.StablecoinAllocation > 0 {
		for _, share := range byIssuer {
			require.LessOrEqual(t, share, 0.60*out.StablecoinAllocation+1e-6)
		}
	}
}
