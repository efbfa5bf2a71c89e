package phases

import (
	"context"
	"strings"

	"github.com/r3e-network/selun-engine/infrastructure/utils"
)

// UniverseProvider supplies the raw candidate universe (market-cap rank,
// volumes, price moves, source tags) before screening hints are derived.
type UniverseProvider interface {
	FetchUniverse(ctx context.Context) ([]Token, error)
}

// Phase3Engine derives ScreeningHints for each candidate and tags tokens
// that match the active policy mode, without yet applying hard filters
// (that happens in Phase 4).
type Phase3Engine struct {
	provider UniverseProvider
}

func NewPhase3Engine(provider UniverseProvider) *Phase3Engine {
	return &Phase3Engine{provider: provider}
}

var stablecoinSymbols = map[string]StablecoinValidationState{
	"USDC": ValidationFiatCustodial,
	"USDT": ValidationFiatCustodial,
	"DAI":  ValidationCryptoCollateral,
	"FRAX": ValidationSyntheticYield,
	"USDE": ValidationSyntheticYield,
}

// stablecoinIssuers maps a stablecoin's symbol to its non-generic issuing
// entity; unlisted symbols fall back to their own symbol as the issuer key,
// so each is its own singleton issuer group for Phase 4/6 issuer caps.
var stablecoinIssuers = map[string]string{
	"USDC": "circle",
	"USDT": "tether",
	"DAI":  "makerdao",
	"FRAX": "frax_finance",
	"USDE": "ethena",
}

func deriveIssuer(t Token) string {
	if issuer, ok := stablecoinIssuers[t.Symbol]; ok {
		return issuer
	}
	return strings.ToLower(t.Symbol)
}

func rankBucket(rank int) int {
	switch {
	case rank <= 0:
		return 0
	case rank <= 20:
		return 4
	case rank <= 100:
		return 3
	case rank <= 300:
		return 2
	case rank <= 800:
		return 1
	default:
		return 0
	}
}

func categorize(t Token) TokenCategory {
	if _, ok := stablecoinSymbols[t.Symbol]; ok {
		return CategoryStablecoin
	}
	for _, tag := range t.SourceTags {
		switch tag {
		case "defi":
			return CategoryDefiBluechip
		case "commodity", "rwa":
			return CategoryCommodity
		case "meme":
			return CategoryMeme
		}
	}
	if t.MarketCapRank > 0 && t.MarketCapRank <= 50 {
		return CategoryLargeCap
	}
	if t.MarketCapRank == 0 || t.MarketCapRank > 800 {
		return CategoryLongTail
	}
	return CategoryAlternative
}

func isMeme(t Token) bool {
	return utils.Contains(t.SourceTags, "meme")
}

func isProxyAsset(t Token) bool {
	return utils.ContainsAny(t.SourceTags, []string{"wrapped", "synthetic"})
}

func suspiciousVolumeRankMismatch(t Token) bool {
	if t.MarketCapRank <= 0 || t.MarketCapRank > 500 {
		return false
	}
	if t.Volume30dUsd <= 0 {
		return false
	}
	avgDaily := t.Volume30dUsd / 30
	if avgDaily <= 0 {
		return false
	}
	ratio := t.Volume24hUsd / avgDaily
	return ratio > 8 || ratio < 0.05
}

func exchangeDepthProxy(t Token) float64 {
	if t.Volume24hUsd <= 0 {
		return 0
	}
	score := clamp(t.Volume24hUsd/50_000_000, 0, 1)
	if rankBucket(t.MarketCapRank) >= 3 {
		score = clamp(score+0.1, 0, 1)
	}
	return score
}

func deriveHints(t Token) ScreeningHints {
	category := categorize(t)
	hints := ScreeningHints{
		RankBucket:                   rankBucket(t.MarketCapRank),
		Category:                     category,
		ExchangeDepthProxy:           exchangeDepthProxy(t),
		IsMeme:                       isMeme(t),
		IsProxy:                      isProxyAsset(t),
		SuspiciousVolumeRankMismatch: suspiciousVolumeRankMismatch(t),
	}
	if category == CategoryStablecoin {
		hints.StablecoinValidationState = stablecoinSymbols[t.Symbol]
		if hints.StablecoinValidationState == "" {
			hints.StablecoinValidationState = ValidationEmergingUnverified
		}
	}
	hints.StrictRankGateRequired = category == CategoryMeme || category == CategoryLongTail || hints.IsProxy
	return hints
}

func profileMatchReasons(t Token, mode PolicyMode) []string {
	var reasons []string
	switch mode {
	case ModeCapitalPreservation:
		if t.Hints.Category == CategoryStablecoin {
			reasons = append(reasons, "stablecoin_priority_in_capital_preservation")
		}
		if t.Hints.RankBucket >= 3 {
			reasons = append(reasons, "top_tier_rank_suits_defensive_mode")
		}
	case ModeBalancedDefensive, ModeBalancedGrowth:
		if t.Hints.RankBucket >= 2 {
			reasons = append(reasons, "mid_to_top_rank_suits_balanced_mode")
		}
	case ModeOffensiveGrowth:
		if t.Hints.Category == CategoryDefiBluechip || t.Hints.Category == CategoryAlternative {
			reasons = append(reasons, "growth_profile_seeks_beta_exposure")
		}
	}
	return reasons
}

// Run enriches each candidate token with ScreeningHints and profile-match
// reasons relative to the active policy mode.
func (e *Phase3Engine) Run(ctx context.Context, in Input, p2 Phase2Output) (Phase3Output, error) {
	tokens, err := e.provider.FetchUniverse(ctx)
	if err != nil {
		return Phase3Output{}, err
	}

	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		t.Hints = deriveHints(t)
		t.ProfileMatchReasons = profileMatchReasons(t, p2.Mode)
		if t.Issuer == "" {
			t.Issuer = deriveIssuer(t)
		}
		out = append(out, t)
	}

	return Phase3Output{JobID: in.JobID, Tokens: out}, nil
}
