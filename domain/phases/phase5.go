package phases

import (
	"math"
	"sort"
)

// Phase5Config bounds how many tokens make the shortlist per selection
// bucket (core / satellite / high_volatility), plus the hard stablecoin cap.
type Phase5Config struct {
	CoreSlots              int
	SatelliteSlots         int
	HighVolatilitySlots    int
	MaxSelectedStablecoins int
}

func DefaultPhase5Config() Phase5Config {
	return Phase5Config{
		CoreSlots:              6,
		SatelliteSlots:         6,
		HighVolatilitySlots:    6,
		MaxSelectedStablecoins: 1,
	}
}

// Phase5Engine scores eligible tokens for risk and quality, then shortlists
// the top candidates per bucket (core / satellite / high_volatility /
// stablecoin).
type Phase5Engine struct {
	cfg Phase5Config
}

func NewPhase5Engine(cfg Phase5Config) *Phase5Engine {
	return &Phase5Engine{cfg: cfg}
}

func volatilityProxy(t Token) float64 {
	move := absFloat(t.PriceChangePct7d)
	return clamp(move/0.5, 0, 1)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func drawdownProxy(t Token) float64 {
	move := t.PriceChangePct30d
	if move >= 0 {
		return 0
	}
	return clamp(-move/0.6, 0, 1)
}

func stablecoinRiskModifier(t Token) float64 {
	if t.Hints.Category != CategoryStablecoin {
		return 0
	}
	switch t.Hints.StablecoinValidationState {
	case ValidationFiatCustodial:
		return -0.1
	case ValidationCryptoCollateral:
		return -0.03
	case ValidationSyntheticYield:
		return 0.08
	default:
		return 0.2
	}
}

func qualityScore(t Token) float64 {
	return clamp(0.5*t.ScreeningScore+0.5*(float64(t.Hints.RankBucket)/4.0), 0, 1)
}

func riskScore(t Token) float64 {
	return clamp(0.4*t.VolatilityProxyScore+0.35*t.DrawdownProxyScore+0.25*(1-t.LiquidityScore)+t.StablecoinRiskModifier, 0, 1)
}

// riskClassFor assigns the §4.8 taxonomy by a fixed ladder: stablecoin,
// then speculative (meme/proxy), then high_risk (long tail or risk/vol at
// ceiling), then commodities/defi_bluechip by category, then
// large_cap_crypto for deep, low-risk top-100 names, else alternative.
func riskClassFor(t Token) RiskClass {
	switch {
	case t.Hints.Category == CategoryStablecoin:
		return RiskClassStablecoin
	case t.Hints.IsMeme || t.Hints.IsProxy:
		return RiskClassSpeculative
	case t.Hints.Category == CategoryLongTail || t.RiskScore >= 0.62 || t.VolatilityProxyScore >= 0.75:
		return RiskClassHighRisk
	case t.Hints.Category == CategoryCommodity:
		return RiskClassCommodities
	case t.Hints.Category == CategoryDefiBluechip:
		return RiskClassDefiBluechip
	case t.Hints.RankBucket >= 3 && t.Hints.ExchangeDepthProxy >= 0.7 && t.RiskScore <= 0.3:
		return RiskClassLargeCapCrypto
	default:
		return RiskClassAlternative
	}
}

// timeframeWeights returns the (7d, 30d) blend for the profitability prior;
// shorter horizons weight recent momentum, longer ones weight the 30d trend.
func timeframeWeights(tf Timeframe) (float64, float64) {
	switch tf {
	case TimeframeUnder1Year:
		return 0.7, 0.3
	case TimeframeOver3Years:
		return 0.3, 0.7
	default:
		return 0.5, 0.5
	}
}

func profitabilityPrior(t Token, tf Timeframe) float64 {
	w7, w30 := timeframeWeights(tf)
	return math.Tanh(w7*t.PriceChangePct7d + w30*t.PriceChangePct30d)
}

func profileBoost(t Token, tf Timeframe) float64 {
	reasonBonus := 0.05 * math.Min(float64(len(t.ProfileMatchReasons)), 3)
	return clamp(profitabilityPrior(t, tf)+reasonBonus, -1, 1.15)
}

// compositeScore implements §4.8's quality·(1-0.72·risk) + 0.08·profile_boost,
// where profile_boost folds in the timeframe-weighted, tanh-squashed
// profitability prior plus a small profile-match bonus.
func compositeScore(t Token, tf Timeframe) float64 {
	return clamp(t.QualityScore*(1-0.72*t.RiskScore)+0.08*profileBoost(t, tf), 0, 1)
}

func roleFor(t Token, rt RiskTolerance) string {
	switch t.SelectionBucket {
	case BucketStablecoin:
		return "stability_anchor"
	case BucketCore:
		return "core_holding"
	case BucketHighVolatility:
		switch rt {
		case RiskGrowth, RiskAggressive:
			return "speculative_satellite"
		default:
			return "speculative_excluded_by_default"
		}
	default:
		return "satellite"
	}
}

// bucketFor implements §4.8's selection bucket: stablecoin first, then the
// core gate (large_cap_crypto, top-3 rank, high depth, strong
// liquidity/structural, low risk), then high_volatility for high-risk /
// speculative / high-risk-score / long-tail names, else satellite.
func bucketFor(t Token) SelectionBucket {
	if t.RiskClass == RiskClassStablecoin {
		return BucketStablecoin
	}
	coreGate := t.RiskClass == RiskClassLargeCapCrypto &&
		t.MarketCapRank >= 1 && t.MarketCapRank <= 3 &&
		t.Hints.ExchangeDepthProxy >= 0.8 &&
		t.LiquidityScore >= 0.72 &&
		t.StructuralScore >= 0.9 &&
		t.RiskScore <= 0.24
	if coreGate {
		return BucketCore
	}
	if t.RiskClass == RiskClassHighRisk || t.RiskClass == RiskClassSpeculative ||
		t.RiskScore >= 0.62 || t.Hints.Category == CategoryLongTail {
		return BucketHighVolatility
	}
	return BucketSatellite
}

func rankForSort(t Token) int {
	if t.MarketCapRank <= 0 {
		return math.MaxInt32
	}
	return t.MarketCapRank
}

// shortlistLess implements the §4.8 shortlist sort: composite DESC, quality
// DESC, risk ASC, rank ASC (nulls last).
func shortlistLess(a, b Token) bool {
	if a.CompositeScore != b.CompositeScore {
		return a.CompositeScore > b.CompositeScore
	}
	if a.QualityScore != b.QualityScore {
		return a.QualityScore > b.QualityScore
	}
	if a.RiskScore != b.RiskScore {
		return a.RiskScore < b.RiskScore
	}
	return rankForSort(a) < rankForSort(b)
}

// stablecoinPreferenceLess orders candidate stablecoins for the hard cap:
// volume -> liquidity -> structural -> screening -> rank.
func stablecoinPreferenceLess(a, b Token) bool {
	if a.Volume24hUsd != b.Volume24hUsd {
		return a.Volume24hUsd > b.Volume24hUsd
	}
	if a.LiquidityScore != b.LiquidityScore {
		return a.LiquidityScore > b.LiquidityScore
	}
	if a.StructuralScore != b.StructuralScore {
		return a.StructuralScore > b.StructuralScore
	}
	if a.ScreeningScore != b.ScreeningScore {
		return a.ScreeningScore > b.ScreeningScore
	}
	return rankForSort(a) < rankForSort(b)
}

// Run scores every eligible token, assigns its risk class and selection
// bucket, then shortlists the top candidates per bucket up to its
// configured slot count (stablecoins capped at MaxSelectedStablecoins).
func (e *Phase5Engine) Run(in Input, p4 Phase4Output) Phase5Output {
	scored := make([]Token, 0, len(p4.Tokens))
	for _, t := range p4.Tokens {
		if !t.Eligible {
			continue
		}
		t.VolatilityProxyScore = volatilityProxy(t)
		t.DrawdownProxyScore = drawdownProxy(t)
		t.StablecoinRiskModifier = stablecoinRiskModifier(t)
		t.QualityScore = qualityScore(t)
		t.RiskScore = riskScore(t)
		t.RiskClass = riskClassFor(t)
		t.CompositeScore = compositeScore(t, in.InvestmentTimeframe)
		t.SelectionBucket = bucketFor(t)
		t.Role = roleFor(t, in.RiskTolerance)
		scored = append(scored, t)
	}

	buckets := map[SelectionBucket][]int{BucketCore: nil, BucketSatellite: nil, BucketHighVolatility: nil, BucketStablecoin: nil}
	for i, t := range scored {
		buckets[t.SelectionBucket] = append(buckets[t.SelectionBucket], i)
	}

	for _, b := range []SelectionBucket{BucketCore, BucketSatellite, BucketHighVolatility} {
		idx := buckets[b]
		sort.SliceStable(idx, func(i, j int) bool { return shortlistLess(scored[idx[i]], scored[idx[j]]) })
		buckets[b] = idx
	}
	stableIdx := buckets[BucketStablecoin]
	sort.SliceStable(stableIdx, func(i, j int) bool { return stablecoinPreferenceLess(scored[stableIdx[i]], scored[stableIdx[j]]) })
	buckets[BucketStablecoin] = stableIdx

	slots := map[SelectionBucket]int{
		BucketCore:           e.cfg.CoreSlots,
		BucketSatellite:      e.cfg.SatelliteSlots,
		BucketHighVolatility: e.cfg.HighVolatilitySlots,
		BucketStablecoin:     e.cfg.MaxSelectedStablecoins,
	}
	reasons := map[SelectionBucket]string{
		BucketCore:           "top_composite_score_in_bucket",
		BucketSatellite:      "top_composite_score_in_bucket",
		BucketHighVolatility: "top_composite_score_in_bucket",
		BucketStablecoin:     "preferred_stablecoin_by_volume_liquidity_structural_screening_rank",
	}
	for b, idx := range buckets {
		limit := slots[b]
		for pos, i := range idx {
			if pos < limit {
				scored[i].Selected = true
				scored[i].SelectionReasons = append(scored[i].SelectionReasons, reasons[b])
			}
		}
	}

	shortlist := make([]Token, 0, len(scored))
	for _, t := range scored {
		if t.Selected {
			shortlist = append(shortlist, t)
		}
	}
	sort.SliceStable(shortlist, func(i, j int) bool { return shortlistLess(shortlist[i], shortlist[j]) })
	return Phase5Output{JobID: in.JobID, Shortlist: shortlist}
}
