package phases

import (
	"math"
	"sort"
)

// riskThreshold is one rung of the Conservative→Aggressive eligibility
// ladder: the score floors a token must clear to be eligible outright.
type riskThreshold struct {
	MinScreening  float64
	MinLiquidity  float64
	MinStructural float64
}

// Phase4Config tunes the §4.7 liquidity/structural screening thresholds.
type Phase4Config struct {
	MinExchangeDepth          float64
	MinVolume24hUsd           float64
	TargetEligibleCount       int
	MinEligibleCoverage       int
	CoreLaneRatio             float64
	StablecoinIssuerCapRatio  float64
	StablecoinClusterCapRatio float64
	Thresholds                map[RiskTolerance]riskThreshold
}

func DefaultPhase4Config() Phase4Config {
	return Phase4Config{
		MinExchangeDepth:          0.05,
		MinVolume24hUsd:           50_000,
		TargetEligibleCount:       40,
		MinEligibleCoverage:       25,
		CoreLaneRatio:             0.40,
		StablecoinIssuerCapRatio:  0.60,
		StablecoinClusterCapRatio: 0.75,
		Thresholds: map[RiskTolerance]riskThreshold{
			RiskConservative: {MinScreening: 0.45, MinLiquidity: 0.35, MinStructural: 0.40},
			RiskBalanced:     {MinScreening: 0.35, MinLiquidity: 0.25, MinStructural: 0.30},
			RiskGrowth:       {MinScreening: 0.25, MinLiquidity: 0.18, MinStructural: 0.20},
			RiskAggressive:   {MinScreening: 0.15, MinLiquidity: 0.10, MinStructural: 0.12},
		},
	}
}

// Phase4Engine screens the expanded universe for liquidity and structural
// soundness, producing a pass/fail eligibility flag per token.
type Phase4Engine struct {
	cfg Phase4Config
}

func NewPhase4Engine(cfg Phase4Config) *Phase4Engine {
	return &Phase4Engine{cfg: cfg}
}

// norm log10-compresses a volume-like value into [0,1] between floor and
// ceiling, so a handful of mega-cap outliers don't swamp a linear scale.
func norm(v, floor, ceil float64) float64 {
	denom := math.Log10(ceil+1) - math.Log10(floor+1)
	if denom <= 0 {
		return 0
	}
	return clamp((math.Log10(v+1)-math.Log10(floor+1))/denom, 0, 1)
}

func liquidityScore(t Token) float64 {
	vol24 := norm(t.Volume24hUsd, 100_000, 50_000_000)
	vol7 := norm(t.Volume7dUsd, 700_000, 350_000_000)
	vol30 := norm(t.Volume30dUsd, 3_000_000, 1_500_000_000)
	depth := t.Hints.ExchangeDepthProxy
	return clamp(0.45*vol24+0.25*vol7+0.15*vol30+0.15*depth, 0, 1)
}

// categoryStructuralWeight scores a token's category term of the
// structural score; stablecoins and large caps anchor it, long tail and
// meme/speculative categories drag it down.
func categoryStructuralWeight(c TokenCategory) float64 {
	switch c {
	case CategoryStablecoin:
		return 1.0
	case CategoryLargeCap:
		return 0.95
	case CategoryDefiBluechip:
		return 0.8
	case CategoryCommodity:
		return 0.75
	case CategoryAlternative:
		return 0.5
	case CategoryMeme:
		return 0.15
	case CategoryLongTail:
		return 0.1
	default:
		return 0.4
	}
}

// stablecoinValidationWeight scores the stablecoin_validation term; tokens
// outside the stablecoin category get a neutral baseline so the term
// doesn't penalise non-stables that have no peg to validate.
func stablecoinValidationWeight(h ScreeningHints) float64 {
	if h.Category != CategoryStablecoin {
		return 0.7
	}
	switch h.StablecoinValidationState {
	case ValidationFiatCustodial:
		return 1.0
	case ValidationCryptoCollateral:
		return 0.85
	case ValidationSyntheticYield:
		return 0.6
	default:
		return 0.2
	}
}

func structuralScore(t Token) float64 {
	rankComponent := float64(t.Hints.RankBucket) / 4.0
	categoryComponent := categoryStructuralWeight(t.Hints.Category)
	validationComponent := stablecoinValidationWeight(t.Hints)

	penalty := 0.0
	if t.Hints.SuspiciousVolumeRankMismatch {
		penalty += 0.35
	}
	if t.Hints.IsProxy {
		penalty += 0.15
	}
	if t.Hints.StrictRankGateRequired && t.Hints.RankBucket == 0 {
		penalty += 0.1
	}

	raw := 0.4*rankComponent + 0.35*categoryComponent + 0.25*validationComponent - penalty
	return clamp(raw, 0, 1)
}

func screeningScore(t Token) float64 {
	profileBonus := math.Min(0.08, 0.02*float64(len(t.ProfileMatchReasons)))
	return clamp(0.58*t.LiquidityScore+0.42*t.StructuralScore+profileBonus, 0, 1)
}

func (e *Phase4Engine) thresholdsFor(rt RiskTolerance) riskThreshold {
	if th, ok := e.cfg.Thresholds[rt]; ok {
		return th
	}
	return e.cfg.Thresholds[RiskBalanced]
}

// relax widens a threshold rung and lowers the volume floor by a fixed
// fraction per step, stopping short of zero so relaxation never disables
// screening outright.
func relax(th riskThreshold, volFloor float64, step int) (riskThreshold, float64) {
	factor := 1 - 0.15*float64(step)
	if factor < 0.25 {
		factor = 0.25
	}
	return riskThreshold{
		MinScreening:  th.MinScreening * factor,
		MinLiquidity:  th.MinLiquidity * factor,
		MinStructural: th.MinStructural * factor,
	}, volFloor * factor
}

// hardExclusions reports the exclusion reasons that no relaxation step can
// waive: strict-rank gate failures, unverified stablecoins, and meme
// tokens under a defensive envelope.
func (e *Phase4Engine) hardExclusions(t Token, envelope PolicyEnvelope) []string {
	var reasons []string
	if t.Hints.StrictRankGateRequired && (t.MarketCapRank <= 0 || t.MarketCapRank > 500) {
		reasons = append(reasons, "rank_exceeds_strict_gate_ceiling")
	}
	if t.Hints.Category == CategoryStablecoin && t.Hints.StablecoinValidationState == ValidationEmergingUnverified {
		reasons = append(reasons, "unverified_stablecoin_excluded")
	}
	if t.Hints.IsMeme && envelope.CapitalPreservationBias >= 0.3 {
		reasons = append(reasons, "meme_excluded_under_defensive_envelope")
	}
	return reasons
}

func (e *Phase4Engine) passesFloors(t Token, th riskThreshold, volFloor float64) []string {
	var reasons []string
	if t.Volume24hUsd < volFloor {
		reasons = append(reasons, "volume24h_below_floor")
	}
	if t.Hints.ExchangeDepthProxy < e.cfg.MinExchangeDepth {
		reasons = append(reasons, "exchange_depth_below_floor")
	}
	if t.ScreeningScore < th.MinScreening {
		reasons = append(reasons, "screening_score_below_floor")
	}
	if t.LiquidityScore < th.MinLiquidity {
		reasons = append(reasons, "liquidity_score_below_floor")
	}
	if t.StructuralScore < th.MinStructural {
		reasons = append(reasons, "structural_score_below_floor")
	}
	return reasons
}

// Run computes LiquidityScore/StructuralScore/ScreeningScore for every
// token, classifies it into the core (hard-pass) or coverage-fill
// (relaxed-pass) eligibility lane per §4.7, and applies the stablecoin
// total/issuer/cluster guards over the resulting eligible set.
func (e *Phase4Engine) Run(in Input, p2 Phase2Output, p3 Phase3Output) Phase4Output {
	th := e.thresholdsFor(in.RiskTolerance)

	tokens := make([]Token, len(p3.Tokens))
	hard := make([]bool, len(p3.Tokens))

	coreCount := 0
	eligible := make([]bool, len(p3.Tokens))
	reasons := make([][]string, len(p3.Tokens))
	for i, t := range p3.Tokens {
		t.LiquidityScore = liquidityScore(t)
		t.StructuralScore = structuralScore(t)
		t.ScreeningScore = screeningScore(t)
		tokens[i] = t

		excl := e.hardExclusions(t, p2.Envelope)
		floorReasons := e.passesFloors(t, th, e.cfg.MinVolume24hUsd)
		hard[i] = len(excl) == 0 && len(floorReasons) == 0
		if hard[i] {
			eligible[i] = true
			coreCount++
		} else {
			reasons[i] = append(excl, floorReasons...)
		}
	}

	// Relaxation: up to four steps widen the floors (never the hard
	// exclusions) until coverage reaches MinEligibleCoverage or the step
	// budget is spent. Newly-passing tokens join a coverage-fill pool
	// capped at floor(CoreLaneRatio*TargetEligibleCount) below.
	type poolEntry struct{ idx int }
	var pool []poolEntry
	total := coreCount
	for step := 1; step <= 4 && total < e.cfg.MinEligibleCoverage; step++ {
		relaxedTh, relaxedVol := relax(th, e.cfg.MinVolume24hUsd, step)
		for i, t := range tokens {
			if hard[i] || eligible[i] {
				continue
			}
			if len(e.hardExclusions(t, p2.Envelope)) > 0 {
				continue
			}
			if len(e.passesFloors(t, relaxedTh, relaxedVol)) == 0 {
				pool = append(pool, poolEntry{idx: i})
				eligible[i] = true // tentative; finalised against the lane cap below
				total++
			}
		}
	}

	coverageCap := int(math.Floor(e.cfg.CoreLaneRatio * float64(e.cfg.TargetEligibleCount)))
	if len(pool) > coverageCap {
		sort.SliceStable(pool, func(a, b int) bool {
			return tokens[pool[a].idx].ScreeningScore > tokens[pool[b].idx].ScreeningScore
		})
		for _, p := range pool[coverageCap:] {
			eligible[p.idx] = false
			reasons[p.idx] = append(reasons[p.idx], "coverage_fill_lane_capacity_exceeded")
		}
	}

	// Priority cutoff: cap the combined eligible set at TargetEligibleCount,
	// demoting the lowest-screening-score excess first.
	var eligibleIdx []int
	for i := range tokens {
		if eligible[i] {
			eligibleIdx = append(eligibleIdx, i)
		}
	}
	if len(eligibleIdx) > e.cfg.TargetEligibleCount {
		sort.SliceStable(eligibleIdx, func(a, b int) bool {
			return tokens[eligibleIdx[a]].ScreeningScore > tokens[eligibleIdx[b]].ScreeningScore
		})
		for _, i := range eligibleIdx[e.cfg.TargetEligibleCount:] {
			eligible[i] = false
			reasons[i] = append(reasons[i], "eligible_set_priority_cutoff")
		}
	}

	e.applyStablecoinGuards(tokens, eligible, reasons, p2.Envelope)

	out := make([]Token, 0, len(tokens))
	for i, t := range tokens {
		t.Eligible = eligible[i]
		t.ExclusionReasons = reasons[i]
		out = append(out, t)
	}
	return Phase4Output{JobID: in.JobID, Tokens: out}
}

// applyStablecoinGuards demotes eligible stablecoins, lowest
// screening-score first, until the total-stable/per-issuer/per-cluster
// shares of the eligible set fall within the §4.7 caps.
func (e *Phase4Engine) applyStablecoinGuards(tokens []Token, eligible []bool, reasons [][]string, envelope PolicyEnvelope) {
	eligibleCount := 0
	var stableIdx []int
	for i, t := range tokens {
		if !eligible[i] {
			continue
		}
		eligibleCount++
		if t.Hints.Category == CategoryStablecoin {
			stableIdx = append(stableIdx, i)
		}
	}
	if len(stableIdx) == 0 || eligibleCount == 0 {
		return
	}

	sortByScoreAsc := func(idx []int) {
		sort.SliceStable(idx, func(a, b int) bool {
			return tokens[idx[a]].ScreeningScore < tokens[idx[b]].ScreeningScore
		})
	}

	totalStableCap := clamp(envelope.StablecoinMinimum+0.22, 0.25, 0.45)
	maxStableCount := int(math.Floor(totalStableCap * float64(eligibleCount)))
	if maxStableCount < 1 {
		maxStableCount = 1
	}
	sortByScoreAsc(stableIdx)
	for len(stableIdx) > maxStableCount {
		i := stableIdx[0]
		eligible[i] = false
		reasons[i] = append(reasons[i], "stablecoin_total_cap_exceeded")
		stableIdx = stableIdx[1:]
	}

	demoteOverGroupCap := func(keyOf func(Token) string, capRatio float64, reason string) {
		for changed := true; changed; {
			changed = false
			groups := map[string][]int{}
			for _, i := range stableIdx {
				k := keyOf(tokens[i])
				groups[k] = append(groups[k], i)
			}
			cap := int(math.Floor(capRatio * float64(len(stableIdx))))
			if cap < 1 {
				cap = 1
			}
			for _, members := range groups {
				if len(members) <= cap {
					continue
				}
				sortByScoreAsc(members)
				for _, i := range members[cap:] {
					eligible[i] = false
					reasons[i] = append(reasons[i], reason)
				}
				var kept []int
				for _, i := range stableIdx {
					if eligible[i] {
						kept = append(kept, i)
					}
				}
				stableIdx = kept
				changed = true
				break
			}
		}
	}

	demoteOverGroupCap(func(t Token) string { return t.Issuer }, e.cfg.StablecoinIssuerCapRatio, "stablecoin_issuer_cap_exceeded")
	demoteOverGroupCap(func(t Token) string { return string(t.Hints.StablecoinValidationState) }, e.cfg.StablecoinClusterCapRatio, "stablecoin_cluster_cap_exceeded")
}
