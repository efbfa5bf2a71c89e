package phases

import (
	"math"
	"sort"
	"strings"
)

// Phase6Engine turns the shortlist into final allocation weights subject
// to the Policy Envelope's concentration and stablecoin-floor constraints.
type Phase6Engine struct{}

func NewPhase6Engine() *Phase6Engine {
	return &Phase6Engine{}
}

// targetSelectionCount is the risk-tolerance-scaled number of portfolio
// positions Phase 6 aims to hold, floored at 3.
func targetSelectionCount(rt RiskTolerance) int {
	switch rt {
	case RiskConservative:
		return 6
	case RiskGrowth:
		return 10
	case RiskAggressive:
		return 12
	default:
		return 8
	}
}

func minimumStableCount(stablecoinMinimum float64) int {
	switch {
	case stablecoinMinimum >= 0.2:
		return 2
	case stablecoinMinimum > 0:
		return 1
	default:
		return 0
	}
}

// stableSleeveCap bounds the stablecoin sleeve by both the §4.9 step-1
// formula (risk-tolerance baseline vs the envelope floor) and the §8
// scenario-4 hard ceiling derived from the same formula Phase 4 uses for
// its eligibility guard, so Phase 6's emitted total never exceeds either.
func stableSleeveCap(envelope PolicyEnvelope, rt RiskTolerance) float64 {
	baseline := clamp(math.Max(envelope.StablecoinMinimum, phase2Baseline(rt).StablecoinMinimum), 0, 0.65)
	ceiling := clamp(envelope.StablecoinMinimum+0.22, 0.25, 0.45)
	if baseline < ceiling {
		return baseline
	}
	return ceiling
}

// selectPortfolio pre-picks diversified stablecoin anchors, force-anchors
// BTC/ETH when present in the core bucket, then fills to targetCount from
// the composite-sorted shortlist, per §4.9's Selection step.
func selectPortfolio(shortlist []Token, envelope PolicyEnvelope, rt RiskTolerance) []Token {
	ordered := append([]Token(nil), shortlist...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CompositeScore > ordered[j].CompositeScore })

	selected := map[string]bool{}
	var result []Token
	add := func(t Token) {
		if !selected[t.ID] {
			selected[t.ID] = true
			result = append(result, t)
		}
	}

	var stableCandidates []Token
	for _, t := range ordered {
		if t.SelectionBucket == BucketStablecoin {
			stableCandidates = append(stableCandidates, t)
		}
	}
	need := minimumStableCount(envelope.StablecoinMinimum)
	seenCluster := map[string]bool{}
	for _, t := range stableCandidates {
		if len(result) >= need {
			break
		}
		cluster := string(t.Hints.StablecoinValidationState)
		if !seenCluster[cluster] {
			seenCluster[cluster] = true
			add(t)
		}
	}
	seenIssuer := map[string]bool{}
	for _, t := range stableCandidates {
		if len(result) >= need {
			break
		}
		if selected[t.ID] {
			continue
		}
		if !seenIssuer[t.Issuer] {
			seenIssuer[t.Issuer] = true
			add(t)
		}
	}
	for _, t := range stableCandidates {
		if len(result) >= need {
			break
		}
		add(t)
	}

	for _, t := range ordered {
		if t.SelectionBucket == BucketCore && (strings.EqualFold(t.Symbol, "BTC") || strings.EqualFold(t.Symbol, "ETH")) {
			add(t)
		}
	}

	targetCount := targetSelectionCount(rt)
	if targetCount < 3 {
		targetCount = 3
	}
	for _, t := range ordered {
		if len(result) >= targetCount {
			break
		}
		add(t)
	}
	return result
}

// waterfillWithCap allocates budget proportionally to each id's score,
// capping any id at maxSingle and redistributing the freed budget across
// the remaining uncapped ids until the allocation stabilises.
func waterfillWithCap(ids []string, scores map[string]float64, budget, maxSingle float64) map[string]float64 {
	weights := make(map[string]float64, len(ids))
	active := append([]string(nil), ids...)
	remaining := budget
	for len(active) > 0 {
		total := 0.0
		for _, id := range active {
			total += scores[id]
		}
		if total <= 0 {
			equal := remaining / float64(len(active))
			for _, id := range active {
				weights[id] = equal
			}
			return weights
		}
		var next []string
		capped := false
		for _, id := range active {
			w := remaining * (scores[id] / total)
			if maxSingle > 0 && w > maxSingle+1e-12 {
				weights[id] = maxSingle
				remaining -= maxSingle
				capped = true
			} else {
				next = append(next, id)
			}
		}
		if !capped {
			for _, id := range next {
				weights[id] = remaining * (scores[id] / total)
			}
			return weights
		}
		active = next
	}
	return weights
}

// enforceGroupCap iteratively cuts any group (by key) whose weight share
// exceeds capRatio of the sleeve total back to the cap, redistributing the
// freed weight across the remaining compliant members via waterfill.
func enforceGroupCap(ids []string, weights map[string]float64, scores map[string]float64, keyOf map[string]string, capRatio, maxSingle, sleeveTotal float64) bool {
	groups := map[string][]string{}
	for _, id := range ids {
		groups[keyOf[id]] = append(groups[keyOf[id]], id)
	}
	capAbs := capRatio * sleeveTotal
	changed := false
	for _, members := range groups {
		sum := 0.0
		for _, id := range members {
			sum += weights[id]
		}
		if sum <= capAbs+1e-9 || sum <= 0 {
			continue
		}
		var peers []string
		for _, id := range ids {
			if keyOf[id] != keyOf[members[0]] {
				peers = append(peers, id)
			}
		}
		if len(peers) == 0 {
			// No compliant peer to redistribute to: cutting would only
			// destroy sleeve weight, so leave this group over its
			// diversification cap rather than cut-and-strand it.
			continue
		}
		scale := capAbs / sum
		freed := 0.0
		for _, id := range members {
			cut := weights[id] * (1 - scale)
			weights[id] -= cut
			freed += cut
		}
		if freed > 0 {
			peerBudget := 0.0
			for _, id := range peers {
				peerBudget += weights[id]
			}
			redistributed := waterfillWithCap(peers, scores, peerBudget+freed, maxSingle)
			for id, w := range redistributed {
				weights[id] = w
			}
		}
		changed = true
	}
	return changed
}

// Run implements §4.9's portfolio construction: select the book, allocate
// the stablecoin and non-stable sleeves proportionally under per-asset and
// high-volatility caps, enforce stablecoin issuer/cluster sub-caps
// iteratively, then finalise weights to sum exactly to 1.
func (e *Phase6Engine) Run(in Input, p2 Phase2Output, p5 Phase5Output) Phase6Output {
	envelope := p2.Envelope
	book := selectPortfolio(p5.Shortlist, envelope, in.RiskTolerance)

	byID := make(map[string]Token, len(book))
	var stableIDs, nonStableIDs []string
	compositeScores := make(map[string]float64, len(book))
	for _, t := range book {
		byID[t.ID] = t
		compositeScores[t.ID] = t.CompositeScore
		if t.SelectionBucket == BucketStablecoin {
			stableIDs = append(stableIDs, t.ID)
		} else {
			nonStableIDs = append(nonStableIDs, t.ID)
		}
	}

	stableTotal := stableSleeveCap(envelope, in.RiskTolerance)
	if len(stableIDs) == 0 {
		stableTotal = 0
	}

	stableScores := make(map[string]float64, len(stableIDs))
	issuerOf := make(map[string]string, len(stableIDs))
	clusterOf := make(map[string]string, len(stableIDs))
	issuerCounts, clusterCounts := map[string]int{}, map[string]int{}
	for _, id := range stableIDs {
		t := byID[id]
		issuerOf[id] = t.Issuer
		clusterOf[id] = string(t.Hints.StablecoinValidationState)
		issuerCounts[t.Issuer]++
		clusterCounts[string(t.Hints.StablecoinValidationState)]++
	}
	for _, id := range stableIDs {
		t := byID[id]
		issuerCollision := float64(issuerCounts[t.Issuer] - 1)
		clusterCollision := float64(clusterCounts[string(t.Hints.StablecoinValidationState)] - 1)
		stableScores[id] = t.CompositeScore * (1 - 0.15*issuerCollision) * (1 - 0.15*clusterCollision) * (1 - 0.3*t.RiskScore)
		if stableScores[id] < 0 {
			stableScores[id] = 0
		}
	}

	weights := waterfillWithCap(stableIDs, stableScores, stableTotal, envelope.MaxSingleAsset)

	nonStableTotal := 1 - stableTotal
	nonStableWeights := waterfillWithCap(nonStableIDs, compositeScores, nonStableTotal, envelope.MaxSingleAsset)
	for id, w := range nonStableWeights {
		weights[id] = w
	}

	var highVolIDs, otherNonStableIDs []string
	highVolSum := 0.0
	for _, id := range nonStableIDs {
		if byID[id].SelectionBucket == BucketHighVolatility {
			highVolIDs = append(highVolIDs, id)
			highVolSum += weights[id]
		} else {
			otherNonStableIDs = append(otherNonStableIDs, id)
		}
	}
	if len(highVolIDs) > 0 && highVolSum > envelope.HighVolCap+1e-9 {
		scale := envelope.HighVolCap / highVolSum
		freed := 0.0
		for _, id := range highVolIDs {
			cut := weights[id] * (1 - scale)
			weights[id] -= cut
			freed += cut
		}
		if len(otherNonStableIDs) > 0 {
			otherBudget := 0.0
			for _, id := range otherNonStableIDs {
				otherBudget += weights[id]
			}
			redistributed := waterfillWithCap(otherNonStableIDs, compositeScores, otherBudget+freed, envelope.MaxSingleAsset)
			for id, w := range redistributed {
				weights[id] = w
			}
		}
	}

	if len(stableIDs) > 0 {
		sleeveTotal := func() float64 {
			sum := 0.0
			for _, id := range stableIDs {
				sum += weights[id]
			}
			return sum
		}
		for pass := 0; pass < 12; pass++ {
			changed := enforceGroupCap(stableIDs, weights, stableScores, issuerOf, 0.60, envelope.MaxSingleAsset, sleeveTotal())
			changed = enforceGroupCap(stableIDs, weights, stableScores, clusterOf, 0.75, envelope.MaxSingleAsset, sleeveTotal()) || changed
			if !changed {
				break
			}
		}
	}

	allIDs := append(append([]string(nil), stableIDs...), nonStableIDs...)
	finalizeToUnitSum(allIDs, weights, envelope.MaxSingleAsset)

	allocations := make([]Allocation, 0, len(allIDs))
	stablecoinTotal, volSum, hhi := 0.0, 0.0, 0.0
	for _, id := range allIDs {
		t := byID[id]
		w := weights[id]
		allocations = append(allocations, Allocation{
			TokenID:          id,
			Symbol:           t.Symbol,
			Bucket:           t.SelectionBucket,
			AllocationWeight: w,
		})
		if t.SelectionBucket == BucketStablecoin {
			stablecoinTotal += w
		}
		volSum += w * t.RiskScore
		hhi += w * w
	}

	sort.Slice(allocations, func(i, j int) bool {
		if allocations[i].AllocationWeight != allocations[j].AllocationWeight {
			return allocations[i].AllocationWeight > allocations[j].AllocationWeight
		}
		return allocations[i].Symbol < allocations[j].Symbol
	})

	return Phase6Output{
		JobID:                       in.JobID,
		Allocations:                 allocations,
		StablecoinAllocation:        round6(stablecoinTotal),
		ExpectedPortfolioVolatility: round6(volSum),
		ConcentrationIndex:          round6(hhi),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1_000_000) / 1_000_000
}

// finalizeToUnitSum rounds every weight to 6 decimals, then assigns any
// remaining residual (positive or negative) to the largest-weight row still
// below maxSingle (or, when every row is at the cap, the largest row) so
// the book sums to exactly 1, per §4.9 step 5.
func finalizeToUnitSum(ids []string, weights map[string]float64, maxSingle float64) {
	if len(ids) == 0 {
		return
	}
	sum := 0.0
	for _, id := range ids {
		weights[id] = round6(weights[id])
		sum += weights[id]
	}
	delta := round6(1 - sum)
	if delta == 0 {
		return
	}

	target := ""
	for _, id := range ids {
		if maxSingle > 0 && weights[id] >= maxSingle-1e-9 {
			continue
		}
		if target == "" || weights[id] > weights[target] {
			target = id
		}
	}
	if target == "" {
		target = ids[0]
		for _, id := range ids {
			if weights[id] > weights[target] {
				target = id
			}
		}
	}
	weights[target] = round6(weights[target] + delta)
}
