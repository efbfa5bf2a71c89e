package phases

// phase2Baseline gives the per-risk-tolerance baseline envelope before
// timeframe and market-regime deltas are applied.
func phase2Baseline(rt RiskTolerance) PolicyEnvelope {
	switch rt {
	case RiskConservative:
		return PolicyEnvelope{RiskBudget: 0.20, MaxSingleAsset: 0.12, StablecoinMinimum: 0.45, HighVolCap: 0.05, VolTarget: 0.20, VolCeiling: 0.35, CapitalPreservationBias: 0.6}
	case RiskBalanced:
		return PolicyEnvelope{RiskBudget: 0.40, MaxSingleAsset: 0.20, StablecoinMinimum: 0.25, HighVolCap: 0.15, VolTarget: 0.40, VolCeiling: 0.55, CapitalPreservationBias: 0.35}
	case RiskGrowth:
		return PolicyEnvelope{RiskBudget: 0.60, MaxSingleAsset: 0.30, StablecoinMinimum: 0.12, HighVolCap: 0.25, VolTarget: 0.55, VolCeiling: 0.70, CapitalPreservationBias: 0.2}
	case RiskAggressive:
		return PolicyEnvelope{RiskBudget: 0.80, MaxSingleAsset: 0.40, StablecoinMinimum: 0.05, HighVolCap: 0.40, VolTarget: 0.70, VolCeiling: 0.85, CapitalPreservationBias: 0.08}
	default:
		return phase2Baseline(RiskBalanced)
	}
}

func timeframeDelta(tf Timeframe) PolicyEnvelope {
	switch tf {
	case TimeframeUnder1Year:
		return PolicyEnvelope{RiskBudget: -0.05, StablecoinMinimum: 0.05, HighVolCap: -0.03}
	case Timeframe1To3Years:
		return PolicyEnvelope{}
	case TimeframeOver3Years:
		return PolicyEnvelope{RiskBudget: 0.05, StablecoinMinimum: -0.03, HighVolCap: 0.03}
	default:
		return PolicyEnvelope{}
	}
}

// agentJudgement is the deterministic function of Phase 1 fields producing
// posture/authorization hint/bounded envelope adjustments.
type agentJudgement struct {
	posture           string
	authorizationHint string
	delta             PolicyEnvelope
}

func computeAgentJudgement(p1 Phase1Output) agentJudgement {
	c := p1.Condition
	j := agentJudgement{posture: "neutral", authorizationHint: "NO_CHANGE"}

	switch {
	case c.RiskAppetite == AppetiteDefensive || c.VolatilityState == VolElevated || c.VolatilityState == VolExtreme:
		j.posture = "more_defensive"
		j.authorizationHint = "TIGHTEN"
		j.delta = PolicyEnvelope{RiskBudget: -0.05, StablecoinMinimum: 0.05, HighVolCap: -0.05, VolCeiling: -0.05, CapitalPreservationBias: 0.08}
	case c.RiskAppetite == AppetiteExpansionary && c.Confidence >= 0.55:
		j.posture = "selective_risk_on"
		j.authorizationHint = "RELAX"
		j.delta = PolicyEnvelope{RiskBudget: 0.05, StablecoinMinimum: -0.03, HighVolCap: 0.05, VolCeiling: 0.05, CapitalPreservationBias: -0.08}
	}
	return j
}

// profileMultiplier scales how fast an envelope adjustment applies,
// per-direction: conservative tightens faster than it relaxes.
func profileMultiplier(rt RiskTolerance, tightening bool) float64 {
	switch rt {
	case RiskConservative:
		if tightening {
			return 1.3
		}
		return 0.6
	case RiskAggressive:
		if tightening {
			return 0.7
		}
		return 1.3
	default:
		return 1.0
	}
}

func applyDelta(base, delta PolicyEnvelope, rt RiskTolerance) PolicyEnvelope {
	// higherIsTighter marks fields where an increase tightens the envelope.
	scale := func(v float64, higherIsTighter bool) float64 {
		if v == 0 {
			return 0
		}
		return v * profileMultiplier(rt, (v > 0) == higherIsTighter)
	}
	return PolicyEnvelope{
		RiskBudget:              base.RiskBudget + scale(delta.RiskBudget, false),
		MaxSingleAsset:          base.MaxSingleAsset + scale(delta.MaxSingleAsset, false),
		HighVolCap:              base.HighVolCap + scale(delta.HighVolCap, false),
		StablecoinMinimum:       base.StablecoinMinimum + scale(delta.StablecoinMinimum, true),
		VolTarget:               base.VolTarget + scale(delta.VolTarget, false),
		VolCeiling:              base.VolCeiling + scale(delta.VolCeiling, false),
		CapitalPreservationBias: base.CapitalPreservationBias + scale(delta.CapitalPreservationBias, true),
	}
}

func clampEnvelope(e PolicyEnvelope) PolicyEnvelope {
	e.RiskBudget = clamp(e.RiskBudget, 0.08, 0.9)
	e.MaxSingleAsset = clamp(e.MaxSingleAsset, 0.05, 0.45)
	e.StablecoinMinimum = clamp(e.StablecoinMinimum, 0.03, 0.75)
	e.HighVolCap = clamp(e.HighVolCap, 0.02, 0.45)
	e.VolTarget = clamp(e.VolTarget, 0.1, 0.9)
	e.VolCeiling = clamp(e.VolCeiling, 0.15, 0.95)

	// Post-clamp invariants: high-vol cap never exceeds the single-asset
	// cap, and the vol ceiling never falls below the vol target.
	if e.HighVolCap > e.MaxSingleAsset {
		e.HighVolCap = e.MaxSingleAsset
	}
	if e.VolCeiling < e.VolTarget {
		e.VolCeiling = e.VolTarget
	}
	return e
}

func policyModeFor(e PolicyEnvelope) PolicyMode {
	switch {
	case e.RiskBudget <= 0.25:
		return ModeCapitalPreservation
	case e.RiskBudget <= 0.45:
		return ModeBalancedDefensive
	case e.RiskBudget <= 0.65:
		return ModeBalancedGrowth
	default:
		return ModeOffensiveGrowth
	}
}

// isMacroEmergency flags the extreme-volatility/weak-liquidity/negative-
// sentiment or high-uncertainty/low-confidence conditions that force both
// authorization and policy mode to their most defensive settings.
func isMacroEmergency(p1 Phase1Output) bool {
	c := p1.Condition
	return (c.VolatilityState == VolExtreme && c.LiquidityState == LiquidityWeak && c.SentimentDirection <= -0.4) ||
		(c.Uncertainty >= 0.9 && c.Confidence <= 0.2)
}

func classifyPhase2Authorization(p1 Phase1Output, judgement agentJudgement) AllocationAuthorization {
	if isMacroEmergency(p1) {
		return AuthProhibited
	}
	switch p1.Authorization {
	case AuthProhibited:
		return AuthProhibited
	case AuthAuthorized:
		if judgement.authorizationHint == "TIGHTEN" {
			return AuthRestricted
		}
		return AuthAuthorized
	default:
		if judgement.authorizationHint == "RELAX" {
			return AuthAuthorized
		}
		return AuthRestricted
	}
}

// RunPhase2 computes the Policy Envelope from Phase 1's output and the
// user's risk profile/timeframe.
func RunPhase2(in Input, p1 Phase1Output) Phase2Output {
	base := phase2Baseline(in.RiskTolerance)
	base = applyDelta(base, timeframeDelta(in.InvestmentTimeframe), in.RiskTolerance)

	judgement := computeAgentJudgement(p1)
	combined := applyDelta(base, judgement.delta, in.RiskTolerance)
	envelope := clampEnvelope(combined)
	envelope.RiskScalingFactor = clamp(envelope.RiskBudget/phase2Baseline(in.RiskTolerance).RiskBudget, 0.25, 2.0)
	envelope.DefensiveAdjustmentApplied = judgement.posture == "more_defensive"

	mode := policyModeFor(envelope)
	if isMacroEmergency(p1) {
		mode = ModeCapitalPreservation
	}

	out := Phase2Output{
		JobID:         in.JobID,
		Mode:          mode,
		Envelope:      envelope,
		Authorization: classifyPhase2Authorization(p1, judgement),
	}
	out.ContentHash = contentHash(out)
	return out
}
