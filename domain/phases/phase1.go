package phases

import (
	"context"
	"time"

	"github.com/r3e-network/selun-engine/domain/schema"
	"github.com/r3e-network/selun-engine/domain/snapshot"
	"github.com/r3e-network/selun-engine/infrastructure/errors"
)

// MacroAttempt is one round of macro-data collection across the four
// collector domains.
type MacroAttempt struct {
	Volatility       VolatilityState
	Liquidity        LiquidityState
	SentimentScore   float64 // [-1,1]
	MarketBreadthPositiveRatio float64
	Abs24hMove       float64
	AssetCount       int
	Sources          []string
	MissingDomains   []string
}

// usable reports whether the attempt satisfies Phase 1's usability rule:
// all three domains report a non-missing signal AND asset_count >= 20.
func (a MacroAttempt) usable() bool {
	return len(a.MissingDomains) == 0 && a.AssetCount >= 20
}

// Collector produces one MacroAttempt per call; implementations fan out to
// the four macro collectors (volatility/liquidity/sentiment/market-metrics).
type Collector interface {
	Collect(ctx context.Context) (MacroAttempt, error)
}

// Phase1Config tunes the retry/backoff/recovery behaviour.
type Phase1Config struct {
	MaxUsableDataAttempts int
	RetryDelayMs          int64
	MaxRetryDelayMs       int64
	SnapshotMaxAge        time.Duration
}

func DefaultPhase1Config() Phase1Config {
	return Phase1Config{
		MaxUsableDataAttempts: 12,
		RetryDelayMs:          250,
		MaxRetryDelayMs:       8000,
		SnapshotMaxAge:        6 * time.Hour,
	}
}

var phase1Schema = schema.Schema{
	Name: "phase1",
	Fields: []schema.Field{
		{Name: "sentiment_direction", Kind: schema.KindNumber, Required: true, Min: -1, Max: 1},
		{Name: "alignment", Kind: schema.KindNumber, Required: true, Min: 0, Max: 1},
		{Name: "confidence", Kind: schema.KindNumber, Required: true, Min: 0, Max: 1},
		{Name: "uncertainty", Kind: schema.KindNumber, Required: true, Min: 0, Max: 1},
		{Name: "volatility_state", Kind: schema.KindEnum, Required: true, Enum: []string{"low", "moderate", "elevated", "extreme"}},
		{Name: "liquidity_state", Kind: schema.KindEnum, Required: true, Enum: []string{"weak", "stable", "strong"}},
		{Name: "risk_appetite", Kind: schema.KindEnum, Required: true, Enum: []string{"defensive", "neutral", "expansionary"}},
	},
}

// Phase1Engine runs the Macro Review phase.
type Phase1Engine struct {
	collector Collector
	snapshots *snapshot.Store
	cfg       Phase1Config
	sleep     func(time.Duration)
}

func NewPhase1Engine(collector Collector, snapshots *snapshot.Store, cfg Phase1Config) *Phase1Engine {
	return &Phase1Engine{collector: collector, snapshots: snapshots, cfg: cfg, sleep: time.Sleep}
}

// Run executes the attempt loop, falls back to the LKG snapshot on
// exhaustion, classifies risk appetite/alignment, and emits a
// schema-validated Phase1Output.
func (e *Phase1Engine) Run(ctx context.Context, in Input) (Phase1Output, error) {
	var last MacroAttempt
	var gotUsable bool

	maxAttempts := e.cfg.MaxUsableDataAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.collector.Collect(ctx)
		if err == nil && result.usable() {
			last = result
			gotUsable = true
			break
		}
		if result.Sources != nil {
			last = result
		}
		if attempt < maxAttempts {
			delay := time.Duration(minInt64(e.cfg.RetryDelayMs*int64(attempt), e.cfg.MaxRetryDelayMs)) * time.Millisecond
			e.sleep(delay)
		}
	}

	missingDomains := append([]string{}, last.MissingDomains...)
	var snapshotRecoveryAgeMs int64
	if !gotUsable {
		snap, ok := e.snapshots.UsableWithin(e.cfg.SnapshotMaxAge, time.Now())
		if !ok {
			return Phase1Output{}, errors.MacroDataUnusable(maxAttempts)
		}
		missingDomains = append(missingDomains, "live_macro_unavailable_recovered_with_last_known_good_snapshot")
		snapshotRecoveryAgeMs = snap.Age(time.Now()).Milliseconds()
		last = MacroAttempt{
			Volatility:     VolatilityState(snap.Volatility),
			Liquidity:      LiquidityState(snap.Liquidity),
			SentimentScore: snap.Sentiment,
			AssetCount:     20,
			Sources:        snap.Sources,
		}
	}

	condition := classifyMarketCondition(last)
	auth := classifyPhase1Authorization(condition)

	out := Phase1Output{
		JobID:         in.JobID,
		Condition:     condition,
		Authorization: auth,
		Audit: Audit{
			Sources:               last.Sources,
			MissingDomains:        missingDomains,
			SnapshotRecoveryAgeMs: snapshotRecoveryAgeMs,
		},
	}

	doc, violations, ok := schema.BuildAndValidate(phase1Schema, func() map[string]interface{} {
		return map[string]interface{}{
			"sentiment_direction": condition.SentimentDirection,
			"alignment":           condition.Alignment,
			"confidence":          condition.Confidence,
			"uncertainty":         condition.Uncertainty,
			"volatility_state":    string(condition.VolatilityState),
			"liquidity_state":     string(condition.LiquidityState),
			"risk_appetite":       string(condition.RiskAppetite),
		}
	})
	if !ok {
		return Phase1Output{}, errors.SchemaValidation("phase1", violationsErr(violations))
	}
	out.Condition.SentimentDirection = doc["sentiment_direction"].(float64)
	out.Condition.Alignment = doc["alignment"].(float64)
	out.Condition.Confidence = doc["confidence"].(float64)
	out.Condition.Uncertainty = doc["uncertainty"].(float64)

	if gotUsable {
		e.snapshots.Replace(snapshot.Macro{
			CapturedAt: time.Now(),
			Volatility: string(condition.VolatilityState),
			Liquidity:  string(condition.LiquidityState),
			Sentiment:  condition.SentimentDirection,
			Alignment:  condition.Alignment,
			Sources:    last.Sources,
		})
	}

	out.ContentHash = contentHash(out)
	return out, nil
}

func classifyMarketCondition(a MacroAttempt) MarketCondition {
	confidence := clamp(0.5+0.1*float64(len(a.Sources))-0.05*float64(len(a.MissingDomains)), 0, 1)
	uncertainty := clamp(1-confidence, 0, 1)
	alignment := clamp(confidence*0.9, 0, 1)

	appetite := AppetiteNeutral
	switch {
	case a.Volatility == VolExtreme || a.Liquidity == LiquidityWeak:
		appetite = AppetiteDefensive
	case a.SentimentScore > 0.2 && a.MarketBreadthPositiveRatio > 0.55 && a.Volatility != VolExtreme:
		appetite = AppetiteExpansionary
	}

	return MarketCondition{
		VolatilityState:    a.Volatility,
		LiquidityState:     a.Liquidity,
		RiskAppetite:       appetite,
		SentimentDirection: clamp(a.SentimentScore, -1, 1),
		Alignment:          alignment,
		Confidence:         confidence,
		Uncertainty:        uncertainty,
	}
}

func classifyPhase1Authorization(c MarketCondition) AllocationAuthorization {
	defensiveStress := c.RiskAppetite == AppetiteDefensive && c.Confidence >= 0.45
	switch {
	case defensiveStress || c.VolatilityState == VolExtreme:
		return AuthProhibited
	case c.RiskAppetite == AppetiteExpansionary && c.Confidence >= 0.55 && c.LiquidityState != LiquidityWeak:
		return AuthAuthorized
	default:
		return AuthDeferred
	}
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func violationsErr(v []schema.Violation) error {
	if len(v) == 0 {
		return nil
	}
	msg := v[0].String()
	return errors.InvalidFormat("phase_output", msg)
}
