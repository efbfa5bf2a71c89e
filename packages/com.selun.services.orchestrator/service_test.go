package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/selun-engine/domain/phases"
	"github.com/r3e-network/selun-engine/domain/snapshot"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeCollector struct{}

func (fakeCollector) Collect(ctx context.Context) (phases.MacroAttempt, error) {
	return phases.MacroAttempt{
		Volatility: phases.VolModerate,
		Liquidity:  phases.LiquidityStable,
		AssetCount: 50,
		Sources:    []string{"a", "b", "c"},
	}, nil
}

type fakeUniverseProvider struct{}

func (fakeUniverseProvider) FetchUniverse(ctx context.Context) ([]phases.Token, error) {
	return []phases.Token{
		{ID: "t1", Symbol: "AAA", MarketCapRank: 5, Volume24hUsd: 10_000_000, Volume30dUsd: 300_000_000},
	}, nil
}

func TestOrchestratorRunsPhasesInOrder(t *testing.T) {
	dir := t.TempDir()
	snaps := snapshot.New(dir+"/snap.json", logrus.New())
	p1 := phases.NewPhase1Engine(fakeCollector{}, snaps, phases.DefaultPhase1Config())
	p3 := phases.NewPhase3Engine(fakeUniverseProvider{})
	p4 := phases.NewPhase4Engine(phases.DefaultPhase4Config())
	p5 := phases.NewPhase5Engine(phases.DefaultPhase5Config())
	p6 := phases.NewPhase6Engine()

	o := New(p1, p3, p4, p5, p6, nil, "", logrus.New())

	in := phases.Input{JobID: "job-1", WalletAddress: "0xabc", RiskTolerance: phases.RiskBalanced, InvestmentTimeframe: phases.Timeframe1To3Years}
	o.RunPhase1(context.Background(), "job-1", in)

	require.Eventually(t, func() bool {
		st, ok := o.GetExecutionStatus("job-1")
		return ok && st.Phases["phase2"] == PhaseComplete
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, o.RunPhaseN(context.Background(), "job-1", 3))
	require.Eventually(t, func() bool {
		st, _ := o.GetExecutionStatus("job-1")
		return st.Phases["phase3"] == PhaseComplete
	}, time.Second, 5*time.Millisecond)

	require.Error(t, o.RunPhaseN(context.Background(), "job-1", 5))
}

func TestOrchestratorStopWaitsForInFlightPhase(t *testing.T) {
	dir := t.TempDir()
	snaps := snapshot.New(dir+"/snap.json", logrus.New())
	p1 := phases.NewPhase1Engine(fakeCollector{}, snaps, phases.DefaultPhase1Config())
	p3 := phases.NewPhase3Engine(fakeUniverseProvider{})
	p4 := phases.NewPhase4Engine(phases.DefaultPhase4Config())
	p5 := phases.NewPhase5Engine(phases.DefaultPhase5Config())
	p6 := phases.NewPhase6Engine()

	o := New(p1, p3, p4, p5, p6, nil, "", logrus.New())

	in := phases.Input{JobID: "job-2", WalletAddress: "0xabc", RiskTolerance: phases.RiskBalanced, InvestmentTimeframe: phases.Timeframe1To3Years}
	o.RunPhase1(context.Background(), "job-2", in)

	require.NoError(t, o.Stop(context.Background()))

	st, ok := o.GetExecutionStatus("job-2")
	require.True(t, ok)
	require.Equal(t, PhaseComplete, st.Phases["phase2"])
}

func TestOrchestratorRejectsNewPhaseAfterStop(t *testing.T) {
	dir := t.TempDir()
	snaps := snapshot.New(dir+"/snap.json", logrus.New())
	p1 := phases.NewPhase1Engine(fakeCollector{}, snaps, phases.DefaultPhase1Config())
	p3 := phases.NewPhase3Engine(fakeUniverseProvider{})
	p4 := phases.NewPhase4Engine(phases.DefaultPhase4Config())
	p5 := phases.NewPhase5Engine(phases.DefaultPhase5Config())
	p6 := phases.NewPhase6Engine()

	o := New(p1, p3, p4, p5, p6, nil, "", logrus.New())
	require.NoError(t, o.Stop(context.Background()))

	in := phases.Input{JobID: "job-3", WalletAddress: "0xabc", RiskTolerance: phases.RiskBalanced, InvestmentTimeframe: phases.Timeframe1To3Years}
	o.RunPhase1(context.Background(), "job-3", in)
	st, ok := o.GetExecutionStatus("job-3")
	require.True(t, ok)
	require.Equal(t, PhaseIdle, st.Phases["phase1"])
}
