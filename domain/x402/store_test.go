package x402

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReserveTransactionHashSingleUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x402-state.json")
	s := New(path, 2, nil)

	r1 := s.ReserveTransactionHash("0xaaaa", "D1")
	require.True(t, r1.Accepted)
	require.False(t, r1.Reused)

	r1again := s.ReserveTransactionHash("0xaaaa", "D1")
	require.True(t, r1again.Accepted)
	require.True(t, r1again.Reused)

	r2 := s.ReserveTransactionHash("0xaaaa", "D2")
	require.False(t, r2.Accepted)
	require.Equal(t, "D1", r2.ExistingDecisionID)
}

func TestAllocateRecordRoundTripAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x402-state.json")
	s := New(path, 2, nil)

	rec := AllocateRecord{
		DecisionID: "SELUN-DEC-1", JobID: "job-1", State: StateAccepted,
		CreatedAt: time.Now(),
		Payment:   &Payment{FromAddress: "0xabc", TransactionHash: "0xdead", Network: "base"},
	}
	s.SetAllocateRecord(rec)

	reloaded := New(path, 2, nil)
	owner, ok := reloaded.GetTransactionOwner("0xdead")
	require.True(t, ok)
	require.Equal(t, "SELUN-DEC-1", owner)

	decisionID, ok := reloaded.GetDecisionIDForJob("job-1")
	require.True(t, ok)
	require.Equal(t, "SELUN-DEC-1", decisionID)

	got, ok := reloaded.GetAllocateRecord("SELUN-DEC-1")
	require.True(t, ok)
	require.Equal(t, "base", got.Payment.Network)
}

func TestDailyUsagePruning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x402-state.json")
	s := New(path, 2, nil)

	old := "2025-01-01:0xaaa"
	todayKey := time.Now().Format("2006-01-02") + ":0xbbb"

	s.mu.Lock()
	s.addressDailyUsage[old] = 2
	s.addressDailyUsage[todayKey] = 5
	s.persistLocked()
	s.mu.Unlock()

	reloaded := New(path, 2, nil)
	require.EqualValues(t, 0, reloaded.GetAddressDailyUsage(old))
	require.EqualValues(t, 5, reloaded.GetAddressDailyUsage(todayKey))
}
