package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memLedger struct {
	uses       map[string]int
	redeemedBy map[string]map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{uses: map[string]int{}, redeemedBy: map[string]map[string]bool{}}
}

func (m *memLedger) GlobalUses(code string) int { return m.uses[code] }
func (m *memLedger) WalletRedeemed(code, wallet string) bool {
	return m.redeemedBy[code] != nil && m.redeemedBy[code][wallet]
}
func (m *memLedger) RecordRedemption(code, wallet, txID string, charged int64) error {
	m.uses[code]++
	if m.redeemedBy[code] == nil {
		m.redeemedBy[code] = map[string]bool{}
	}
	m.redeemedBy[code][wallet] = true
	return nil
}

func TestResolvePromoFreeCode(t *testing.T) {
	rules := ParsePromoRulesCSV("WELCOME100")
	quote := Pricebook{StructuredAllocationPriceUsdc: 20}.Quote(false)
	ledger := newMemLedger()

	res, err := ResolvePromo(rules, ledger, "welcome100", "0xabc", quote, time.Now())
	require.NoError(t, err)
	require.True(t, res.Free)
	require.Contains(t, res.TransactionID, "FREE-WELCOME100-")

	_, err = ResolvePromo(rules, ledger, "welcome100", "0xabc", quote, time.Now())
	require.Error(t, err)
}

func TestResolvePromoRejectsExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	discount := 50.0
	rules := map[string]PromoRule{"HALF": {Code: "HALF", MaxUses: 10, DiscountPercent: &discount, ExpiresAt: &past}}
	quote := Pricebook{StructuredAllocationPriceUsdc: 20}.Quote(false)
	ledger := newMemLedger()

	_, err := ResolvePromo(rules, ledger, "HALF", "0xabc", quote, time.Now())
	require.Error(t, err)
}
