package pricing

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestFileLedgerRecordsAndPersists(t *testing.T) {
	path := t.TempDir() + "/free-code-redemptions.json"
	ledger := NewFileLedger(path, logrus.New())

	require.False(t, ledger.WalletRedeemed("WELCOME", "0xabc"))
	require.NoError(t, ledger.RecordRedemption("WELCOME", "0xabc", "FREE-WELCOME-1", 0))
	require.True(t, ledger.WalletRedeemed("WELCOME", "0xabc"))
	require.Equal(t, 1, ledger.GlobalUses("WELCOME"))

	reloaded := NewFileLedger(path, logrus.New())
	require.True(t, reloaded.WalletRedeemed("WELCOME", "0xabc"))
}
