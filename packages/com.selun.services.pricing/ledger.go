package pricing

import (
	"sync"
	"time"

	"github.com/r3e-network/selun-engine/infrastructure/state"
	"github.com/sirupsen/logrus"
)

// Redemption is one recorded promo-code use.
type Redemption struct {
	Code             string    `json:"code"`
	Wallet           string    `json:"wallet"`
	TransactionID    string    `json:"transactionId"`
	ChargedBaseUnits int64     `json:"chargedBaseUnits"`
	RedeemedAt       time.Time `json:"redeemedAt"`
}

type redemptionsFile struct {
	Redemptions []Redemption `json:"redemptions"`
}

// FileLedger is a file-backed Ledger implementation persisting to
// free-code-redemptions.json.
type FileLedger struct {
	mu          sync.Mutex
	path        string
	log         *logrus.Logger
	redemptions []Redemption
}

// NewFileLedger loads any existing redemption history from path.
func NewFileLedger(path string, log *logrus.Logger) *FileLedger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &FileLedger{path: path, log: log}
	var file redemptionsFile
	if ok, err := state.LoadJSON(path, &file); err != nil {
		log.WithError(err).Warn("pricing: failed reading redemption history, starting empty")
	} else if ok {
		l.redemptions = file.Redemptions
	}
	return l
}

func (l *FileLedger) GlobalUses(code string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, r := range l.redemptions {
		if r.Code == code {
			count++
		}
	}
	return count
}

func (l *FileLedger) WalletRedeemed(code, wallet string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.redemptions {
		if r.Code == code && r.Wallet == wallet {
			return true
		}
	}
	return false
}

func (l *FileLedger) RecordRedemption(code, wallet, txID string, chargedBaseUnits int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redemptions = append(l.redemptions, Redemption{
		Code: code, Wallet: wallet, TransactionID: txID,
		ChargedBaseUnits: chargedBaseUnits, RedeemedAt: time.Now(),
	})
	return state.SaveJSONAtomic(l.path, redemptionsFile{Redemptions: l.redemptions})
}
