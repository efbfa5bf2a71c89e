// Package identity persists the engine's own receiving wallet identity, the
// counterparty every on-chain payment in /api/agent/pay is verified against.
package identity

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/r3e-network/selun-engine/infrastructure/state"
	"github.com/sirupsen/logrus"
)

// Identity is the persisted shape of agent-identity.json.
type Identity struct {
	AgentID       string `json:"agentId"`
	WalletAddress string `json:"walletAddress"`
	Network       string `json:"network"`
}

// LoadOrCreate reads path, generating and persisting a fresh identity with a
// random address on first run. The network field is refreshed to network on
// every load so a NETWORK_ID change takes effect without a manual edit.
func LoadOrCreate(path, network string, log *logrus.Logger) (Identity, error) {
	var id Identity
	ok, err := state.LoadJSON(path, &id)
	if err != nil {
		log.WithError(err).Warn("identity: corrupt agent-identity.json, regenerating")
	}
	if !ok || id.WalletAddress == "" {
		id = Identity{
			AgentID:       uuid.NewString(),
			WalletAddress: randomAddress().Hex(),
		}
	}
	id.Network = network

	if err := state.SaveJSONAtomic(path, id); err != nil {
		return Identity{}, fmt.Errorf("persist agent identity: %w", err)
	}
	return id, nil
}

func randomAddress() common.Address {
	var raw [20]byte
	_, _ = rand.Read(raw[:])
	return common.BytesToAddress(raw[:])
}
