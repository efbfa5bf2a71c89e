// Package wallet implements the Wallet/Payment Gateway: USDC balance reads,
// on-chain payment verification via Transfer-event log scanning, and the
// decision-hash self-transfer memo anchor.
package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/r3e-network/selun-engine/infrastructure/errors"
	"github.com/r3e-network/selun-engine/system/framework"
	core "github.com/r3e-network/selun-engine/system/framework/core"
	"github.com/sirupsen/logrus"
)

var transferEventSignature = gethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Chain is the subset of an Ethereum JSON-RPC client the gateway needs.
type Chain interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	FilterLogs(ctx context.Context, q gethereum.FilterQuery) ([]gethtypes.Log, error)
}

// Config configures the payment gateway's chain/contract parameters.
type Config struct {
	USDCAddress          common.Address
	PaymentConfirmations uint64
	PaymentTimeout       time.Duration
	PaymentPollInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PaymentConfirmations: 1,
		PaymentTimeout:       5 * time.Minute,
		PaymentPollInterval:  4 * time.Second,
	}
}

// Receipt is a verified payment observation.
type Receipt struct {
	TransactionHash string
	From            common.Address
	To              common.Address
	Value           *big.Int
	BlockNumber     uint64
}

// Service is the Wallet/Payment Gateway. It satisfies the generic
// applications/system Service lifecycle.
type Service struct {
	framework.ServiceBase
	base    *core.Base
	cfg     Config
	chain   Chain
	log     *logrus.Entry
	metrics paymentConfirmRecorder
}

// paymentConfirmRecorder is the subset of infrastructure/metrics.Metrics this
// package needs.
type paymentConfirmRecorder interface {
	RecordPaymentConfirmation(status string, duration time.Duration)
}

// SetMetrics attaches a metrics recorder for payment confirmation attempts.
func (s *Service) SetMetrics(m paymentConfirmRecorder) {
	s.metrics = m
}

func (s *Service) recordConfirmation(status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordPaymentConfirmation(status, time.Since(start))
	}
}

func New(chain Chain, cfg Config, log *logrus.Logger) *Service {
	return &Service{
		ServiceBase: *framework.NewServiceBase("wallet", "payments"),
		base:        core.NewBase(),
		cfg:         cfg,
		chain:       chain,
		log:         log.WithField("service", "wallet"),
	}
}

func (s *Service) Start(ctx context.Context) error { s.MarkStarted(); return nil }
func (s *Service) Stop(ctx context.Context) error  { s.MarkStopped(); return nil }

// Ping checks that the chain RPC endpoint is reachable by fetching the
// latest header. Used as a health-check dependency probe.
func (s *Service) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.chain.HeaderByNumber(ctx, nil)
	return err
}

func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "wallet", Domain: "payments", Layer: core.LayerService,
		Capabilities: []string{"payment_verification", "decision_anchor"}}
}

// ConfirmTransactionHash verifies a caller-supplied tx hash carries a
// Transfer(from=payer, to=agent, value>=expected) with enough confirmations.
func (s *Service) ConfirmTransactionHash(ctx context.Context, txHash common.Hash, payer, agent common.Address, expected *big.Int) (*Receipt, error) {
	start := time.Now()
	deadline := start.Add(s.cfg.PaymentTimeout)
	for {
		receipt, err := s.chain.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if r, ok := s.extractMatch(receipt, payer, agent, expected); ok {
				if err := s.awaitConfirmations(ctx, receipt); err != nil {
					s.recordConfirmation("failed", start)
					return nil, err
				}
				s.recordConfirmation("confirmed", start)
				return r, nil
			}
			s.recordConfirmation("failed", start)
			return nil, errors.PaymentNotConfirmed("no matching transfer in receipt")
		}
		if time.Now().After(deadline) {
			s.recordConfirmation("timeout", start)
			return nil, errors.PaymentNotConfirmed("timed out waiting for transaction receipt")
		}
		select {
		case <-ctx.Done():
			s.recordConfirmation("failed", start)
			return nil, ctx.Err()
		case <-time.After(s.cfg.PaymentPollInterval):
		}
	}
}

// ScanForPayment performs a sliding log-scan from latestBlock-250 forward,
// polling until a matching Transfer appears or the timeout elapses.
func (s *Service) ScanForPayment(ctx context.Context, payer, agent common.Address, expected *big.Int) (*Receipt, error) {
	start := time.Now()
	deadline := start.Add(s.cfg.PaymentTimeout)
	for {
		head, err := s.chain.HeaderByNumber(ctx, nil)
		if err != nil {
			s.recordConfirmation("failed", start)
			return nil, errors.AgentUnavailable(err)
		}
		from := new(big.Int).Sub(head.Number, big.NewInt(250))
		if from.Sign() < 0 {
			from = big.NewInt(0)
		}
		logs, err := s.chain.FilterLogs(ctx, gethereum.FilterQuery{
			FromBlock: from,
			ToBlock:   head.Number,
			Addresses: []common.Address{s.cfg.USDCAddress},
			Topics:    [][]common.Hash{{transferEventSignature}},
		})
		if err == nil {
			for _, l := range logs {
				if r, ok := s.matchLog(l, payer, agent, expected); ok {
					receipt, err := s.chain.TransactionReceipt(ctx, l.TxHash)
					if err == nil && receipt != nil {
						if err := s.awaitConfirmations(ctx, receipt); err == nil {
							s.recordConfirmation("confirmed", start)
							return r, nil
						}
					}
				}
			}
		}
		if time.Now().After(deadline) {
			s.recordConfirmation("timeout", start)
			return nil, errors.PaymentNotConfirmed("no matching transfer observed before timeout")
		}
		select {
		case <-ctx.Done():
			s.recordConfirmation("failed", start)
			return nil, ctx.Err()
		case <-time.After(s.cfg.PaymentPollInterval):
		}
	}
}

func (s *Service) extractMatch(receipt *gethtypes.Receipt, payer, agent common.Address, expected *big.Int) (*Receipt, bool) {
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, false
	}
	for _, l := range receipt.Logs {
		if l == nil {
			continue
		}
		if r, ok := s.matchLog(*l, payer, agent, expected); ok {
			return r, true
		}
	}
	return nil, false
}

func (s *Service) matchLog(l gethtypes.Log, payer, agent common.Address, expected *big.Int) (*Receipt, bool) {
	if l.Address != s.cfg.USDCAddress || len(l.Topics) < 3 || l.Topics[0] != transferEventSignature {
		return nil, false
	}
	from := common.BytesToAddress(l.Topics[1].Bytes())
	to := common.BytesToAddress(l.Topics[2].Bytes())
	if from != payer || to != agent {
		return nil, false
	}
	value := new(big.Int).SetBytes(l.Data)
	if expected != nil && value.Cmp(expected) < 0 {
		return nil, false
	}
	return &Receipt{TransactionHash: l.TxHash.Hex(), From: from, To: to, Value: value, BlockNumber: l.BlockNumber}, true
}

func (s *Service) awaitConfirmations(ctx context.Context, receipt *gethtypes.Receipt) error {
	if s.cfg.PaymentConfirmations == 0 {
		return nil
	}
	head, err := s.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return errors.AgentUnavailable(err)
	}
	if head.Number.Cmp(receipt.BlockNumber) < 0 {
		return errors.PaymentNotConfirmed("transaction block ahead of head")
	}
	confirmed := new(big.Int).Sub(head.Number, receipt.BlockNumber)
	confirmed.Add(confirmed, big.NewInt(1))
	if confirmed.Cmp(new(big.Int).SetUint64(s.cfg.PaymentConfirmations)) < 0 {
		return errors.PaymentNotConfirmed(fmt.Sprintf("insufficient confirmations: have %s want %d", confirmed, s.cfg.PaymentConfirmations))
	}
	return nil
}

// SyntheticFreeReceipt builds the synthetic receipt used when a free promo
// code short-circuits on-chain verification.
func SyntheticFreeReceipt(txID string) *Receipt {
	return &Receipt{TransactionHash: txID, Value: big.NewInt(0), BlockNumber: 0}
}

// BuildDecisionAnchorMemo builds the calldata for the decision-hash
// self-transfer, truncated to 220 bytes.
func BuildDecisionAnchorMemo(decisionID, pdfHash string) []byte {
	memo := fmt.Sprintf("SELUN|%s|%s", decisionID, pdfHash)
	b := []byte(memo)
	if len(b) > 220 {
		b = b[:220]
	}
	return b
}

// NormalizeAddress validates and checksum-normalises a hex address string.
func NormalizeAddress(addr string) (common.Address, error) {
	trimmed := strings.TrimSpace(addr)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, errors.InvalidFormat("wallet_address", trimmed)
	}
	return common.HexToAddress(trimmed), nil
}
