// Package x402 implements the X402 State Store: the source-of-truth for
// paid decisions and single-use transaction hashes across process
// restarts.
package x402

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/r3e-network/selun-engine/infrastructure/state"
	"github.com/sirupsen/logrus"
)

// AllocateState is the lifecycle state of an allocate record.
type AllocateState string

const (
	StateQuoted   AllocateState = "quoted"
	StateAccepted AllocateState = "accepted"
)

// Payment records the on-chain proof backing an accepted decision.
type Payment struct {
	FromAddress     string    `json:"fromAddress"`
	TransactionHash string    `json:"transactionHash"`
	Network         string    `json:"network,omitempty"`
	VerifiedAt      time.Time `json:"verifiedAt"`
}

// AllocateRecord tracks one quoted-then-paid allocation request. A record
// in StateAccepted must carry a non-nil Payment.
type AllocateRecord struct {
	DecisionID        string         `json:"decisionId"`
	InputFingerprint  string         `json:"inputFingerprint"`
	Inputs            map[string]any `json:"inputs"`
	ChargedAmountUsdc string         `json:"chargedAmountUsdc"`
	QuoteIssuedAt     time.Time      `json:"quoteIssuedAt"`
	QuoteExpiresAt    time.Time      `json:"quoteExpiresAt"`
	State             AllocateState  `json:"state"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	JobID             string         `json:"jobId,omitempty"`
	Payment           *Payment       `json:"payment,omitempty"`
}

// ReservationResult is the outcome of ReserveTransactionHash.
type ReservationResult struct {
	Accepted           bool
	Reused             bool
	ExistingDecisionID string
}

type persistedFile struct {
	Version                   int                      `json:"version"`
	UpdatedAt                 time.Time                `json:"updatedAt"`
	AllocateByDecisionID      map[string]AllocateRecord `json:"allocateByDecisionId"`
	DecisionIDByJobID         map[string]string         `json:"decisionIdByJobId"`
	AddressDailyUsage         map[string]int64          `json:"addressDailyUsage"`
	ConsumedTransactionByHash map[string]string         `json:"consumedTransactionByHash"`
	ToolByOwnerKey            map[string]AllocateRecord `json:"toolByOwnerKey,omitempty"`
}

// Store is the mutable, file-backed X402 state. All mutating operations
// serialise through a single mutex and perform a write-rename persist.
type Store struct {
	mu                sync.Mutex
	allocateByID      map[string]AllocateRecord
	decisionIDByJobID map[string]string
	addressDailyUsage map[string]int64
	consumedTxByHash  map[string]string
	toolByOwnerKey    map[string]AllocateRecord

	path          string
	retentionDays int
	log           *logrus.Logger
}

// New constructs a Store backed by path, loading and backfilling any
// existing state. retentionDays is clamped to a minimum of 2.
func New(path string, retentionDays int, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if retentionDays < 2 {
		retentionDays = 2
	}
	s := &Store{
		allocateByID:      make(map[string]AllocateRecord),
		decisionIDByJobID: make(map[string]string),
		addressDailyUsage: make(map[string]int64),
		consumedTxByHash:  make(map[string]string),
		toolByOwnerKey:    make(map[string]AllocateRecord),
		path:              path,
		retentionDays:     retentionDays,
		log:               log,
	}
	s.load()
	return s
}

func (s *Store) load() {
	var file persistedFile
	ok, err := state.LoadJSON(s.path, &file)
	if err != nil || !ok {
		if err != nil {
			s.log.WithError(err).Warn("x402: failed reading state file, starting empty")
		}
		return
	}
	if file.AllocateByDecisionID != nil {
		s.allocateByID = file.AllocateByDecisionID
	}
	if file.DecisionIDByJobID != nil {
		s.decisionIDByJobID = file.DecisionIDByJobID
	}
	if file.AddressDailyUsage != nil {
		s.addressDailyUsage = file.AddressDailyUsage
	}
	if file.ConsumedTransactionByHash != nil {
		s.consumedTxByHash = file.ConsumedTransactionByHash
	}
	if file.ToolByOwnerKey != nil {
		s.toolByOwnerKey = file.ToolByOwnerKey
	}

	// Backfill any accepted record missing a hash entry, in createdAt order.
	ordered := make([]AllocateRecord, 0, len(s.allocateByID))
	for _, rec := range s.allocateByID {
		ordered = append(ordered, rec)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })
	for _, rec := range ordered {
		if rec.State != StateAccepted || rec.Payment == nil {
			continue
		}
		if _, exists := s.consumedTxByHash[rec.Payment.TransactionHash]; !exists {
			s.consumedTxByHash[rec.Payment.TransactionHash] = rec.DecisionID
		}
	}

	s.pruneAddressDailyUsageLocked(time.Now())
}

func (s *Store) persistLocked() {
	file := persistedFile{
		Version:                   1,
		UpdatedAt:                 time.Now(),
		AllocateByDecisionID:      s.allocateByID,
		DecisionIDByJobID:         s.decisionIDByJobID,
		AddressDailyUsage:         s.addressDailyUsage,
		ConsumedTransactionByHash: s.consumedTxByHash,
		ToolByOwnerKey:            s.toolByOwnerKey,
	}
	if err := state.SaveJSONAtomic(s.path, file); err != nil {
		s.log.WithError(err).Warn("x402: failed to persist state")
	}
}

// ReserveTransactionHash implements the single-use reservation rule: a
// hash is bound to the first decision that reserves it; the same decision
// reserving again returns reused=true; any other decision is rejected.
func (s *Store) ReserveTransactionHash(hash, decisionID string) ReservationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, exists := s.consumedTxByHash[hash]; exists {
		if owner == decisionID {
			return ReservationResult{Accepted: true, Reused: true}
		}
		return ReservationResult{Accepted: false, ExistingDecisionID: owner}
	}
	s.consumedTxByHash[hash] = decisionID
	s.persistLocked()
	return ReservationResult{Accepted: true, Reused: false}
}

// GetTransactionOwner returns the decisionId owning hash, if any.
func (s *Store) GetTransactionOwner(hash string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.consumedTxByHash[hash]
	return owner, ok
}

// SetAllocateRecord stores rec, backfilling the job index and, when rec is
// accepted with a payment, the tx-hash ownership index.
func (s *Store) SetAllocateRecord(rec AllocateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.UpdatedAt = time.Now()
	s.allocateByID[rec.DecisionID] = rec
	if rec.JobID != "" {
		s.decisionIDByJobID[rec.JobID] = rec.DecisionID
	}
	if rec.State == StateAccepted && rec.Payment != nil {
		if _, exists := s.consumedTxByHash[rec.Payment.TransactionHash]; !exists {
			s.consumedTxByHash[rec.Payment.TransactionHash] = rec.DecisionID
		}
	}
	s.persistLocked()
}

// GetAllocateRecord returns the record for decisionID, if any.
func (s *Store) GetAllocateRecord(decisionID string) (AllocateRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.allocateByID[decisionID]
	return rec, ok
}

// GetDecisionIDForJob returns the decisionId bound to jobID, if any.
func (s *Store) GetDecisionIDForJob(jobID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.decisionIDByJobID[jobID]
	return id, ok
}

// IncrementAddressDailyUsage increments the counter for dayKey and prunes
// stale keys older than the retention window.
func (s *Store) IncrementAddressDailyUsage(dayKey string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressDailyUsage[dayKey]++
	n := s.addressDailyUsage[dayKey]
	s.pruneAddressDailyUsageLocked(time.Now())
	s.persistLocked()
	return n
}

// GetAddressDailyUsage returns the counter for dayKey (0 if absent/pruned).
func (s *Store) GetAddressDailyUsage(dayKey string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addressDailyUsage[dayKey]
}

// pruneAddressDailyUsageLocked removes keys "YYYY-MM-DD:addr" whose day is
// older than retentionDays relative to now. Caller must hold s.mu.
func (s *Store) pruneAddressDailyUsageLocked(now time.Time) {
	cutoff := now.AddDate(0, 0, -s.retentionDays+1)
	for key := range s.addressDailyUsage {
		dayPart := key
		if idx := strings.Index(key, ":"); idx >= 0 {
			dayPart = key[:idx]
		}
		day, err := time.Parse("2006-01-02", dayPart)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			delete(s.addressDailyUsage, key)
		}
	}
}

// SetToolRecord / GetToolRecord mirror the allocate operations for a
// separate per-product ledger, keyed "<productId>:<decisionId>".
func (s *Store) SetToolRecord(productID string, rec AllocateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := productID + ":" + rec.DecisionID
	rec.UpdatedAt = time.Now()
	s.toolByOwnerKey[key] = rec
	if rec.State == StateAccepted && rec.Payment != nil {
		if _, exists := s.consumedTxByHash[rec.Payment.TransactionHash]; !exists {
			s.consumedTxByHash[rec.Payment.TransactionHash] = key
		}
	}
	s.persistLocked()
}

func (s *Store) GetToolRecord(productID, decisionID string) (AllocateRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.toolByOwnerKey[productID+":"+decisionID]
	return rec, ok
}
