// Package snapshot implements the Last-Known-Good macro snapshot store
// used by Phase 1 when live macro collection is exhausted.
package snapshot

import (
	"sync"
	"time"

	"github.com/r3e-network/selun-engine/infrastructure/state"
	"github.com/sirupsen/logrus"
)

// Macro is the atomic last-known-good macro snapshot tuple.
type Macro struct {
	CapturedAt      time.Time `json:"capturedAt"`
	Volatility      string    `json:"volatility"`
	Liquidity       string    `json:"liquidity"`
	Sentiment       float64   `json:"sentiment"`
	Alignment       float64   `json:"alignment"`
	Sources         []string  `json:"sources"`
	SourceSelection []string  `json:"sourceSelection"`
}

// Age reports how old the snapshot is relative to now.
func (m Macro) Age(now time.Time) time.Duration {
	if m.CapturedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(m.CapturedAt)
}

// Store holds the single current LKG snapshot, file-backed.
type Store struct {
	mu   sync.RWMutex
	cur  Macro
	path string
	log  *logrus.Logger
}

// New constructs a Store backed by path, loading any existing snapshot.
func New(path string, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{path: path, log: log}
	var m Macro
	if ok, err := state.LoadJSON(path, &m); err == nil && ok {
		s.cur = m
	}
	return s
}

// Get returns the current snapshot and whether one has ever been captured.
func (s *Store) Get() (Macro, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur, !s.cur.CapturedAt.IsZero()
}

// Replace overwrites the snapshot after a successful live Phase 1 run and
// persists it. Persistence failure is logged and non-fatal.
func (s *Store) Replace(m Macro) {
	s.mu.Lock()
	s.cur = m
	s.mu.Unlock()

	if err := state.SaveJSONAtomic(s.path, m); err != nil {
		s.log.WithError(err).Warn("snapshot: failed to persist LKG snapshot")
	}
}

// UsableWithin reports whether the current snapshot exists and its age is
// at most maxAge.
func (s *Store) UsableWithin(maxAge time.Duration, now time.Time) (Macro, bool) {
	m, exists := s.Get()
	if !exists {
		return Macro{}, false
	}
	return m, m.Age(now) <= maxAge
}
