package sourceintel

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/r3e-network/selun-engine/infrastructure/state"
	"github.com/sirupsen/logrus"
)

// persistedFile is the on-disk shape of source-intelligence.json.
type persistedFile struct {
	UpdatedAt time.Time `json:"updatedAt"`
	Records   []Record  `json:"records"`
}

// Registry tracks per-(domain, provider) credibility. Thread-safety is a
// single mutex guarding the whole map; writers may call recordOutcome from
// any phase or collector goroutine.
type Registry struct {
	mu   sync.Mutex
	data map[string]*Record
	path string
	log  *logrus.Logger
}

// NewRegistry constructs an empty registry backed by the given JSON file.
// It attempts to load any existing state immediately; a missing or corrupt
// file starts empty.
func NewRegistry(path string, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Registry{data: make(map[string]*Record), path: path, log: log}
	r.load()
	return r
}

func (r *Registry) load() {
	var file persistedFile
	ok, err := state.LoadJSON(r.path, &file)
	if err != nil {
		r.log.WithError(err).Warn("sourceintel: failed reading registry file, starting empty")
		return
	}
	if !ok {
		return
	}
	for i := range file.Records {
		rec := file.Records[i]
		r.data[rec.key()] = &rec
	}
}

// persist writes the registry to disk. Best-effort: failures are logged,
// never returned to callers.
func (r *Registry) persist() {
	snapshot := r.snapshotLocked()
	file := persistedFile{UpdatedAt: time.Now(), Records: snapshot}
	if err := state.SaveJSONAtomic(r.path, file); err != nil {
		r.log.WithError(err).Warn("sourceintel: failed to persist registry")
	}
}

func (r *Registry) snapshotLocked() []Record {
	out := make([]Record, 0, len(r.data))
	for _, rec := range r.data {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

// GetScore returns the current credibility score for (domain, provider),
// or the neutral prior (0.5) if never observed.
func (r *Registry) GetScore(domain, provider string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.data[domain+"|"+provider]
	if !ok {
		return 0.5
	}
	return rec.Score
}

// RecordOutcome updates a provider's running statistics after a fetch
// attempt and persists the registry. successes+failures is guaranteed
// non-decreasing.
func (r *Registry) RecordOutcome(domain, provider string, success bool, latencyMs float64) {
	r.mu.Lock()
	key := domain + "|" + provider
	rec, ok := r.data[key]
	if !ok {
		rec = &Record{Domain: domain, Provider: provider}
		r.data[key] = rec
	}
	now := time.Now()
	if success {
		rec.Successes++
		rec.LastSuccessAt = now
	} else {
		rec.Failures++
		rec.LastFailureAt = now
	}
	total := rec.Successes + rec.Failures
	if total == 1 {
		rec.AvgLatencyMs = latencyMs
	} else {
		rec.AvgLatencyMs += (latencyMs - rec.AvgLatencyMs) / float64(total)
	}
	rec.recompute(now)
	r.mu.Unlock()

	r.persist()
}

// Snapshot returns all records sorted by (domain, provider).
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// BuildProviderOrder returns the union of configured, discovery, and
// historically-seen providers for domain, ordered by combined score
// descending with a stable alphabetical tie-break.
func (r *Registry) BuildProviderOrder(domain string, configured, discoveryPool []string) []string {
	r.mu.Lock()
	seen := make(map[string]struct{})
	type scored struct {
		provider string
		score    float64
	}
	var all []scored
	add := func(provider string, boost float64) {
		provider = strings.TrimSpace(provider)
		if provider == "" {
			return
		}
		if _, dup := seen[provider]; dup {
			return
		}
		seen[provider] = struct{}{}
		score := 0.5
		if rec, ok := r.data[domain+"|"+provider]; ok {
			score = rec.Score
		}
		all = append(all, scored{provider: provider, score: score + boost})
	}
	for _, p := range configured {
		add(p, 0.10)
	}
	for _, p := range discoveryPool {
		add(p, 0.05)
	}
	for key := range r.data {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) == 2 && parts[0] == domain {
			add(parts[1], 0)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].provider < all[j].provider
	})
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.provider
	}
	return out
}
