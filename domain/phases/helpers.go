package phases

import (
	"crypto/sha256"
	"encoding/json"
	"math"
	"sort"

	"github.com/r3e-network/selun-engine/infrastructure/hex"
)

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// contentHash returns "sha256:<hex>" of v's canonical JSON encoding, used
// so phase outputs can reference predecessors without object pointers.
func contentHash(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
