// Package ids mints the PREFIX_<ms-epoch>_<4-digit-random> identifiers
// used across the provenance trail (spec §4.9).
package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const suffixBound = 10000 // 4 decimal digits, [0, 9999]

var (
	mu         sync.Mutex
	lastMs     = make(map[string]int64)
	usedSuffix = make(map[string]map[int64]bool)
)

// Generate mints a unique identifier for the given prefix. The random
// suffix is drawn from crypto/rand, independent of the process-wide
// seeded random source (internal/config.RuntimeContext), so that
// provenance ids remain distinct across replays with identical seeds —
// spec §4.9 requires this independence explicitly. Within one process,
// a suffix already used for the prefix in the current millisecond is
// redrawn, so ids of one prefix never repeat.
func Generate(prefix string) (string, error) {
	mu.Lock()
	defer mu.Unlock()
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(suffixBound))
		if err != nil {
			return "", fmt.Errorf("ids: generate %s id: %w", prefix, err)
		}
		ms := time.Now().UnixMilli()
		if lastMs[prefix] != ms {
			lastMs[prefix] = ms
			usedSuffix[prefix] = make(map[int64]bool)
		}
		if !usedSuffix[prefix][n.Int64()] {
			usedSuffix[prefix][n.Int64()] = true
			return fmt.Sprintf("%s_%d_%04d", prefix, ms, n.Int64()), nil
		}
	}
}

// MustGenerate panics on failure; callers that cannot plumb an error
// through synchronous code paths that must not fail use this sparingly.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(err)
	}
	return id
}

const (
	PrefixExperiment    = "EXP"
	PrefixDataset       = "DS"
	PrefixModel         = "MDL"
	PrefixResult        = "RES"
	PrefixOptimizerBest = "OPT"
)
