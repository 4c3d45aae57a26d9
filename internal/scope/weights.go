package scope

import (
	"os"
	"regexp"
	"time"

	"shardrun/internal/config"
	"shardrun/internal/store"
	"shardrun/pkg/logging"
)

// Estimator derives relative cost estimates for scopes by combining static
// test counts with the historical-timing cache.
type Estimator struct {
	history store.History
	bucket  time.Duration
}

// NewEstimator creates an Estimator over a loaded history snapshot. A nil
// history is valid and yields static-only weights.
func NewEstimator(history store.History, bucket time.Duration) *Estimator {
	if bucket <= 0 {
		bucket = config.DefaultHistoryBucket
	}
	return &Estimator{history: history, bucket: bucket}
}

// EstimateWeights returns a weight per scope id. The static component counts
// test-definition occurrences in the scope's files (minimum 1, so empty
// scopes still get scheduled); the historical component adds one bucket per
// bucket-quantum of past average duration. Missing history simply yields the
// static-only weight.
func (e *Estimator) EstimateWeights(scopes []Scope, phase config.Phase, pc config.PhaseConfig) map[string]int {
	testRe, err := regexp.Compile(pc.TestPattern)
	if err != nil {
		logging.Warn("scope", "Invalid test pattern for phase %s, weights default to 1: %v", phase, err)
		testRe = nil
	}

	weights := make(map[string]int, len(scopes))
	for _, s := range scopes {
		w := e.staticWeight(s, testRe)
		if t, ok := e.history.Lookup(phase, s.ID); ok {
			buckets := int(t.AvgSecs / e.bucket.Seconds())
			w += buckets
		}
		weights[s.ID] = w
	}
	return weights
}

func (e *Estimator) staticWeight(s Scope, testRe *regexp.Regexp) int {
	if testRe == nil {
		return 1
	}
	count := 0
	for _, file := range s.Files {
		data, err := os.ReadFile(file)
		if err != nil {
			logging.Warn("scope", "Could not read %s: %v", file, err)
			continue
		}
		count += len(testRe.FindAll(data, -1))
	}
	if count < 1 {
		count = 1
	}
	return count
}
