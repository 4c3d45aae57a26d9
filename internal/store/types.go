package store

import "shardrun/internal/config"

// ScopeTiming is the per-scope record in the weight-history cache.
type ScopeTiming struct {
	AvgSecs  float64 `json:"avg_secs"`
	Count    int     `json:"count"`
	LastSecs float64 `json:"last_secs"`
}

// History maps phase → scope id → observed timing.
type History map[config.Phase]map[string]ScopeTiming

// Lookup returns the timing record for (phase, scope) if one exists.
func (h History) Lookup(phase config.Phase, scopeID string) (ScopeTiming, bool) {
	scopes, ok := h[phase]
	if !ok {
		return ScopeTiming{}, false
	}
	t, ok := scopes[scopeID]
	return t, ok
}

// BlendMode selects how a new sample is folded into the stored average.
type BlendMode string

const (
	// BlendRunningAverage keeps a plain running average over all samples.
	BlendRunningAverage BlendMode = "running-average"
	// BlendEMA weights newer samples higher with a fixed decay factor.
	BlendEMA BlendMode = "ema"
)

// WeightHistoryStore persists observed per-scope execution cost across
// sessions. Implementations must tolerate concurrent sessions only at the
// whole-file level; shardrun itself serializes updates at session finalize.
type WeightHistoryStore interface {
	Load() (History, error)
	// Record folds one observed duration (seconds) into the history.
	Record(phase config.Phase, scopeID string, secs float64) error
	// Flush writes any pending records to the backing store.
	Flush() error
}

// SessionPointerStore tracks the in-flight and most recently finished
// session identifiers.
type SessionPointerStore interface {
	SetCurrent(sessionID string) error
	// PromoteLatest moves the given session from current to latest.
	PromoteLatest(sessionID string) error
	Current() (string, error)
	Latest() (string, error)
}

// blend folds a sample into an existing timing record.
func blend(prev ScopeTiming, secs float64, mode BlendMode, decay float64) ScopeTiming {
	next := ScopeTiming{LastSecs: secs, Count: prev.Count + 1}
	if prev.Count == 0 {
		next.AvgSecs = secs
		return next
	}
	switch mode {
	case BlendEMA:
		next.AvgSecs = prev.AvgSecs*(1-decay) + secs*decay
	default:
		next.AvgSecs = (prev.AvgSecs*float64(prev.Count) + secs) / float64(prev.Count+1)
	}
	return next
}
