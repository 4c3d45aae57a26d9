package report

import (
	"time"

	"shardrun/internal/adapter"
	"shardrun/internal/config"
)

// SchemaVersion stamps every session summary so downstream consumers can
// detect format changes.
const SchemaVersion = 2

// FailureEntry is one structured failure extracted from a shard log.
type FailureEntry struct {
	Type        string `json:"type"` // "fail" or "error"
	TestID      string `json:"test_id"`
	Message     string `json:"message"`
	Traceback   string `json:"traceback,omitempty"`
	Fingerprint string `json:"fingerprint"` // content hash for dedup across shards
}

// PhaseAggregate merges all shard summaries of one phase.
type PhaseAggregate struct {
	Phase      config.Phase     `json:"phase"`
	ShardCount int              `json:"shard_count"`
	Counters   adapter.Counters `json:"counters"`
	Success    bool             `json:"success"`
	ReturnCode int              `json:"return_code"`
	Failures   []FailureEntry   `json:"failures,omitempty"`
	StallNotes []string         `json:"stall_notes,omitempty"`
}

// PhaseOutcome records how one phase ended. A nil ReturnCode means the phase
// was skipped.
type PhaseOutcome struct {
	Phase        config.Phase    `json:"phase"`
	ReturnCode   *int            `json:"return_code"` // null = skipped
	ArtifactsDir string          `json:"artifacts_dir,omitempty"`
	Aggregate    *PhaseAggregate `json:"aggregate,omitempty"`
	DurationSecs float64         `json:"duration_secs,omitempty"`
}

// Skipped reports whether the phase never ran.
func (o PhaseOutcome) Skipped() bool { return o.ReturnCode == nil }

// Coverage compares the scopes present in the source tree against those
// actually executed. Diagnostic only; callers decide whether to gate on it.
type Coverage struct {
	SourceScopes   int `json:"source_scopes"`
	ExecutedScopes int `json:"executed_scopes"`
}

// SessionSummary is the terminal artifact of a session.
type SessionSummary struct {
	SchemaVersion int              `json:"schema_version"`
	SessionID     string           `json:"session_id"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	DurationSecs  float64          `json:"duration_secs"`
	Phases        []PhaseOutcome   `json:"phases"`
	Counters      adapter.Counters `json:"counters"`
	Success       bool             `json:"success"`
	ReturnCode    int              `json:"return_code"`
	Coverage      Coverage         `json:"coverage"`
}

// Digest is the compact form of a SessionSummary written for fast polling.
type Digest struct {
	SessionID  string           `json:"session_id"`
	Success    bool             `json:"success"`
	ReturnCode int              `json:"return_code"`
	Counters   adapter.Counters `json:"counters"`
	EndTime    time.Time        `json:"end_time"`
}
