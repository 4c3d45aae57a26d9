package adapter

import (
	"time"

	"shardrun/internal/config"
	"shardrun/internal/plan"
)

// Request describes one shard execution: which scopes to run, against which
// isolated database, and under what limits.
type Request struct {
	Phase      config.Phase
	PhaseTag   string
	Items      []plan.Item
	ShardIndex int
	DBName     string
	Workers    int
	Timeout    time.Duration
	OutputDir  string // per-shard artifacts land here

	StallThreshold time.Duration
}

// Counters are the pass/fail/error/skip totals extracted from engine output.
// Sums are commutative so shard counters merge in any order.
type Counters struct {
	Run     int `json:"run"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Skipped int `json:"skipped"`
}

// Add merges other into c.
func (c *Counters) Add(other Counters) {
	c.Run += other.Run
	c.Failed += other.Failed
	c.Errored += other.Errored
	c.Skipped += other.Skipped
}

// ShardSummary is the durable per-shard record written next to the shard's
// log file.
type ShardSummary struct {
	Command     []string      `json:"command"`
	Phase       config.Phase  `json:"phase"`
	ShardIndex  int           `json:"shard_index"`
	DBName      string        `json:"db_name"`
	Scopes      []string      `json:"scopes"`
	TagExpr     string        `json:"tag_expr"`
	Timeout     time.Duration `json:"timeout_ns"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	DurationSec float64       `json:"duration_secs"`
	Counters    Counters      `json:"counters"`
	ReturnCode  int           `json:"return_code"`
	Error       string        `json:"error,omitempty"`
	StallNote   string        `json:"stall_note,omitempty"`
	LogPath     string        `json:"log_path"`
	SummaryPath string        `json:"summary_path"`
}

// Success reports whether the shard passed.
func (s ShardSummary) Success() bool {
	return s.ReturnCode == 0
}

// ReportFragment is the minimal structured test-report emitted per shard for
// downstream aggregation and CI ingestion.
type ReportFragment struct {
	Name     string  `json:"name"`
	Tests    int     `json:"tests"`
	Failures int     `json:"failures"`
	Errors   int     `json:"errors"`
	Skipped  int     `json:"skipped"`
	TimeSecs float64 `json:"time_secs"`
}
