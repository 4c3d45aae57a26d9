package config

import "time"

// Phase identifies one of the four test categories a session can run.
type Phase string

const (
	PhaseUnit        Phase = "unit"
	PhaseUI          Phase = "ui"
	PhaseIntegration Phase = "integration"
	PhaseE2E         Phase = "e2e"
)

// AllPhases lists the phases in their declared execution order.
func AllPhases() []Phase {
	return []Phase{PhaseUnit, PhaseUI, PhaseIntegration, PhaseE2E}
}

// ShardrunConfig is the top-level configuration structure for shardrun.
type ShardrunConfig struct {
	Root      string                `yaml:"root,omitempty"`      // source tree containing the addressable scopes
	OutputDir string                `yaml:"outputDir,omitempty"` // session artifact root (default: .shardrun)
	Engine    EngineConfig          `yaml:"engine,omitempty"`
	Database  DatabaseConfig        `yaml:"database,omitempty"`
	Filestore FilestoreConfig       `yaml:"filestore,omitempty"`
	Template  TemplateConfig        `yaml:"template,omitempty"`
	Session   SessionConfig         `yaml:"session,omitempty"`
	History   HistoryConfig         `yaml:"history,omitempty"`
	Phases    map[Phase]PhaseConfig `yaml:"phases,omitempty"`
}

// EngineConfig describes how the external test-execution engine is invoked.
type EngineConfig struct {
	Command        string        `yaml:"command,omitempty"`        // engine executable (default: "runtests")
	Args           []string      `yaml:"args,omitempty"`           // fixed leading arguments
	Timeout        time.Duration `yaml:"timeout,omitempty"`        // per-shard engine timeout
	StallThreshold time.Duration `yaml:"stallThreshold,omitempty"` // silence before the stall detector inspects output
}

// DatabaseConfig covers both the shared server the guardrail watches and the
// per-shard clone naming.
type DatabaseConfig struct {
	URL          string `yaml:"url,omitempty"`          // admin connection string for the shared server
	SourceDB     string `yaml:"sourceDB,omitempty"`     // production-like database templates are cloned from
	CostPerShard int    `yaml:"costPerShard,omitempty"` // connections one shard is expected to hold
	Reserve      int    `yaml:"reserve,omitempty"`      // connections kept free for everything else
}

// FilestoreConfig describes the binary-asset state cloned alongside each
// shard database.
type FilestoreConfig struct {
	SourceDir string `yaml:"sourceDir,omitempty"` // production-like filestore snapshot
	WorkDir   string `yaml:"workDir,omitempty"`   // parent directory for per-shard clones
	Skip      bool   `yaml:"skip,omitempty"`      // skip filestore snapshots entirely
}

// TemplateConfig controls reuse of the pre-cloned baseline state.
type TemplateConfig struct {
	Reuse bool          `yaml:"reuse,omitempty"` // reuse a prior template within TTL
	TTL   time.Duration `yaml:"ttl,omitempty"`   // how long a recorded template stays valid
}

// SessionConfig holds session-wide execution policy.
type SessionConfig struct {
	Workers   int  `yaml:"workers,omitempty"`   // worker-pool size override (0 = derive from parallelism)
	Overlap   bool `yaml:"overlap,omitempty"`   // run {unit,ui} then {integration,e2e} as groups
	KeepGoing bool `yaml:"keepGoing,omitempty"` // run later phases even after a failure
	Retain    int  `yaml:"retain,omitempty"`    // session directories kept before pruning
}

// HistoryConfig tunes the historical-timing feedback loop.
type HistoryConfig struct {
	Path       string        `yaml:"path,omitempty"`       // weight-history cache file
	BucketSecs time.Duration `yaml:"bucketSecs,omitempty"` // time quantum per cost bucket
	Blend      string        `yaml:"blend,omitempty"`      // "running-average" or "ema"
	Decay      float64       `yaml:"decay,omitempty"`      // EMA decay factor, only used with blend=ema
}

// PhaseConfig holds per-phase discovery and sharding settings.
type PhaseConfig struct {
	Shards        int      `yaml:"shards,omitempty"`        // requested shard count (0 = auto)
	SubUnitShards int      `yaml:"subUnitShards,omitempty"` // within-scope shard count (0 = whole-scope)
	FileGlobs     []string `yaml:"fileGlobs,omitempty"`     // test-definition file globs relative to a scope
	TestPattern   string   `yaml:"testPattern,omitempty"`   // regexp counting test definitions in a file
	Tag           string   `yaml:"tag,omitempty"`           // engine tag prefix for this phase
}
