package config

import "time"

const (
	// DefaultOutputDir is where session artifacts land when no override is given.
	DefaultOutputDir = ".shardrun"

	// DefaultCostPerShard is the connection budget one shard is assumed to hold.
	DefaultCostPerShard = 4

	// DefaultReserve is the connection headroom always left on the server.
	DefaultReserve = 10

	// DefaultHistoryBucket is the time quantum converted into one weight bucket.
	DefaultHistoryBucket = 5 * time.Second

	// DefaultRetain is how many finished session directories are kept.
	DefaultRetain = 10
)

// GetDefaultConfig returns the built-in configuration. Loaded files and
// environment overrides are applied on top of it.
func GetDefaultConfig() ShardrunConfig {
	return ShardrunConfig{
		Root:      ".",
		OutputDir: DefaultOutputDir,
		Engine: EngineConfig{
			Command:        "runtests",
			Timeout:        45 * time.Minute,
			StallThreshold: 2 * time.Minute,
		},
		Database: DatabaseConfig{
			SourceDB:     "appdb",
			CostPerShard: DefaultCostPerShard,
			Reserve:      DefaultReserve,
		},
		Filestore: FilestoreConfig{
			WorkDir: "/var/tmp/shardrun",
		},
		Template: TemplateConfig{
			Reuse: false,
			TTL:   6 * time.Hour,
		},
		Session: SessionConfig{
			Retain: DefaultRetain,
		},
		History: HistoryConfig{
			Path:       "weight_history.json",
			BucketSecs: DefaultHistoryBucket,
			Blend:      "running-average",
			Decay:      0.2,
		},
		Phases: map[Phase]PhaseConfig{
			PhaseUnit: {
				FileGlobs:   []string{"tests/unit/**/*.py"},
				TestPattern: `(?m)^\s*def test_\w+`,
				Tag:         "unit",
			},
			PhaseUI: {
				FileGlobs:   []string{"static/tests/**/*.test.js"},
				TestPattern: `\b(?:it|test)\s*\(`,
				Tag:         "ui",
			},
			PhaseIntegration: {
				FileGlobs:   []string{"tests/integration/**/*.py"},
				TestPattern: `(?m)^\s*def test_\w+`,
				Tag:         "integration",
			},
			PhaseE2E: {
				FileGlobs:   []string{"tests/tours/**/*.py"},
				TestPattern: `(?m)^\s*def test_\w+`,
				Tag:         "e2e",
			},
		},
	}
}
