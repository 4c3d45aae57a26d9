// Package config provides configuration management for shardrun.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. Built-in defaults (defaults.go)
//  2. A YAML file, by default shardrun.yaml in the working directory
//  3. SHARDRUN_* environment variables
//
// # Configuration File
//
// The file mirrors ShardrunConfig:
//
//	root: .
//	outputDir: .shardrun
//	engine:
//	  command: runtests
//	  timeout: 45m
//	database:
//	  url: postgres://postgres@localhost/postgres
//	  sourceDB: appdb
//	  costPerShard: 4
//	  reserve: 10
//	session:
//	  workers: 0        # 0 = derive from available parallelism
//	  overlap: false
//	  keepGoing: false
//	phases:
//	  unit:
//	    shards: 0       # 0 = auto
//	    fileGlobs: ["tests/unit/**/*.py"]
//
// # Environment Overrides
//
// Representative variables: SHARDRUN_DB_URL, SHARDRUN_WORKERS,
// SHARDRUN_COST_PER_SHARD, SHARDRUN_RESERVE, SHARDRUN_OVERLAP,
// SHARDRUN_KEEP_GOING, SHARDRUN_TEMPLATE_REUSE, SHARDRUN_TEMPLATE_TTL,
// SHARDRUN_SKIP_FILESTORE, SHARDRUN_SHARDS_UNIT (and _UI, _INTEGRATION,
// _E2E), SHARDRUN_SUBUNIT_SHARDS_UNIT, SHARDRUN_RETAIN.
//
// Validate reports every problem in a loaded configuration at once; commands
// call it before constructing the orchestrator.
package config
