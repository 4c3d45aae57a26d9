package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"shardrun/pkg/logging"

	"gopkg.in/yaml.v3"
)

const configFileName = "shardrun.yaml"

// LoadConfig loads configuration from the given file path, falling back to
// defaults when the file does not exist. Environment overrides are applied
// after the file so that SHARDRUN_* variables always win.
func LoadConfig(path string) (ShardrunConfig, error) {
	if path == "" {
		path = configFileName
	}

	cfg := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("config", "No %s found, using defaults", path)
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return ShardrunConfig{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ShardrunConfig{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	logging.Info("config", "Loaded configuration from %s", path)

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides maps the documented SHARDRUN_* variables onto the config.
// Unparseable values are logged and ignored rather than failing the run.
func applyEnvOverrides(cfg *ShardrunConfig) {
	envString("SHARDRUN_DB_URL", &cfg.Database.URL)
	envString("SHARDRUN_SOURCE_DB", &cfg.Database.SourceDB)
	envInt("SHARDRUN_COST_PER_SHARD", &cfg.Database.CostPerShard)
	envInt("SHARDRUN_RESERVE", &cfg.Database.Reserve)
	envInt("SHARDRUN_WORKERS", &cfg.Session.Workers)
	envBool("SHARDRUN_OVERLAP", &cfg.Session.Overlap)
	envBool("SHARDRUN_KEEP_GOING", &cfg.Session.KeepGoing)
	envInt("SHARDRUN_RETAIN", &cfg.Session.Retain)
	envBool("SHARDRUN_TEMPLATE_REUSE", &cfg.Template.Reuse)
	envDuration("SHARDRUN_TEMPLATE_TTL", &cfg.Template.TTL)
	envBool("SHARDRUN_SKIP_FILESTORE", &cfg.Filestore.Skip)

	for _, phase := range AllPhases() {
		pc := cfg.Phases[phase]
		envInt("SHARDRUN_SHARDS_"+envSuffix(phase), &pc.Shards)
		envInt("SHARDRUN_SUBUNIT_SHARDS_"+envSuffix(phase), &pc.SubUnitShards)
		cfg.Phases[phase] = pc
	}
}

func envSuffix(phase Phase) string {
	switch phase {
	case PhaseUnit:
		return "UNIT"
	case PhaseUI:
		return "UI"
	case PhaseIntegration:
		return "INTEGRATION"
	case PhaseE2E:
		return "E2E"
	}
	return string(phase)
}

func envString(key string, target *string) {
	if v, ok := os.LookupEnv(key); ok {
		*target = v
	}
}

func envInt(key string, target *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn("config", "Ignoring %s=%q: %v", key, v, err)
		return
	}
	*target = n
}

func envBool(key string, target *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logging.Warn("config", "Ignoring %s=%q: %v", key, v, err)
		return
	}
	*target = b
}

func envDuration(key string, target *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logging.Warn("config", "Ignoring %s=%q: %v", key, v, err)
		return
	}
	*target = d
}
