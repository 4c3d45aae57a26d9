package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string) {
	*ve = append(*ve, ValidationError{Field: field, Message: message})
}

// Validate checks a loaded configuration for values the orchestrator cannot
// work with. It returns all problems at once so operators can fix a config
// file in one pass.
func Validate(cfg ShardrunConfig) error {
	var errs ValidationErrors

	if cfg.Root == "" {
		errs.Add("root", "source tree root must not be empty")
	}
	if cfg.Engine.Command == "" {
		errs.Add("engine.command", "engine command must not be empty")
	}
	if cfg.Database.CostPerShard < 1 {
		errs.Add("database.costPerShard", "must be at least 1")
	}
	if cfg.Database.Reserve < 0 {
		errs.Add("database.reserve", "must not be negative")
	}
	if cfg.Session.Workers < 0 {
		errs.Add("session.workers", "must not be negative")
	}
	if cfg.Session.Retain < 0 {
		errs.Add("session.retain", "must not be negative")
	}
	if cfg.History.BucketSecs <= 0 {
		errs.Add("history.bucketSecs", "must be positive")
	}
	switch cfg.History.Blend {
	case "running-average", "ema":
	default:
		errs.Add("history.blend", fmt.Sprintf("unknown blend mode %q, must be 'running-average' or 'ema'", cfg.History.Blend))
	}
	if cfg.History.Blend == "ema" && (cfg.History.Decay <= 0 || cfg.History.Decay >= 1) {
		errs.Add("history.decay", "must be in (0, 1) when blend=ema")
	}

	for phase, pc := range cfg.Phases {
		if pc.Shards < 0 {
			errs.Add(fmt.Sprintf("phases.%s.shards", phase), "must not be negative")
		}
		if pc.SubUnitShards < 0 {
			errs.Add(fmt.Sprintf("phases.%s.subUnitShards", phase), "must not be negative")
		}
		if len(pc.FileGlobs) == 0 {
			errs.Add(fmt.Sprintf("phases.%s.fileGlobs", phase), "at least one file glob is required")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
