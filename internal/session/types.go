package session

import (
	"context"

	"shardrun/internal/adapter"
	"shardrun/internal/config"
	"shardrun/internal/report"
)

// PhaseState is one node of the phase state machine.
type PhaseState string

const (
	StatePending PhaseState = "pending"
	StateRunning PhaseState = "running"
	StateOK      PhaseState = "ok"
	StateFailed  PhaseState = "failed"
	StateSkipped PhaseState = "skipped"
)

// ShardRunner executes one shard to completion. Satisfied by adapter.Runner;
// tests substitute fakes.
type ShardRunner interface {
	Run(ctx context.Context, req adapter.Request) adapter.ShardSummary
}

// Environment manages the isolated per-shard runtime state. Satisfied by
// environ.Manager.
type Environment interface {
	EnsureTemplate(ctx context.Context, sessionID string) (string, error)
	CloneForShard(ctx context.Context, templateID, shardDB string) error
	CleanupSession(ctx context.Context, rootName string)
	DropTemplate(ctx context.Context, templateID string)
}

// Result is what a completed session hands back to the CLI.
type Result struct {
	SessionID string
	Dir       string
	Summary   report.SessionSummary
	States    map[config.Phase]PhaseState
}
