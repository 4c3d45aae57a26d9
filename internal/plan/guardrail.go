package plan

import (
	"context"

	"shardrun/pkg/logging"
)

// CapacityProbe reports the shared resource's connection capacity and its
// current utilization. The production implementation queries the database
// server; tests use a fixed snapshot.
type CapacityProbe interface {
	Snapshot(ctx context.Context) (maxCapacity, currentUtilization int, err error)
}

// Guardrail caps requested shard counts so concurrent executions cannot
// exhaust the shared resource. Capacity is sampled fresh on every call, not
// cached across phases.
type Guardrail struct {
	probe        CapacityProbe
	costPerShard int
	reserve      int
}

// NewGuardrail creates a Guardrail. costPerShard below 1 is clamped to 1.
func NewGuardrail(probe CapacityProbe, costPerShard, reserve int) *Guardrail {
	if costPerShard < 1 {
		costPerShard = 1
	}
	if reserve < 0 {
		reserve = 0
	}
	return &Guardrail{probe: probe, costPerShard: costPerShard, reserve: reserve}
}

// CapShardCount returns min(requested, allowed) where
// allowed = max(1, (max - used - reserve) / costPerShard). A failed capacity
// query fails open: under-provisioning a test run is recoverable, refusing to
// run tests is not.
func (g *Guardrail) CapShardCount(ctx context.Context, requested int) int {
	if requested < 1 {
		requested = 1
	}
	maxCap, used, err := g.probe.Snapshot(ctx)
	if err != nil {
		logging.Warn("guardrail", "Capacity query failed, allowing %d shards unmodified: %v", requested, err)
		return requested
	}

	allowed := (maxCap - used - g.reserve) / g.costPerShard
	if allowed < 1 {
		allowed = 1
	}
	if requested <= allowed {
		return requested
	}
	logging.Info("guardrail", "Capping shard count %d -> %d (capacity=%d used=%d reserve=%d cost=%d)",
		requested, allowed, maxCap, used, g.reserve, g.costPerShard)
	return allowed
}

// StaticProbe is a CapacityProbe returning fixed values, used in tests and
// for dry runs without a database.
type StaticProbe struct {
	Max  int
	Used int
	Err  error
}

func (p StaticProbe) Snapshot(ctx context.Context) (int, int, error) {
	return p.Max, p.Used, p.Err
}
