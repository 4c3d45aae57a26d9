package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapShardCountScenario(t *testing.T) {
	// max=100, used=40, reserve=10, cost=4, requested=20
	// allowed = floor((100-40-10)/4) = 12
	g := NewGuardrail(StaticProbe{Max: 100, Used: 40}, 4, 10)
	assert.Equal(t, 12, g.CapShardCount(context.Background(), 20))
}

func TestCapShardCountPassesThroughSmallRequests(t *testing.T) {
	g := NewGuardrail(StaticProbe{Max: 100, Used: 40}, 4, 10)
	assert.Equal(t, 5, g.CapShardCount(context.Background(), 5))
	assert.Equal(t, 12, g.CapShardCount(context.Background(), 12))
}

func TestCapShardCountAlwaysAtLeastOne(t *testing.T) {
	g := NewGuardrail(StaticProbe{Max: 10, Used: 10}, 4, 10)
	assert.Equal(t, 1, g.CapShardCount(context.Background(), 8))
	assert.Equal(t, 1, g.CapShardCount(context.Background(), 0))
}

func TestCapShardCountFailsOpen(t *testing.T) {
	g := NewGuardrail(StaticProbe{Err: errors.New("server unreachable")}, 4, 10)
	assert.Equal(t, 20, g.CapShardCount(context.Background(), 20))
}

func TestCapShardCountMonotonicity(t *testing.T) {
	ctx := context.Background()

	// Non-increasing in current utilization.
	prev := 1 << 30
	for used := 0; used <= 100; used += 5 {
		g := NewGuardrail(StaticProbe{Max: 100, Used: used}, 4, 10)
		allowed := g.CapShardCount(ctx, 1000)
		assert.LessOrEqual(t, allowed, prev, "used=%d", used)
		assert.GreaterOrEqual(t, allowed, 1)
		prev = allowed
	}

	// Non-decreasing in max capacity.
	prev = 0
	for maxCap := 10; maxCap <= 200; maxCap += 10 {
		g := NewGuardrail(StaticProbe{Max: maxCap, Used: 40}, 4, 10)
		allowed := g.CapShardCount(ctx, 1000)
		assert.GreaterOrEqual(t, allowed, prev, "max=%d", maxCap)
		prev = allowed
	}
}
