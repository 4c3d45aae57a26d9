package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"shardrun/internal/adapter"
	"shardrun/internal/plan"

	"github.com/stretchr/testify/assert"
)

func TestRunShardsPreservesOrder(t *testing.T) {
	shards := []plan.Shard{
		{Items: []plan.Item{{ScopeID: "a"}}},
		{Items: []plan.Item{{ScopeID: "b"}}},
		{Items: []plan.Item{{ScopeID: "c"}}},
	}

	results := RunShards(context.Background(), 3, shards, func(ctx context.Context, idx int, s plan.Shard) adapter.ShardSummary {
		return adapter.ShardSummary{ShardIndex: idx, DBName: fmt.Sprintf("db_%s", s.Items[0].ScopeID)}
	})

	assert.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.ShardIndex)
	}
	assert.Equal(t, "db_a", results[0].DBName)
	assert.Equal(t, "db_c", results[2].DBName)
}

func TestRunShardsBoundsConcurrency(t *testing.T) {
	const limit = 2
	shards := make([]plan.Shard, 8)

	var active, peak int64
	RunShards(context.Background(), limit, shards, func(ctx context.Context, idx int, s plan.Shard) adapter.ShardSummary {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return adapter.ShardSummary{ShardIndex: idx}
	})

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit))
}

func TestRunShardsZeroLimit(t *testing.T) {
	results := RunShards(context.Background(), 0, []plan.Shard{{}}, func(ctx context.Context, idx int, s plan.Shard) adapter.ShardSummary {
		return adapter.ShardSummary{ShardIndex: idx}
	})
	assert.Len(t, results, 1)
}
