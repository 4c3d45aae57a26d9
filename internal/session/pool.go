package session

import (
	"context"

	"shardrun/internal/adapter"
	"shardrun/internal/plan"

	"golang.org/x/sync/errgroup"
)

// RunShards executes fn for every shard of a plan through a bounded worker
// pool and returns the summaries in shard order. fn never returns an error;
// shard-level failures are encoded in the summary so sibling shards keep
// running.
func RunShards(ctx context.Context, limit int, shards []plan.Shard, fn func(ctx context.Context, index int, shard plan.Shard) adapter.ShardSummary) []adapter.ShardSummary {
	if limit < 1 {
		limit = 1
	}

	results := make([]adapter.ShardSummary, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, s := range shards {
		i, s := i, s
		g.Go(func() error {
			results[i] = fn(gctx, i, s)
			return nil
		})
	}

	_ = g.Wait()
	return results
}
