package plan

import (
	"sort"

	"shardrun/pkg/logging"
)

// Item is one schedulable unit: a whole scope, or a (scope, sub-unit) pair
// for within-scope planning.
type Item struct {
	ScopeID string `json:"scope_id"`
	SubUnit string `json:"sub_unit,omitempty"`
	Weight  int    `json:"weight"`
}

// key orders items deterministically: lexical scope id, then sub-unit.
func (it Item) key() string {
	if it.SubUnit == "" {
		return it.ScopeID
	}
	return it.ScopeID + "::" + it.SubUnit
}

// Shard is a group of items assigned to run together in one engine
// invocation.
type Shard struct {
	Items  []Item `json:"items"`
	Weight int    `json:"weight"`
}

// ShardPlan is the planner's output: a balanced partition of the input items.
type ShardPlan struct {
	Strategy    string  `json:"strategy"`
	TotalWeight int     `json:"total_weight"`
	ShardCount  int     `json:"shard_count"`
	Shards      []Shard `json:"shards"`
}

const (
	strategySingle = "single"
	strategyLPT    = "lpt"
)

// Plan partitions items into at most shardCount shards using the Longest
// Processing Time heuristic: items sorted descending by weight, each assigned
// to the currently lightest shard, ties broken by lexical item key for
// determinism. Degenerate inputs (one shard requested, one item, or fewer)
// collapse to a single shard sorted by key. Empty shards are never emitted
// and the true shard count is re-reported.
func Plan(items []Item, shardCount int) ShardPlan {
	sorted := make([]Item, len(items))
	copy(sorted, items)

	total := 0
	for _, it := range sorted {
		total += it.Weight
	}

	if shardCount > len(sorted) {
		shardCount = len(sorted)
	}

	if shardCount <= 1 || len(sorted) <= 1 {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].key() < sorted[j].key() })
		plan := ShardPlan{Strategy: strategySingle, TotalWeight: total}
		if len(sorted) > 0 {
			plan.Shards = []Shard{{Items: sorted, Weight: total}}
			plan.ShardCount = 1
		}
		return plan
	}

	// Heaviest first; lexical key keeps equal weights deterministic.
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight > sorted[j].Weight
		}
		return sorted[i].key() < sorted[j].key()
	})

	shards := make([]Shard, shardCount)
	for _, it := range sorted {
		lightest := 0
		for i := 1; i < len(shards); i++ {
			if shards[i].Weight < shards[lightest].Weight {
				lightest = i
			}
		}
		shards[lightest].Items = append(shards[lightest].Items, it)
		shards[lightest].Weight += it.Weight
	}

	// Drop shards that ended up empty (possible when many zero-weight items
	// collapse onto one shard) and report the count actually produced.
	packed := shards[:0]
	for _, s := range shards {
		if len(s.Items) == 0 {
			continue
		}
		sort.Slice(s.Items, func(i, j int) bool { return s.Items[i].key() < s.Items[j].key() })
		packed = append(packed, s)
	}

	plan := ShardPlan{
		Strategy:    strategyLPT,
		TotalWeight: total,
		ShardCount:  len(packed),
		Shards:      packed,
	}
	if plan.ShardCount != shardCount {
		logging.Debug("plan", "Packed %d shards from %d requested", plan.ShardCount, shardCount)
	}
	return plan
}

// ScopeItems converts a scope-id→weight map into planner items.
func ScopeItems(weights map[string]int) []Item {
	items := make([]Item, 0, len(weights))
	for id, w := range weights {
		items = append(items, Item{ScopeID: id, Weight: w})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].key() < items[j].key() })
	return items
}
