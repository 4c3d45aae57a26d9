package plan

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemsFromWeights(weights []int) []Item {
	items := make([]Item, len(weights))
	for i, w := range weights {
		items[i] = Item{ScopeID: fmt.Sprintf("scope_%02d", i), Weight: w}
	}
	return items
}

// collectKeys flattens a plan back into the multiset of item keys.
func collectKeys(p ShardPlan) map[string]int {
	keys := make(map[string]int)
	for _, s := range p.Shards {
		for _, it := range s.Items {
			keys[it.key()]++
		}
	}
	return keys
}

func TestPlanScenarioSevenScopesThreeShards(t *testing.T) {
	// Weights [10,9,8,7,6,5,4] into 3 shards: LPT ends at {19,19,10},
	// max shard weight must stay at or below 20.
	p := Plan(itemsFromWeights([]int{10, 9, 8, 7, 6, 5, 4}), 3)

	require.Equal(t, 3, p.ShardCount)
	assert.Equal(t, 49, p.TotalWeight)
	assert.Equal(t, "lpt", p.Strategy)

	maxWeight := 0
	for _, s := range p.Shards {
		if s.Weight > maxWeight {
			maxWeight = s.Weight
		}
	}
	assert.LessOrEqual(t, maxWeight, 20)

	keys := collectKeys(p)
	assert.Len(t, keys, 7)
	for key, n := range keys {
		assert.Equal(t, 1, n, "scope %s appears %d times", key, n)
	}
}

func TestPlanPartitionCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 100; trial++ {
		n := 1 + rng.Intn(20)
		weights := make([]int, n)
		for i := range weights {
			weights[i] = rng.Intn(50)
		}
		shardCount := 1 + rng.Intn(8)

		p := Plan(itemsFromWeights(weights), shardCount)

		keys := collectKeys(p)
		require.Len(t, keys, n, "trial %d: union of shards must equal input set", trial)
		for key, count := range keys {
			require.Equal(t, 1, count, "trial %d: %s duplicated", trial, key)
		}
	}
}

func TestPlanNoEmptyShards(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 100; trial++ {
		n := 1 + rng.Intn(10)
		weights := make([]int, n)
		for i := range weights {
			weights[i] = rng.Intn(10)
		}
		p := Plan(itemsFromWeights(weights), 1+rng.Intn(15))

		require.NotEmpty(t, p.Shards)
		require.Equal(t, len(p.Shards), p.ShardCount)
		for _, s := range p.Shards {
			require.NotEmpty(t, s.Items)
		}
	}
}

func TestPlanNeverMoreShardsThanItems(t *testing.T) {
	p := Plan(itemsFromWeights([]int{3, 2}), 10)
	assert.LessOrEqual(t, p.ShardCount, 2)
}

func TestPlanDegenerateCases(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		p := Plan(nil, 4)
		assert.Equal(t, 0, p.ShardCount)
		assert.Empty(t, p.Shards)
	})

	t.Run("single shard requested", func(t *testing.T) {
		p := Plan(itemsFromWeights([]int{5, 3, 9}), 1)
		require.Equal(t, 1, p.ShardCount)
		assert.Equal(t, "single", p.Strategy)
		assert.Equal(t, 17, p.Shards[0].Weight)
		// Sorted by id within the shard.
		assert.Equal(t, "scope_00", p.Shards[0].Items[0].ScopeID)
	})

	t.Run("single item", func(t *testing.T) {
		p := Plan(itemsFromWeights([]int{5}), 4)
		require.Equal(t, 1, p.ShardCount)
	})
}

func TestPlanDeterministic(t *testing.T) {
	items := itemsFromWeights([]int{5, 5, 5, 5, 3, 3})
	first := Plan(items, 3)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Plan(items, 3))
	}
}

func TestPlanSubUnitItems(t *testing.T) {
	items := []Item{
		{ScopeID: "billing", SubUnit: "TestInvoices", Weight: 8},
		{ScopeID: "billing", SubUnit: "TestRefunds", Weight: 4},
		{ScopeID: "crm", SubUnit: "TestLeads", Weight: 6},
	}
	p := Plan(items, 2)

	require.Equal(t, 2, p.ShardCount)
	keys := collectKeys(p)
	assert.Len(t, keys, 3)
	assert.Contains(t, keys, "billing::TestInvoices")
}

// bruteForceOptimum finds the minimal possible max-shard-weight by trying
// every assignment. Only feasible for tiny inputs.
func bruteForceOptimum(weights []int, shardCount int) int {
	best := 1 << 30
	shards := make([]int, shardCount)
	var recurse func(i int)
	recurse = func(i int) {
		if i == len(weights) {
			maxW := 0
			for _, w := range shards {
				if w > maxW {
					maxW = w
				}
			}
			if maxW < best {
				best = maxW
			}
			return
		}
		for j := 0; j < shardCount; j++ {
			shards[j] += weights[i]
			recurse(i + 1)
			shards[j] -= weights[i]
		}
	}
	recurse(0)
	return best
}

func TestPlanLPTBalanceBound(t *testing.T) {
	// LPT guarantees max shard weight <= (4/3 - 1/(3m)) * optimum.
	rng := rand.New(rand.NewSource(99))
	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(7) // small enough for brute force
		weights := make([]int, n)
		for i := range weights {
			weights[i] = 1 + rng.Intn(20)
		}
		m := 2 + rng.Intn(2)
		if m > n {
			m = n
		}

		p := Plan(itemsFromWeights(weights), m)
		produced := 0
		for _, s := range p.Shards {
			if s.Weight > produced {
				produced = s.Weight
			}
		}

		opt := bruteForceOptimum(weights, m)
		bound := (4.0/3.0 - 1.0/(3.0*float64(m))) * float64(opt)
		require.LessOrEqual(t, float64(produced), bound+1e-9,
			"trial %d: weights=%v m=%d produced=%d opt=%d", trial, weights, m, produced, opt)
	}
}
