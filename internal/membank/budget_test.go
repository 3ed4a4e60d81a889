package membank

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHeuristicCount(t *testing.T) {
	assert.Equal(t, 1, HeuristicCount(""))
	assert.Equal(t, 3, HeuristicCount(strings.Repeat("x", 8)))
}

func TestPriorityScoreTierDominates(t *testing.T) {
	now := time.Now().UTC()

	core := mem("a", TypeFact, "x", nil)
	core.Tier = TierCore
	core.Confidence = 0.1
	core.LastSeenAt = now.AddDate(0, 0, -90)

	relevant := mem("b", TypeFact, "x", nil)
	relevant.Confidence = 1.0
	relevant.AccessCount = 100
	relevant.LastSeenAt = now

	assert.Greater(t, priorityScore(core, now), priorityScore(relevant, now),
		"a Core memory always outranks a Relevant one")
}

func TestAllocateRespectsBudgets(t *testing.T) {
	b := NewBudgetManager(zap.NewNop())
	budget, err := NewTokenBudget(200)
	require.NoError(t, err)

	var core, relevant []*Memory
	for i := 0; i < 10; i++ {
		c := mem("c", TypeFact, strings.Repeat("core fact ", 10), nil)
		c.Tier = TierCore
		core = append(core, c)
		relevant = append(relevant, mem("r", TypeFact, strings.Repeat("relevant fact ", 10), nil))
	}

	alloc := b.Allocate(budget, core, relevant)

	coreTokens, relevantTokens := 0, 0
	for _, item := range alloc.Core {
		coreTokens += item.Tokens
	}
	for _, item := range alloc.Relevant {
		relevantTokens += item.Tokens
	}
	assert.LessOrEqual(t, coreTokens, budget.Core)
	assert.LessOrEqual(t, relevantTokens, budget.Relevant)
	assert.LessOrEqual(t, alloc.TotalTokens, budget.Total)
	assert.Equal(t, coreTokens+relevantTokens, alloc.TotalTokens)
}

func TestAllocateFallsBackToSummary(t *testing.T) {
	b := NewBudgetManager(zap.NewNop())
	budget, err := NewTokenBudget(60)
	require.NoError(t, err)

	long := mem("a", TypeFact, strings.Repeat("very long content ", 50), nil)
	long.Tier = TierCore
	long.Summary = "short summary"

	alloc := b.Allocate(budget, []*Memory{long}, nil)
	require.Len(t, alloc.Core, 1)
	assert.True(t, alloc.Core[0].Truncated)
	assert.Equal(t, "short summary", alloc.Core[0].Text)
}

func TestAllocatePrefersHigherPriority(t *testing.T) {
	b := NewBudgetManager(zap.NewNop())
	budget, err := NewTokenBudget(100)
	require.NoError(t, err)

	high := mem("high", TypeFact, strings.Repeat("a", 80), nil)
	high.Confidence = 0.95
	low := mem("low", TypeFact, strings.Repeat("b", 80), nil)
	low.Confidence = 0.2
	low.DecayFactor = 0.5

	alloc := b.Allocate(budget, nil, []*Memory{low, high})
	require.NotEmpty(t, alloc.Relevant)
	assert.Equal(t, "high", alloc.Relevant[0].Memory.ID)
}

func TestPartition(t *testing.T) {
	active := mem("a", TypeFact, "current fact", nil)
	supported := mem("s", TypeFact, "downweighted but supported", nil)
	supported.Status = StatusDownweighted
	supported.SupportCount = 2
	contradicted := mem("c", TypeFact, "contradicted fact", nil)
	contradicted.Status = StatusDownweighted
	contradicted.ContradictCount = 1
	frozen := mem("f", TypeFact, "frozen fact", nil)
	frozen.Status = StatusFrozen

	current, outdated := Injector{}.Partition([]*Memory{active, supported, contradicted, frozen})

	assert.Len(t, current, 2)
	require.Len(t, outdated, 1)
	assert.Equal(t, "c", outdated[0].ID)
}

func TestRenderSeparatesOutdatedBlock(t *testing.T) {
	b := NewBudgetManager(zap.NewNop())
	budget, err := NewTokenBudget(500)
	require.NoError(t, err)

	current := mem("m", TypeFact, "We use MongoDB now", nil)
	outdated := mem("p", TypeFact, "We use PostgreSQL for our database", nil)
	outdated.Status = StatusDownweighted
	outdated.ContradictCount = 1

	alloc := b.Allocate(budget, nil, []*Memory{current})
	rendered := Injector{}.Render(alloc, []*Memory{outdated})

	currentBlock, outdatedBlock, found := strings.Cut(rendered, "[OUTDATED]")
	require.True(t, found)
	assert.Contains(t, currentBlock, "MongoDB")
	assert.NotContains(t, currentBlock, "PostgreSQL")
	assert.Contains(t, outdatedBlock, "PostgreSQL")
	assert.Contains(t, outdatedBlock, "Do NOT use")
}

func TestRenderEmptyAllocation(t *testing.T) {
	assert.Empty(t, Injector{}.Render(Allocation{}, nil))
}
