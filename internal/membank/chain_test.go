package membank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainAppendOnly(t *testing.T) {
	tracker := NewChainTracker()

	tracker.Record("m1", EventCreated, nil)
	tracker.Record("m1", EventCorrected, &Memory{ID: "m1", Confidence: 0.8})
	tracker.Record("m1", EventDownweighted, &Memory{ID: "m1", Confidence: 0.3})

	chain := tracker.Chain("m1")
	require.Len(t, chain, 3)
	assert.Equal(t, EventCreated, chain[0].Type)
	assert.Equal(t, EventDownweighted, chain[2].Type)
}

func TestChainReturnsCopies(t *testing.T) {
	tracker := NewChainTracker()
	tracker.Record("m1", EventCreated, nil)

	chain := tracker.Chain("m1")
	chain[0].Type = EventDeleted

	assert.Equal(t, EventCreated, tracker.Chain("m1")[0].Type,
		"mutating a returned chain must not affect the log")
}

func TestSnapshotIsolatedFromCaller(t *testing.T) {
	tracker := NewChainTracker()
	m := &Memory{ID: "m1", Confidence: 0.8}

	tracker.Record("m1", EventCorrected, m)
	m.Confidence = 0.1

	snapshot := tracker.LatestSnapshot("m1")
	require.NotNil(t, snapshot)
	assert.Equal(t, 0.8, snapshot.Confidence,
		"snapshot must capture state at record time")
}

func TestLatestSnapshotPicksMostRecent(t *testing.T) {
	tracker := NewChainTracker()
	tracker.Record("m1", EventCreated, nil)
	tracker.Record("m1", EventCorrected, &Memory{ID: "m1", Confidence: 0.8})
	tracker.Record("m1", EventDownweighted, &Memory{ID: "m1", Confidence: 0.3})
	tracker.Record("m1", EventUpdated, nil)

	snapshot := tracker.LatestSnapshot("m1")
	require.NotNil(t, snapshot)
	assert.Equal(t, 0.3, snapshot.Confidence)

	assert.Nil(t, tracker.LatestSnapshot("unknown"))
}

func TestLineageWalksReplacements(t *testing.T) {
	tracker := NewChainTracker()
	memories := map[string]*Memory{
		"v1": {ID: "v1", ReplacedBy: "v2"},
		"v2": {ID: "v2", ReplacedBy: "v3"},
		"v3": {ID: "v3"},
	}
	lookup := func(id string) *Memory { return memories[id] }

	assert.Equal(t, []string{"v1", "v2", "v3"}, tracker.Lineage("v1", lookup))
	assert.Equal(t, []string{"v3"}, tracker.Lineage("v3", lookup))
}

func TestLineageReachesAncestorsFromMidChain(t *testing.T) {
	tracker := NewChainTracker()
	memories := map[string]*Memory{
		"v1": {ID: "v1", ReplacedBy: "v2"},
		"v2": {ID: "v2", ReplacedBy: "v3"},
		"v3": {ID: "v3"},
	}
	lookup := func(id string) *Memory { return memories[id] }

	tracker.Record("v1", EventSuperseded, nil, "v2")
	tracker.Record("v2", EventSuperseded, nil, "v3")

	assert.Equal(t, []string{"v1", "v2", "v3"}, tracker.Lineage("v2", lookup),
		"a mid-chain start still reaches the chain's origin")
	assert.Equal(t, []string{"v1", "v2", "v3"}, tracker.Lineage("v3", lookup))
}

func TestLineageBreaksCycles(t *testing.T) {
	tracker := NewChainTracker()
	memories := map[string]*Memory{
		"a": {ID: "a", ReplacedBy: "b"},
		"b": {ID: "b", ReplacedBy: "a"},
	}
	lookup := func(id string) *Memory { return memories[id] }

	assert.Equal(t, []string{"a", "b"}, tracker.Lineage("a", lookup))
}

func TestMergeTree(t *testing.T) {
	tracker := NewChainTracker()
	memories := map[string]*Memory{
		"root": {ID: "root", MergedFrom: []string{"a", "b"}},
		"a":    {ID: "a", MergedFrom: []string{"c"}},
		"b":    {ID: "b"},
		"c":    {ID: "c"},
	}
	lookup := func(id string) *Memory { return memories[id] }

	tree := tracker.MergeTree("root", lookup)
	assert.Equal(t, map[string][]string{
		"root": {"a", "b"},
		"a":    {"c"},
	}, tree)
}
