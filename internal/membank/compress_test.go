package membank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crewforge/membank/internal/llm"
)

func coldMem(id, content string, daysOld int, embedding []float32) *Memory {
	m := mem(id, TypeFact, content, embedding)
	m.Tier = TierCold
	m.LastSeenAt = time.Now().UTC().AddDate(0, 0, -daysOld)
	return m
}

func TestCompressorEligibility(t *testing.T) {
	c := NewCompressor(nil, zap.NewNop())

	assert.True(t, c.Eligible(coldMem("a", "old fact", 40, nil)))
	assert.False(t, c.Eligible(coldMem("b", "recent fact", 10, nil)), "too recently seen")

	notCold := mem("c", TypeFact, "relevant fact", nil)
	notCold.LastSeenAt = time.Now().UTC().AddDate(0, 0, -40)
	assert.False(t, c.Eligible(notCold), "only Cold memories compress")

	already := coldMem("d", "[COMPRESSED] earlier summary", 40, nil)
	assert.False(t, c.Eligible(already), "summaries never re-compress")
}

func TestClusterGroupsBySimilarity(t *testing.T) {
	c := NewCompressor(nil, zap.NewNop())

	similar1 := coldMem("a", "x", 40, []float32{1, 0})
	similar2 := coldMem("b", "y", 40, []float32{0.9, 0.1})
	unrelated := coldMem("c", "z", 40, []float32{0, 1})

	clusters := c.Cluster([]*Memory{similar1, similar2, unrelated})
	require.Len(t, clusters, 2)
	assert.Len(t, clusters[0].Members, 2)
	assert.True(t, clusters[0].Compressible())
	assert.NotNil(t, clusters[0].Centroid)
	assert.Len(t, clusters[1].Members, 1)
	assert.False(t, clusters[1].Compressible())
}

func TestCompressWithModel(t *testing.T) {
	completer := &llm.ScriptedCompleter{Responses: []string{
		"The team ran several database migrations in early 2026.",
	}}
	c := NewCompressor(completer, zap.NewNop())

	a := coldMem("11111111-1111-1111-1111-111111111111", "migrated users table", 40, []float32{1, 0})
	a.Confidence = 0.7
	b := coldMem("22222222-2222-2222-2222-222222222222", "migrated orders table", 40, []float32{0.9, 0.1})
	b.Confidence = 0.5

	clusters := c.Cluster([]*Memory{a, b})
	require.Len(t, clusters, 1)

	summary, err := c.Compress(context.Background(), clusters[0])
	require.NoError(t, err)

	assert.True(t, summary.IsCompressed())
	assert.Contains(t, summary.Content, "database migrations")
	assert.InDelta(t, 0.7*0.9, summary.Confidence, 1e-9, "max member confidence scaled down")
	assert.Equal(t, TierCold, summary.Tier)
	assert.Equal(t, TypeFact, summary.Type)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, summary.MergedFrom)
	assert.NotNil(t, summary.Embedding)

	assert.Equal(t, StatusReplaced, a.Status)
	assert.Equal(t, summary.ID, a.ReplacedBy)
}

func TestCompressFallbackConcatenatesFirstSentences(t *testing.T) {
	c := NewCompressor(&llm.FailingCompleter{}, zap.NewNop())

	members := []*Memory{
		coldMem("a", "First fact here. Extra detail.", 40, []float32{1, 0}),
		coldMem("b", "Second fact here. More detail.", 40, []float32{1, 0}),
	}
	clusters := c.Cluster(members)
	require.Len(t, clusters, 1)

	summary, err := c.Compress(context.Background(), clusters[0])
	require.NoError(t, err)
	assert.Contains(t, summary.Content, "First fact here")
	assert.Contains(t, summary.Content, "Second fact here")
	assert.NotContains(t, summary.Content, "Extra detail")
}

func TestCompressRejectsSingletons(t *testing.T) {
	c := NewCompressor(nil, zap.NewNop())
	_, err := c.Compress(context.Background(), MemoryCluster{Members: []*Memory{coldMem("a", "x", 40, nil)}})
	assert.Error(t, err)
}

func TestSessionSummarizerThresholds(t *testing.T) {
	s := NewSessionSummarizer(nil, zap.NewNop())
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		s.RecordTurn("sess-1", "user says something", "agent replies")
	}
	assert.False(t, s.ShouldSummarize("sess-1"), "interval not yet elapsed")

	current = base.Add(31 * time.Minute)
	assert.True(t, s.ShouldSummarize("sess-1"))

	assert.False(t, s.ShouldSummarize("unknown-session"))
}

func TestSessionSummarizeExtractsCandidates(t *testing.T) {
	completer := &llm.ScriptedCompleter{Responses: []string{
		`[{"content": "decided to ship weekly", "summary": "weekly releases", "type": "decision", "keywords": ["weekly", "releases"]}]`,
	}}
	s := NewSessionSummarizer(completer, zap.NewNop())

	for i := 0; i < 5; i++ {
		s.RecordTurn("sess-1", "we talked about release cadence", "sounds good")
	}
	candidates := s.Summarize(context.Background(), "sess-1")
	require.Len(t, candidates, 1)
	assert.Equal(t, TypeDecision, candidates[0].Type)
	assert.Equal(t, "decided to ship weekly", candidates[0].Content)

	// The turn window resets after summarization.
	assert.False(t, s.ShouldSummarize("sess-1"))
}

func TestSessionSummarizeFailureYieldsNothing(t *testing.T) {
	s := NewSessionSummarizer(&llm.FailingCompleter{}, zap.NewNop())
	s.RecordTurn("sess-1", "a", "b")
	assert.Empty(t, s.Summarize(context.Background(), "sess-1"))
}
