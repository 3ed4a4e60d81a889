package membank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mem(id string, memType MemoryType, content string, embedding []float32) *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:          id,
		ProjectID:   "proj-1",
		Type:        memType,
		Content:     content,
		Keywords:    extractKeywords(content),
		Confidence:  DefaultConfidence,
		Status:      StatusActive,
		Tier:        TierRelevant,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastSeenAt:  now,
		DecayFactor: 1.0,
		Embedding:   embedding,
	}
}

func TestIdenticalEmbeddingsAreDuplicates(t *testing.T) {
	d := NewDeduplicator(zap.NewNop())
	vec := []float32{0.6, 0.8}

	a := mem("a", TypeFact, "we deploy on fridays", vec)
	b := mem("b", TypeFact, "we deploy on fridays", vec)

	require.Equal(t, 1.0, d.Similarity(a, b))

	res := d.Compare(a, b)
	require.NotNil(t, res)
	assert.False(t, res.Merged)
	assert.Equal(t, StatusReplaced, res.Dropped.Status)
	assert.Equal(t, res.Kept.ID, res.Dropped.ReplacedBy)
	assert.Equal(t, StatusActive, res.Kept.Status)
}

func TestSimilarityFallsBackToJaccard(t *testing.T) {
	d := NewDeduplicator(zap.NewNop())

	a := mem("a", TypeFact, "sprint cadence runs fortnightly", nil)
	b := mem("b", TypeFact, "sprint cadence runs fortnightly", nil)
	assert.Equal(t, 1.0, d.Similarity(a, b))
}

func TestHigherRetentionScoreSurvives(t *testing.T) {
	d := NewDeduplicator(zap.NewNop())
	vec := []float32{1, 0}

	weak := mem("weak", TypeFact, "we deploy on fridays", vec)
	weak.Confidence = 0.4
	weak.LastSeenAt = time.Now().UTC().AddDate(0, 0, -40)

	strong := mem("strong", TypeFact, "we deploy on fridays", vec)
	strong.Confidence = 0.9
	strong.SupportCount = 4

	res := d.Compare(weak, strong)
	require.NotNil(t, res)
	assert.Equal(t, "strong", res.Kept.ID)
	assert.Equal(t, "weak", res.Dropped.ID)
}

func TestNearDuplicatesMergeSameTypeOnly(t *testing.T) {
	d := NewDeduplicator(zap.NewNop())
	// Cosine of these two is ~0.8: inside the near-duplicate band.
	vecA := []float32{1, 0}
	vecB := []float32{0.8, 0.6}

	a := mem("a", TypeFact, "deploys always happen early friday mornings", vecA)
	b := mem("b", TypeFact, "releases ship every friday afternoon with notes", vecB)
	b.Confidence = 0.9

	res := d.Compare(a, b)
	require.NotNil(t, res)
	assert.True(t, res.Merged)
	assert.Equal(t, "b", res.Kept.ID, "higher confidence side keeps the content")
	assert.Contains(t, res.Kept.Content, "(also noted:")

	// Different types in the same band stay separate.
	c := mem("c", TypeFact, "deploys happen fridays", vecA)
	p := mem("p", TypePreference, "releases ship every friday", vecB)
	assert.Nil(t, d.Compare(c, p))
}

func TestDeduplicateBatchKeepsOne(t *testing.T) {
	d := NewDeduplicator(zap.NewNop())
	vec := []float32{0.5, 0.5}

	memories := []*Memory{
		mem("a", TypeFact, "we deploy on fridays", vec),
		mem("b", TypeFact, "we deploy on fridays", vec),
		mem("c", TypeFact, "standup is at nine", []float32{-0.5, 0.5}),
	}
	survivors, results := d.DeduplicateBatch(memories)
	assert.Len(t, survivors, 2, "exactly one of the identical pair survives")
	assert.Len(t, results, 1)
}

func TestMergerMergeable(t *testing.T) {
	g := NewMerger(zap.NewNop())

	a := mem("a", TypeFact, "the release branch freezes on thursday evening", nil)
	b := mem("b", TypeFact, "the release branch freezes on thursday evening", nil)
	assert.True(t, g.Mergeable(a, b))

	b.Type = TypeDecision
	assert.False(t, g.Mergeable(a, b), "different types never merge")

	b.Type = TypeFact
	b.ProjectID = "proj-2"
	assert.False(t, g.Mergeable(a, b), "different projects never merge")
}

func TestMergerMergeProject(t *testing.T) {
	g := NewMerger(zap.NewNop())

	a := mem("a", TypeFact, "the release branch freezes on thursday evening", nil)
	a.SupportCount = 1
	b := mem("b", TypeFact, "the release branch freezes on thursday evening", nil)
	b.Confidence = 0.95

	merged := g.MergeProject([]*Memory{a, b})
	assert.Equal(t, 1, merged)
	assert.Equal(t, StatusReplaced, b.Status)
	assert.Equal(t, "a", b.ReplacedBy)
	assert.Equal(t, 0.95, a.Confidence, "merge keeps the higher confidence")
	assert.Contains(t, a.MergedFrom, "b")
}

func TestShouldPromote(t *testing.T) {
	g := NewMerger(zap.NewNop())

	bySupport := mem("a", TypeFact, "x y z", nil)
	bySupport.SupportCount = 3
	assert.True(t, g.ShouldPromote(bySupport))

	byAccess := mem("b", TypeFact, "x y z", nil)
	byAccess.Confidence = 0.9
	byAccess.AccessCount = 10
	assert.True(t, g.ShouldPromote(byAccess))

	byPreference := mem("c", TypePreference, "x y z", nil)
	byPreference.SupportCount = 2
	assert.True(t, g.ShouldPromote(byPreference))

	plain := mem("d", TypeFact, "x y z", nil)
	assert.False(t, g.ShouldPromote(plain))

	alreadyCore := mem("e", TypeFact, "x y z", nil)
	alreadyCore.Tier = TierCore
	alreadyCore.SupportCount = 5
	assert.False(t, g.ShouldPromote(alreadyCore))
}
