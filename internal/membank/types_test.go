package membank

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryDefaults(t *testing.T) {
	m, err := NewMemory("owner-1", "emp-1", "proj-1", TypeFact, "we deploy on fridays")
	require.NoError(t, err)

	assert.Equal(t, StatusActive, m.Status)
	assert.Equal(t, TierRelevant, m.Tier)
	assert.Equal(t, DefaultConfidence, m.Confidence)
	assert.Equal(t, 1.0, m.DecayFactor)
	assert.NoError(t, m.Validate())
}

func TestNewMemoryRejectsEmpty(t *testing.T) {
	_, err := NewMemory("o", "e", "", TypeFact, "content")
	assert.ErrorIs(t, err, ErrEmptyProjectID)

	_, err = NewMemory("o", "e", "p", TypeFact, "   ")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestEffectiveConfidence(t *testing.T) {
	m := &Memory{Confidence: 0.8, DecayFactor: 0.5}
	assert.InDelta(t, 0.4, m.EffectiveConfidence(), 1e-9)
}

func TestClampConfidence(t *testing.T) {
	m := &Memory{Confidence: 1.7}
	m.ClampConfidence()
	assert.Equal(t, 1.0, m.Confidence)

	m.Confidence = -0.2
	m.ClampConfidence()
	assert.Equal(t, 0.0, m.Confidence)
}

func TestTouchResetsDecay(t *testing.T) {
	m, err := NewMemory("o", "e", "p", TypeFact, "content")
	require.NoError(t, err)
	m.DecayFactor = 0.3
	m.AccessCount = 4

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.Touch(now)

	assert.Equal(t, 1.0, m.DecayFactor)
	assert.Equal(t, 5, m.AccessCount)
	assert.Equal(t, now, m.LastSeenAt)
	assert.Equal(t, now, m.LastAccessedAt)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusReplaced.Terminal())
	assert.False(t, StatusActive.Terminal())

	assert.True(t, StatusActive.Retrievable())
	assert.True(t, StatusDownweighted.Retrievable())
	assert.False(t, StatusFrozen.Retrievable())
	assert.False(t, StatusExpired.Retrievable())
}

func TestParseEnums(t *testing.T) {
	for _, s := range []string{"fact", "preference", "decision", "experience", "context"} {
		_, err := ParseMemoryType(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseMemoryType("opinion")
	assert.Error(t, err)

	_, err = ParseMemoryStatus("dormant")
	assert.Error(t, err)

	_, err = ParseMemoryTier("hot")
	assert.Error(t, err)
}

func TestMetadataRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 5, 8, 30, 0, 123456000, time.UTC)
	m := &Memory{
		ID:              "7b6cb27e-6bfe-4f6b-8c19-9f1f4c2ab111",
		OwnerID:         "owner-1",
		EmployeeID:      "emp-1",
		ProjectID:       "proj-1",
		Type:            TypePreference,
		Content:         "prefers dark roast coffee",
		Summary:         "coffee preference",
		Keywords:        []string{"coffee", "dark", "roast"},
		Confidence:      0.85,
		SupportCount:    3,
		ContradictCount: 1,
		Status:          StatusDownweighted,
		Tier:            TierCore,
		CreatedAt:       created,
		UpdatedAt:       created.Add(time.Hour),
		LastSeenAt:      created.Add(2 * time.Hour),
		LastAccessedAt:  created.Add(3 * time.Hour),
		AccessCount:     7,
		DecayFactor:     0.92,
		HalfLifeDays:    95.5,
		RelatedIDs:      []string{"a", "b"},
		ReplacedBy:      "c",
		MergedFrom:      []string{"d"},
		SourceTurn:      "turn-12",
	}

	got, err := MemoryFromMetadata(m.Metadata())
	require.NoError(t, err)

	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.Keywords, got.Keywords)
	assert.Equal(t, m.Confidence, got.Confidence)
	assert.Equal(t, m.SupportCount, got.SupportCount)
	assert.Equal(t, m.ContradictCount, got.ContradictCount)
	assert.Equal(t, m.Status, got.Status)
	assert.Equal(t, m.Tier, got.Tier)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, m.LastSeenAt.Equal(got.LastSeenAt))
	assert.True(t, m.LastAccessedAt.Equal(got.LastAccessedAt))
	assert.Equal(t, m.AccessCount, got.AccessCount)
	assert.Equal(t, m.DecayFactor, got.DecayFactor)
	assert.Equal(t, m.HalfLifeDays, got.HalfLifeDays)
	assert.Equal(t, m.RelatedIDs, got.RelatedIDs)
	assert.Equal(t, m.ReplacedBy, got.ReplacedBy)
	assert.Equal(t, m.MergedFrom, got.MergedFrom)
	assert.Equal(t, m.SourceTurn, got.SourceTurn)
}

func TestMetadataCapsContent(t *testing.T) {
	m, err := NewMemory("o", "e", "p", TypeFact, strings.Repeat("x", 5000))
	require.NoError(t, err)
	m.Summary = strings.Repeat("s", 500)
	m.Keywords = make([]string, 20)
	for i := range m.Keywords {
		m.Keywords[i] = "k"
	}

	md := m.Metadata()
	assert.LessOrEqual(t, len(md["content"]), 1000)
	assert.LessOrEqual(t, len(md["summary"]), 200)
	assert.LessOrEqual(t, len(strings.Split(md["keywords"], ",")), 10)
}

func TestMemoryFromMetadataRejectsBadEnums(t *testing.T) {
	m, err := NewMemory("o", "e", "p", TypeFact, "content")
	require.NoError(t, err)

	md := m.Metadata()
	md["type"] = "bogus"
	_, err = MemoryFromMetadata(md)
	assert.ErrorIs(t, err, ErrInvalidMemory)
}

func TestIsCompressed(t *testing.T) {
	m := &Memory{Content: "[COMPRESSED] summary of old memories"}
	assert.True(t, m.IsCompressed())
	m.Content = "plain content"
	assert.False(t, m.IsCompressed())
}
