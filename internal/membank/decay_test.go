package membank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDecayEngine(now time.Time) *DecayEngine {
	e := NewDecayEngine(zap.NewNop())
	e.now = func() time.Time { return now }
	return e
}

func TestHalfLifeTierBase(t *testing.T) {
	e := NewDecayEngine(zap.NewNop())

	core := &Memory{Tier: TierCore}
	relevant := &Memory{Tier: TierRelevant}
	cold := &Memory{Tier: TierCold}

	assert.Equal(t, 90.0, e.HalfLife(core))
	assert.Equal(t, 30.0, e.HalfLife(relevant))
	assert.Equal(t, 14.0, e.HalfLife(cold))
}

func TestHalfLifeBonuses(t *testing.T) {
	e := NewDecayEngine(zap.NewNop())

	m := &Memory{Tier: TierRelevant, AccessCount: 10, Confidence: 0.5}
	// base 30 + access bonus 20 + confidence bonus 5
	assert.Equal(t, 55.0, e.HalfLife(m))

	// Access bonus caps at the tier base.
	m.AccessCount = 100
	m.Confidence = 0
	assert.Equal(t, 60.0, e.HalfLife(m))
}

func TestDecayHalvesAtHalfLife(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	e := testDecayEngine(now)

	m := &Memory{
		Tier:        TierRelevant,
		Status:      StatusActive,
		Confidence:  1.0,
		DecayFactor: 1.0,
		// Half-life = 30 base + confidence bonus 10 = 40 days.
		LastSeenAt: now.AddDate(0, 0, -40),
	}
	e.Apply(m)
	assert.InDelta(t, 0.5, m.DecayFactor, 1e-9)
}

func TestDecayMonotonicInElapsedTime(t *testing.T) {
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	prev := 1.1
	for days := 0; days <= 120; days += 10 {
		e := testDecayEngine(base)
		m := &Memory{
			Tier:        TierCore,
			Status:      StatusActive,
			Confidence:  0.9,
			DecayFactor: 1.0,
			LastSeenAt:  base.AddDate(0, 0, -days),
		}
		e.Apply(m)
		assert.LessOrEqual(t, m.DecayFactor, prev, "decay must not increase with elapsed time")
		assert.GreaterOrEqual(t, m.DecayFactor, 0.0)
		prev = m.DecayFactor
	}
}

func TestDecayStatusTransitions(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	e := testDecayEngine(now)

	frozen := &Memory{
		Tier:        TierCold,
		Status:      StatusActive,
		Confidence:  0.4,
		DecayFactor: 1.0,
		LastSeenAt:  now.AddDate(0, 0, -20),
	}
	e.Apply(frozen)
	require.Less(t, frozen.EffectiveConfidence(), freezeThreshold)
	assert.Equal(t, StatusFrozen, frozen.Status)

	expired := &Memory{
		Tier:        TierCold,
		Status:      StatusActive,
		Confidence:  0.4,
		DecayFactor: 1.0,
		LastSeenAt:  now.AddDate(0, 0, -60),
	}
	e.Apply(expired)
	require.Less(t, expired.EffectiveConfidence(), expireThreshold)
	assert.Equal(t, StatusExpired, expired.Status)
}

func TestDecaySkipsTerminalStatuses(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	e := testDecayEngine(now)

	m := &Memory{
		Tier:        TierRelevant,
		Status:      StatusReplaced,
		Confidence:  0.9,
		DecayFactor: 1.0,
		LastSeenAt:  now.AddDate(0, 0, -365),
	}
	assert.False(t, e.Apply(m))
	assert.Equal(t, StatusReplaced, m.Status)
	assert.Equal(t, 1.0, m.DecayFactor)
}
