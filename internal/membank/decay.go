package membank

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// Tier base half-lives in days. Core memories decay the slowest.
var tierHalfLife = map[MemoryTier]float64{
	TierCore:     90,
	TierRelevant: 30,
	TierCold:     14,
}

// Effective-confidence thresholds for status transitions.
const (
	expireThreshold = 0.1
	freezeThreshold = 0.3
)

// DecayEngine applies exponential, half-life-parameterized confidence decay
// and the resulting status transitions.
type DecayEngine struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewDecayEngine creates a decay engine using wall-clock time.
func NewDecayEngine(logger *zap.Logger) *DecayEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecayEngine{logger: logger, now: time.Now}
}

// HalfLife computes the memory's half-life in days: tier base, plus an
// access-frequency bonus of 10 days per 5 accesses capped at the base,
// plus a confidence bonus of up to 10 days.
func (e *DecayEngine) HalfLife(m *Memory) float64 {
	base := tierHalfLife[m.Tier]
	if base == 0 {
		base = tierHalfLife[TierRelevant]
	}

	accessBonus := 10 * float64(m.AccessCount/5)
	if accessBonus > base {
		accessBonus = base
	}
	return base + accessBonus + m.Confidence*10
}

// Apply recomputes the decay factor from elapsed time since last seen and
// evaluates the status transition rule. Terminal statuses are left alone.
// Returns true when the memory changed.
func (e *DecayEngine) Apply(m *Memory) bool {
	if m.Status.Terminal() {
		return false
	}

	halfLife := e.HalfLife(m)
	days := e.now().Sub(m.LastSeenAt).Hours() / 24
	if days < 0 {
		days = 0
	}

	factor := math.Pow(0.5, days/halfLife)
	changed := factor != m.DecayFactor || halfLife != m.HalfLifeDays
	m.DecayFactor = factor
	m.HalfLifeDays = halfLife

	switch eff := m.EffectiveConfidence(); {
	case eff < expireThreshold:
		if m.Status != StatusExpired {
			m.Status = StatusExpired
			changed = true
			e.logger.Debug("memory expired",
				zap.String("id", m.ID),
				zap.Float64("effective_confidence", eff),
			)
		}
	case eff < freezeThreshold:
		if m.Status != StatusFrozen {
			m.Status = StatusFrozen
			changed = true
		}
	}

	if changed {
		m.UpdatedAt = e.now().UTC()
	}
	return changed
}
