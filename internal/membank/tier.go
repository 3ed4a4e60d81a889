package membank

import (
	"time"

	"go.uber.org/zap"
)

// TierChange records one tier transition for the maintenance stats.
type TierChange struct {
	MemoryID string
	From     MemoryTier
	To       MemoryTier
}

// TierAdjuster moves memories between Core, Relevant and Cold based on a
// composite usage score and hard promotion/demotion rules. It is the only
// component allowed to change a memory's tier.
type TierAdjuster struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewTierAdjuster(logger *zap.Logger) *TierAdjuster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierAdjuster{logger: logger, now: time.Now}
}

// UsageScore is the composite ranking signal: frequency, recency,
// confidence, support ratio and a small age bonus for long-lived memories.
func (t *TierAdjuster) UsageScore(m *Memory) float64 {
	now := t.now()

	frequency := float64(m.AccessCount) / 20
	if frequency > 1 {
		frequency = 1
	}

	daysSinceSeen := now.Sub(m.LastSeenAt).Hours() / 24
	recency := 1 - daysSinceSeen/30
	if recency < 0 {
		recency = 0
	}

	supportRatio := 1.0
	if total := m.SupportCount + m.ContradictCount; total > 0 {
		supportRatio = float64(m.SupportCount) / float64(total)
	}

	ageDays := now.Sub(m.CreatedAt).Hours() / 24
	ageBonus := ageDays / 365
	if ageBonus > 1 {
		ageBonus = 1
	}

	return 0.25*frequency + 0.25*recency + 0.30*m.EffectiveConfidence() +
		0.15*supportRatio + 0.05*ageBonus
}

// Adjust evaluates one memory and applies at most one tier transition.
// Returns the change, or nil when the tier is already right.
func (t *TierAdjuster) Adjust(m *Memory) *TierChange {
	if m.Status.Terminal() {
		return nil
	}

	now := t.now()
	daysSinceSeen := now.Sub(m.LastSeenAt).Hours() / 24

	var target MemoryTier
	switch m.Tier {
	case TierCore:
		switch {
		case daysSinceSeen > 30,
			m.Confidence < 0.4,
			m.ContradictCount >= 2 && m.ContradictCount > m.SupportCount:
			target = TierRelevant
		default:
			return nil
		}

	case TierRelevant:
		switch {
		case t.qualifiesForCore(m, daysSinceSeen):
			target = TierCore
		case daysSinceSeen > 60,
			m.Confidence < 0.3 && m.AccessCount < 2:
			target = TierCold
		default:
			return nil
		}

	case TierCold:
		if daysSinceSeen < 7 && m.AccessCount >= 3 {
			target = TierRelevant
		} else {
			return nil
		}

	default:
		return nil
	}

	change := &TierChange{MemoryID: m.ID, From: m.Tier, To: target}
	m.Tier = target
	m.UpdatedAt = now.UTC()
	t.logger.Debug("tier adjusted",
		zap.String("id", m.ID),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
	)
	return change
}

func (t *TierAdjuster) qualifiesForCore(m *Memory, daysSinceSeen float64) bool {
	switch {
	case m.AccessCount >= 5:
		return true
	case m.Confidence >= 0.85 && daysSinceSeen < 7:
		return true
	case m.SupportCount >= 3 && m.ContradictCount == 0:
		return true
	default:
		return false
	}
}

// AdjustAll runs Adjust over a slice and returns the transitions.
func (t *TierAdjuster) AdjustAll(memories []*Memory) []TierChange {
	var changes []TierChange
	for _, m := range memories {
		if change := t.Adjust(m); change != nil {
			changes = append(changes, *change)
		}
	}
	return changes
}
