package membank

import (
	"time"

	"go.uber.org/zap"
)

// mergeTextThreshold is the Jaccard word-overlap bar for text-level merging
// during batch maintenance.
const mergeTextThreshold = 0.85

// Merger collapses textually-redundant memories within the same project and
// type, and promotes frequently-reinforced memories to Core tier. Unlike the
// Deduplicator it never looks at embeddings.
type Merger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewMerger(logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{logger: logger, now: time.Now}
}

// Mergeable reports whether two memories qualify for a text-level merge:
// same project, same type, near-identical wording.
func (g *Merger) Mergeable(a, b *Memory) bool {
	if a.ProjectID != b.ProjectID || a.Type != b.Type {
		return false
	}
	if a.Status.Terminal() || b.Status.Terminal() {
		return false
	}
	return jaccard(a.Content, b.Content) >= mergeTextThreshold
}

// Merge folds b into a: keyword union, counter sums, the higher confidence
// wins, and b is marked Replaced.
func (g *Merger) Merge(a, b *Memory) {
	a.Keywords = unionKeywords(a.Keywords, b.Keywords)
	a.SupportCount += b.SupportCount + 1
	a.AccessCount += b.AccessCount
	if b.Confidence > a.Confidence {
		a.Confidence = b.Confidence
	}
	a.MergedFrom = append(a.MergedFrom, b.ID)

	b.Status = StatusReplaced
	b.ReplacedBy = a.ID
	now := g.now().UTC()
	a.UpdatedAt = now
	b.UpdatedAt = now
}

// MergeProject collapses redundant memories in a project slice and returns
// how many merges happened. Survivors keep their input order.
func (g *Merger) MergeProject(memories []*Memory) int {
	merged := 0
	for i, a := range memories {
		if a.Status.Terminal() {
			continue
		}
		for _, b := range memories[i+1:] {
			if b.Status.Terminal() {
				continue
			}
			if g.Mergeable(a, b) {
				g.Merge(a, b)
				merged++
				g.logger.Debug("merged redundant memory",
					zap.String("kept", a.ID),
					zap.String("absorbed", b.ID),
				)
			}
		}
	}
	return merged
}

// ShouldPromote reports whether repeated reinforcement has earned the
// memory a Core slot.
func (g *Merger) ShouldPromote(m *Memory) bool {
	if m.Tier == TierCore || !m.Status.Retrievable() {
		return false
	}
	switch {
	case m.SupportCount >= 3:
		return true
	case m.Confidence >= 0.9 && m.AccessCount >= 10:
		return true
	case m.Type == TypePreference && m.SupportCount >= 2:
		return true
	default:
		return false
	}
}
