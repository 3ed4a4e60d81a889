package membank

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Similarity bands for duplicate handling.
const (
	duplicateThreshold = 0.85 // at or above: drop the weaker memory
	nearDupThreshold   = 0.75 // [near, duplicate): merge if same type
)

// DedupResult describes what the deduplicator decided for a pair.
type DedupResult struct {
	// Kept survives; Dropped is absorbed and should be marked Replaced.
	Kept    *Memory
	Dropped *Memory
	// Merged is true when Kept carries content merged from both sides.
	Merged bool
	// Similarity that triggered the decision.
	Similarity float64
}

// Deduplicator finds embedding-similar memories and merges or suppresses
// duplicates.
type Deduplicator struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewDeduplicator(logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{logger: logger, now: time.Now}
}

// Similarity is embedding cosine similarity, falling back to Jaccard word
// overlap when either embedding is missing.
func (d *Deduplicator) Similarity(a, b *Memory) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return cosine(a.Embedding, b.Embedding)
	}
	return jaccard(a.Content, b.Content)
}

// retentionScore weights which of two duplicates survives: 40% confidence,
// 30% support, 30% recency over a 30-day window.
func (d *Deduplicator) retentionScore(m *Memory) float64 {
	support := float64(m.SupportCount) / 5
	if support > 1 {
		support = 1
	}
	days := d.now().Sub(m.LastSeenAt).Hours() / 24
	recency := 1 - days/30
	if recency < 0 {
		recency = 0
	}
	return 0.4*m.Confidence + 0.3*support + 0.3*recency
}

// Compare decides whether a new memory duplicates or nearly duplicates an
// existing one. Returns nil when the pair is unrelated.
func (d *Deduplicator) Compare(existing, incoming *Memory) *DedupResult {
	sim := d.Similarity(existing, incoming)
	switch {
	case sim >= duplicateThreshold:
		kept, dropped := existing, incoming
		if d.retentionScore(incoming) > d.retentionScore(existing) {
			kept, dropped = incoming, existing
		}
		d.absorb(kept, dropped, false)
		return &DedupResult{Kept: kept, Dropped: dropped, Similarity: sim}

	case sim >= nearDupThreshold && existing.Type == incoming.Type:
		kept, dropped := existing, incoming
		if incoming.Confidence > existing.Confidence {
			kept, dropped = incoming, existing
		}
		d.absorb(kept, dropped, true)
		return &DedupResult{Kept: kept, Dropped: dropped, Merged: true, Similarity: sim}

	default:
		return nil
	}
}

// absorb folds the dropped memory's counters into the kept one. Near
// duplicates additionally union keywords and may splice in uncovered
// content from the dropped side.
func (d *Deduplicator) absorb(kept, dropped *Memory, merge bool) {
	kept.SupportCount += dropped.SupportCount + 1
	kept.AccessCount += dropped.AccessCount
	if dropped.CreatedAt.Before(kept.CreatedAt) && !dropped.CreatedAt.IsZero() {
		kept.CreatedAt = dropped.CreatedAt
	}

	if merge {
		kept.Keywords = unionKeywords(kept.Keywords, dropped.Keywords)
		if extra := uncoveredWords(kept.Content, dropped.Content); len(extra) > 3 {
			kept.Content = truncate(
				fmt.Sprintf("%s (also noted: %s)", kept.Content, dropped.Content),
				maxContentLen,
			)
		}
	}

	dropped.Status = StatusReplaced
	dropped.ReplacedBy = kept.ID
	kept.UpdatedAt = d.now().UTC()
	dropped.UpdatedAt = kept.UpdatedAt
}

// DeduplicateBatch collapses duplicates within a slice, returning the
// survivors and the decisions taken. Survivor order follows the input.
func (d *Deduplicator) DeduplicateBatch(memories []*Memory) ([]*Memory, []DedupResult) {
	var (
		survivors []*Memory
		results   []DedupResult
	)
	for _, m := range memories {
		if m.Status == StatusReplaced {
			continue
		}
		absorbed := false
		for _, s := range survivors {
			if s.Status == StatusReplaced {
				continue
			}
			if res := d.Compare(s, m); res != nil {
				results = append(results, *res)
				if res.Kept == m {
					// Incoming won; it takes the survivor's slot.
					for i, prev := range survivors {
						if prev == s {
							survivors[i] = m
						}
					}
				}
				absorbed = true
				break
			}
		}
		if !absorbed {
			survivors = append(survivors, m)
		}
	}
	return survivors, results
}

func unionKeywords(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a))
	for _, k := range a {
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	for _, k := range b {
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	if len(out) > maxKeywords {
		out = out[:maxKeywords]
	}
	return out
}

// uncoveredWords returns words of other that base does not contain.
func uncoveredWords(base, other string) []string {
	baseSet := wordSet(base)
	var extra []string
	for w := range wordSet(other) {
		if _, covered := baseSet[w]; !covered {
			extra = append(extra, w)
		}
	}
	return extra
}
