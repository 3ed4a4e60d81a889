package membank

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// itemOverhead is the fixed per-item token cost of list formatting.
const itemOverhead = 8

// Tier weights for priority ranking. Core always outranks Relevant, which
// always outranks Cold, regardless of the other signals.
var tierWeight = map[MemoryTier]float64{
	TierCore:     1000,
	TierRelevant: 100,
	TierCold:     0,
}

// priorityScore ranks a memory for injection: tier weight plus effective
// confidence, recency and access frequency.
func priorityScore(m *Memory, now time.Time) float64 {
	days := now.Sub(m.LastSeenAt).Hours() / 24
	recency := 1 - days/30
	if recency < 0 {
		recency = 0
	}
	frequency := float64(m.AccessCount) / 20
	if frequency > 1 {
		frequency = 1
	}
	return tierWeight[m.Tier] + m.EffectiveConfidence()*10 + recency*5 + frequency*3
}

// CountFunc estimates the token length of a text.
type CountFunc func(text string) int

// HeuristicCount approximates tokens as one per four characters. It is the
// default and the fallback when no encoder is available.
func HeuristicCount(text string) int {
	return len(text)/4 + 1
}

// EncoderCount returns an exact counter backed by a tiktoken encoding, or
// an error when the encoding cannot be loaded.
func EncoderCount(encoding string) (CountFunc, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading token encoding %s: %w", encoding, err)
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// BudgetItem is one memory admitted into the injected context.
type BudgetItem struct {
	Memory    *Memory
	Text      string
	Tokens    int
	Truncated bool
}

// Allocation is the outcome of packing memories into a token budget.
type Allocation struct {
	Core        []BudgetItem
	Relevant    []BudgetItem
	TotalTokens int
	Skipped     int
}

// BudgetManager packs memories into a token budget, greedy by priority:
// Core memories against the core allocation first, then Relevant memories
// against the relevant allocation, each falling back to summary form when
// the full text does not fit.
type BudgetManager struct {
	count  CountFunc
	logger *zap.Logger
	now    func() time.Time
}

// BudgetManagerOption customizes a BudgetManager.
type BudgetManagerOption func(*BudgetManager)

// WithCountFunc replaces the heuristic token estimator, e.g. with
// EncoderCount for exact counts.
func WithCountFunc(f CountFunc) BudgetManagerOption {
	return func(b *BudgetManager) {
		if f != nil {
			b.count = f
		}
	}
}

func NewBudgetManager(logger *zap.Logger, opts ...BudgetManagerOption) *BudgetManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &BudgetManager{count: HeuristicCount, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allocate packs core and relevant memories into the budget. Neither pool
// ever borrows from the other's allocation.
func (b *BudgetManager) Allocate(budget *TokenBudget, core, relevant []*Memory) Allocation {
	var alloc Allocation
	alloc.Core = b.fill(core, budget.Core, &alloc)
	alloc.Relevant = b.fill(relevant, budget.Relevant, &alloc)
	return alloc
}

func (b *BudgetManager) fill(memories []*Memory, limit int, alloc *Allocation) []BudgetItem {
	now := b.now()
	sorted := make([]*Memory, len(memories))
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		return priorityScore(sorted[i], now) > priorityScore(sorted[j], now)
	})

	var (
		items []BudgetItem
		used  int
	)
	for _, m := range sorted {
		item, ok := b.fit(m, limit-used)
		if !ok {
			alloc.Skipped++
			continue
		}
		items = append(items, item)
		used += item.Tokens
		alloc.TotalTokens += item.Tokens
	}
	return items
}

// fit tries the full content, then the summary, then a hard truncation.
func (b *BudgetManager) fit(m *Memory, remaining int) (BudgetItem, bool) {
	if cost := b.count(m.Content) + itemOverhead; cost <= remaining {
		return BudgetItem{Memory: m, Text: m.Content, Tokens: cost}, true
	}
	if m.Summary != "" {
		if cost := b.count(m.Summary) + itemOverhead; cost <= remaining {
			return BudgetItem{Memory: m, Text: m.Summary, Tokens: cost, Truncated: true}, true
		}
	}
	// The -1 keeps the ceiling division of the count from overshooting.
	if maxChars := (remaining - itemOverhead - 1) * 4; maxChars >= 20 {
		text := truncate(m.Content, maxChars)
		return BudgetItem{Memory: m, Text: text, Tokens: b.count(text) + itemOverhead, Truncated: true}, true
	}
	return BudgetItem{}, false
}

// Injector renders the budgeted allocation into the context string placed
// in front of a conversation.
type Injector struct{}

// Partition splits memories into current and outdated pools. Downweighted
// memories that were contradicted belong in the outdated block; supported
// ones still count as current.
func (Injector) Partition(memories []*Memory) (current, outdated []*Memory) {
	for _, m := range memories {
		switch {
		case m.Status == StatusActive:
			current = append(current, m)
		case m.Status == StatusDownweighted && m.ContradictCount == 0:
			current = append(current, m)
		case m.Status == StatusDownweighted:
			outdated = append(outdated, m)
		}
	}
	return current, outdated
}

// Render produces the final injection string: a current-information block
// followed, when needed, by an explicitly fenced outdated block.
func (Injector) Render(alloc Allocation, outdated []*Memory) string {
	if len(alloc.Core) == 0 && len(alloc.Relevant) == 0 && len(outdated) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## What you remember\n")
	for _, item := range append(append([]BudgetItem{}, alloc.Core...), alloc.Relevant...) {
		fmt.Fprintf(&sb, "- (%s) %s\n", item.Memory.Type, item.Text)
	}

	if len(outdated) > 0 {
		sb.WriteString("\n## [OUTDATED] Superseded information\n")
		sb.WriteString("The following was contradicted or corrected later. Do NOT use it; it is listed only so you avoid repeating it.\n")
		for _, m := range outdated {
			text := m.Summary
			if text == "" {
				text = truncate(m.Content, 200)
			}
			fmt.Fprintf(&sb, "- (%s) %s\n", m.Type, text)
		}
	}
	return sb.String()
}
