package membank

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crewforge/membank/internal/llm"
)

// ContradictionPenalty is the base confidence penalty for an explicit,
// pattern-detected correction. The effective penalty is this value times
// the corrector's penalty multiplier.
const ContradictionPenalty = 0.25

// DefaultPenaltyMultiplier doubles the base penalty, matching the historic
// behavior of applying it once for save-time conflicts and once for the
// explicit correction.
const DefaultPenaltyMultiplier = 2.0

// classifyBatchThreshold: at most this many memories are classified with
// individual model calls; larger sets use one combined call.
const classifyBatchThreshold = 3

// EvidenceKind is the outcome of classifying a turn against one memory.
type EvidenceKind int

const (
	EvidenceNeutral EvidenceKind = iota
	EvidenceSupport
	EvidenceContradict
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceSupport:
		return "support"
	case EvidenceContradict:
		return "contradict"
	default:
		return "neutral"
	}
}

// CorrectionSignal is an (old, new) value pair pulled out of an explicit
// correction phrase. Either side may be empty.
type CorrectionSignal struct {
	OldValue string
	NewValue string
}

// Correction phrase patterns. Tried in order; each may contribute one signal.
var (
	switchedPattern = regexp.MustCompile(`(?i)switched\s+from\s+([\w.-]+)\s+to\s+([\w.-]+)`)
	switchedToOnly  = regexp.MustCompile(`(?i)switched\s+(?:over\s+)?to\s+([\w.-]+)`)
	usedToNow       = regexp.MustCompile(`(?i)used\s+to\s+(?:use\s+|be\s+)?(.+?)[,.]?\s+(?:but\s+)?now\s+(?:we\s+|i\s+)?(?:use\s+)?(.+)`)
	noLonger        = regexp.MustCompile(`(?i)(?:no\s+longer|don'?t|stopped)\s+(?:use|using|work\s+with|do)\s+([\w.-]+)`)
	actuallyPattern = regexp.MustCompile(`(?i)\bactually[,:]?\s+(.{4,})`)
)

// techConflicts groups technologies that are mutually exclusive within a
// category. Mentioning one implicitly contradicts memories naming another
// from the same row, even without correction language.
var techConflicts = [][]string{
	{"react", "vue", "angular", "svelte"},
	{"postgresql", "postgres", "mongodb", "mongo", "mysql", "sqlite"},
	{"python", "golang", "rust", "java", "typescript"},
	{"aws", "gcp", "azure"},
	{"kubernetes", "nomad", "ecs"},
	{"vim", "emacs", "vscode"},
}

const classifyPrompt = `Does this new statement SUPPORT, CONTRADICT, or say nothing (NEUTRAL) about the stored memory?

Memory: %s
New statement: %s

Answer with exactly one word: SUPPORT, CONTRADICT, or NEUTRAL.`

const classifyBatchPrompt = `For each stored memory below, decide whether the new statement SUPPORTS it, CONTRADICTS it, or is NEUTRAL.

New statement: %s

Memories:
%s
Answer with one line per memory in the form "<number>: SUPPORT|CONTRADICT|NEUTRAL".`

// Corrector adjusts existing memories when new turns support or contradict
// them, and handles explicit "actually, ..." style corrections.
type Corrector struct {
	completer         llm.Completer
	logger            *zap.Logger
	penaltyMultiplier float64
	now               func() time.Time
}

// CorrectorOption customizes a Corrector.
type CorrectorOption func(*Corrector)

// WithPenaltyMultiplier overrides the explicit-correction penalty
// multiplier. 1.0 applies the base penalty once.
func WithPenaltyMultiplier(m float64) CorrectorOption {
	return func(c *Corrector) {
		if m > 0 {
			c.penaltyMultiplier = m
		}
	}
}

// NewCorrector creates a corrector. A nil completer disables model-based
// classification; pattern detection still works.
func NewCorrector(completer llm.Completer, logger *zap.Logger, opts ...CorrectorOption) *Corrector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Corrector{
		completer:         completer,
		logger:            logger,
		penaltyMultiplier: DefaultPenaltyMultiplier,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DetectSignals extracts explicit correction signals from a turn. An empty
// result means the turn carries no correction language.
func (c *Corrector) DetectSignals(turn string) []CorrectionSignal {
	var signals []CorrectionSignal

	if m := switchedPattern.FindStringSubmatch(turn); m != nil {
		signals = append(signals, CorrectionSignal{OldValue: m[1], NewValue: m[2]})
	} else if m := switchedToOnly.FindStringSubmatch(turn); m != nil {
		signals = append(signals, CorrectionSignal{NewValue: m[1]})
	}
	if m := usedToNow.FindStringSubmatch(turn); m != nil {
		signals = append(signals, CorrectionSignal{
			OldValue: strings.TrimSpace(m[1]),
			NewValue: strings.TrimSpace(m[2]),
		})
	}
	if m := noLonger.FindStringSubmatch(turn); m != nil {
		signals = append(signals, CorrectionSignal{OldValue: m[1]})
	}
	if len(signals) == 0 {
		if m := actuallyPattern.FindStringSubmatch(turn); m != nil {
			signals = append(signals, CorrectionSignal{NewValue: strings.TrimSpace(m[1])})
		}
	}
	return signals
}

// Contradicts reports whether the signal contradicts the memory: either the
// memory names the corrected old value, or it names a technology from the
// same conflict category as the new value.
func (c *Corrector) Contradicts(m *Memory, signal CorrectionSignal) bool {
	content := strings.ToLower(m.Content)
	if signal.OldValue != "" && strings.Contains(content, strings.ToLower(signal.OldValue)) {
		return true
	}
	if signal.NewValue != "" && techConflict(content, strings.ToLower(signal.NewValue)) {
		return true
	}
	return false
}

// techConflict reports whether content names a technology from the same
// category as one named in statement, but a different one.
func techConflict(content, statement string) bool {
	for _, category := range techConflicts {
		var inStatement, inContent string
		for _, tech := range category {
			if inStatement == "" && containsWord(statement, tech) {
				inStatement = tech
			}
			if inContent == "" && containsWord(content, tech) {
				inContent = tech
			}
		}
		if inStatement == "" || inContent == "" {
			continue
		}
		if sameTech(inStatement, inContent) {
			continue
		}
		return true
	}
	return false
}

// sameTech treats short/long names of one product as equal.
func sameTech(a, b string) bool {
	return a == b || strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	for idx >= 0 {
		before := idx == 0 || !isWordRune(rune(text[idx-1]))
		afterIdx := idx + len(word)
		after := afterIdx >= len(text) || !isWordRune(rune(text[afterIdx]))
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '-' || r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// ApplyContradiction downweights a memory hit by an explicit correction.
// Confidence drops by the multiplied base penalty; a memory that falls
// below the freeze threshold while a replacement value exists is Replaced.
// Returns true when the memory's status changed.
func (c *Corrector) ApplyContradiction(m *Memory, signal CorrectionSignal) bool {
	m.Confidence -= ContradictionPenalty * c.penaltyMultiplier
	m.ClampConfidence()
	m.ContradictCount++
	m.UpdatedAt = c.now().UTC()

	if m.Confidence < freezeThreshold && signal.NewValue != "" {
		m.Status = StatusReplaced
		return true
	}
	if m.Status == StatusActive {
		m.Status = StatusDownweighted
		return true
	}
	return false
}

// ApplySupport nudges confidence up with diminishing returns on repeat
// support.
func (c *Corrector) ApplySupport(m *Memory) {
	m.Confidence += 0.05 / (1 + 0.1*float64(m.SupportCount))
	m.ClampConfidence()
	m.SupportCount++
	m.DecayFactor = 1.0
	m.LastSeenAt = c.now().UTC()
	m.UpdatedAt = c.now().UTC()
}

// ApplyModelContradiction applies the softer, model-classified contradiction
// penalty, which grows with repeat contradictions.
func (c *Corrector) ApplyModelContradiction(m *Memory) {
	m.Confidence -= 0.1 * (1 + 0.1*float64(m.ContradictCount))
	m.ClampConfidence()
	m.ContradictCount++
	if m.Status == StatusActive {
		m.Status = StatusDownweighted
	}
	m.UpdatedAt = c.now().UTC()
}

// Classify rates each memory against the turn. Small sets get one model
// call per memory; larger sets share a single batched call. Any completion
// failure degrades to Neutral for the affected memories.
func (c *Corrector) Classify(ctx context.Context, turn string, memories []*Memory) []EvidenceKind {
	kinds := make([]EvidenceKind, len(memories))
	if c.completer == nil || len(memories) == 0 {
		return kinds
	}

	if len(memories) <= classifyBatchThreshold {
		for i, m := range memories {
			kinds[i] = c.classifyOne(ctx, turn, m)
		}
		return kinds
	}
	return c.classifyBatch(ctx, turn, memories)
}

func (c *Corrector) classifyOne(ctx context.Context, turn string, m *Memory) EvidenceKind {
	raw, err := c.completer.Complete(ctx, fmt.Sprintf(classifyPrompt, m.Content, turn), 16)
	if err != nil {
		c.logger.Debug("evidence classification failed", zap.String("id", m.ID), zap.Error(err))
		return EvidenceNeutral
	}
	return parseEvidence(raw)
}

func (c *Corrector) classifyBatch(ctx context.Context, turn string, memories []*Memory) []EvidenceKind {
	kinds := make([]EvidenceKind, len(memories))

	var sb strings.Builder
	for i, m := range memories {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, m.Content)
	}
	raw, err := c.completer.Complete(ctx, fmt.Sprintf(classifyBatchPrompt, turn, sb.String()), 256)
	if err != nil {
		c.logger.Debug("batched evidence classification failed", zap.Error(err))
		return kinds
	}

	for _, line := range strings.Split(raw, "\n") {
		num, rest, found := strings.Cut(strings.TrimSpace(line), ":")
		if !found {
			continue
		}
		idx := parseInt(strings.TrimSpace(num)) - 1
		if idx < 0 || idx >= len(kinds) {
			continue
		}
		kinds[idx] = parseEvidence(rest)
	}
	return kinds
}

// parseEvidence checks CONTRADICT before SUPPORT: a verbose reply like
// "does not support it, it contradicts it" names both words, and treating
// it as support would invert the penalty.
func parseEvidence(raw string) EvidenceKind {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "CONTRADICT"):
		return EvidenceContradict
	case strings.Contains(upper, "SUPPORT"):
		return EvidenceSupport
	default:
		return EvidenceNeutral
	}
}
