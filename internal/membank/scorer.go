package membank

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/crewforge/membank/internal/llm"
)

// mentionCacheSize bounds the repeatability counter map.
const mentionCacheSize = 1024

// extractionPrompt asks the model for structured candidates. The response
// must be a JSON array; anything else triggers the regex fallback.
const extractionPrompt = `Extract durable facts, preferences, decisions and experiences worth remembering from this conversation turn. Ignore greetings, small talk and one-off questions.

User: %s
Assistant: %s

Respond with a JSON array only. Each element: {"content": "...", "summary": "...", "type": "fact|preference|decision|experience|context", "keywords": ["..."]}. Respond with [] if nothing is worth remembering.`

// Extraction fallback patterns, tried in order; the first hit fixes the
// candidate's type for that sentence.
var (
	decisionPattern   = regexp.MustCompile(`(?i)\b(?:i|we)\s+(?:decided|chose|agreed|switched|will\s+use|are\s+going\s+with)\b|(?i)\blet'?s\s+go\s+with\b`)
	preferencePattern = regexp.MustCompile(`(?i)\b(?:i|we)\s+(?:really\s+)?(?:like|love|prefer|hate|dislike|want|enjoy|need)\b`)
	factPattern       = regexp.MustCompile(`(?i)\b(?:my|our)\s+(?:name|company|team|product|stack|database|budget|deadline|goal)\s+is\b|(?i)\b(?:i|we)\s+(?:am|are|use|work|build|run|have|ship|deploy)\b`)
)

// persistenceByType is the fixed persistence dimension per memory type.
var persistenceByType = map[MemoryType]float64{
	TypePreference: 0.9,
	TypeFact:       0.8,
	TypeExperience: 0.7,
	TypeDecision:   0.6,
	TypeContext:    0.3,
}

// decisionWeightByType biases the decision-value dimension toward types
// that capture commitments.
var decisionWeightByType = map[MemoryType]float64{
	TypePreference: 0.7,
	TypeDecision:   0.7,
	TypeFact:       0.4,
	TypeExperience: 0.3,
	TypeContext:    0.1,
}

// Scorer extracts candidate memories from a conversational turn and rates
// each on four write-worthiness dimensions.
type Scorer struct {
	completer llm.Completer
	logger    *zap.Logger

	// mentions counts near-identical content sightings for the
	// repeatability dimension. Bounded LRU, shared across turns.
	mentions *lru.Cache[string, int]
}

// NewScorer creates a scorer. The completer may be nil, forcing pattern
// extraction for every turn.
func NewScorer(completer llm.Completer, logger *zap.Logger) (*Scorer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mentions, err := lru.New[string, int](mentionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating mention cache: %w", err)
	}
	return &Scorer{completer: completer, logger: logger, mentions: mentions}, nil
}

// Extract pulls zero or more candidates out of a turn. Model extraction is
// attempted first; any failure falls back to pattern matching and is never
// surfaced to the caller.
func (s *Scorer) Extract(ctx context.Context, userTurn, agentTurn string) []MemoryCandidate {
	if s.completer != nil {
		candidates, err := s.extractWithModel(ctx, userTurn, agentTurn)
		if err == nil {
			return candidates
		}
		s.logger.Debug("model extraction failed, using patterns", zap.Error(err))
	}
	return s.extractWithPatterns(userTurn)
}

func (s *Scorer) extractWithModel(ctx context.Context, userTurn, agentTurn string) ([]MemoryCandidate, error) {
	prompt := fmt.Sprintf(extractionPrompt, userTurn, agentTurn)
	raw, err := s.completer.Complete(ctx, prompt, 1024)
	if err != nil {
		return nil, err
	}

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in completion")
	}

	var extracted []struct {
		Content  string   `json:"content"`
		Summary  string   `json:"summary"`
		Type     string   `json:"type"`
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &extracted); err != nil {
		return nil, fmt.Errorf("parsing extraction: %w", err)
	}

	candidates := make([]MemoryCandidate, 0, len(extracted))
	for _, e := range extracted {
		if strings.TrimSpace(e.Content) == "" {
			continue
		}
		memType, err := ParseMemoryType(e.Type)
		if err != nil {
			memType = TypeContext
		}
		keywords := e.Keywords
		if len(keywords) == 0 {
			keywords = extractKeywords(e.Content)
		}
		summary := e.Summary
		if summary == "" {
			summary = firstSentence(e.Content)
		}
		candidates = append(candidates, MemoryCandidate{
			Content:  strings.TrimSpace(e.Content),
			Summary:  summary,
			Keywords: keywords,
			Type:     memType,
		})
	}
	return candidates, nil
}

func (s *Scorer) extractWithPatterns(userTurn string) []MemoryCandidate {
	var candidates []MemoryCandidate
	for _, sentence := range splitSentences(userTurn) {
		var memType MemoryType
		switch {
		case decisionPattern.MatchString(sentence):
			memType = TypeDecision
		case preferencePattern.MatchString(sentence):
			memType = TypePreference
		case factPattern.MatchString(sentence):
			memType = TypeFact
		default:
			continue
		}
		content := strings.TrimSuffix(strings.TrimSpace(sentence), ".")
		candidates = append(candidates, MemoryCandidate{
			Content:  content,
			Summary:  firstSentence(content),
			Keywords: extractKeywords(content),
			Type:     memType,
		})
	}
	return candidates
}

// Score rates one candidate against the existing memory summaries of the
// same project and records the result on the candidate.
func (s *Scorer) Score(candidate *MemoryCandidate, existingSummaries []string) MemoryScore {
	score := MemoryScore{
		Repeatability: s.repeatability(candidate.Content),
		Persistence:   persistenceByType[candidate.Type],
		Relevance:     s.relevance(candidate, existingSummaries),
		DecisionValue: s.decisionValue(candidate),
	}
	score.Clamp()
	candidate.Score = &score
	return score
}

// repeatability counts sightings of near-identical content: 0.3 per
// mention, capped at 1.0 after the third.
func (s *Scorer) repeatability(content string) float64 {
	key := normalizedKey(content)
	if key == "" {
		return 0
	}
	count, _ := s.mentions.Get(key)
	count++
	s.mentions.Add(key, count)

	r := 0.3 * float64(count)
	if r > 1 {
		r = 1
	}
	return r
}

// relevance is keyword density, penalized when the candidate substantially
// overlaps an existing memory summary.
func (s *Scorer) relevance(candidate *MemoryCandidate, existingSummaries []string) float64 {
	r := 0.4 + 0.1*float64(len(candidate.Keywords))
	if r > 1 {
		r = 1
	}
	for _, summary := range existingSummaries {
		if jaccard(candidate.Content, summary) >= 0.5 {
			r -= 0.4
			break
		}
	}
	if r < 0 {
		r = 0
	}
	return r
}

func (s *Scorer) decisionValue(candidate *MemoryCandidate) float64 {
	v := decisionWeightByType[candidate.Type] + 0.05*float64(len(candidate.Keywords))
	if v > 1 {
		v = 1
	}
	return v
}

// ExtractAndScore is the full scoring pipeline: extract, score, keep only
// candidates passing ShouldWrite. Dropped candidates are not an error.
func (s *Scorer) ExtractAndScore(ctx context.Context, userTurn, agentTurn string, existingSummaries []string) []MemoryCandidate {
	var keep []MemoryCandidate
	for _, candidate := range s.Extract(ctx, userTurn, agentTurn) {
		if score := s.Score(&candidate, existingSummaries); score.ShouldWrite() {
			keep = append(keep, candidate)
		} else {
			s.logger.Debug("candidate below write threshold",
				zap.String("type", string(candidate.Type)),
				zap.Float64("repeatability", score.Repeatability),
				zap.Float64("persistence", score.Persistence),
				zap.Float64("relevance", score.Relevance),
				zap.Float64("decision_value", score.DecisionValue),
			)
		}
	}
	return keep
}
