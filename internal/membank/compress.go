package membank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crewforge/membank/internal/llm"
)

// Compression policy.
const (
	compressMinAgeDays = 30
	clusterThreshold   = 0.7
	compressedScale    = 0.9
)

// Session summarization policy.
const (
	sessionMinTurns    = 5
	sessionMinInterval = 30 * time.Minute
)

const clusterSummaryPrompt = `Condense these related memories into one short factual summary (2 sentences max). Keep concrete names, numbers and decisions.

%s
Summary:`

const sessionSummaryPrompt = `Summarize the durable outcomes of this conversation session: decisions made, lessons learned, and preferences expressed. One line each, skip anything ephemeral.

%s
Respond with a JSON array: [{"content": "...", "summary": "...", "type": "decision|experience|preference", "keywords": ["..."]}]. Respond with [] if nothing durable happened.`

// Compressor clusters old Cold memories and collapses each cluster into a
// single model-generated summary memory.
type Compressor struct {
	completer llm.Completer
	logger    *zap.Logger
	now       func() time.Time
}

func NewCompressor(completer llm.Completer, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{completer: completer, logger: logger, now: time.Now}
}

// Eligible reports whether a memory qualifies for compression: Cold tier,
// unseen for the minimum age, and not itself a compression summary.
func (c *Compressor) Eligible(m *Memory) bool {
	if m.Tier != TierCold || m.IsCompressed() || m.Status.Terminal() {
		return false
	}
	ageDays := c.now().Sub(m.LastSeenAt).Hours() / 24
	return ageDays > compressMinAgeDays
}

// Cluster greedily groups eligible memories by embedding similarity: pick
// an unassigned memory, pull in everything within the threshold, repeat.
// Singleton clusters are returned too; callers check Compressible.
func (c *Compressor) Cluster(memories []*Memory) []MemoryCluster {
	assigned := make([]bool, len(memories))
	var clusters []MemoryCluster

	for i, seed := range memories {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		cluster := MemoryCluster{Members: []*Memory{seed}}

		for j := i + 1; j < len(memories); j++ {
			if assigned[j] {
				continue
			}
			if similarity(seed, memories[j]) >= clusterThreshold {
				assigned[j] = true
				cluster.Members = append(cluster.Members, memories[j])
			}
		}

		vectors := make([][]float32, 0, len(cluster.Members))
		for _, m := range cluster.Members {
			if len(m.Embedding) > 0 {
				vectors = append(vectors, m.Embedding)
			}
		}
		cluster.Centroid = centroid(vectors)
		if len(seed.Keywords) > 0 {
			cluster.Topic = seed.Keywords[0]
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// similarity mirrors the deduplicator's measure: embedding cosine with a
// Jaccard fallback.
func similarity(a, b *Memory) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return cosine(a.Embedding, b.Embedding)
	}
	return jaccard(a.Content, b.Content)
}

// Compress collapses one cluster into a new summary memory. The members
// are marked Replaced pointing at the summary. Confidence is the members'
// maximum scaled down, since a summary is lossier than its sources.
func (c *Compressor) Compress(ctx context.Context, cluster MemoryCluster) (*Memory, error) {
	if !cluster.Compressible() {
		return nil, fmt.Errorf("%w: cluster of %d cannot compress", ErrInvalidMemory, len(cluster.Members))
	}

	first := cluster.Members[0]
	summary, err := NewMemory(first.OwnerID, first.EmployeeID, first.ProjectID,
		TypeFact, compressedMark+c.summarize(ctx, cluster.Members))
	if err != nil {
		return nil, err
	}

	maxConfidence := 0.0
	for _, m := range cluster.Members {
		if m.Confidence > maxConfidence {
			maxConfidence = m.Confidence
		}
		summary.MergedFrom = append(summary.MergedFrom, m.ID)
		summary.Keywords = unionKeywords(summary.Keywords, m.Keywords)
	}
	summary.Confidence = maxConfidence * compressedScale
	summary.Tier = TierCold
	summary.Embedding = cluster.Centroid
	summary.Summary = truncate(strings.TrimPrefix(summary.Content, compressedMark), maxSummaryLen)

	now := c.now().UTC()
	for _, m := range cluster.Members {
		m.Status = StatusReplaced
		m.ReplacedBy = summary.ID
		m.UpdatedAt = now
	}

	c.logger.Info("compressed memory cluster",
		zap.String("summary_id", summary.ID),
		zap.Int("members", len(cluster.Members)),
	)
	return summary, nil
}

// summarize asks the model for a cluster summary, falling back to the first
// sentences of up to three members.
func (c *Compressor) summarize(ctx context.Context, members []*Memory) string {
	if c.completer != nil {
		var sb strings.Builder
		for _, m := range members {
			fmt.Fprintf(&sb, "- %s\n", m.Content)
		}
		text, err := c.completer.Complete(ctx, fmt.Sprintf(clusterSummaryPrompt, sb.String()), 256)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		c.logger.Debug("cluster summarization failed, using fallback", zap.Error(err))
	}

	limit := len(members)
	if limit > 3 {
		limit = 3
	}
	sentences := make([]string, 0, limit)
	for _, m := range members[:limit] {
		sentences = append(sentences, firstSentence(m.Content))
	}
	return strings.Join(sentences, ". ")
}

type sessionState struct {
	turns       []string
	started     time.Time
	lastSummary time.Time
}

// SessionSummarizer accumulates conversation turns per session and, once a
// session is long enough, extracts its durable outcomes as new candidates.
type SessionSummarizer struct {
	completer llm.Completer
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func NewSessionSummarizer(completer llm.Completer, logger *zap.Logger) *SessionSummarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionSummarizer{
		completer: completer,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[string]*sessionState),
	}
}

// RecordTurn appends one exchange to a session's transcript.
func (s *SessionSummarizer) RecordTurn(sessionID, userTurn, agentTurn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.sessions[sessionID]
	if state == nil {
		now := s.now()
		state = &sessionState{started: now, lastSummary: now}
		s.sessions[sessionID] = state
	}
	state.turns = append(state.turns, fmt.Sprintf("User: %s\nAssistant: %s", userTurn, agentTurn))
}

// ShouldSummarize reports whether the session has accumulated enough turns
// and enough time since the last summary.
func (s *SessionSummarizer) ShouldSummarize(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.sessions[sessionID]
	if state == nil {
		return false
	}
	return len(state.turns) >= sessionMinTurns &&
		s.now().Sub(state.lastSummary) >= sessionMinInterval
}

// Summarize extracts candidates from the session transcript and resets the
// session's turn window. Completion failure yields no candidates.
func (s *SessionSummarizer) Summarize(ctx context.Context, sessionID string) []MemoryCandidate {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return nil
	}
	transcript := strings.Join(state.turns, "\n")
	state.turns = nil
	state.lastSummary = s.now()
	s.mu.Unlock()

	if s.completer == nil {
		return nil
	}
	raw, err := s.completer.Complete(ctx, fmt.Sprintf(sessionSummaryPrompt, transcript), 1024)
	if err != nil {
		s.logger.Warn("session summarization failed", zap.String("session", sessionID), zap.Error(err))
		return nil
	}
	return parseCandidateJSON(raw)
}

// parseCandidateJSON decodes a model response holding a candidate array.
func parseCandidateJSON(raw string) []MemoryCandidate {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}

	var extracted []struct {
		Content  string   `json:"content"`
		Summary  string   `json:"summary"`
		Type     string   `json:"type"`
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &extracted); err != nil {
		return nil
	}

	candidates := make([]MemoryCandidate, 0, len(extracted))
	for _, e := range extracted {
		if strings.TrimSpace(e.Content) == "" {
			continue
		}
		memType, err := ParseMemoryType(e.Type)
		if err != nil {
			memType = TypeExperience
		}
		keywords := e.Keywords
		if len(keywords) == 0 {
			keywords = extractKeywords(e.Content)
		}
		candidates = append(candidates, MemoryCandidate{
			Content:  strings.TrimSpace(e.Content),
			Summary:  e.Summary,
			Keywords: keywords,
			Type:     memType,
		})
	}
	return candidates
}
