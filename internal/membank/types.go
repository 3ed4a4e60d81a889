// Package membank implements the long-term memory engine: write-worthiness
// scoring, confidence decay, evidence-based correction, deduplication,
// tiering, two-stage retrieval, token-budgeted context injection, lineage
// tracking, cold-memory compression and the background maintenance scheduler.
package membank

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors for memory operations.
var (
	ErrMemoryNotFound    = errors.New("memory not found")
	ErrInvalidMemory     = errors.New("invalid memory")
	ErrEmptyContent      = errors.New("memory content cannot be empty")
	ErrEmptyProjectID    = errors.New("project ID cannot be empty")
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	ErrInvalidBudget     = errors.New("invalid token budget")
)

// MemoryType classifies what kind of durable information a memory holds.
type MemoryType string

const (
	TypeFact       MemoryType = "fact"
	TypePreference MemoryType = "preference"
	TypeDecision   MemoryType = "decision"
	TypeExperience MemoryType = "experience"
	TypeContext    MemoryType = "context"
)

// ParseMemoryType parses a stored type string.
func ParseMemoryType(s string) (MemoryType, error) {
	switch MemoryType(s) {
	case TypeFact, TypePreference, TypeDecision, TypeExperience, TypeContext:
		return MemoryType(s), nil
	default:
		return "", fmt.Errorf("unknown memory type %q", s)
	}
}

// MemoryStatus is the lifecycle state of a memory.
//
// Transitions are owned by specific components: the decay engine moves
// memories to Frozen and Expired, the evidence corrector to Downweighted
// and Replaced. Expired and Replaced are terminal.
type MemoryStatus string

const (
	StatusActive       MemoryStatus = "active"
	StatusDownweighted MemoryStatus = "downweighted"
	StatusFrozen       MemoryStatus = "frozen"
	StatusExpired      MemoryStatus = "expired"
	StatusReplaced     MemoryStatus = "replaced"
)

// ParseMemoryStatus parses a stored status string.
func ParseMemoryStatus(s string) (MemoryStatus, error) {
	switch MemoryStatus(s) {
	case StatusActive, StatusDownweighted, StatusFrozen, StatusExpired, StatusReplaced:
		return MemoryStatus(s), nil
	default:
		return "", fmt.Errorf("unknown memory status %q", s)
	}
}

// Terminal reports whether the status permits no further transitions.
func (s MemoryStatus) Terminal() bool {
	return s == StatusExpired || s == StatusReplaced
}

// Retrievable reports whether memories with this status may appear in
// retrieval results. Frozen memories are retained for audit only.
func (s MemoryStatus) Retrievable() bool {
	return s == StatusActive || s == StatusDownweighted
}

// MemoryTier is the injection priority class.
type MemoryTier string

const (
	TierCore     MemoryTier = "core"
	TierRelevant MemoryTier = "relevant"
	TierCold     MemoryTier = "cold"
)

// ParseMemoryTier parses a stored tier string.
func ParseMemoryTier(s string) (MemoryTier, error) {
	switch MemoryTier(s) {
	case TierCore, TierRelevant, TierCold:
		return MemoryTier(s), nil
	default:
		return "", fmt.Errorf("unknown memory tier %q", s)
	}
}

// Persisted record caps, bounded by vector index payload limits.
const (
	maxContentLen  = 1000
	maxSummaryLen  = 200
	maxKeywords    = 10
	compressedMark = "[COMPRESSED] "
)

// DefaultConfidence is assigned to newly persisted memories.
const DefaultConfidence = 0.8

// Memory is one durable fact, preference, decision or experience.
//
// Relations hold ids, never pointers: supersession and merge links are
// back-references resolved through an id-indexed lookup, so memory graphs
// cannot form ownership cycles.
type Memory struct {
	ID         string
	OwnerID    string
	EmployeeID string
	ProjectID  string

	Type     MemoryType
	Content  string
	Summary  string
	Keywords []string

	Confidence      float64
	SupportCount    int
	ContradictCount int

	Status MemoryStatus
	Tier   MemoryTier

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastSeenAt     time.Time
	LastAccessedAt time.Time

	AccessCount  int
	DecayFactor  float64
	HalfLifeDays float64

	RelatedIDs []string
	ReplacedBy string
	MergedFrom []string

	SourceTurn string

	// Embedding rides alongside the record in the vector index; it is
	// not part of the persisted metadata payload.
	Embedding []float32
}

// NewMemory creates a memory with engine defaults: Relevant tier, Active
// status, default confidence, no decay.
func NewMemory(ownerID, employeeID, projectID string, memType MemoryType, content string) (*Memory, error) {
	if projectID == "" {
		return nil, ErrEmptyProjectID
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	now := time.Now().UTC()
	return &Memory{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		EmployeeID:  employeeID,
		ProjectID:   projectID,
		Type:        memType,
		Content:     truncate(content, maxContentLen),
		Confidence:  DefaultConfidence,
		Status:      StatusActive,
		Tier:        TierRelevant,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastSeenAt:  now,
		DecayFactor: 1.0,
	}, nil
}

// EffectiveConfidence is confidence after decay, the value used for all
// ranking and injection decisions.
func (m *Memory) EffectiveConfidence() float64 {
	return m.Confidence * m.DecayFactor
}

// ClampConfidence forces confidence back into [0,1].
func (m *Memory) ClampConfidence() {
	if m.Confidence > 1 {
		m.Confidence = 1
	}
	if m.Confidence < 0 {
		m.Confidence = 0
	}
}

// Touch records an access: decay resets fully and timestamps refresh.
func (m *Memory) Touch(now time.Time) {
	m.AccessCount++
	m.DecayFactor = 1.0
	m.LastSeenAt = now.UTC()
	m.LastAccessedAt = now.UTC()
	m.UpdatedAt = now.UTC()
}

// Clone returns a deep copy that can be mutated without affecting the
// original. Cached entries are cloned on both store and load so the decay
// and access bookkeeping on retrieved memories never touches shared state.
func (m *Memory) Clone() *Memory {
	c := *m
	c.Keywords = append([]string(nil), m.Keywords...)
	c.RelatedIDs = append([]string(nil), m.RelatedIDs...)
	c.MergedFrom = append([]string(nil), m.MergedFrom...)
	c.Embedding = append([]float32(nil), m.Embedding...)
	return &c
}

// IsCompressed reports whether this memory is a compression summary.
func (m *Memory) IsCompressed() bool {
	return strings.HasPrefix(m.Content, strings.TrimSpace(compressedMark))
}

// Validate checks the memory's invariants.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMemory)
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		return fmt.Errorf("%w: malformed id %q", ErrInvalidMemory, m.ID)
	}
	if m.ProjectID == "" {
		return ErrEmptyProjectID
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if m.DecayFactor < 0 || m.DecayFactor > 1 {
		return fmt.Errorf("%w: decay factor out of range", ErrInvalidMemory)
	}
	if _, err := ParseMemoryType(string(m.Type)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMemory, err)
	}
	if _, err := ParseMemoryStatus(string(m.Status)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMemory, err)
	}
	if _, err := ParseMemoryTier(string(m.Tier)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMemory, err)
	}
	return nil
}

// Metadata flattens the memory into the persisted record shape. Content,
// summary and keyword counts are capped for index payload limits.
func (m *Memory) Metadata() map[string]string {
	keywords := m.Keywords
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	md := map[string]string{
		"id":             m.ID,
		"owner_id":       m.OwnerID,
		"employee_id":    m.EmployeeID,
		"project_id":     m.ProjectID,
		"type":           string(m.Type),
		"content":        truncate(m.Content, maxContentLen),
		"summary":        truncate(m.Summary, maxSummaryLen),
		"keywords":       strings.Join(keywords, ","),
		"confidence":     formatFloat(m.Confidence),
		"support":        strconv.Itoa(m.SupportCount),
		"contradict":     strconv.Itoa(m.ContradictCount),
		"status":         string(m.Status),
		"tier":           string(m.Tier),
		"created_at":     m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":     m.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"last_seen":      m.LastSeenAt.UTC().Format(time.RFC3339Nano),
		"access_count":   strconv.Itoa(m.AccessCount),
		"decay_factor":   formatFloat(m.DecayFactor),
		"half_life_days": formatFloat(m.HalfLifeDays),
		"priority_score": formatFloat(priorityScore(m, time.Now())),
	}
	if !m.LastAccessedAt.IsZero() {
		md["last_accessed"] = m.LastAccessedAt.UTC().Format(time.RFC3339Nano)
	}
	if len(m.RelatedIDs) > 0 {
		md["related_ids"] = strings.Join(m.RelatedIDs, ",")
	}
	if m.ReplacedBy != "" {
		md["replaced_by"] = m.ReplacedBy
	}
	if len(m.MergedFrom) > 0 {
		md["merged_from"] = strings.Join(m.MergedFrom, ",")
	}
	if m.SourceTurn != "" {
		md["source_turn"] = m.SourceTurn
	}
	return md
}

// MemoryFromMetadata rebuilds a memory from its persisted record.
func MemoryFromMetadata(md map[string]string) (*Memory, error) {
	memType, err := ParseMemoryType(md["type"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMemory, err)
	}
	status, err := ParseMemoryStatus(md["status"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMemory, err)
	}
	tier, err := ParseMemoryTier(md["tier"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMemory, err)
	}

	m := &Memory{
		ID:              md["id"],
		OwnerID:         md["owner_id"],
		EmployeeID:      md["employee_id"],
		ProjectID:       md["project_id"],
		Type:            memType,
		Content:         md["content"],
		Summary:         md["summary"],
		Keywords:        splitList(md["keywords"]),
		Confidence:      parseFloat(md["confidence"]),
		SupportCount:    parseInt(md["support"]),
		ContradictCount: parseInt(md["contradict"]),
		Status:          status,
		Tier:            tier,
		AccessCount:     parseInt(md["access_count"]),
		DecayFactor:     parseFloat(md["decay_factor"]),
		HalfLifeDays:    parseFloat(md["half_life_days"]),
		RelatedIDs:      splitList(md["related_ids"]),
		ReplacedBy:      md["replaced_by"],
		MergedFrom:      splitList(md["merged_from"]),
		SourceTurn:      md["source_turn"],
	}

	for key, dst := range map[string]*time.Time{
		"created_at":    &m.CreatedAt,
		"updated_at":    &m.UpdatedAt,
		"last_seen":     &m.LastSeenAt,
		"last_accessed": &m.LastAccessedAt,
	} {
		if raw, ok := md[key]; ok && raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: bad %s timestamp: %v", ErrInvalidMemory, key, err)
			}
			*dst = t.UTC()
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// DirectoryEntry is the lightweight stage-1 retrieval record. It never
// carries full content; it exists only to pick stage-2 candidates.
type DirectoryEntry struct {
	ID         string
	Summary    string
	Keywords   []string
	Type       MemoryType
	Confidence float64
	Similarity float64
}

// MemoryCluster groups similar cold memories pending compression.
type MemoryCluster struct {
	Members  []*Memory
	Centroid []float32
	Topic    string
}

// Compressible reports whether the cluster is large enough to compress.
func (c *MemoryCluster) Compressible() bool {
	return len(c.Members) >= 2
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
