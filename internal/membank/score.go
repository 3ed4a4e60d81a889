package membank

// MemoryScore rates a candidate on four independent write-worthiness
// dimensions, each in [0,1].
type MemoryScore struct {
	Repeatability float64
	Persistence   float64
	Relevance     float64
	DecisionValue float64
}

// writeThreshold is the per-dimension bar a dimension must strictly exceed.
const writeThreshold = 0.6

// ShouldWrite reports whether the candidate is worth persisting: at least
// two of the four dimensions must exceed the threshold.
func (s MemoryScore) ShouldWrite() bool {
	passed := 0
	for _, dim := range []float64{s.Repeatability, s.Persistence, s.Relevance, s.DecisionValue} {
		if dim > writeThreshold {
			passed++
		}
	}
	return passed >= 2
}

// Clamp forces every dimension into [0,1].
func (s *MemoryScore) Clamp() {
	for _, dim := range []*float64{&s.Repeatability, &s.Persistence, &s.Relevance, &s.DecisionValue} {
		if *dim > 1 {
			*dim = 1
		}
		if *dim < 0 {
			*dim = 0
		}
	}
}

// MemoryCandidate is an unpersisted extraction pending scoring. It becomes
// a Memory only after scoring and the dedup pass.
type MemoryCandidate struct {
	Content    string
	Summary    string
	Keywords   []string
	Type       MemoryType
	SourceTurn string
	Score      *MemoryScore
}

// ToMemory converts a scored candidate into a persistable memory.
func (c *MemoryCandidate) ToMemory(ownerID, employeeID, projectID string) (*Memory, error) {
	m, err := NewMemory(ownerID, employeeID, projectID, c.Type, c.Content)
	if err != nil {
		return nil, err
	}
	m.Summary = truncate(c.Summary, maxSummaryLen)
	m.Keywords = c.Keywords
	m.SourceTurn = c.SourceTurn
	return m, nil
}

// TokenBudget allocates injected-context tokens between tiers. The reserve
// absorbs formatting overhead and instruction text.
type TokenBudget struct {
	Total    int
	Core     int
	Relevant int
	Reserve  int
}

// NewTokenBudget splits a total budget 50% core, 40% relevant, 10% reserve.
func NewTokenBudget(total int) (*TokenBudget, error) {
	if total <= 0 {
		return nil, ErrInvalidBudget
	}
	b := &TokenBudget{Total: total}
	b.Core = total * 50 / 100
	b.Relevant = total * 40 / 100
	b.Reserve = total - b.Core - b.Relevant
	return b, nil
}

// Adjust replaces the core and relevant allocations, rescaling both down
// proportionally if together they would exceed the total.
func (b *TokenBudget) Adjust(core, relevant int) error {
	if core < 0 || relevant < 0 {
		return ErrInvalidBudget
	}
	if sum := core + relevant; sum > b.Total {
		scale := float64(b.Total) / float64(sum)
		core = int(float64(core) * scale)
		relevant = int(float64(relevant) * scale)
	}
	b.Core = core
	b.Relevant = relevant
	b.Reserve = b.Total - b.Core - b.Relevant
	return nil
}
