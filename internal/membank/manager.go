package membank

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crewforge/membank/internal/embeddings"
	"github.com/crewforge/membank/internal/llm"
	"github.com/crewforge/membank/internal/vectorstore"
)

// SharedNamespace holds memories promoted into the cross-project pool.
const SharedNamespace = "shared"

// shareConfidenceFloor: a memory must be at least this confident (or well
// supported) before it is copied into the shared pool.
const shareConfidenceFloor = 0.9

// Turn is one conversational exchange presented to the engine.
type Turn struct {
	UserMessage  string
	AgentMessage string
	OwnerID      string
	EmployeeID   string
	SessionID    string
}

// MaintenanceStats summarizes one maintenance sweep.
type MaintenanceStats struct {
	Processed    int
	Decayed      int
	Merged       int
	Expired      int
	TierAdjusted int
}

// ProjectStats is the per-project aggregate exposed by Stats.
type ProjectStats struct {
	Total         int
	ByTier        map[MemoryTier]int
	ByType        map[MemoryType]int
	ByStatus      map[MemoryStatus]int
	AvgConfidence float64
	AvgDecay      float64
}

// ManagerConfig tunes the orchestrator.
type ManagerConfig struct {
	// ContextTokens is the total injection budget for GetContextForChat.
	ContextTokens int

	// PenaltyMultiplier scales the explicit-correction penalty.
	// Zero keeps the default.
	PenaltyMultiplier float64

	RetrieverOptions []RetrieverOption
	BudgetOptions    []BudgetManagerOption
	CacheOptions     []CacheOption
}

func (c *ManagerConfig) applyDefaults() {
	if c.ContextTokens == 0 {
		c.ContextTokens = 2000
	}
}

// Manager composes the engine's components into the public save, retrieve,
// correction and maintenance API. It exclusively owns the write path; no
// other component persists memories.
type Manager struct {
	index    vectorstore.Index
	embedder embeddings.Provider
	logger   *zap.Logger

	cache      *Cache
	scorer     *Scorer
	decay      *DecayEngine
	corrector  *Corrector
	dedup      *Deduplicator
	merger     *Merger
	tiers      *TierAdjuster
	retriever  *Retriever
	budget     *BudgetManager
	injector   Injector
	chains     *ChainTracker
	compressor *Compressor
	sessions   *SessionSummarizer

	contextTokens int
	now           func() time.Time

	// locks serializes mutations per memory id, so a foreground
	// correction and a background sweep never interleave on one record.
	locks sync.Map
}

// NewManager wires every component to the given backends.
func NewManager(index vectorstore.Index, embedder embeddings.Provider, completer llm.Completer, logger *zap.Logger, cfg ManagerConfig) (*Manager, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: nil index", vectorstore.ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: nil embedder", vectorstore.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	scorer, err := NewScorer(completer, logger)
	if err != nil {
		return nil, err
	}
	cache, err := NewCache(logger, cfg.CacheOptions...)
	if err != nil {
		return nil, err
	}

	var correctorOpts []CorrectorOption
	if cfg.PenaltyMultiplier > 0 {
		correctorOpts = append(correctorOpts, WithPenaltyMultiplier(cfg.PenaltyMultiplier))
	}

	return &Manager{
		index:         index,
		embedder:      embedder,
		logger:        logger,
		cache:         cache,
		scorer:        scorer,
		decay:         NewDecayEngine(logger),
		corrector:     NewCorrector(completer, logger, correctorOpts...),
		dedup:         NewDeduplicator(logger),
		merger:        NewMerger(logger),
		tiers:         NewTierAdjuster(logger),
		retriever:     NewRetriever(index, embedder, logger, cfg.RetrieverOptions...),
		budget:        NewBudgetManager(logger, cfg.BudgetOptions...),
		chains:        NewChainTracker(),
		compressor:    NewCompressor(completer, logger),
		sessions:      NewSessionSummarizer(completer, logger),
		contextTokens: cfg.ContextTokens,
		now:           time.Now,
	}, nil
}

// Chains exposes the lineage tracker for audit queries.
func (m *Manager) Chains() *ChainTracker { return m.chains }

// Close releases the manager's resources. The index is owned by the caller
// and closed separately.
func (m *Manager) Close() {
	m.cache.Close()
}

func (m *Manager) withIDLock(id string, fn func()) {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// persist writes memories to the index. Memories without an embedding get
// one computed from their content; an embedding failure skips that memory
// only.
func (m *Manager) persist(ctx context.Context, namespace string, memories ...*Memory) error {
	points := make([]vectorstore.Point, 0, len(memories))
	for _, mem := range memories {
		if len(mem.Embedding) == 0 {
			vec, err := m.embedder.EmbedQuery(ctx, mem.Content)
			if err != nil {
				m.logger.Warn("embedding failed, skipping memory",
					zap.String("id", mem.ID),
					zap.Error(err),
				)
				continue
			}
			mem.Embedding = vec
		}
		points = append(points, vectorstore.Point{
			ID:       mem.ID,
			Vector:   mem.Embedding,
			Metadata: mem.Metadata(),
		})
	}
	if len(points) == 0 {
		return nil
	}
	return m.index.Upsert(ctx, namespace, points)
}

// loadProject hydrates every record in the project namespace.
func (m *Manager) loadProject(ctx context.Context, projectID string) ([]*Memory, error) {
	records, err := m.index.List(ctx, projectID, nil)
	if err != nil {
		return nil, fmt.Errorf("listing project %s: %w", projectID, err)
	}
	memories := make([]*Memory, 0, len(records))
	for _, record := range records {
		mem, err := MemoryFromMetadata(record.Metadata)
		if err != nil {
			m.logger.Warn("skipping malformed record",
				zap.String("id", record.ID),
				zap.Error(err),
			)
			continue
		}
		mem.Embedding = record.Vector
		memories = append(memories, mem)
	}
	return memories, nil
}

// Save runs the write pipeline for one turn: extract and score candidates,
// correct contradicted existing memories, dedup, persist, invalidate
// caches, and share strongly-held memories into the shared pool. Returns
// how many new memories were written; zero writes is success, not an error.
func (m *Manager) Save(ctx context.Context, turn Turn, projectID string) (int, error) {
	if projectID == "" {
		return 0, ErrEmptyProjectID
	}
	metricSaves.Inc()

	if turn.SessionID != "" {
		m.sessions.RecordTurn(turn.SessionID, turn.UserMessage, turn.AgentMessage)
	}

	existing, err := m.loadProject(ctx, projectID)
	if err != nil {
		m.logger.Warn("save proceeding without existing memories", zap.Error(err))
		existing = nil
	}
	summaries := make([]string, 0, len(existing))
	for _, e := range existing {
		if e.Status.Retrievable() {
			summaries = append(summaries, e.Summary)
		}
	}

	candidates := m.scorer.ExtractAndScore(ctx, turn.UserMessage, turn.AgentMessage, summaries)

	// Save-time conflict pass: explicit correction language in the turn
	// downweights existing memories before anything new lands.
	corrected, _ := m.applySignals(ctx, projectID, turn.UserMessage, existing)

	written := 0
	for i := range candidates {
		mem, err := candidates[i].ToMemory(turn.OwnerID, turn.EmployeeID, projectID)
		if err != nil {
			m.logger.Warn("dropping invalid candidate", zap.Error(err))
			continue
		}
		vec, err := m.embedder.EmbedQuery(ctx, mem.Content)
		if err != nil {
			m.logger.Warn("embedding failed, dropping candidate", zap.Error(err))
			continue
		}
		mem.Embedding = vec

		if m.absorbIntoExisting(ctx, projectID, mem, existing) {
			continue
		}

		if err := m.persist(ctx, projectID, mem); err != nil {
			m.logger.Error("persisting memory failed", zap.String("id", mem.ID), zap.Error(err))
			continue
		}
		m.chains.Record(mem.ID, EventCreated, nil)
		existing = append(existing, mem)
		written++
		metricMemoriesWritten.Inc()

		m.share(ctx, mem)
	}

	if written > 0 || corrected > 0 {
		m.cache.InvalidateProject(projectID)
	}

	if turn.SessionID != "" && m.sessions.ShouldSummarize(turn.SessionID) {
		m.summarizeSession(ctx, turn, projectID)
	}
	return written, nil
}

// absorbIntoExisting checks the new memory against existing ones and lets
// the deduplicator resolve duplicates. Returns true when the new memory was
// absorbed (either side may have survived).
func (m *Manager) absorbIntoExisting(ctx context.Context, projectID string, mem *Memory, existing []*Memory) bool {
	for _, e := range existing {
		if !e.Status.Retrievable() {
			continue
		}
		res := m.dedup.Compare(e, mem)
		if res == nil {
			continue
		}

		m.chains.Record(res.Dropped.ID, EventSuperseded, nil, res.Kept.ID)
		if res.Merged {
			m.chains.Record(res.Kept.ID, EventMerged, nil, res.Dropped.ID)
		}
		if err := m.persist(ctx, projectID, res.Kept, res.Dropped); err != nil {
			m.logger.Error("persisting dedup result failed", zap.Error(err))
		}
		m.cache.DeleteMemory(res.Dropped.ID)
		return true
	}
	return false
}

// applySignals runs the correction pass for one turn against the project's
// memories. It returns how many were downweighted or replaced, and the ids
// it touched so the model pass can skip them.
func (m *Manager) applySignals(ctx context.Context, projectID, turn string, memories []*Memory) (int, map[string]struct{}) {
	signals := m.corrector.DetectSignals(turn)
	touched := make(map[string]struct{})
	if len(signals) == 0 {
		return 0, touched
	}

	corrected := 0
	var changed []*Memory
	for _, mem := range memories {
		if !mem.Status.Retrievable() {
			continue
		}
		for _, signal := range signals {
			if !m.corrector.Contradicts(mem, signal) {
				continue
			}
			m.withIDLock(mem.ID, func() {
				previous := *mem
				m.corrector.ApplyContradiction(mem, signal)
				event := EventDownweighted
				if mem.Status == StatusReplaced {
					event = EventSuperseded
				}
				m.chains.Record(mem.ID, event, &previous)
				m.chains.Record(mem.ID, EventCorrected, nil)
			})
			changed = append(changed, mem)
			touched[mem.ID] = struct{}{}
			corrected++
			metricCorrections.Inc()
			break
		}
	}

	if len(changed) > 0 {
		if err := m.persist(ctx, projectID, changed...); err != nil {
			m.logger.Error("persisting corrections failed", zap.Error(err))
		}
		for _, mem := range changed {
			m.cache.DeleteMemory(mem.ID)
		}
	}
	return corrected, touched
}

// share copies strongly-held memories into the cross-project pool.
func (m *Manager) share(ctx context.Context, mem *Memory) {
	if mem.Confidence < shareConfidenceFloor && mem.SupportCount < 3 {
		return
	}
	if err := m.persist(ctx, SharedNamespace, mem); err != nil {
		m.logger.Warn("sharing memory failed", zap.String("id", mem.ID), zap.Error(err))
	}
}

// summarizeSession turns the session transcript into extra memories.
func (m *Manager) summarizeSession(ctx context.Context, turn Turn, projectID string) {
	for _, candidate := range m.sessions.Summarize(ctx, turn.SessionID) {
		mem, err := candidate.ToMemory(turn.OwnerID, turn.EmployeeID, projectID)
		if err != nil {
			continue
		}
		if err := m.persist(ctx, projectID, mem); err != nil {
			m.logger.Warn("persisting session summary failed", zap.Error(err))
			continue
		}
		m.chains.Record(mem.ID, EventCreated, nil)
	}
}

// Retrieve returns query-relevant memories, decayed and filtered, via the
// cache-aside layer. Index failures degrade to an empty result.
func (m *Manager) Retrieve(ctx context.Context, employeeID, projectID, query string, topK int) []ScoredMemory {
	if cached, ok := m.cache.GetQuery(employeeID, projectID, query, topK); ok {
		metricRetrievals.WithLabelValues("cache").Inc()
		return cached
	}
	metricRetrievals.WithLabelValues("index").Inc()

	results := m.retriever.Search(ctx, projectID, query, topK)

	now := m.now()
	kept := results[:0]
	var dirty []*Memory
	for _, r := range results {
		changed := m.decay.Apply(r.Memory)
		if !r.Memory.Status.Retrievable() {
			// A freeze or expiry discovered here is still persisted, so
			// later sweeps do not recompute the same transition.
			if changed {
				dirty = append(dirty, r.Memory)
			}
			continue
		}
		r.Memory.Touch(now)
		dirty = append(dirty, r.Memory)
		kept = append(kept, r)
	}

	// Access bookkeeping is best-effort; retrieval never fails on it.
	if len(dirty) > 0 {
		if err := m.persist(ctx, projectID, dirty...); err != nil {
			m.logger.Warn("persisting access counts failed", zap.Error(err))
		}
	}

	m.cache.SetQuery(employeeID, projectID, query, topK, kept)
	return kept
}

// CoreMemories returns the project's Core tier through the cache.
func (m *Manager) CoreMemories(ctx context.Context, projectID string) []*Memory {
	if cached, ok := m.cache.GetCore(projectID); ok {
		return cached
	}
	memories := m.retriever.CoreMemories(ctx, projectID)
	m.cache.SetCore(projectID, memories)
	return memories
}

// GetContextForChat assembles the injection string for a new conversation
// message: shared-pool, Core and query-relevant memories, deduplicated,
// decayed, budgeted and rendered with current and outdated blocks.
func (m *Manager) GetContextForChat(ctx context.Context, employeeID, projectID, message string, maxMemories int) string {
	if maxMemories <= 0 {
		maxMemories = defaultDetailK
	}

	seen := make(map[string]struct{})
	var pool []*Memory
	add := func(mem *Memory) {
		if _, dup := seen[mem.ID]; dup {
			return
		}
		seen[mem.ID] = struct{}{}
		m.decay.Apply(mem)
		pool = append(pool, mem)
	}

	for _, mem := range m.CoreMemories(ctx, projectID) {
		add(mem)
	}
	for _, r := range m.Retrieve(ctx, employeeID, projectID, message, maxMemories) {
		add(r.Memory)
	}
	for _, r := range m.retriever.Search(ctx, SharedNamespace, message, maxMemories) {
		add(r.Memory)
	}

	current, outdated := m.injector.Partition(pool)

	var core, relevant []*Memory
	for _, mem := range current {
		if mem.Tier == TierCore {
			core = append(core, mem)
		} else {
			relevant = append(relevant, mem)
		}
	}

	budget, err := NewTokenBudget(m.contextTokens)
	if err != nil {
		m.logger.Error("invalid context budget", zap.Error(err))
		return ""
	}
	alloc := m.budget.Allocate(budget, core, relevant)
	return m.injector.Render(alloc, outdated)
}

// CorrectMemories applies a correction turn to a project: pattern-detected
// signals first, then model-based classification for the query-relevant
// memories the patterns did not touch. Returns how many memories changed.
func (m *Manager) CorrectMemories(ctx context.Context, projectID, turn string) (int, error) {
	if projectID == "" {
		return 0, ErrEmptyProjectID
	}

	memories, err := m.loadProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	corrected, touched := m.applySignals(ctx, projectID, turn, memories)

	// Model pass over the memories most relevant to the turn, excluding
	// those the pattern pass already penalized.
	var unmatched []*Memory
	for _, r := range m.retriever.Search(ctx, projectID, turn, defaultDetailK) {
		if _, done := touched[r.Memory.ID]; done {
			continue
		}
		if r.Memory.Status.Retrievable() {
			unmatched = append(unmatched, r.Memory)
		}
	}
	kinds := m.corrector.Classify(ctx, turn, unmatched)

	var changed []*Memory
	for i, kind := range kinds {
		mem := unmatched[i]
		switch kind {
		case EvidenceSupport:
			m.withIDLock(mem.ID, func() {
				previous := *mem
				m.corrector.ApplySupport(mem)
				m.chains.Record(mem.ID, EventUpdated, &previous)
			})
		case EvidenceContradict:
			m.withIDLock(mem.ID, func() {
				previous := *mem
				m.corrector.ApplyModelContradiction(mem)
				m.chains.Record(mem.ID, EventDownweighted, &previous)
			})
			corrected++
			metricCorrections.Inc()
		default:
			continue
		}
		changed = append(changed, mem)
	}

	if len(changed) > 0 {
		if err := m.persist(ctx, projectID, changed...); err != nil {
			m.logger.Error("persisting model corrections failed", zap.Error(err))
		}
	}
	if corrected > 0 || len(changed) > 0 {
		m.cache.InvalidateProject(projectID)
	}
	return corrected, nil
}

// sweepPass is one maintenance stage operating on a loaded project.
type sweepPass func(memories []*Memory, stats *MaintenanceStats, markDirty func(*Memory))

// RunDecay applies confidence decay across one project, leaving tiers and
// consolidation untouched.
func (m *Manager) RunDecay(ctx context.Context, projectID string) (MaintenanceStats, error) {
	return m.sweep(ctx, projectID, "decay", m.decayPass)
}

// RunTierAdjustment re-evaluates promotion and tier placement across one
// project.
func (m *Manager) RunTierAdjustment(ctx context.Context, projectID string) (MaintenanceStats, error) {
	return m.sweep(ctx, projectID, "tier", m.tierPass)
}

// RunMaintenance executes the full sweep over one project: decay, tier
// adjustment, promotion, text-merge and dedup.
func (m *Manager) RunMaintenance(ctx context.Context, projectID string) (MaintenanceStats, error) {
	return m.sweep(ctx, projectID, "full", m.decayPass, m.tierPass, m.consolidatePass)
}

func (m *Manager) sweep(ctx context.Context, projectID, task string, passes ...sweepPass) (stats MaintenanceStats, err error) {
	start := time.Now()
	defer func() { observeMaintenance(task, start, err) }()

	memories, err := m.loadProject(ctx, projectID)
	if err != nil {
		return stats, err
	}
	stats.Processed = len(memories)

	var dirty []*Memory
	markDirty := func(mem *Memory) {
		for _, d := range dirty {
			if d == mem {
				return
			}
		}
		dirty = append(dirty, mem)
	}

	for _, pass := range passes {
		pass(memories, &stats, markDirty)
	}

	if len(dirty) > 0 {
		if err := m.persist(ctx, projectID, dirty...); err != nil {
			m.logger.Error("persisting maintenance results failed", zap.Error(err))
		}
		for _, mem := range dirty {
			m.cache.DeleteMemory(mem.ID)
		}
		m.cache.InvalidateProject(projectID)
	}
	return stats, nil
}

func (m *Manager) decayPass(memories []*Memory, stats *MaintenanceStats, markDirty func(*Memory)) {
	for _, mem := range memories {
		m.withIDLock(mem.ID, func() {
			previous := *mem
			if !m.decay.Apply(mem) {
				return
			}
			stats.Decayed++
			markDirty(mem)
			if mem.Status == StatusExpired && previous.Status != StatusExpired {
				stats.Expired++
				m.chains.Record(mem.ID, EventExpired, &previous)
			}
		})
	}
}

func (m *Manager) tierPass(memories []*Memory, stats *MaintenanceStats, markDirty func(*Memory)) {
	for _, mem := range memories {
		m.withIDLock(mem.ID, func() {
			if m.merger.ShouldPromote(mem) {
				previous := *mem
				mem.Tier = TierCore
				mem.UpdatedAt = m.now().UTC()
				stats.TierAdjusted++
				markDirty(mem)
				m.chains.Record(mem.ID, EventPromoted, &previous)
				return
			}
			previous := *mem
			if change := m.tiers.Adjust(mem); change != nil {
				stats.TierAdjusted++
				markDirty(mem)
				event := EventPromoted
				if tierWeight[change.To] < tierWeight[change.From] {
					event = EventDemoted
				}
				m.chains.Record(mem.ID, event, &previous)
			}
		})
	}
}

// consolidatePass runs the text-level merge and the embedding-level dedup.
func (m *Manager) consolidatePass(memories []*Memory, stats *MaintenanceStats, markDirty func(*Memory)) {
	before := make(map[string]MemoryStatus, len(memories))
	for _, mem := range memories {
		before[mem.ID] = mem.Status
	}

	stats.Merged += m.merger.MergeProject(memories)

	_, dedupResults := m.dedup.DeduplicateBatch(memories)
	stats.Merged += len(dedupResults)

	for _, mem := range memories {
		if mem.Status == StatusReplaced && before[mem.ID] != StatusReplaced {
			markDirty(mem)
			m.chains.Record(mem.ID, EventSuperseded, nil, mem.ReplacedBy)
		} else if mem.Status != before[mem.ID] {
			markDirty(mem)
		}
	}
}

// CompressCold clusters eligible Cold memories and replaces each cluster
// with a compressed summary. Returns how many summaries were created.
func (m *Manager) CompressCold(ctx context.Context, projectID string) (created int, err error) {
	start := time.Now()
	defer func() { observeMaintenance("compress", start, err) }()

	memories, err := m.loadProject(ctx, projectID)
	if err != nil {
		return 0, err
	}

	var eligible []*Memory
	for _, mem := range memories {
		if m.compressor.Eligible(mem) {
			eligible = append(eligible, mem)
		}
	}
	for _, cluster := range m.compressor.Cluster(eligible) {
		if !cluster.Compressible() {
			continue
		}
		summary, err := m.compressor.Compress(ctx, cluster)
		if err != nil {
			m.logger.Warn("compression failed", zap.Error(err))
			continue
		}
		toPersist := append([]*Memory{summary}, cluster.Members...)
		if err := m.persist(ctx, projectID, toPersist...); err != nil {
			m.logger.Error("persisting compressed cluster failed", zap.Error(err))
			continue
		}
		m.chains.Record(summary.ID, EventCreated, nil, summary.MergedFrom...)
		for _, member := range cluster.Members {
			m.chains.Record(member.ID, EventSuperseded, nil, summary.ID)
			m.cache.DeleteMemory(member.ID)
		}
		created++
	}
	if created > 0 {
		m.cache.InvalidateProject(projectID)
	}
	return created, nil
}

// CleanupExpired deletes memories that decay marked Expired.
func (m *Manager) CleanupExpired(ctx context.Context, projectID string) (removed int, err error) {
	start := time.Now()
	defer func() { observeMaintenance("cleanup", start, err) }()

	memories, err := m.loadProject(ctx, projectID)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, mem := range memories {
		if mem.Status == StatusExpired {
			ids = append(ids, mem.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := m.index.Delete(ctx, projectID, ids); err != nil {
		return 0, fmt.Errorf("deleting expired memories: %w", err)
	}
	for _, id := range ids {
		m.chains.Record(id, EventDeleted, nil)
		m.cache.DeleteMemory(id)
	}
	m.cache.InvalidateProject(projectID)
	return len(ids), nil
}

// Stats aggregates tier, type and status counts plus decay averages.
func (m *Manager) Stats(ctx context.Context, projectID string) (ProjectStats, error) {
	stats := ProjectStats{
		ByTier:   make(map[MemoryTier]int),
		ByType:   make(map[MemoryType]int),
		ByStatus: make(map[MemoryStatus]int),
	}
	memories, err := m.loadProject(ctx, projectID)
	if err != nil {
		return stats, err
	}

	var confSum, decaySum float64
	for _, mem := range memories {
		stats.Total++
		stats.ByTier[mem.Tier]++
		stats.ByType[mem.Type]++
		stats.ByStatus[mem.Status]++
		confSum += mem.Confidence
		decaySum += mem.DecayFactor
	}
	if stats.Total > 0 {
		stats.AvgConfidence = confSum / float64(stats.Total)
		stats.AvgDecay = decaySum / float64(stats.Total)
	}
	return stats, nil
}

// BatchSave processes turns sequentially; a failing turn is logged and
// skipped rather than aborting the batch.
func (m *Manager) BatchSave(ctx context.Context, turns []Turn, projectID string) (int, error) {
	written := 0
	for i, turn := range turns {
		n, err := m.Save(ctx, turn, projectID)
		if err != nil {
			m.logger.Warn("batch save turn failed", zap.Int("turn", i), zap.Error(err))
			continue
		}
		written += n
	}
	return written, nil
}

// BatchDelete removes memories by id.
func (m *Manager) BatchDelete(ctx context.Context, projectID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.index.Delete(ctx, projectID, ids); err != nil {
		return fmt.Errorf("batch delete: %w", err)
	}
	for _, id := range ids {
		m.chains.Record(id, EventDeleted, nil)
		m.cache.DeleteMemory(id)
	}
	m.cache.InvalidateProject(projectID)
	return nil
}

// BatchUpdateTier force-moves memories to a tier, bypassing the adjuster's
// rules. Unknown ids are skipped. Returns how many memories moved.
func (m *Manager) BatchUpdateTier(ctx context.Context, projectID string, ids []string, tier MemoryTier) (int, error) {
	if _, err := ParseMemoryTier(string(tier)); err != nil {
		return 0, err
	}
	records, err := m.index.Fetch(ctx, projectID, ids)
	if err != nil {
		return 0, fmt.Errorf("fetching memories: %w", err)
	}

	var changed []*Memory
	for _, id := range ids {
		record, ok := records[id]
		if !ok {
			continue
		}
		mem, err := MemoryFromMetadata(record.Metadata)
		if err != nil || mem.Tier == tier {
			continue
		}
		mem.Embedding = record.Vector
		m.withIDLock(mem.ID, func() {
			previous := *mem
			event := EventPromoted
			if tierWeight[tier] < tierWeight[mem.Tier] {
				event = EventDemoted
			}
			mem.Tier = tier
			mem.UpdatedAt = m.now().UTC()
			m.chains.Record(mem.ID, event, &previous)
		})
		changed = append(changed, mem)
	}

	if len(changed) > 0 {
		if err := m.persist(ctx, projectID, changed...); err != nil {
			return 0, err
		}
		for _, mem := range changed {
			m.cache.DeleteMemory(mem.ID)
		}
		m.cache.InvalidateProject(projectID)
	}
	return len(changed), nil
}

// BatchRetrieveParallel fans out independent queries and joins the results
// in input order. A failing query yields a nil slice in its slot; it never
// fails the batch.
func (m *Manager) BatchRetrieveParallel(ctx context.Context, employeeID, projectID string, queries []string, topK int) [][]ScoredMemory {
	results := make([][]ScoredMemory, len(queries))
	var wg sync.WaitGroup
	for i, query := range queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("retrieval panic", zap.Int("query", i), zap.Any("panic", r))
				}
			}()
			results[i] = m.Retrieve(ctx, employeeID, projectID, query, topK)
		}(i, query)
	}
	wg.Wait()
	return results
}
