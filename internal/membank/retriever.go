package membank

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/crewforge/membank/internal/embeddings"
	"github.com/crewforge/membank/internal/vectorstore"
)

// Retrieval defaults.
const (
	defaultDirectoryLimit = 20
	defaultDetailK        = 8
	defaultMinSimilarity  = 0.2
	defaultSearchAttempts = 3
	defaultSearchDelay    = 500 * time.Millisecond
)

// ScoredMemory pairs a hydrated memory with its query similarity.
type ScoredMemory struct {
	Memory     *Memory
	Similarity float64
}

// Retriever implements two-stage retrieval: a cheap directory search over
// the vector index followed by a selective full-record fetch.
//
// Index failures never propagate; retrieval degrades to an empty result.
type Retriever struct {
	index    vectorstore.Index
	embedder embeddings.Provider
	logger   *zap.Logger

	directoryLimit int
	detailK        int
	minSimilarity  float64

	// attempts and delay absorb eventual consistency of the backing
	// index when a search comes back empty. They never retry errors.
	attempts int
	delay    time.Duration
}

// RetrieverOption customizes a Retriever.
type RetrieverOption func(*Retriever)

// WithDetailK sets how many directory entries get a full-record fetch.
func WithDetailK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.detailK = k
		}
	}
}

// WithSearchRetry overrides the empty-result retry policy.
func WithSearchRetry(attempts int, delay time.Duration) RetrieverOption {
	return func(r *Retriever) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if delay >= 0 {
			r.delay = delay
		}
	}
}

// WithMinSimilarity overrides the stage-1 similarity floor.
func WithMinSimilarity(min float64) RetrieverOption {
	return func(r *Retriever) { r.minSimilarity = min }
}

// NewRetriever wires the retriever to its index and embedder.
func NewRetriever(index vectorstore.Index, embedder embeddings.Provider, logger *zap.Logger, opts ...RetrieverOption) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retriever{
		index:          index,
		embedder:       embedder,
		logger:         logger,
		directoryLimit: defaultDirectoryLimit,
		detailK:        defaultDetailK,
		minSimilarity:  defaultMinSimilarity,
		attempts:       defaultSearchAttempts,
		delay:          defaultSearchDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Directory runs stage 1: similarity search returning lightweight entries
// above the similarity floor. An empty result is retried a fixed number of
// times with a propagation delay; errors are not retried.
func (r *Retriever) Directory(ctx context.Context, projectID, query string) []DirectoryEntry {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed", zap.Error(err))
		return nil
	}

	var matches []vectorstore.Match
	for attempt := 1; attempt <= r.attempts; attempt++ {
		matches, err = r.index.Query(ctx, projectID, vector, r.directoryLimit, nil)
		if err != nil {
			r.logger.Warn("directory search failed",
				zap.String("project", projectID),
				zap.Error(err),
			)
			return nil
		}
		if len(matches) > 0 || attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.delay):
		}
	}

	entries := make([]DirectoryEntry, 0, len(matches))
	for _, match := range matches {
		if float64(match.Score) < r.minSimilarity {
			continue
		}
		memType, err := ParseMemoryType(match.Metadata["type"])
		if err != nil {
			continue
		}
		entries = append(entries, DirectoryEntry{
			ID:         match.ID,
			Summary:    match.Metadata["summary"],
			Keywords:   splitList(match.Metadata["keywords"]),
			Type:       memType,
			Confidence: parseFloat(match.Metadata["confidence"]),
			Similarity: float64(match.Score),
		})
	}
	return entries
}

// Search runs both stages: directory entries ranked by similarity times
// confidence, then a full-record fetch for the top k.
func (r *Retriever) Search(ctx context.Context, projectID, query string, k int) []ScoredMemory {
	if k <= 0 {
		k = r.detailK
	}

	entries := r.Directory(ctx, projectID, query)
	if len(entries) == 0 {
		return nil
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Similarity*entries[i].Confidence >
			entries[j].Similarity*entries[j].Confidence
	})
	if len(entries) > k {
		entries = entries[:k]
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	records, err := r.index.Fetch(ctx, projectID, ids)
	if err != nil {
		r.logger.Warn("detail fetch failed",
			zap.String("project", projectID),
			zap.Error(err),
		)
		return nil
	}

	results := make([]ScoredMemory, 0, len(entries))
	for _, entry := range entries {
		record, ok := records[entry.ID]
		if !ok {
			continue
		}
		m, err := MemoryFromMetadata(record.Metadata)
		if err != nil {
			r.logger.Warn("skipping malformed record",
				zap.String("id", entry.ID),
				zap.Error(err),
			)
			continue
		}
		m.Embedding = record.Vector
		results = append(results, ScoredMemory{Memory: m, Similarity: entry.Similarity})
	}
	return results
}

// CoreMemories lists a project's Core-tier memories via a metadata filter,
// independent of query relevance.
func (r *Retriever) CoreMemories(ctx context.Context, projectID string) []*Memory {
	records, err := r.index.List(ctx, projectID, map[string]string{"tier": string(TierCore)})
	if err != nil {
		r.logger.Warn("core memory listing failed",
			zap.String("project", projectID),
			zap.Error(err),
		)
		return nil
	}

	memories := make([]*Memory, 0, len(records))
	for _, record := range records {
		m, err := MemoryFromMetadata(record.Metadata)
		if err != nil {
			continue
		}
		if !m.Status.Retrievable() {
			continue
		}
		m.Embedding = record.Vector
		memories = append(memories, m)
	}
	return memories
}
