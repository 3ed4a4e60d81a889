package membank

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Default cache TTLs per key class.
const (
	queryTTL  = 60 * time.Second
	memoryTTL = 300 * time.Second
	coreTTL   = 600 * time.Second
)

// Cache is the cache-aside layer in front of retrieval. Three key classes:
// query results per (employee, project, query), individual memories by id,
// and Core-memory lists per project.
//
// Entries are isolated: memories are cloned on store and again on load, so
// callers may mutate what they get back (decay, access bookkeeping) without
// racing other readers of the same entry.
//
// Invalidation is generational: every write to a project bumps its
// generation counter, which is part of the query and core keys, so stale
// entries become unreachable and age out through their TTL. There is no
// negative caching; empty results are never stored.
type Cache struct {
	store  *ristretto.Cache
	logger *zap.Logger

	queryTTL  time.Duration
	memoryTTL time.Duration
	coreTTL   time.Duration

	mu          sync.Mutex
	generations map[string]uint64
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithTTLs overrides the per-class TTLs. Zero values keep the default.
func WithTTLs(query, memory, core time.Duration) CacheOption {
	return func(c *Cache) {
		if query > 0 {
			c.queryTTL = query
		}
		if memory > 0 {
			c.memoryTTL = memory
		}
		if core > 0 {
			c.coreTTL = core
		}
	}
}

// NewCache creates the cache layer.
func NewCache(logger *zap.Logger, opts ...CacheOption) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	c := &Cache{
		store:       store,
		logger:      logger,
		queryTTL:    queryTTL,
		memoryTTL:   memoryTTL,
		coreTTL:     coreTTL,
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) generation(projectID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[projectID]
}

func (c *Cache) queryKey(employeeID, projectID, query string, topK int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d", query, topK)
	return fmt.Sprintf("q|%s|%s|%d|%x", employeeID, projectID, c.generation(projectID), h.Sum64())
}

func (c *Cache) coreKey(projectID string) string {
	return fmt.Sprintf("core|%s|%d", projectID, c.generation(projectID))
}

func cloneScored(results []ScoredMemory) []ScoredMemory {
	out := make([]ScoredMemory, len(results))
	for i, r := range results {
		r.Memory = r.Memory.Clone()
		out[i] = r
	}
	return out
}

func cloneMemories(memories []*Memory) []*Memory {
	out := make([]*Memory, len(memories))
	for i, m := range memories {
		out[i] = m.Clone()
	}
	return out
}

// GetQuery returns cached retrieval results for a query, if present. The
// returned memories are private copies.
func (c *Cache) GetQuery(employeeID, projectID, query string, topK int) ([]ScoredMemory, bool) {
	v, ok := c.store.Get(c.queryKey(employeeID, projectID, query, topK))
	if !ok {
		return nil, false
	}
	results, ok := v.([]ScoredMemory)
	if !ok {
		return nil, false
	}
	return cloneScored(results), true
}

// SetQuery caches retrieval results. Empty results are not cached.
func (c *Cache) SetQuery(employeeID, projectID, query string, topK int, results []ScoredMemory) {
	if len(results) == 0 {
		return
	}
	c.store.SetWithTTL(c.queryKey(employeeID, projectID, query, topK), cloneScored(results), 1, c.queryTTL)
}

// GetMemory returns a private copy of a cached memory by id.
func (c *Cache) GetMemory(id string) (*Memory, bool) {
	v, ok := c.store.Get("m|" + id)
	if !ok {
		return nil, false
	}
	m, ok := v.(*Memory)
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// SetMemory caches one memory by id.
func (c *Cache) SetMemory(m *Memory) {
	if m == nil || m.ID == "" {
		return
	}
	c.store.SetWithTTL("m|"+m.ID, m.Clone(), 1, c.memoryTTL)
}

// DeleteMemory drops one memory entry.
func (c *Cache) DeleteMemory(id string) {
	c.store.Del("m|" + id)
}

// GetCore returns the cached Core-memory list for a project, as private
// copies.
func (c *Cache) GetCore(projectID string) ([]*Memory, bool) {
	v, ok := c.store.Get(c.coreKey(projectID))
	if !ok {
		return nil, false
	}
	memories, ok := v.([]*Memory)
	if !ok {
		return nil, false
	}
	return cloneMemories(memories), true
}

// SetCore caches a project's Core-memory list. Empty lists are not cached.
func (c *Cache) SetCore(projectID string, memories []*Memory) {
	if len(memories) == 0 {
		return
	}
	c.store.SetWithTTL(c.coreKey(projectID), cloneMemories(memories), 1, c.coreTTL)
}

// InvalidateProject makes every query and core entry for the project
// unreachable. Individual memory entries must be dropped separately via
// DeleteMemory since they are keyed by id, not project.
func (c *Cache) InvalidateProject(projectID string) {
	c.mu.Lock()
	c.generations[projectID]++
	c.mu.Unlock()
}

// Wait blocks until pending writes are applied. Ristretto admits entries
// asynchronously; tests call this before asserting presence.
func (c *Cache) Wait() {
	c.store.Wait()
}

// Close releases the cache's resources.
func (c *Cache) Close() {
	c.store.Close()
}
