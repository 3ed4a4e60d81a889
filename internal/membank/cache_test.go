package membank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCacheQueryRoundTrip(t *testing.T) {
	c := newTestCache(t)

	results := []ScoredMemory{{Memory: &Memory{ID: "m1"}, Similarity: 0.9}}
	c.SetQuery("emp", "proj", "what database", 8, results)
	c.Wait()

	got, ok := c.GetQuery("emp", "proj", "what database", 8)
	require.True(t, ok)
	assert.Equal(t, "m1", got[0].Memory.ID)

	_, ok = c.GetQuery("emp", "proj", "different query", 8)
	assert.False(t, ok)

	_, ok = c.GetQuery("emp", "proj", "what database", 4)
	assert.False(t, ok, "topK is part of the key")
}

func TestCacheNoNegativeCaching(t *testing.T) {
	c := newTestCache(t)

	c.SetQuery("emp", "proj", "q", 8, nil)
	c.Wait()
	_, ok := c.GetQuery("emp", "proj", "q", 8)
	assert.False(t, ok)
}

func TestCacheMemoryRoundTrip(t *testing.T) {
	c := newTestCache(t)

	c.SetMemory(&Memory{ID: "m1", Content: "x"})
	c.Wait()

	got, ok := c.GetMemory("m1")
	require.True(t, ok)
	assert.Equal(t, "x", got.Content)

	c.DeleteMemory("m1")
	c.Wait()
	_, ok = c.GetMemory("m1")
	assert.False(t, ok)
}

func TestCacheEntriesAreIsolatedCopies(t *testing.T) {
	c := newTestCache(t)

	stored := &Memory{ID: "m1", Status: StatusActive, Keywords: []string{"db"}}
	c.SetQuery("emp", "proj", "q", 8, []ScoredMemory{{Memory: stored, Similarity: 0.9}})
	c.Wait()

	stored.Status = StatusExpired

	first, ok := c.GetQuery("emp", "proj", "q", 8)
	require.True(t, ok)
	assert.Equal(t, StatusActive, first[0].Memory.Status,
		"mutating the original after store must not leak into the cache")

	second, ok := c.GetQuery("emp", "proj", "q", 8)
	require.True(t, ok)
	require.NotSame(t, first[0].Memory, second[0].Memory,
		"every read gets its own copy")

	first[0].Memory.Status = StatusFrozen
	third, ok := c.GetQuery("emp", "proj", "q", 8)
	require.True(t, ok)
	assert.Equal(t, StatusActive, third[0].Memory.Status)
}

func TestCacheCoreListIsolated(t *testing.T) {
	c := newTestCache(t)

	c.SetCore("proj", []*Memory{{ID: "m1", Tier: TierCore}})
	c.Wait()

	first, ok := c.GetCore("proj")
	require.True(t, ok)
	first[0].Tier = TierCold

	second, ok := c.GetCore("proj")
	require.True(t, ok)
	require.NotSame(t, first[0], second[0])
	assert.Equal(t, TierCore, second[0].Tier)
}

func TestCacheInvalidateProject(t *testing.T) {
	c := newTestCache(t)

	c.SetQuery("emp", "proj", "q", 8, []ScoredMemory{{Memory: &Memory{ID: "m1"}}})
	c.SetCore("proj", []*Memory{{ID: "m2"}})
	c.SetQuery("emp", "other", "q", 8, []ScoredMemory{{Memory: &Memory{ID: "m3"}}})
	c.Wait()

	c.InvalidateProject("proj")

	_, ok := c.GetQuery("emp", "proj", "q", 8)
	assert.False(t, ok)
	_, ok = c.GetCore("proj")
	assert.False(t, ok)

	_, ok = c.GetQuery("emp", "other", "q", 8)
	assert.True(t, ok, "other projects are unaffected")
}

func TestCacheTTLExpiry(t *testing.T) {
	c, err := NewCache(zap.NewNop(), WithTTLs(20*time.Millisecond, 0, 0))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	c.SetQuery("emp", "proj", "q", 8, []ScoredMemory{{Memory: &Memory{ID: "m1"}}})
	c.Wait()
	_, ok := c.GetQuery("emp", "proj", "q", 8)
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.GetQuery("emp", "proj", "q", 8)
	assert.False(t, ok)
}
