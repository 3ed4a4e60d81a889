package membank

import (
	"sync"
	"time"
)

// ChainEventType identifies what happened to a memory.
type ChainEventType string

const (
	EventCreated      ChainEventType = "created"
	EventUpdated      ChainEventType = "updated"
	EventSuperseded   ChainEventType = "superseded"
	EventMerged       ChainEventType = "merged"
	EventCorrected    ChainEventType = "corrected"
	EventDownweighted ChainEventType = "downweighted"
	EventPromoted     ChainEventType = "promoted"
	EventDemoted      ChainEventType = "demoted"
	EventExpired      ChainEventType = "expired"
	EventDeleted      ChainEventType = "deleted"
)

// ChainEvent is one immutable lineage record. PreviousState, when present,
// snapshots the memory before the change and serves as a rollback point.
type ChainEvent struct {
	Type          ChainEventType
	Timestamp     time.Time
	RelatedIDs    []string
	PreviousState *Memory
}

// ChainTracker is the append-only audit log of state-changing operations,
// one chain per memory id. Events are never mutated or removed.
type ChainTracker struct {
	mu     sync.RWMutex
	chains map[string][]ChainEvent
	now    func() time.Time
}

func NewChainTracker() *ChainTracker {
	return &ChainTracker{
		chains: make(map[string][]ChainEvent),
		now:    time.Now,
	}
}

// Record appends an event to the memory's chain. previous may be nil when
// no rollback point is useful (e.g. creation).
func (t *ChainTracker) Record(memoryID string, eventType ChainEventType, previous *Memory, relatedIDs ...string) {
	event := ChainEvent{
		Type:       eventType,
		Timestamp:  t.now().UTC(),
		RelatedIDs: relatedIDs,
	}
	if previous != nil {
		snapshot := *previous
		event.PreviousState = &snapshot
	}

	t.mu.Lock()
	t.chains[memoryID] = append(t.chains[memoryID], event)
	t.mu.Unlock()
}

// Chain returns a copy of the memory's event history, oldest first.
func (t *ChainTracker) Chain(memoryID string) []ChainEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	events := t.chains[memoryID]
	out := make([]ChainEvent, len(events))
	copy(out, events)
	return out
}

// LatestSnapshot returns the most recent previous-state snapshot in the
// chain, the restore point a rollback would use. Nil when none exists.
func (t *ChainTracker) LatestSnapshot(memoryID string) *Memory {
	t.mu.RLock()
	defer t.mu.RUnlock()
	events := t.chains[memoryID]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].PreviousState != nil {
			snapshot := *events[i].PreviousState
			return &snapshot
		}
	}
	return nil
}

// Lineage reconstructs the replacement chain containing the given memory,
// oldest to newest. Ancestors come from the recorded superseded events, so
// a mid-chain start still reaches the chain's origin; descendants follow
// ReplacedBy through the lookup function, which returns nil for unknown
// ids and thereby terminates the walk.
func (t *ChainTracker) Lineage(memoryID string, lookup func(id string) *Memory) []string {
	seen := map[string]struct{}{memoryID: {}}

	// Walk backwards first: find the oldest ancestor that this memory
	// superseded, via chains recorded against it.
	var ancestors []string
	for prev := t.predecessor(memoryID); prev != ""; prev = t.predecessor(prev) {
		if _, cycle := seen[prev]; cycle {
			break
		}
		seen[prev] = struct{}{}
		ancestors = append(ancestors, prev)
	}

	ordered := make([]string, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		ordered = append(ordered, ancestors[i])
	}
	ordered = append(ordered, memoryID)

	current := lookup(memoryID)
	for current != nil && current.ReplacedBy != "" {
		next := current.ReplacedBy
		if _, cycle := seen[next]; cycle {
			break
		}
		seen[next] = struct{}{}
		ordered = append(ordered, next)
		current = lookup(next)
	}
	return ordered
}

// predecessor finds the memory the given one directly superseded, via the
// recorded superseded events. Empty when none exists; when several memories
// were absorbed at once, the earliest recorded event wins.
func (t *ChainTracker) predecessor(memoryID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		best     string
		bestTime time.Time
	)
	for id, events := range t.chains {
		for _, event := range events {
			if event.Type != EventSuperseded {
				continue
			}
			for _, related := range event.RelatedIDs {
				if related != memoryID {
					continue
				}
				if best == "" || event.Timestamp.Before(bestTime) {
					best = id
					bestTime = event.Timestamp
				}
			}
		}
	}
	return best
}

// MergeTree recursively reconstructs the tree of memories merged into the
// given one. Keys are memory ids, values their direct merge sources.
func (t *ChainTracker) MergeTree(memoryID string, lookup func(id string) *Memory) map[string][]string {
	tree := make(map[string][]string)
	t.mergeTreeInto(memoryID, lookup, tree, map[string]struct{}{})
	return tree
}

func (t *ChainTracker) mergeTreeInto(memoryID string, lookup func(id string) *Memory, tree map[string][]string, seen map[string]struct{}) {
	if _, dup := seen[memoryID]; dup {
		return
	}
	seen[memoryID] = struct{}{}

	m := lookup(memoryID)
	if m == nil || len(m.MergedFrom) == 0 {
		return
	}
	tree[memoryID] = append([]string(nil), m.MergedFrom...)
	for _, source := range m.MergedFrom {
		t.mergeTreeInto(source, lookup, tree, seen)
	}
}
