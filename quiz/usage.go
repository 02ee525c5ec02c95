package quiz

import (
	"container/list"
	"context"
	"sync"
)

// DefaultUsageCapacity is the number of sessions MemoryUsageCache tracks.
const DefaultUsageCapacity = 100

// UsageCache records which question ids have been served to each session.
// Implementations are best-effort: concurrent requests for one session may
// race, at worst serving a duplicate.
type UsageCache interface {
	// Used returns the ids already served to sessionID. The returned map is
	// owned by the caller.
	Used(ctx context.Context, sessionID string) (map[string]struct{}, error)
	// Record adds ids to the session's set.
	Record(ctx context.Context, sessionID string, ids []string) error
	// Reset forgets everything served to the session.
	Reset(ctx context.Context, sessionID string) error
}

type usageEntry struct {
	sessionID string
	ids       map[string]struct{}
}

// MemoryUsageCache is a process-local UsageCache bounded to a fixed number of
// sessions. When a new session would exceed the capacity, the session that
// was inserted first is evicted. Recording into an existing session does not
// refresh its position.
type MemoryUsageCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	sessions map[string]*list.Element
}

var _ UsageCache = (*MemoryUsageCache)(nil)

// NewMemoryUsageCache returns a cache holding at most capacity sessions.
// A capacity below 1 uses DefaultUsageCapacity.
func NewMemoryUsageCache(capacity int) *MemoryUsageCache {
	if capacity < 1 {
		capacity = DefaultUsageCapacity
	}
	return &MemoryUsageCache{
		capacity: capacity,
		order:    list.New(),
		sessions: make(map[string]*list.Element),
	}
}

func (c *MemoryUsageCache) Used(_ context.Context, sessionID string) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]struct{})
	if el, ok := c.sessions[sessionID]; ok {
		for id := range el.Value.(*usageEntry).ids {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (c *MemoryUsageCache) Record(_ context.Context, sessionID string, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.sessions[sessionID]
	if !ok {
		el = c.order.PushBack(&usageEntry{sessionID: sessionID, ids: make(map[string]struct{}, len(ids))})
		c.sessions[sessionID] = el
		for c.order.Len() > c.capacity {
			oldest := c.order.Front()
			c.order.Remove(oldest)
			delete(c.sessions, oldest.Value.(*usageEntry).sessionID)
		}
	}
	entry := el.Value.(*usageEntry)
	for _, id := range ids {
		entry.ids[id] = struct{}{}
	}
	return nil
}

func (c *MemoryUsageCache) Reset(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.sessions[sessionID]; ok {
		c.order.Remove(el)
		delete(c.sessions, sessionID)
	}
	return nil
}

// Len returns the number of tracked sessions.
func (c *MemoryUsageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
