package directory

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pytake/backend/internal/types"
)

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 1 << 20
	defaultBufferItems = 64

	availableKey = "__available__"
)

// Cached is a read-through cache in front of another directory.
// Writes go to the backing directory and invalidate affected entries.
type Cached struct {
	next  Directory
	cache *ristretto.Cache
	ttl   time.Duration

	// gen moves on every invalidation; a read that spans one is not cached
	mu  sync.Mutex
	gen uint64
}

// NewCached wraps next with a cache whose entries live for ttl
func NewCached(next Directory, ttl time.Duration) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: cache, ttl: ttl}, nil
}

func agentKey(id string) string {
	return "agent:" + id
}

func (c *Cached) ListAvailableAgents(ctx context.Context) ([]types.Agent, error) {
	if v, ok := c.cache.Get(availableKey); ok {
		if agents, ok := v.([]types.Agent); ok {
			return cloneAgents(agents), nil
		}
	}
	gen := c.generation()
	agents, err := c.next.ListAvailableAgents(ctx)
	if err != nil {
		return nil, err
	}
	c.store(gen, availableKey, cloneAgents(agents), int64(len(agents)+1))
	return agents, nil
}

// ListAgents always reads through; it backs admin views, not routing
func (c *Cached) ListAgents(ctx context.Context) ([]types.Agent, error) {
	return c.next.ListAgents(ctx)
}

func (c *Cached) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	if v, ok := c.cache.Get(agentKey(id)); ok {
		if a, ok := v.(types.Agent); ok {
			out := a.Clone()
			return &out, nil
		}
	}
	gen := c.generation()
	a, err := c.next.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(gen, agentKey(id), a.Clone(), 1)
	return a, nil
}

func (c *Cached) SetStatus(ctx context.Context, id string, status types.AgentStatus) (types.AgentStatus, error) {
	prev, err := c.next.SetStatus(ctx, id, status)
	c.invalidate(id)
	return prev, err
}

func (c *Cached) UpsertAgent(ctx context.Context, agent types.Agent) error {
	err := c.next.UpsertAgent(ctx, agent)
	c.invalidate(agent.ID)
	return err
}

func (c *Cached) AdjustLoad(ctx context.Context, id string, delta int) error {
	err := c.next.AdjustLoad(ctx, id, delta)
	c.invalidate(id)
	return err
}

func (c *Cached) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// store caches value unless an invalidation ran since gen was read
func (c *Cached) store(gen uint64, key string, value any, cost int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.cache.SetWithTTL(key, value, cost, c.ttl)
	c.cache.Wait()
}

func (c *Cached) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cache.Del(agentKey(id))
	c.cache.Del(availableKey)
}

func (c *Cached) Close() {
	c.cache.Close()
}

func cloneAgents(in []types.Agent) []types.Agent {
	out := make([]types.Agent, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}
