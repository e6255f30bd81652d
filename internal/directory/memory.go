package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/types"
)

// Memory is an in-process directory
type Memory struct {
	agents map[string]*types.Agent
	mu     sync.RWMutex
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		agents: make(map[string]*types.Agent),
		now:    time.Now,
	}
}

func (m *Memory) ListAgents(_ context.Context) ([]types.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a.Clone())
	}
	// Map iteration is random; keep snapshots deterministic for tie-breaks
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListAvailableAgents(ctx context.Context) ([]types.Agent, error) {
	all, err := m.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	return available(all), nil
}

func (m *Memory) GetAgent(_ context.Context, id string) (*types.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, apperr.NotFound("agent %s not found", id)
	}
	out := a.Clone()
	return &out, nil
}

func (m *Memory) SetStatus(_ context.Context, id string, status types.AgentStatus) (types.AgentStatus, error) {
	if !status.Valid() {
		return "", apperr.Validation("invalid agent status %q", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return "", apperr.NotFound("agent %s not found", id)
	}
	prev := a.Status
	a.Status = status
	a.UpdatedAt = m.now()
	return prev, nil
}

// UpsertAgent registers or replaces an agent. The live load survives a replace.
func (m *Memory) UpsertAgent(_ context.Context, agent types.Agent) error {
	if agent.ID == "" {
		return apperr.Validation("agent id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	agent = agent.Clone()
	agent.UpdatedAt = m.now()
	if existing, ok := m.agents[agent.ID]; ok {
		agent.CurrentConversationCount = existing.CurrentConversationCount
	}
	m.agents[agent.ID] = &agent
	return nil
}

func (m *Memory) AdjustLoad(_ context.Context, id string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return apperr.NotFound("agent %s not found", id)
	}
	a.CurrentConversationCount = applyDelta(a.CurrentConversationCount, delta)
	a.UpdatedAt = m.now()
	return nil
}

// Count returns the total number of tracked agents
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}
