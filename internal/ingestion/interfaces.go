package ingestion

import (
	"context"

	"github.com/pytake/backend/internal/types"
)

// EventProcessor processes agent socket events from any source
type EventProcessor interface {
	ProcessRegister(ctx context.Context, reg *types.AgentRegister) error
	ProcessHeartbeat(ctx context.Context, hb *types.AgentHeartbeat)
	ProcessStatusUpdate(ctx context.Context, su *types.StatusUpdate) error
	ProcessDisconnect(ctx context.Context, agentID string)
}

// AgentLookup reads agent records
type AgentLookup interface {
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
}

// StatusSetter commits agent status changes, failing over their conversations
// when they become unavailable
type StatusSetter interface {
	SetAgentStatus(ctx context.Context, agentID string, status types.AgentStatus) error
}
