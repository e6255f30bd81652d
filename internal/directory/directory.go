// Package directory holds agent records. The routing core reads snapshots from it;
// status and load changes are committed here, never by the router itself.
package directory

import (
	"context"

	"github.com/pytake/backend/internal/types"
)

// Directory is the agent directory collaborator
type Directory interface {
	// ListAvailableAgents returns agents that are not offline or on break
	ListAvailableAgents(ctx context.Context) ([]types.Agent, error)
	ListAgents(ctx context.Context) ([]types.Agent, error)
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	// SetStatus commits a status change and returns the previous status
	SetStatus(ctx context.Context, id string, status types.AgentStatus) (types.AgentStatus, error)
	UpsertAgent(ctx context.Context, agent types.Agent) error
	// AdjustLoad changes the agent's current conversation count by delta, never below zero
	AdjustLoad(ctx context.Context, id string, delta int) error
}

func available(agents []types.Agent) []types.Agent {
	out := make([]types.Agent, 0, len(agents))
	for _, a := range agents {
		if !a.Status.Unavailable() {
			out = append(out, a)
		}
	}
	return out
}

func applyDelta(cur uint32, delta int) uint32 {
	n := int64(cur) + int64(delta)
	if n < 0 {
		return 0
	}
	return uint32(n)
}
