package assignment

import (
	"slices"

	"github.com/pytake/backend/internal/types"
)

// CanHandle reports whether agent may receive conv under req.
// It never fails: missing data counts as "does not match".
func CanHandle(agent *types.Agent, conv *types.Conversation, req *types.AssignmentRequest) bool {
	if agent == nil || conv == nil {
		return false
	}
	if agent.Status.Unavailable() {
		return false
	}
	if agent.Status != types.AgentAvailable && !agent.HasCapacity() {
		return false
	}
	if !agent.SupportsPlatform(conv.Platform) {
		return false
	}
	if req != nil {
		if slices.Contains(req.ExcludeAgents, agent.ID) {
			return false
		}
		if len(req.RequiredDepartments) > 0 && !intersects(agent.Departments, req.RequiredDepartments) {
			return false
		}
	}
	if conv.Priority == types.PriorityCritical && agent.PriorityLevel < types.CriticalPriorityLevel {
		return false
	}
	return true
}

// Eligible returns the agents that pass CanHandle, keeping input order
func Eligible(agents []types.Agent, conv *types.Conversation, req *types.AssignmentRequest) []types.Agent {
	out := make([]types.Agent, 0, len(agents))
	for i := range agents {
		if CanHandle(&agents[i], conv, req) {
			out = append(out, agents[i])
		}
	}
	return out
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}
