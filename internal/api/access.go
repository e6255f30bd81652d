package api

import (
	"github.com/pytake/backend/internal/auth"
	"github.com/pytake/backend/internal/types"
)

func isSupervisor(c *auth.Claims) bool {
	return c.Role == auth.RoleAdmin || c.Role == auth.RoleSupervisor
}

// canView reports whether the caller may read conv. Agents see the
// conversations they hold; supervisors see their departments.
func canView(c *auth.Claims, conv *types.Conversation) bool {
	if c.Role == auth.RoleAgent {
		return conv.Assignment != nil && conv.Assignment.AgentID == c.Subject
	}
	return conv.Department == "" || c.IsDepartmentAllowed(conv.Department)
}

// canWork reports whether the caller may act on conv
func canWork(c *auth.Claims, conv *types.Conversation) bool {
	switch c.Role {
	case auth.RoleAdmin, auth.RoleSupervisor, auth.RoleAgent:
		return canView(c, conv)
	}
	return false
}

// canViewAgent reports whether the caller may read agent records of a
func canViewAgent(c *auth.Claims, a *types.Agent) bool {
	if c.Role == auth.RoleAgent {
		return a.ID == c.Subject
	}
	return len(a.Departments) == 0 || c.IsDepartmentAllowed(a.Departments...)
}
