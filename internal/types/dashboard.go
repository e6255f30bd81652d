package types

import "time"

// Dashboard frame types
const (
	SnapshotGlobal     = "global_overview"
	SnapshotDepartment = "department_overview"
	FrameEvent         = "event"
)

// SnapshotSummary aggregates agents for the supervisor dashboard
type SnapshotSummary struct {
	TotalAgents         int                 `json:"totalAgents"`
	StatusBreakdown     map[AgentStatus]int `json:"statusBreakdown"`
	DepartmentBreakdown map[string]int      `json:"departmentBreakdown,omitempty"`
	OpenConversations   uint32              `json:"openConversations"`
	Capacity            uint32              `json:"capacity"`
}

// Snapshot is a periodic view of the agent directory sent to dashboards
type Snapshot struct {
	Type       string          `json:"type"` // "global_overview" or "department_overview"
	Department string          `json:"department,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Summary    SnapshotSummary `json:"summary"`
	Agents     []Agent         `json:"agents"`
}

// Summarize builds the summary for agents
func Summarize(agents []Agent, byDepartment bool) SnapshotSummary {
	s := SnapshotSummary{
		TotalAgents:     len(agents),
		StatusBreakdown: make(map[AgentStatus]int),
	}
	if byDepartment {
		s.DepartmentBreakdown = make(map[string]int)
	}
	for _, a := range agents {
		s.StatusBreakdown[a.Status]++
		s.OpenConversations += a.CurrentConversationCount
		s.Capacity += a.MaxConcurrentConversations
		if byDepartment {
			for _, d := range a.Departments {
				s.DepartmentBreakdown[d]++
			}
		}
	}
	return s
}
