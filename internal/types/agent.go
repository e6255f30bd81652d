package types

import (
	"slices"
	"time"
)

// AgentStatus represents the availability of an agent
type AgentStatus string

const (
	AgentAvailable    AgentStatus = "available"
	AgentBusy         AgentStatus = "busy"
	AgentDoNotDisturb AgentStatus = "do_not_disturb"
	AgentAway         AgentStatus = "away"
	AgentOffline      AgentStatus = "offline"
	AgentBreak        AgentStatus = "break"
)

// AllAgentStatuses lists every known agent status
var AllAgentStatuses = []AgentStatus{
	AgentAvailable,
	AgentBusy,
	AgentDoNotDisturb,
	AgentAway,
	AgentOffline,
	AgentBreak,
}

// Valid reports whether s is a known status
func (s AgentStatus) Valid() bool {
	return slices.Contains(AllAgentStatuses, s)
}

// Unavailable reports whether the status removes the agent from routing entirely
func (s AgentStatus) Unavailable() bool {
	return s == AgentOffline || s == AgentBreak
}

// CriticalPriorityLevel is the minimum agent priority tier allowed to take critical conversations
const CriticalPriorityLevel = 7

// Agent is a read-only snapshot of a human operator as held by the agent directory
type Agent struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Email  string      `json:"email"`
	Status AgentStatus `json:"status"`

	Departments []string   `json:"departments"`
	Skills      []string   `json:"skills"`
	Languages   []string   `json:"languages"`
	Platforms   []Platform `json:"platforms"`

	MaxConcurrentConversations uint32 `json:"maxConcurrentConversations"`
	CurrentConversationCount   uint32 `json:"currentConversationCount"`

	PriorityLevel int `json:"priorityLevel"` // 1-10

	AvgResponseTime      *time.Duration `json:"avgResponseTime,omitempty"`
	SatisfactionRating   *float64       `json:"satisfactionRating,omitempty"` // 1.0-5.0
	ConversationsHandled uint64         `json:"conversationsHandled"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// HasCapacity reports whether the agent is below its concurrent conversation limit
func (a *Agent) HasCapacity() bool {
	return a.CurrentConversationCount < a.MaxConcurrentConversations
}

// SupportsPlatform reports whether the agent can work conversations on p
func (a *Agent) SupportsPlatform(p Platform) bool {
	return slices.Contains(a.Platforms, p)
}

// Clone returns a deep copy of the agent
func (a Agent) Clone() Agent {
	out := a
	out.Departments = slices.Clone(a.Departments)
	out.Skills = slices.Clone(a.Skills)
	out.Languages = slices.Clone(a.Languages)
	out.Platforms = slices.Clone(a.Platforms)
	if a.AvgResponseTime != nil {
		v := *a.AvgResponseTime
		out.AvgResponseTime = &v
	}
	if a.SatisfactionRating != nil {
		v := *a.SatisfactionRating
		out.SatisfactionRating = &v
	}
	return out
}
