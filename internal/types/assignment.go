package types

import "time"

// AssignmentStrategy labels how an assignment was requested
type AssignmentStrategy string

const (
	StrategyBestMatch     AssignmentStrategy = "best_match"
	StrategyLoadBalanced  AssignmentStrategy = "load_balanced"
	StrategySkillBased    AssignmentStrategy = "skill_based"
	StrategyPriorityBased AssignmentStrategy = "priority_based"
)

// AssignmentRequest bundles a conversation snapshot with routing constraints.
// It is built per routing attempt and never persisted.
type AssignmentRequest struct {
	Conversation Conversation `json:"conversation"`

	RequiredSkills      []string `json:"requiredSkills,omitempty"`
	RequiredLanguages   []string `json:"requiredLanguages,omitempty"`
	RequiredDepartments []string `json:"requiredDepartments,omitempty"`
	ExcludeAgents       []string `json:"excludeAgents,omitempty"`

	PreferredAgentID     string             `json:"preferredAgentId,omitempty"`
	Strategy             AssignmentStrategy `json:"strategy,omitempty"`
	RespectBusinessHours bool               `json:"respectBusinessHours,omitempty"`
	Emergency            bool               `json:"emergency,omitempty"`
}

// NewAssignmentRequest builds a request for conv with defaults derived from it
func NewAssignmentRequest(conv Conversation) AssignmentRequest {
	req := AssignmentRequest{
		Conversation: conv,
		Strategy:     StrategyBestMatch,
	}
	if conv.Language != "" {
		req.RequiredLanguages = []string{conv.Language}
	}
	if conv.Department != "" {
		req.RequiredDepartments = []string{conv.Department}
	}
	return req
}

// AssignmentResult is the selector's answer for one request
type AssignmentResult struct {
	Agent                 Agent                  `json:"agent"`
	Assignment            ConversationAssignment `json:"assignment"`
	Score                 float64                `json:"score"`
	Reasoning             []string               `json:"reasoning"`
	EstimatedResponseTime *time.Duration         `json:"estimatedResponseTime,omitempty"`
}
