// Package events carries conversation lifecycle events to in-process
// subscribers and external brokers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pytake/backend/internal/types"
)

// Event types
const (
	TypeMessageReceived         = "message_received"
	TypeMessageSent             = "message_sent"
	TypeConversationAssigned    = "conversation_assigned"
	TypeConversationTransferred = "conversation_transferred"
	TypeConversationEscalated   = "conversation_escalated"
	TypeConversationStatus      = "conversation_status_changed"
	TypeAssignmentUnavailable   = "assignment_unavailable"
	TypeSLABreached             = "sla_breached"
	TypeAgentStatusChanged      = "agent_status_changed"
)

type Meta struct {
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name, e.g. conversation_assigned
	Type string `json:"type"`
}

type Envelope struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// New wraps data in an envelope stamped with a fresh id
func New(eventType, producer string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	env := Envelope{
		Meta: Meta{
			ID:   uuid.NewString(),
			Time: time.Now().UTC(),
			Type: eventType,
		},
		Data: raw,
	}
	if producer != "" {
		env.Meta.Producer = &producer
	}
	return env, nil
}

// WithCorrelation returns a copy of env correlated to id
func (e Envelope) WithCorrelation(id string) Envelope {
	if id != "" {
		e.Meta.CorrelationID = &id
	}
	return e
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", e.Meta.Type, err)
	}
	return nil
}

// RoutingKey is the broker key for an event, e.g. conversations.conversation_assigned
func RoutingKey(eventType string) string {
	return "conversations." + eventType
}

// MessageReceived is emitted for every inbound customer message
type MessageReceived struct {
	ConversationID string         `json:"conversationId"`
	Platform       types.Platform `json:"platform"`
	ContactID      string         `json:"contactId"`
	Text           string         `json:"text"`
	Created        bool           `json:"created"`
	ReceivedAt     time.Time      `json:"receivedAt"`
}

// MessageSent is emitted after a platform accepted an outbound message
type MessageSent struct {
	ConversationID    string         `json:"conversationId"`
	Platform          types.Platform `json:"platform"`
	AgentID           string         `json:"agentId,omitempty"`
	PlatformMessageID string         `json:"platformMessageId"`
	TemplateID        string         `json:"templateId,omitempty"`
	SentAt            time.Time      `json:"sentAt"`
}

// Assignment is emitted when a conversation gains or changes its agent
type Assignment struct {
	ConversationID  string                       `json:"conversationId"`
	Platform        types.Platform               `json:"platform"`
	Priority        types.Priority               `json:"priority"`
	PreviousAgentID string                       `json:"previousAgentId,omitempty"`
	Assignment      types.ConversationAssignment `json:"assignment"`
	Score           float64                      `json:"score,omitempty"`
	RuleID          string                       `json:"ruleId,omitempty"`
}

// Escalation is emitted when a conversation is escalated
type Escalation struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
	EscalatedBy    string `json:"escalatedBy"`
	Department     string `json:"department,omitempty"`
}

// StatusChange is emitted when a conversation moves between lifecycle states
type StatusChange struct {
	ConversationID string                   `json:"conversationId"`
	AgentID        string                   `json:"agentId,omitempty"`
	From           types.ConversationStatus `json:"from"`
	To             types.ConversationStatus `json:"to"`
}

// Unavailable is emitted when no agent could take a conversation
type Unavailable struct {
	ConversationID string         `json:"conversationId"`
	Platform       types.Platform `json:"platform"`
	Priority       types.Priority `json:"priority"`
	ExcludedAgent  string         `json:"excludedAgent,omitempty"`
}

// SLABreach is emitted once per conversation whose SLA elapsed without an agent reply
type SLABreach struct {
	ConversationID string    `json:"conversationId"`
	AgentID        string    `json:"agentId,omitempty"`
	Deadline       time.Time `json:"deadline"`
}

// AgentStatus is emitted when an agent's availability changes
type AgentStatus struct {
	AgentID string            `json:"agentId"`
	From    types.AgentStatus `json:"from"`
	To      types.AgentStatus `json:"to"`
}
