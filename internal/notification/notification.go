// Package notification stores in-app notifications and fans them out to
// delivery channels (agent websockets, the supervisor dashboard, redis).
package notification

import (
	"time"
)

// Type names the event a notification is about
type Type string

const (
	TypeConversationAssigned    Type = "conversation_assigned"
	TypeConversationTransferred Type = "conversation_transferred"
	TypeConversationEscalated   Type = "conversation_escalated"
	TypeAssignmentUnavailable   Type = "assignment_unavailable"
	TypeSLABreached             Type = "sla_breached"
	TypeNewMessage              Type = "new_message"
)

// Priority of a notification
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Channel is a delivery route
type Channel string

const (
	ChannelInApp     Channel = "in_app"
	ChannelWebsocket Channel = "websocket"
	ChannelRedis     Channel = "redis"
)

// Supervisors is the shared recipient for supervisor-facing notifications
const Supervisors = "supervisors"

// Notification is one message to a recipient (an agent id or Supervisors)
type Notification struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Recipient string            `json:"recipient"`
	Priority  Priority          `json:"priority"`
	Channels  []Channel         `json:"channels"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	Read      bool              `json:"read"`
}
