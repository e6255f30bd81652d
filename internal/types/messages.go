package types

import "time"

// Agent socket message types
const (
	MsgRegister           = "register"
	MsgHeartbeat          = "heartbeat"
	MsgAck                = "ack"
	MsgError              = "error"
	MsgStatusUpdate       = "status_update"
	MsgConversationAssign = "conversation_assign"
	MsgConversationRevoke = "conversation_revoke"
	MsgNotification       = "notification"
	MsgForceDisconnect    = "force_disconnect"
)

// AgentRegister is sent from an agent client to bind its socket to an agent id
type AgentRegister struct {
	Type      string      `json:"type"` // "register"
	AgentID   string      `json:"agentId"`
	Status    AgentStatus `json:"status,omitempty"` // optional initial status
	Timestamp time.Time   `json:"timestamp"`
}

// AgentHeartbeat is sent from an agent client periodically
type AgentHeartbeat struct {
	Type      string    `json:"type"` // "heartbeat"
	AgentID   string    `json:"agentId"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerAck acknowledges a register message
type ServerAck struct {
	Type    string `json:"type"` // "ack"
	AgentID string `json:"agentId"`
}

// ServerError reports a rejected agent message
type ServerError struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// StatusUpdate is sent from an agent client when it changes availability
type StatusUpdate struct {
	Type      string      `json:"type"` // "status_update"
	AgentID   string      `json:"agentId"`
	Status    AgentStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConversationAssign is sent to an agent when a conversation is routed to them
type ConversationAssign struct {
	Type           string           `json:"type"` // "conversation_assign"
	AgentID        string           `json:"agentId"`
	ConversationID string           `json:"conversationId"`
	Platform       Platform         `json:"platform"`
	Priority       Priority         `json:"priority"`
	Reason         AssignmentReason `json:"reason"`
	Timestamp      time.Time        `json:"timestamp"`
}

// ConversationRevoke is sent to an agent when a conversation moves to someone else
type ConversationRevoke struct {
	Type           string `json:"type"` // "conversation_revoke"
	AgentID        string `json:"agentId"`
	ConversationID string `json:"conversationId"`
}

// ForceDisconnect is sent from backend to agent to force logout
type ForceDisconnect struct {
	Type    string `json:"type"` // "force_disconnect"
	AgentID string `json:"agentId"`
}

// InboundMessage is a customer message arriving from a platform webhook
type InboundMessage struct {
	Platform               Platform  `json:"platform"`
	PlatformConversationID string    `json:"platformConversationId"`
	PlatformMessageID      string    `json:"platformMessageId,omitempty"`
	ContactID              string    `json:"contactId"`
	ContactName            string    `json:"contactName,omitempty"`
	ContactPhone           string    `json:"contactPhone,omitempty"`
	Text                   string    `json:"text"`
	Language               string    `json:"language,omitempty"`
	Tags                   []string  `json:"tags,omitempty"`
	Department             string    `json:"department,omitempty"`
	CustomerSegment        string    `json:"customerSegment,omitempty"`
	Priority               Priority  `json:"priority,omitempty"`
	SLASeconds             *int64    `json:"slaSeconds,omitempty"`
	ReceivedAt             time.Time `json:"receivedAt"`
}

// OutboundMessage is an agent reply to send through a platform
type OutboundMessage struct {
	ConversationID  string            `json:"conversationId"`
	AgentID         string            `json:"agentId,omitempty"`
	Text            string            `json:"text,omitempty"`
	TemplateID      string            `json:"templateId,omitempty"`
	TemplateContext map[string]string `json:"templateContext,omitempty"`
}

// SendResult reports a delivered outbound message
type SendResult struct {
	ConversationID    string    `json:"conversationId"`
	PlatformMessageID string    `json:"platformMessageId"`
	SentAt            time.Time `json:"sentAt"`
}
