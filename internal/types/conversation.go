package types

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Platform identifies a messaging platform
type Platform string

const (
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformInstagram Platform = "instagram"
	PlatformWebchat   Platform = "webchat"
	PlatformTelegram  Platform = "telegram"
	PlatformMessenger Platform = "facebook_messenger"
	PlatformSMS       Platform = "sms"
	PlatformEmail     Platform = "email"
)

// AllPlatforms lists every known platform
var AllPlatforms = []Platform{
	PlatformWhatsApp,
	PlatformInstagram,
	PlatformWebchat,
	PlatformTelegram,
	PlatformMessenger,
	PlatformSMS,
	PlatformEmail,
}

// Valid reports whether p is a known platform
func (p Platform) Valid() bool {
	return slices.Contains(AllPlatforms, p)
}

// ConversationStatus represents the lifecycle state of a conversation
type ConversationStatus string

const (
	ConversationOpen      ConversationStatus = "open"
	ConversationAssigned  ConversationStatus = "assigned"
	ConversationActive    ConversationStatus = "active"
	ConversationPending   ConversationStatus = "pending"
	ConversationClosed    ConversationStatus = "closed"
	ConversationArchived  ConversationStatus = "archived"
	ConversationEscalated ConversationStatus = "escalated"
)

// Valid reports whether s is a known status
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationOpen, ConversationAssigned, ConversationActive, ConversationPending,
		ConversationClosed, ConversationArchived, ConversationEscalated:
		return true
	}
	return false
}

// Terminal reports whether the conversation no longer takes part in routing
func (s ConversationStatus) Terminal() bool {
	return s == ConversationClosed || s == ConversationArchived
}

// Priority is the ordered urgency of a conversation
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityUrgent:   "urgent",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a priority name into a Priority
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// MarshalText encodes the priority by name. The zero value encodes as "".
func (p Priority) MarshalText() ([]byte, error) {
	if p == 0 {
		return []byte{}, nil
	}
	if _, ok := priorityNames[p]; !ok {
		return nil, fmt.Errorf("unknown priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name
func (p *Priority) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = 0
		return nil
	}
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// AssignmentReason records why a conversation went to an agent
type AssignmentReason string

const (
	ReasonAutoAssignment   AssignmentReason = "auto_assignment"
	ReasonManualAssignment AssignmentReason = "manual_assignment"
	ReasonCustomerRequest  AssignmentReason = "customer_request"
	ReasonTransfer         AssignmentReason = "transfer"
	ReasonEscalation       AssignmentReason = "escalation"
	ReasonLoadBalancing    AssignmentReason = "load_balancing"
)

// ConversationAssignment is the persisted binding of a conversation to an agent.
// AssignedBy is nil when the system made the assignment.
type ConversationAssignment struct {
	AgentID    string           `json:"agentId" dynamodbav:"agentId"`
	AgentName  string           `json:"agentName" dynamodbav:"agentName"`
	AssignedAt time.Time        `json:"assignedAt" dynamodbav:"assignedAt"`
	AssignedBy *string          `json:"assignedBy" dynamodbav:"assignedBy"`
	Reason     AssignmentReason `json:"reason" dynamodbav:"reason"`
}

// Conversation is a customer interaction thread tied to one platform-native chat
type Conversation struct {
	ID                     string   `json:"id" dynamodbav:"conversationId"`
	Platform               Platform `json:"platform" dynamodbav:"platform"`
	PlatformConversationID string   `json:"platformConversationId" dynamodbav:"platformConversationId"`
	PlatformKey            string   `json:"-" dynamodbav:"platformKey"`

	ContactID    string `json:"contactId" dynamodbav:"contactId"`
	ContactName  string `json:"contactName,omitempty" dynamodbav:"contactName,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty" dynamodbav:"contactPhone,omitempty"`

	Status   ConversationStatus `json:"status" dynamodbav:"status"`
	Priority Priority           `json:"priority" dynamodbav:"priority"`

	Assignment *ConversationAssignment `json:"assignment,omitempty" dynamodbav:"assignment,omitempty"`

	Tags            []string          `json:"tags" dynamodbav:"tags"`
	Department      string            `json:"department,omitempty" dynamodbav:"department,omitempty"`
	Category        string            `json:"category,omitempty" dynamodbav:"category,omitempty"`
	Language        string            `json:"language,omitempty" dynamodbav:"language,omitempty"`
	CustomerSegment string            `json:"customerSegment,omitempty" dynamodbav:"customerSegment,omitempty"`
	CustomFields    map[string]string `json:"customFields,omitempty" dynamodbav:"customFields,omitempty"`

	CreatedAt           time.Time  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt" dynamodbav:"updatedAt"`
	LastMessageAt       time.Time  `json:"lastMessageAt" dynamodbav:"lastMessageAt"`
	LastAgentResponseAt *time.Time `json:"lastAgentResponseAt,omitempty" dynamodbav:"lastAgentResponseAt,omitempty"`
	SLASeconds          *int64     `json:"slaSeconds,omitempty" dynamodbav:"slaSeconds,omitempty"`
	SLABreached         bool       `json:"slaBreached" dynamodbav:"slaBreached"`

	MessageCount uint32 `json:"messageCount" dynamodbav:"messageCount"`
	UnreadCount  uint32 `json:"unreadCount" dynamodbav:"unreadCount"`

	Version int64 `json:"version" dynamodbav:"version"`
}

// PlatformKeyOf builds the lookup key for a platform-native conversation id
func PlatformKeyOf(p Platform, nativeID string) string {
	return string(p) + ":" + nativeID
}

// Routable reports whether the conversation should trigger auto-assignment
func (c *Conversation) Routable() bool {
	return c.Status == ConversationOpen && c.Assignment == nil
}

// Assign binds the conversation to an agent. The status moves to assigned
// unless the conversation is already further along.
func (c *Conversation) Assign(a ConversationAssignment) {
	c.Assignment = &a
	if c.Status == ConversationOpen || c.Status == ConversationPending {
		c.Status = ConversationAssigned
	}
}

// HasTag reports whether the conversation carries tag
func (c *Conversation) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// AddTags appends tags not already present, preserving order
func (c *Conversation) AddTags(tags ...string) {
	for _, t := range tags {
		if t != "" && !c.HasTag(t) {
			c.Tags = append(c.Tags, t)
		}
	}
}

// AgentResponded reports whether an agent has replied at least once
func (c *Conversation) AgentResponded() bool {
	return c.LastAgentResponseAt != nil
}

// SLADeadline returns when the SLA expires, if the conversation carries one
func (c *Conversation) SLADeadline() (time.Time, bool) {
	if c.SLASeconds == nil {
		return time.Time{}, false
	}
	return c.CreatedAt.Add(time.Duration(*c.SLASeconds) * time.Second), true
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Tags = slices.Clone(c.Tags)
	out.CustomFields = maps.Clone(c.CustomFields)
	if c.Assignment != nil {
		a := *c.Assignment
		if a.AssignedBy != nil {
			by := *a.AssignedBy
			a.AssignedBy = &by
		}
		out.Assignment = &a
	}
	if c.LastAgentResponseAt != nil {
		t := *c.LastAgentResponseAt
		out.LastAgentResponseAt = &t
	}
	if c.SLASeconds != nil {
		s := *c.SLASeconds
		out.SLASeconds = &s
	}
	return &out
}
