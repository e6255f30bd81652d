package alerts

import (
	"fmt"
	"time"

	"github.com/pytake/backend/internal/types"
)

// Severity of an SLA alert
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// criticalOverdue is how far past the deadline a breach turns critical
const criticalOverdue = 15 * time.Minute

// Breach describes a conversation whose SLA elapsed without an agent reply
type Breach struct {
	ConversationID string
	AgentID        string
	Priority       types.Priority
	Deadline       time.Time
	Overdue        time.Duration
	Severity       Severity
	Message        string
}

// CheckSLA returns the conversations among convs whose SLA has elapsed at now.
// Conversations already flagged, answered, closed or without an SLA are skipped.
func CheckSLA(convs []types.Conversation, now time.Time) []Breach {
	var out []Breach
	for i := range convs {
		c := &convs[i]
		if c.SLABreached || c.AgentResponded() || c.Status.Terminal() {
			continue
		}
		deadline, ok := c.SLADeadline()
		if !ok || !now.After(deadline) {
			continue
		}

		overdue := now.Sub(deadline)
		b := Breach{
			ConversationID: c.ID,
			Priority:       c.Priority,
			Deadline:       deadline,
			Overdue:        overdue,
			Severity:       SeverityWarning,
			Message:        fmt.Sprintf("No agent reply, SLA exceeded by %s", formatDuration(overdue)),
		}
		if c.Assignment != nil {
			b.AgentID = c.Assignment.AgentID
		}
		if overdue > criticalOverdue || c.Priority >= types.PriorityUrgent {
			b.Severity = SeverityCritical
		}
		out = append(out, b)
	}
	return out
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
