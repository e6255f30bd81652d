package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/assignment"
	"github.com/pytake/backend/internal/events"
	"github.com/pytake/backend/internal/notification"
	"github.com/pytake/backend/internal/storage"
	"github.com/pytake/backend/internal/types"
)

// Custom fields written on escalation
const (
	FieldEscalationReason = "escalation_reason"
	FieldEscalatedBy      = "escalated_by"
	FieldEscalatedAt      = "escalated_at"
)

// HandleAgentUnavailable moves a conversation away from an agent that can no
// longer work it. When nobody else is eligible the conversation keeps its
// agent and supervisors are told.
func (o *Orchestrator) HandleAgentUnavailable(ctx context.Context, agentID, conversationID string) (*types.AssignmentResult, error) {
	unlock := o.locks.Lock(conversationID)
	defer unlock()
	return o.failover(ctx, agentID, conversationID)
}

func (o *Orchestrator) failover(ctx context.Context, agentID, conversationID string) (*types.AssignmentResult, error) {
	conv, err := o.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Assignment == nil || conv.Assignment.AgentID != agentID || conv.Status.Terminal() {
		return nil, nil
	}

	req := types.NewAssignmentRequest(*conv)
	req.ExcludeAgents = []string{agentID}
	req.Emergency = conv.Status == types.ConversationEscalated

	resolution := o.rules.Resolve(&req)
	result, err := o.selector.FindBestAgent(ctx, &req)
	if err != nil {
		o.record("assignment_errors_total", 1, map[string]string{"reason": string(types.ReasonTransfer)})
		return nil, err
	}
	if result == nil {
		o.unavailable(ctx, conv, &req, agentID)
		return nil, nil
	}
	return o.commit(ctx, conv, &req, result, resolution.Rule, types.ReasonTransfer, nil)
}

// commit persists a chosen agent and emits the assignment side effects.
// Callers hold the conversation lock.
func (o *Orchestrator) commit(ctx context.Context, conv *types.Conversation, req *types.AssignmentRequest, result *types.AssignmentResult, rule *types.AssignmentRule, reason types.AssignmentReason, assignedBy *string) (*types.AssignmentResult, error) {
	result.Assignment.Reason = reason
	result.Assignment.AssignedBy = assignedBy

	previous := ""
	if conv.Assignment != nil {
		previous = conv.Assignment.AgentID
	}

	_, after, err := o.mutate(ctx, conv.ID, func(c *types.Conversation) error {
		if c.Version != conv.Version {
			return apperr.Conflict("conversation %s changed during assignment", c.ID)
		}
		c.Priority = req.Conversation.Priority
		c.Tags = req.Conversation.Tags
		c.Assign(result.Assignment)
		return nil
	})
	if err != nil {
		return nil, err
	}
	*conv = *after

	ruleID := ""
	if rule != nil {
		ruleID = rule.ID
	}
	o.assigned(ctx, after, result, previous, ruleID, req)
	return result, nil
}

// SetAgentStatus commits an agent's status change. Going offline or on break
// fails over every conversation the agent still holds; failover problems are
// logged and do not fail the status change.
func (o *Orchestrator) SetAgentStatus(ctx context.Context, agentID string, status types.AgentStatus) error {
	if agentID == "" {
		return apperr.Validation("agent id is required")
	}
	if !status.Valid() {
		return apperr.Validation("invalid agent status %q", status)
	}

	cctx, cancel := o.collaboratorCtx(ctx)
	previous, err := o.directory.SetStatus(cctx, agentID, status)
	cancel()
	if err != nil {
		return apperr.FromContext("set agent status", err)
	}

	o.emit(ctx, events.TypeAgentStatusChanged, events.AgentStatus{AgentID: agentID, From: previous, To: status})
	o.logger.Info().
		Str("agent_id", agentID).
		Str("from", string(previous)).
		Str("to", string(status)).
		Msg("agent status changed")

	if !status.Unavailable() || previous.Unavailable() {
		return nil
	}

	moved, err := o.failoverAgent(ctx, agentID)
	if err != nil {
		o.logger.Error().Err(err).Str("agent_id", agentID).Msg("failover incomplete")
		return nil
	}
	if moved > 0 {
		o.logger.Info().Str("agent_id", agentID).Int("moved", moved).Msg("conversations failed over")
	}
	return nil
}

// failoverAgent reassigns every open conversation of agentID and returns how many moved
func (o *Orchestrator) failoverAgent(ctx context.Context, agentID string) (int, error) {
	cctx, cancel := o.collaboratorCtx(ctx)
	convs, err := o.store.List(cctx, storage.Filter{
		AgentID: agentID,
		Statuses: []types.ConversationStatus{
			types.ConversationAssigned,
			types.ConversationActive,
			types.ConversationPending,
			types.ConversationEscalated,
		},
	})
	cancel()
	if err != nil {
		return 0, apperr.FromContext("list agent conversations", err)
	}

	var errs []error
	moved := 0
	for _, c := range convs {
		res, err := o.HandleAgentUnavailable(ctx, agentID, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("conversation %s: %w", c.ID, err))
			continue
		}
		if res != nil {
			moved++
		}
	}
	return moved, errors.Join(errs...)
}

// EscalateConversation raises a conversation to critical priority. When the
// current agent is not senior enough, or nobody holds it, the conversation is
// rerouted as an emergency.
func (o *Orchestrator) EscalateConversation(ctx context.Context, conversationID, reason, escalatedBy, department string) (*types.Conversation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("escalation reason is required")
	}

	unlock := o.locks.Lock(conversationID)
	defer unlock()

	now := o.now()
	before, after, err := o.mutate(ctx, conversationID, func(c *types.Conversation) error {
		if c.Status.Terminal() {
			return apperr.BusinessRule("conversation %s is %s", c.ID, c.Status)
		}
		c.Status = types.ConversationEscalated
		c.Priority = types.PriorityCritical
		if c.CustomFields == nil {
			c.CustomFields = map[string]string{}
		}
		c.CustomFields[FieldEscalationReason] = reason
		c.CustomFields[FieldEscalatedBy] = escalatedBy
		c.CustomFields[FieldEscalatedAt] = now.UTC().Format(time.RFC3339)
		if department != "" {
			c.Department = department
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	agentID := ""
	if after.Assignment != nil {
		agentID = after.Assignment.AgentID
	}
	o.emit(ctx, events.TypeConversationEscalated, events.Escalation{
		ConversationID: after.ID,
		Reason:         reason,
		EscalatedBy:    escalatedBy,
		Department:     after.Department,
	})
	if before.Status != after.Status {
		o.emit(ctx, events.TypeConversationStatus, events.StatusChange{
			ConversationID: after.ID,
			AgentID:        agentID,
			From:           before.Status,
			To:             after.Status,
		})
	}
	o.notify(ctx, notification.Notification{
		Type:      notification.TypeConversationEscalated,
		Title:     "Conversation escalated",
		Body:      fmt.Sprintf("%s: %s", displayName(after), reason),
		Recipient: notification.Supervisors,
		Priority:  notification.PriorityHigh,
		Metadata: map[string]string{
			"conversation_id": after.ID,
			"escalated_by":    escalatedBy,
			"agent_id":        agentID,
		},
	})
	o.record("escalations_total", 1, map[string]string{"platform": string(after.Platform)})
	o.logger.Info().
		Str("conversation_id", after.ID).
		Str("agent_id", agentID).
		Str("escalated_by", escalatedBy).
		Msg("conversation escalated")

	if !o.needsSeniorAgent(ctx, after) {
		return after, nil
	}

	req := types.NewAssignmentRequest(*after)
	req.Emergency = true
	if agentID != "" {
		req.ExcludeAgents = []string{agentID}
	}
	resolution := o.rules.Resolve(&req)
	result, err := o.selector.FindBestAgent(ctx, &req)
	if err != nil {
		// The escalation itself is committed
		o.logger.Warn().Err(err).Str("conversation_id", after.ID).Msg("escalation reroute failed")
		return after, nil
	}
	if result == nil {
		o.unavailable(ctx, after, &req, agentID)
		return after, nil
	}
	if _, err := o.commit(ctx, after, &req, result, resolution.Rule, types.ReasonEscalation, nil); err != nil {
		o.logger.Warn().Err(err).Str("conversation_id", after.ID).Msg("escalation reroute failed")
	}
	return after, nil
}

func (o *Orchestrator) needsSeniorAgent(ctx context.Context, conv *types.Conversation) bool {
	if conv.Assignment == nil {
		return true
	}
	cctx, cancel := o.collaboratorCtx(ctx)
	agent, err := o.directory.GetAgent(cctx, conv.Assignment.AgentID)
	cancel()
	if err != nil {
		if !apperr.Is(err, apperr.CodeNotFound) {
			o.logger.Warn().Err(err).Str("agent_id", conv.Assignment.AgentID).Msg("failed to load escalated agent")
		}
		return true
	}
	return agent.PriorityLevel < types.CriticalPriorityLevel
}

// TransferConversation hands a conversation to a named agent
func (o *Orchestrator) TransferConversation(ctx context.Context, conversationID, toAgentID, transferredBy, note string) (*types.AssignmentResult, error) {
	return o.assignTo(ctx, conversationID, toAgentID, transferredBy, note, types.ReasonTransfer)
}

// AssignManually assigns a conversation to a named agent on a supervisor's behalf
func (o *Orchestrator) AssignManually(ctx context.Context, conversationID, agentID, assignedBy string) (*types.AssignmentResult, error) {
	return o.assignTo(ctx, conversationID, agentID, assignedBy, "", types.ReasonManualAssignment)
}

func (o *Orchestrator) assignTo(ctx context.Context, conversationID, agentID, by, note string, reason types.AssignmentReason) (*types.AssignmentResult, error) {
	if agentID == "" {
		return nil, apperr.Validation("target agent id is required")
	}
	if by == "" {
		return nil, apperr.Validation("acting user is required")
	}

	unlock := o.locks.Lock(conversationID)
	defer unlock()

	conv, err := o.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, apperr.BusinessRule("conversation %s is %s", conv.ID, conv.Status)
	}
	if conv.Assignment != nil && conv.Assignment.AgentID == agentID {
		return nil, apperr.BusinessRule("conversation %s is already assigned to %s", conv.ID, agentID)
	}

	cctx, cancel := o.collaboratorCtx(ctx)
	agent, err := o.directory.GetAgent(cctx, agentID)
	cancel()
	if err != nil {
		return nil, apperr.FromContext("get agent", err)
	}

	// Targeted moves skip department and language matching but keep the hard limits
	req := types.AssignmentRequest{Conversation: *conv, Strategy: types.StrategyBestMatch}
	if !assignment.CanHandle(agent, conv, &req) {
		return nil, apperr.BusinessRule("agent %s cannot take conversation %s", agentID, conv.ID)
	}

	result := &types.AssignmentResult{
		Agent: *agent,
		Assignment: types.ConversationAssignment{
			AgentID:    agent.ID,
			AgentName:  agent.Name,
			AssignedAt: o.now(),
		},
		Score:     assignment.Score(agent, conv, &req),
		Reasoning: []string{fmt.Sprintf("%s by %s", reason, by)},
	}
	actor := by
	if _, err := o.commit(ctx, conv, &req, result, nil, reason, &actor); err != nil {
		return nil, err
	}

	if note != "" {
		o.notify(ctx, notification.Notification{
			Type:      notification.TypeConversationTransferred,
			Title:     "Transfer note from " + by,
			Body:      note,
			Recipient: agent.ID,
			Priority:  notificationPriority(conv.Priority),
			Metadata:  map[string]string{"conversation_id": conv.ID},
		})
	}
	metric := "manual_assignments_total"
	if reason == types.ReasonTransfer {
		metric = "transfers_total"
	}
	o.record(metric, 1, map[string]string{"platform": string(conv.Platform)})
	return result, nil
}

var settableStatuses = map[types.ConversationStatus]bool{
	types.ConversationPending:  true,
	types.ConversationActive:   true,
	types.ConversationClosed:   true,
	types.ConversationArchived: true,
}

// UpdateConversationStatus applies an agent or supervisor status change.
// Closed conversations may only move on to archived.
func (o *Orchestrator) UpdateConversationStatus(ctx context.Context, conversationID string, status types.ConversationStatus) (*types.Conversation, error) {
	if !settableStatuses[status] {
		return nil, apperr.Validation("status %q cannot be set directly", status)
	}

	unlock := o.locks.Lock(conversationID)
	defer unlock()

	current, err := o.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}

	before, after, err := o.mutate(ctx, conversationID, func(c *types.Conversation) error {
		if c.Status.Terminal() && !(c.Status == types.ConversationClosed && status == types.ConversationArchived) {
			return apperr.BusinessRule("conversation %s is %s", c.ID, c.Status)
		}
		c.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	agentID := ""
	if after.Assignment != nil {
		agentID = after.Assignment.AgentID
	}
	o.emit(ctx, events.TypeConversationStatus, events.StatusChange{
		ConversationID: after.ID,
		AgentID:        agentID,
		From:           before.Status,
		To:             after.Status,
	})
	o.record("status_changes_total", 1, map[string]string{"to": string(after.Status)})
	return after, nil
}
