package routing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/events"
	"github.com/pytake/backend/internal/notification"
	"github.com/pytake/backend/internal/platform"
	"github.com/pytake/backend/internal/types"
)

// InboundResult reports what an inbound message did
type InboundResult struct {
	Conversation *types.Conversation
	Created      bool
	// Assignment is set when the message triggered a successful auto-assignment
	Assignment *types.AssignmentResult
}

// HandleInboundMessage finds or creates the conversation for msg, records the
// message and tries to auto-assign the conversation when it is open and unassigned.
// An assignment failure does not fail the message; the sweeper retries it.
func (o *Orchestrator) HandleInboundMessage(ctx context.Context, msg types.InboundMessage) (*InboundResult, error) {
	if !msg.Platform.Valid() {
		return nil, apperr.Validation("unknown platform %q", msg.Platform)
	}
	if msg.PlatformConversationID == "" {
		return nil, apperr.Validation("platform conversation id is required")
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = o.now()
	}

	unlock := o.locks.Lock("platform:" + types.PlatformKeyOf(msg.Platform, msg.PlatformConversationID))
	conv, created, err := o.recordInbound(ctx, msg)
	unlock()
	if err != nil {
		return nil, err
	}

	log := o.logger.With().Str("conversation_id", conv.ID).Str("platform", string(conv.Platform)).Logger()
	log.Debug().Bool("created", created).Uint32("message_count", conv.MessageCount).Msg("inbound message recorded")

	o.emit(ctx, events.TypeMessageReceived, events.MessageReceived{
		ConversationID: conv.ID,
		Platform:       conv.Platform,
		ContactID:      conv.ContactID,
		Text:           msg.Text,
		Created:        created,
		ReceivedAt:     msg.ReceivedAt,
	})
	o.record("messages_received_total", 1, map[string]string{"platform": string(conv.Platform)})

	result := &InboundResult{Conversation: conv, Created: created}

	if conv.Assignment != nil {
		o.notify(ctx, notification.Notification{
			Type:      notification.TypeNewMessage,
			Title:     "New message from " + displayName(conv),
			Body:      msg.Text,
			Recipient: conv.Assignment.AgentID,
			Priority:  notificationPriority(conv.Priority),
			Metadata:  map[string]string{"conversation_id": conv.ID},
		})
		return result, nil
	}

	if conv.Routable() {
		res, err := o.AutoAssignConversation(ctx, conv.ID)
		if err != nil {
			log.Warn().Err(err).Msg("auto-assignment failed, leaving conversation open")
			return result, nil
		}
		if res != nil {
			result.Assignment = res
			if latest, err := o.GetConversation(ctx, conv.ID); err == nil {
				result.Conversation = latest
			}
		}
	}
	return result, nil
}

// recordInbound runs under the platform-key lock
func (o *Orchestrator) recordInbound(ctx context.Context, msg types.InboundMessage) (*types.Conversation, bool, error) {
	cctx, cancel := o.collaboratorCtx(ctx)
	existing, err := o.store.GetByPlatformID(cctx, msg.Platform, msg.PlatformConversationID)
	cancel()

	switch {
	case apperr.Is(err, apperr.CodeNotFound):
		conv := o.newConversation(msg)
		cctx, cancel := o.collaboratorCtx(ctx)
		err := o.store.Create(cctx, conv)
		cancel()
		if err == nil {
			return conv, true, nil
		}
		if !apperr.Is(err, apperr.CodeConflict) {
			return nil, false, apperr.FromContext("create conversation", err)
		}
		// Another replica created it first; record the message on theirs
		cctx, cancel = o.collaboratorCtx(ctx)
		existing, err = o.store.GetByPlatformID(cctx, msg.Platform, msg.PlatformConversationID)
		cancel()
		if err != nil {
			return nil, false, apperr.FromContext("get conversation", err)
		}
	case err != nil:
		return nil, false, apperr.FromContext("get conversation", err)
	}

	unlock := o.locks.Lock(existing.ID)
	defer unlock()

	before, after, err := o.mutate(ctx, existing.ID, func(c *types.Conversation) error {
		c.MessageCount++
		c.UnreadCount++
		c.LastMessageAt = msg.ReceivedAt
		c.AddTags(msg.Tags...)
		if msg.PlatformMessageID != "" {
			if c.CustomFields == nil {
				c.CustomFields = map[string]string{}
			}
			c.CustomFields[platform.LastMessageField] = msg.PlatformMessageID
		}
		// A message on a finished conversation reopens it for routing
		if c.Status.Terminal() {
			c.Status = types.ConversationOpen
			c.Assignment = nil
			c.LastAgentResponseAt = nil
			c.SLABreached = false
			c.SLASeconds = msg.SLASeconds
			c.CreatedAt = msg.ReceivedAt
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if before.Status != after.Status {
		o.emit(ctx, events.TypeConversationStatus, events.StatusChange{
			ConversationID: after.ID,
			From:           before.Status,
			To:             after.Status,
		})
	}
	return after, false, nil
}

func (o *Orchestrator) newConversation(msg types.InboundMessage) *types.Conversation {
	priority := msg.Priority
	if priority == 0 {
		priority = types.PriorityNormal
	}
	contactID := msg.ContactID
	if contactID == "" {
		contactID = msg.PlatformConversationID
	}
	conv := &types.Conversation{
		ID:                     uuid.NewString(),
		Platform:               msg.Platform,
		PlatformConversationID: msg.PlatformConversationID,
		ContactID:              contactID,
		ContactName:            msg.ContactName,
		ContactPhone:           msg.ContactPhone,
		Status:                 types.ConversationOpen,
		Priority:               priority,
		Department:             msg.Department,
		Language:               msg.Language,
		CustomerSegment:        msg.CustomerSegment,
		CreatedAt:              msg.ReceivedAt,
		UpdatedAt:              msg.ReceivedAt,
		LastMessageAt:          msg.ReceivedAt,
		SLASeconds:             msg.SLASeconds,
		MessageCount:           1,
		UnreadCount:            1,
	}
	conv.AddTags(msg.Tags...)
	if msg.PlatformMessageID != "" {
		conv.CustomFields = map[string]string{platform.LastMessageField: msg.PlatformMessageID}
	}
	return conv
}

// AutoAssignConversation routes an unassigned conversation through the rules
// and the selector. It returns nil without error when the conversation is
// already assigned, not routable, or no agent is eligible.
// Escalated conversations that lost their agent are routed with reason escalation.
func (o *Orchestrator) AutoAssignConversation(ctx context.Context, id string) (*types.AssignmentResult, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	conv, err := o.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Assignment != nil {
		return nil, nil
	}

	reason := types.ReasonAutoAssignment
	switch conv.Status {
	case types.ConversationOpen:
	case types.ConversationEscalated:
		reason = types.ReasonEscalation
	default:
		return nil, nil
	}

	req := types.NewAssignmentRequest(*conv)
	req.RespectBusinessHours = o.cfg.RespectBusinessHours
	req.Emergency = conv.Status == types.ConversationEscalated
	return o.assign(ctx, conv, &req, reason, nil)
}

// assign resolves rules, selects an agent and commits the assignment.
// Callers hold the conversation lock.
func (o *Orchestrator) assign(ctx context.Context, conv *types.Conversation, req *types.AssignmentRequest, reason types.AssignmentReason, assignedBy *string) (*types.AssignmentResult, error) {
	resolution := o.rules.Resolve(req)

	result, err := o.selector.FindBestAgent(ctx, req)
	if err != nil {
		o.record("assignment_errors_total", 1, map[string]string{"reason": string(reason)})
		return nil, err
	}

	if result == nil {
		o.unavailable(ctx, conv, req, "")
		return nil, nil
	}

	if _, err := o.commit(ctx, conv, req, result, resolution.Rule, reason, assignedBy); err != nil {
		return nil, err
	}

	ruleID := ""
	if resolution.Rule != nil {
		ruleID = resolution.Rule.ID
	}
	if resolution.Notify {
		o.notify(ctx, notification.Notification{
			Type:      notification.TypeConversationAssigned,
			Title:     fmt.Sprintf("Rule %s routed a conversation", ruleID),
			Body:      fmt.Sprintf("Conversation with %s assigned to %s", displayName(conv), result.Agent.Name),
			Recipient: notification.Supervisors,
			Priority:  notificationPriority(conv.Priority),
			Metadata: map[string]string{
				"conversation_id": conv.ID,
				"agent_id":        result.Agent.ID,
				"rule_id":         ruleID,
			},
		})
	}
	return result, nil
}

// assigned emits the side effects of a committed assignment
func (o *Orchestrator) assigned(ctx context.Context, conv *types.Conversation, result *types.AssignmentResult, previous, ruleID string, req *types.AssignmentRequest) {
	eventType := events.TypeConversationAssigned
	if previous != "" {
		eventType = events.TypeConversationTransferred
	}
	o.emit(ctx, eventType, events.Assignment{
		ConversationID:  conv.ID,
		Platform:        conv.Platform,
		Priority:        conv.Priority,
		PreviousAgentID: previous,
		Assignment:      result.Assignment,
		Score:           result.Score,
		RuleID:          ruleID,
	})

	priority := notificationPriority(conv.Priority)
	if req != nil && req.Emergency {
		priority = notification.PriorityUrgent
	}
	o.notify(ctx, notification.Notification{
		Type:      notification.TypeConversationAssigned,
		Title:     "Conversation assigned to you",
		Body:      fmt.Sprintf("%s on %s", displayName(conv), conv.Platform),
		Recipient: result.Assignment.AgentID,
		Priority:  priority,
		Metadata: map[string]string{
			"conversation_id": conv.ID,
			"reason":          string(result.Assignment.Reason),
			"score":           strconv.FormatFloat(result.Score, 'f', 3, 64),
		},
	})

	strategy := string(types.StrategyBestMatch)
	if req != nil && req.Strategy != "" {
		strategy = string(req.Strategy)
	}
	o.record("assignments_total", 1, map[string]string{
		"reason":   string(result.Assignment.Reason),
		"strategy": strategy,
		"platform": string(conv.Platform),
	})
	o.record("assignment_score", result.Score, map[string]string{"reason": string(result.Assignment.Reason)})

	o.logger.Info().
		Str("conversation_id", conv.ID).
		Str("agent_id", result.Assignment.AgentID).
		Str("previous_agent_id", previous).
		Str("reason", string(result.Assignment.Reason)).
		Float64("score", result.Score).
		Msg("conversation assigned")
}

// unavailable handles a routing attempt that found nobody
func (o *Orchestrator) unavailable(ctx context.Context, conv *types.Conversation, req *types.AssignmentRequest, excluded string) {
	o.emit(ctx, events.TypeAssignmentUnavailable, events.Unavailable{
		ConversationID: conv.ID,
		Platform:       conv.Platform,
		Priority:       req.Conversation.Priority,
		ExcludedAgent:  excluded,
	})

	priority := notification.PriorityHigh
	if req.Emergency || req.Conversation.Priority >= types.PriorityUrgent {
		priority = notification.PriorityUrgent
	}
	o.notify(ctx, notification.Notification{
		Type:      notification.TypeAssignmentUnavailable,
		Title:     "No agent available",
		Body:      fmt.Sprintf("Conversation with %s on %s is waiting for an agent", displayName(conv), conv.Platform),
		Recipient: notification.Supervisors,
		Priority:  priority,
		Metadata: map[string]string{
			"conversation_id": conv.ID,
			"priority":        req.Conversation.Priority.String(),
			"excluded_agent":  excluded,
		},
	})
	o.record("assignment_unavailable_total", 1, map[string]string{"platform": string(conv.Platform)})

	o.logger.Info().
		Str("conversation_id", conv.ID).
		Str("excluded_agent", excluded).
		Msg("no eligible agent")
}

func displayName(conv *types.Conversation) string {
	if conv.ContactName != "" {
		return conv.ContactName
	}
	return conv.ContactID
}

func notificationPriority(p types.Priority) notification.Priority {
	switch {
	case p >= types.PriorityCritical:
		return notification.PriorityUrgent
	case p >= types.PriorityHigh:
		return notification.PriorityHigh
	case p <= types.PriorityLow:
		return notification.PriorityLow
	}
	return notification.PriorityNormal
}
