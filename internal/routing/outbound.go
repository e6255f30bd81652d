package routing

import (
	"context"
	"strings"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/events"
	"github.com/pytake/backend/internal/types"
)

// SendMessage delivers an agent reply through the conversation's platform.
// Unknown platforms and bad templates are rejected before anything is sent.
func (o *Orchestrator) SendMessage(ctx context.Context, msg types.OutboundMessage) (*types.SendResult, error) {
	unlock := o.locks.Lock(msg.ConversationID)
	defer unlock()

	conv, err := o.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, apperr.BusinessRule("conversation %s is %s", conv.ID, conv.Status)
	}
	if o.platforms == nil {
		return nil, apperr.Validation("no client registered for platform %q", conv.Platform)
	}
	client, err := o.platforms.Get(conv.Platform)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(msg.Text)
	if msg.TemplateID != "" {
		if o.templates == nil {
			return nil, apperr.Validation("templates are not configured")
		}
		vars := templateVars(conv, msg.TemplateContext)
		text, err = o.templates.Render(ctx, msg.TemplateID, vars)
		if err != nil {
			return nil, err
		}
	}
	if text == "" {
		return nil, apperr.Validation("message text is required")
	}

	cctx, cancel := o.collaboratorCtx(ctx)
	messageID, err := client.SendMessage(cctx, conv, text)
	cancel()
	if err != nil {
		o.record("messages_failed_total", 1, map[string]string{"platform": string(conv.Platform)})
		return nil, apperr.FromContext("send "+string(conv.Platform)+" message", err)
	}
	sentAt := o.now()

	if msg.TemplateID != "" {
		if err := o.templates.RecordUsage(ctx, msg.TemplateID); err != nil {
			o.logger.Warn().Err(err).Str("template_id", msg.TemplateID).Msg("failed to record template usage")
		}
	}

	before, after, err := o.mutate(ctx, conv.ID, func(c *types.Conversation) error {
		c.LastAgentResponseAt = &sentAt
		c.LastMessageAt = sentAt
		c.MessageCount++
		c.UnreadCount = 0
		switch c.Status {
		case types.ConversationOpen, types.ConversationAssigned, types.ConversationPending:
			c.Status = types.ConversationActive
		}
		return nil
	})
	if err != nil {
		// The platform already accepted the message; surface the bookkeeping failure
		o.logger.Error().Err(err).
			Str("conversation_id", conv.ID).
			Str("platform_message_id", messageID).
			Msg("message sent but conversation update failed")
		return nil, err
	}

	agentID := msg.AgentID
	if agentID == "" && after.Assignment != nil {
		agentID = after.Assignment.AgentID
	}
	if before.Status != after.Status {
		o.emit(ctx, events.TypeConversationStatus, events.StatusChange{
			ConversationID: after.ID,
			AgentID:        agentID,
			From:           before.Status,
			To:             after.Status,
		})
	}
	// Downstream delivery-status tracking consumes this event from the broker
	o.emit(ctx, events.TypeMessageSent, events.MessageSent{
		ConversationID:    after.ID,
		Platform:          after.Platform,
		AgentID:           agentID,
		PlatformMessageID: messageID,
		TemplateID:        msg.TemplateID,
		SentAt:            sentAt,
	})
	o.record("messages_sent_total", 1, map[string]string{
		"platform": string(after.Platform),
		"template": boolTag(msg.TemplateID != ""),
	})
	if !before.AgentResponded() {
		o.record("first_response_seconds", sentAt.Sub(before.CreatedAt).Seconds(), map[string]string{
			"platform": string(after.Platform),
		})
	}

	return &types.SendResult{
		ConversationID:    after.ID,
		PlatformMessageID: messageID,
		SentAt:            sentAt,
	}, nil
}

// SendTypingIndicator shows the customer that an agent is typing
func (o *Orchestrator) SendTypingIndicator(ctx context.Context, conversationID string) error {
	conv, err := o.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if o.platforms == nil {
		return apperr.Validation("no client registered for platform %q", conv.Platform)
	}
	client, err := o.platforms.Get(conv.Platform)
	if err != nil {
		return err
	}
	cctx, cancel := o.collaboratorCtx(ctx)
	defer cancel()
	return apperr.FromContext("send typing indicator", client.SendTypingIndicator(cctx, conv))
}

// templateVars exposes conversation fields to templates; explicit values win
func templateVars(conv *types.Conversation, extra map[string]string) map[string]string {
	vars := map[string]string{
		"contact_name":  conv.ContactName,
		"contact_phone": conv.ContactPhone,
		"platform":      string(conv.Platform),
	}
	if conv.Assignment != nil {
		vars["agent_name"] = conv.Assignment.AgentName
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
