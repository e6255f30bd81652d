package directory

import (
	"context"

	"github.com/pytake/backend/internal/events"
	"github.com/rs/zerolog"
)

// LoadTracker keeps agents' current conversation counts in step with
// assignment and status events
type LoadTracker struct {
	dir    Directory
	logger zerolog.Logger
}

func NewLoadTracker(dir Directory, logger zerolog.Logger) *LoadTracker {
	return &LoadTracker{
		dir:    dir,
		logger: logger.With().Str("component", "load_tracker").Logger(),
	}
}

// Register subscribes the tracker to bus
func (t *LoadTracker) Register(bus *events.Bus) {
	bus.Subscribe(events.TypeConversationAssigned, t.onAssignment)
	bus.Subscribe(events.TypeConversationTransferred, t.onAssignment)
	bus.Subscribe(events.TypeConversationStatus, t.onStatus)
}

func (t *LoadTracker) onAssignment(ctx context.Context, env events.Envelope) {
	var e events.Assignment
	if err := env.Decode(&e); err != nil {
		t.logger.Warn().Err(err).Msg("ignoring assignment event")
		return
	}
	if e.PreviousAgentID == e.Assignment.AgentID {
		return
	}
	if e.PreviousAgentID != "" {
		t.adjust(ctx, e.PreviousAgentID, -1, e.ConversationID)
	}
	t.adjust(ctx, e.Assignment.AgentID, 1, e.ConversationID)
}

func (t *LoadTracker) onStatus(ctx context.Context, env events.Envelope) {
	var e events.StatusChange
	if err := env.Decode(&e); err != nil {
		t.logger.Warn().Err(err).Msg("ignoring status event")
		return
	}
	if e.AgentID == "" || e.From.Terminal() || !e.To.Terminal() {
		return
	}
	t.adjust(ctx, e.AgentID, -1, e.ConversationID)
}

func (t *LoadTracker) adjust(ctx context.Context, agentID string, delta int, conversationID string) {
	if err := t.dir.AdjustLoad(ctx, agentID, delta); err != nil {
		t.logger.Error().Err(err).
			Str("agent_id", agentID).
			Str("conversation_id", conversationID).
			Int("delta", delta).
			Msg("failed to adjust agent load")
	}
}
