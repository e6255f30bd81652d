package ingestion

import (
	"context"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/directory"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// DefaultProcessor implements EventProcessor on top of socket presence and
// the routing orchestrator
type DefaultProcessor struct {
	presence *directory.Presence
	agents   AgentLookup
	status   StatusSetter
	logger   zerolog.Logger
}

// NewDefaultProcessor creates a new DefaultProcessor
func NewDefaultProcessor(presence *directory.Presence, agents AgentLookup, status StatusSetter, logger zerolog.Logger) *DefaultProcessor {
	return &DefaultProcessor{
		presence: presence,
		agents:   agents,
		status:   status,
		logger:   logger.With().Str("component", "ingestion").Logger(),
	}
}

// ProcessRegister binds a socket to a known agent and applies its initial status
func (p *DefaultProcessor) ProcessRegister(ctx context.Context, reg *types.AgentRegister) error {
	if reg.AgentID == "" {
		return apperr.Validation("agent id is required")
	}
	if reg.Status != "" && !reg.Status.Valid() {
		return apperr.Validation("invalid agent status %q", reg.Status)
	}
	if _, err := p.agents.GetAgent(ctx, reg.AgentID); err != nil {
		return apperr.FromContext("get agent", err)
	}

	p.presence.SetConnected(reg.AgentID, true)
	if reg.Status != "" {
		if err := p.status.SetAgentStatus(ctx, reg.AgentID, reg.Status); err != nil {
			return err
		}
	}

	p.logger.Debug().
		Str("agent_id", reg.AgentID).
		Str("status", string(reg.Status)).
		Msg("agent registered via processor")
	return nil
}

func (p *DefaultProcessor) ProcessHeartbeat(_ context.Context, hb *types.AgentHeartbeat) {
	p.presence.Heartbeat(hb.AgentID)
}

func (p *DefaultProcessor) ProcessStatusUpdate(ctx context.Context, su *types.StatusUpdate) error {
	if err := p.status.SetAgentStatus(ctx, su.AgentID, su.Status); err != nil {
		return err
	}
	p.logger.Debug().
		Str("agent_id", su.AgentID).
		Str("status", string(su.Status)).
		Msg("agent status update via processor")
	return nil
}

// ProcessDisconnect records a closed socket. The agent keeps its status
// until the presence monitor expires it.
func (p *DefaultProcessor) ProcessDisconnect(_ context.Context, agentID string) {
	p.presence.SetConnected(agentID, false)
}
