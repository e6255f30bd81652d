package ingestion

import (
	"context"
	"time"

	"github.com/pytake/backend/internal/directory"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// Monitor takes agents offline whose socket went silent or stayed closed
// beyond the grace period, which fails over their conversations
type Monitor struct {
	presence *directory.Presence
	agents   AgentLookup
	status   StatusSetter
	interval time.Duration
	grace    time.Duration
	logger   zerolog.Logger
}

func NewMonitor(presence *directory.Presence, agents AgentLookup, status StatusSetter, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		presence: presence,
		agents:   agents,
		status:   status,
		interval: interval,
		grace:    directory.StaleThreshold,
		logger:   logger.With().Str("component", "presence_monitor").Logger(),
	}
}

// Start checks presence on every tick until the context is cancelled
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one pass and returns the agents it took offline
func (m *Monitor) Check(ctx context.Context) []string {
	candidates := append(m.presence.CheckStale(), m.presence.RemoveDisconnected(m.grace)...)

	var offline []string
	for _, id := range candidates {
		agent, err := m.agents.GetAgent(ctx, id)
		if err != nil {
			m.logger.Warn().Err(err).Str("agent_id", id).Msg("failed to load agent")
			continue
		}
		if agent.Status.Unavailable() {
			continue
		}
		if err := m.status.SetAgentStatus(ctx, id, types.AgentOffline); err != nil {
			m.logger.Error().Err(err).Str("agent_id", id).Msg("failed to take agent offline")
			continue
		}
		offline = append(offline, id)
	}
	if len(offline) > 0 {
		m.logger.Info().Strs("agent_ids", offline).Msg("agents without a live socket taken offline")
	}
	return offline
}
