package aggregator

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// AgentLister reads every agent in the directory
type AgentLister interface {
	ListAgents(ctx context.Context) ([]types.Agent, error)
}

// Dashboard receives snapshot frames
type Dashboard interface {
	Broadcast(message []byte)
	ClientCount() int
}

// Stats receives agent gauges and cycle timings
type Stats interface {
	UpdateAgentStats(agents []types.Agent)
	Record(name string, value float64, tags map[string]string)
}

// Aggregator periodically snapshots the agent directory for dashboards and metrics
type Aggregator struct {
	agents   AgentLister
	hub      Dashboard
	stats    Stats
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewAggregator creates a new aggregator. stats may be nil.
func NewAggregator(agents AgentLister, hub Dashboard, stats Stats, interval time.Duration, logger zerolog.Logger) *Aggregator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Aggregator{
		agents:   agents,
		hub:      hub,
		stats:    stats,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
}

// Start snapshots on every tick until the context is cancelled
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", a.interval).Msg("aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("aggregator stopped")
			return
		case <-ticker.C:
			if _, err := a.Cycle(ctx); err != nil {
				a.logger.Error().Err(err).Msg("aggregation cycle failed")
			}
		}
	}
}

// Cycle takes one snapshot and broadcasts it when dashboards are connected
func (a *Aggregator) Cycle(ctx context.Context) ([]types.Snapshot, error) {
	start := time.Now()

	agents, err := a.agents.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	if a.stats != nil {
		a.stats.UpdateAgentStats(agents)
	}
	if a.hub.ClientCount() == 0 {
		return nil, nil
	}

	snapshots := a.snapshots(agents)
	for _, snap := range snapshots {
		data, err := json.Marshal(snap)
		if err != nil {
			a.logger.Error().Err(err).Msg("failed to marshal snapshot")
			continue
		}
		a.hub.Broadcast(data)
	}

	if a.stats != nil {
		a.stats.Record("snapshot_cycle_seconds", time.Since(start).Seconds(), nil)
	}
	a.logger.Debug().
		Int("total_agents", len(agents)).
		Int("snapshots", len(snapshots)).
		Int("clients", a.hub.ClientCount()).
		Msg("snapshots broadcasted")
	return snapshots, nil
}

// snapshots builds the global overview followed by one snapshot per department
func (a *Aggregator) snapshots(agents []types.Agent) []types.Snapshot {
	now := a.now()

	byDept := make(map[string][]types.Agent)
	for _, agent := range agents {
		for _, d := range agent.Departments {
			byDept[d] = append(byDept[d], agent)
		}
	}
	depts := make([]string, 0, len(byDept))
	for d := range byDept {
		depts = append(depts, d)
	}
	sort.Strings(depts)

	out := make([]types.Snapshot, 0, len(depts)+1)
	out = append(out, types.Snapshot{
		Type:      types.SnapshotGlobal,
		Timestamp: now,
		Summary:   types.Summarize(agents, true),
		Agents:    agents,
	})
	for _, d := range depts {
		out = append(out, types.Snapshot{
			Type:       types.SnapshotDepartment,
			Department: d,
			Timestamp:  now,
			Summary:    types.Summarize(byDept[d], false),
			Agents:     byDept[d],
		})
	}
	return out
}
