package aggregator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pytake/backend/internal/directory"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDashboard struct {
	clients int
	frames  [][]byte
}

func (f *fakeDashboard) Broadcast(message []byte) { f.frames = append(f.frames, message) }
func (f *fakeDashboard) ClientCount() int         { return f.clients }

type fakeStats struct {
	agents  int
	records []string
}

func (f *fakeStats) UpdateAgentStats(agents []types.Agent) { f.agents = len(agents) }
func (f *fakeStats) Record(name string, _ float64, _ map[string]string) {
	f.records = append(f.records, name)
}

func seed(t *testing.T) *directory.Memory {
	t.Helper()
	dir := directory.NewMemory()
	ctx := context.Background()
	require.NoError(t, dir.UpsertAgent(ctx, types.Agent{ID: "a1", Status: types.AgentAvailable,
		Departments: []string{"sales", "billing"}, MaxConcurrentConversations: 4, CurrentConversationCount: 1}))
	require.NoError(t, dir.UpsertAgent(ctx, types.Agent{ID: "a2", Status: types.AgentBusy,
		Departments: []string{"billing"}, MaxConcurrentConversations: 2, CurrentConversationCount: 2}))
	return dir
}

func TestCycleBroadcastsSnapshots(t *testing.T) {
	hub := &fakeDashboard{clients: 1}
	stats := &fakeStats{}
	a := NewAggregator(seed(t), hub, stats, 0, zerolog.Nop())

	snaps, err := a.Cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Len(t, hub.frames, 3)
	assert.Equal(t, 2, stats.agents)
	assert.Contains(t, stats.records, "snapshot_cycle_seconds")

	global := snaps[0]
	assert.Equal(t, types.SnapshotGlobal, global.Type)
	assert.Equal(t, 2, global.Summary.TotalAgents)
	assert.Equal(t, uint32(3), global.Summary.OpenConversations)
	assert.Equal(t, uint32(6), global.Summary.Capacity)
	assert.Equal(t, 2, global.Summary.DepartmentBreakdown["billing"])

	assert.Equal(t, "billing", snaps[1].Department)
	assert.Equal(t, 2, snaps[1].Summary.TotalAgents)
	assert.Equal(t, "sales", snaps[2].Department)
	assert.Equal(t, 1, snaps[2].Summary.StatusBreakdown[types.AgentAvailable])

	var decoded types.Snapshot
	require.NoError(t, json.Unmarshal(hub.frames[0], &decoded))
	assert.Equal(t, types.SnapshotGlobal, decoded.Type)
}

func TestCycleWithoutClientsOnlyUpdatesStats(t *testing.T) {
	hub := &fakeDashboard{}
	stats := &fakeStats{}
	a := NewAggregator(seed(t), hub, stats, 0, zerolog.Nop())

	snaps, err := a.Cycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snaps)
	assert.Empty(t, hub.frames)
	assert.Equal(t, 2, stats.agents)
}
