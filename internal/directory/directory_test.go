package directory

import (
	"context"
	"testing"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/events"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAgent(id string, status types.AgentStatus) types.Agent {
	rating := 4.2
	avg := 45 * time.Second
	return types.Agent{
		ID:                         id,
		Name:                       "Agent " + id,
		Email:                      id + "@example.com",
		Status:                     status,
		Departments:                []string{"support"},
		Skills:                     []string{"billing"},
		Languages:                  []string{"pt", "en"},
		Platforms:                  []types.Platform{types.PlatformWhatsApp, types.PlatformWebchat},
		MaxConcurrentConversations: 5,
		CurrentConversationCount:   1,
		PriorityLevel:              6,
		AvgResponseTime:            &avg,
		SatisfactionRating:         &rating,
	}
}

// runDirectoryContract exercises behaviour every Directory implementation shares
func runDirectoryContract(t *testing.T, dir Directory) {
	ctx := context.Background()

	require.NoError(t, dir.UpsertAgent(ctx, sampleAgent("b", types.AgentAvailable)))
	require.NoError(t, dir.UpsertAgent(ctx, sampleAgent("a", types.AgentBusy)))
	require.NoError(t, dir.UpsertAgent(ctx, sampleAgent("c", types.AgentOffline)))

	all, err := dir.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)

	avail, err := dir.ListAvailableAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, avail, 2)

	got, err := dir.GetAgent(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"pt", "en"}, got.Languages)
	assert.Equal(t, []types.Platform{types.PlatformWhatsApp, types.PlatformWebchat}, got.Platforms)
	require.NotNil(t, got.SatisfactionRating)
	assert.InDelta(t, 4.2, *got.SatisfactionRating, 1e-9)
	require.NotNil(t, got.AvgResponseTime)
	assert.Equal(t, 45*time.Second, *got.AvgResponseTime)

	_, err = dir.GetAgent(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	prev, err := dir.SetStatus(ctx, "b", types.AgentBreak)
	require.NoError(t, err)
	assert.Equal(t, types.AgentAvailable, prev)
	avail, err = dir.ListAvailableAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, avail, 1)

	_, err = dir.SetStatus(ctx, "b", "sleeping")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	_, err = dir.SetStatus(ctx, "missing", types.AgentAway)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	require.NoError(t, dir.AdjustLoad(ctx, "a", 2))
	require.NoError(t, dir.AdjustLoad(ctx, "c", -5))
	a, _ := dir.GetAgent(ctx, "a")
	c, _ := dir.GetAgent(ctx, "c")
	assert.Equal(t, uint32(3), a.CurrentConversationCount)
	assert.Equal(t, uint32(0), c.CurrentConversationCount)
	assert.True(t, apperr.Is(dir.AdjustLoad(ctx, "missing", 1), apperr.CodeNotFound))

	// Replacing the record keeps the live load
	update := sampleAgent("a", types.AgentAvailable)
	update.CurrentConversationCount = 0
	update.Name = "Renamed"
	require.NoError(t, dir.UpsertAgent(ctx, update))
	a, _ = dir.GetAgent(ctx, "a")
	assert.Equal(t, "Renamed", a.Name)
	assert.Equal(t, uint32(3), a.CurrentConversationCount)

	assert.True(t, apperr.Is(dir.UpsertAgent(ctx, types.Agent{}), apperr.CodeValidation))
}

func TestMemoryDirectory(t *testing.T) {
	runDirectoryContract(t, NewMemory())
}

func TestMemorySnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	require.NoError(t, dir.UpsertAgent(ctx, sampleAgent("a", types.AgentAvailable)))

	got, err := dir.GetAgent(ctx, "a")
	require.NoError(t, err)
	got.Skills[0] = "mutated"

	again, _ := dir.GetAgent(ctx, "a")
	assert.Equal(t, "billing", again.Skills[0])
}

func TestSQLiteDirectory(t *testing.T) {
	dir, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer dir.Close()
	runDirectoryContract(t, dir)
}

func TestCachedDirectory(t *testing.T) {
	mem := NewMemory()
	cached, err := NewCached(mem, time.Minute)
	require.NoError(t, err)
	defer cached.Close()
	runDirectoryContract(t, cached)
}

func TestCachedInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	cached, err := NewCached(mem, time.Minute)
	require.NoError(t, err)
	defer cached.Close()

	require.NoError(t, cached.UpsertAgent(ctx, sampleAgent("a", types.AgentAvailable)))
	avail, err := cached.ListAvailableAgents(ctx)
	require.NoError(t, err)
	require.Len(t, avail, 1)

	_, err = cached.SetStatus(ctx, "a", types.AgentOffline)
	require.NoError(t, err)

	avail, err = cached.ListAvailableAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, avail)
}

// gatedDirectory parks reads between the backend read and the return
type gatedDirectory struct {
	Directory
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDirectory) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	a, err := g.Directory.GetAgent(ctx, id)
	g.entered <- struct{}{}
	<-g.release
	return a, err
}

func TestCachedDropsReadsThatSpanAWrite(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	require.NoError(t, mem.UpsertAgent(ctx, sampleAgent("a", types.AgentAvailable)))

	gated := &gatedDirectory{Directory: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}
	cached, err := NewCached(gated, time.Minute)
	require.NoError(t, err)
	defer cached.Close()

	read := make(chan *types.Agent, 1)
	go func() {
		a, _ := cached.GetAgent(ctx, "a")
		read <- a
	}()
	<-gated.entered

	updated := sampleAgent("a", types.AgentAvailable)
	updated.Name = "Renamed"
	require.NoError(t, cached.UpsertAgent(ctx, updated))

	close(gated.release)
	stale := <-read
	assert.Equal(t, "Agent a", stale.Name)

	got, err := cached.GetAgent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
}

func TestLoadTracker(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	a := sampleAgent("a", types.AgentAvailable)
	a.CurrentConversationCount = 0
	b := sampleAgent("b", types.AgentAvailable)
	b.CurrentConversationCount = 0
	require.NoError(t, mem.UpsertAgent(ctx, a))
	require.NoError(t, mem.UpsertAgent(ctx, b))

	bus := events.NewBus("test", zerolog.Nop())
	NewLoadTracker(mem, zerolog.Nop()).Register(bus)

	bus.Emit(ctx, events.TypeConversationAssigned, events.Assignment{
		ConversationID: "c1",
		Assignment:     types.ConversationAssignment{AgentID: "a"},
	})
	bus.Emit(ctx, events.TypeConversationTransferred, events.Assignment{
		ConversationID:  "c1",
		PreviousAgentID: "a",
		Assignment:      types.ConversationAssignment{AgentID: "b"},
	})

	gotA, _ := mem.GetAgent(ctx, "a")
	gotB, _ := mem.GetAgent(ctx, "b")
	assert.Equal(t, uint32(0), gotA.CurrentConversationCount)
	assert.Equal(t, uint32(1), gotB.CurrentConversationCount)

	bus.Emit(ctx, events.TypeConversationStatus, events.StatusChange{
		ConversationID: "c1", AgentID: "b", From: types.ConversationActive, To: types.ConversationClosed,
	})
	gotB, _ = mem.GetAgent(ctx, "b")
	assert.Equal(t, uint32(0), gotB.CurrentConversationCount)
}

func TestPresence(t *testing.T) {
	p := NewPresence()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.SetConnected("a", true)
	p.SetConnected("b", true)
	p.SetConnected("c", false)

	now = now.Add(StaleThreshold / 2)
	p.Heartbeat("a")
	p.Heartbeat("c") // disconnected agents stay disconnected

	now = now.Add(StaleThreshold/2 + time.Second)
	assert.Equal(t, []string{"b"}, p.CheckStale())

	connected, stale, disconnected := p.Stats()
	assert.Equal(t, 1, connected)
	assert.Equal(t, 1, stale)
	assert.Equal(t, 1, disconnected)

	status, ok := p.Status("c")
	require.True(t, ok)
	assert.Equal(t, StatusDisconnected, status)

	assert.Equal(t, []string{"c"}, p.RemoveDisconnected(time.Second))
	_, ok = p.Status("c")
	assert.False(t, ok)
}
