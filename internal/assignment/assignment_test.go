package assignment

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDirectory is a mock implementation of AgentLister.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ListAvailableAgents(ctx context.Context) ([]types.Agent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Agent), args.Error(1)
}

type fixedHours bool

func (f fixedHours) IsOpen(time.Time) bool { return bool(f) }

func rating(v float64) *float64 { return &v }

func agent(id string, status types.AgentStatus, cur, max uint32) types.Agent {
	return types.Agent{
		ID:                         id,
		Name:                       "Agent " + id,
		Status:                     status,
		Platforms:                  []types.Platform{types.PlatformWhatsApp},
		Languages:                  []string{"pt"},
		Skills:                     []string{"WhatsApp"},
		MaxConcurrentConversations: max,
		CurrentConversationCount:   cur,
		PriorityLevel:              5,
	}
}

func whatsappConv(p types.Priority) types.Conversation {
	return types.Conversation{
		ID:       "conv-1",
		Platform: types.PlatformWhatsApp,
		Status:   types.ConversationOpen,
		Priority: p,
	}
}

func newSelector(t *testing.T, agents []types.Agent, err error) (*Selector, *MockDirectory) {
	t.Helper()
	dir := &MockDirectory{}
	dir.On("ListAvailableAgents", mock.Anything).Return(agents, err)
	return NewSelector(dir, nil, zerolog.Nop()), dir
}

func TestCanHandle(t *testing.T) {
	conv := whatsappConv(types.PriorityNormal)
	critical := whatsappConv(types.PriorityCritical)

	tests := []struct {
		name  string
		agent types.Agent
		conv  types.Conversation
		req   types.AssignmentRequest
		want  bool
	}{
		{"available with capacity", agent("a", types.AgentAvailable, 1, 5), conv, types.AssignmentRequest{}, true},
		{"available at capacity still eligible", agent("a", types.AgentAvailable, 5, 5), conv, types.AssignmentRequest{}, true},
		{"offline", agent("a", types.AgentOffline, 0, 5), conv, types.AssignmentRequest{}, false},
		{"on break", agent("a", types.AgentBreak, 0, 5), conv, types.AssignmentRequest{}, false},
		{"busy with spare capacity", agent("a", types.AgentBusy, 2, 5), conv, types.AssignmentRequest{}, true},
		{"busy at capacity", agent("a", types.AgentBusy, 4, 4), conv, types.AssignmentRequest{}, false},
		{"away over capacity", agent("a", types.AgentAway, 6, 5), conv, types.AssignmentRequest{}, false},
		{"excluded", agent("a", types.AgentAvailable, 0, 5), conv, types.AssignmentRequest{ExcludeAgents: []string{"a"}}, false},
		{"critical needs tier 7", agent("a", types.AgentAvailable, 0, 5), critical, types.AssignmentRequest{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanHandle(&tt.agent, &tt.conv, &tt.req))
		})
	}
}

func TestCanHandlePlatformAndDepartment(t *testing.T) {
	a := agent("a", types.AgentAvailable, 0, 5)
	a.Departments = []string{"sales"}

	ig := whatsappConv(types.PriorityNormal)
	ig.Platform = types.PlatformInstagram
	assert.False(t, CanHandle(&a, &ig, &types.AssignmentRequest{}))

	conv := whatsappConv(types.PriorityNormal)
	assert.True(t, CanHandle(&a, &conv, &types.AssignmentRequest{RequiredDepartments: []string{"support", "sales"}}))
	assert.False(t, CanHandle(&a, &conv, &types.AssignmentRequest{RequiredDepartments: []string{"support"}}))

	senior := agent("s", types.AgentAvailable, 0, 5)
	senior.PriorityLevel = 7
	critical := whatsappConv(types.PriorityCritical)
	assert.True(t, CanHandle(&senior, &critical, nil))

	assert.False(t, CanHandle(nil, &conv, nil))
}

func TestScoreFactors(t *testing.T) {
	conv := whatsappConv(types.PriorityNormal)

	a := agent("a", types.AgentAvailable, 0, 5)
	a.SatisfactionRating = rating(5)
	assert.InDelta(t, 1.0, Score(&a, &conv, &types.AssignmentRequest{}), 1e-9)

	busy := agent("b", types.AgentBusy, 1, 2)
	b := Explain(&busy, &conv, &types.AssignmentRequest{})
	assert.Equal(t, 0.5, b.Availability)
	assert.Equal(t, 0.5, b.Workload)
	assert.Equal(t, neutralPerformance, b.Performance)

	req := types.AssignmentRequest{RequiredSkills: []string{"WhatsApp", "billing"}, RequiredLanguages: []string{"en"}}
	b = Explain(&a, &conv, &req)
	assert.Equal(t, 0.5, b.Skills)
	assert.Equal(t, 0.0, b.Language)

	zero := agent("z", types.AgentAvailable, 0, 0)
	assert.Equal(t, 0.0, Explain(&zero, &conv, nil).Workload)
}

func TestScoreBounds(t *testing.T) {
	conv := whatsappConv(types.PriorityNormal)
	agents := []types.Agent{
		agent("over", types.AgentAvailable, 9, 3),
		agent("zero", types.AgentBusy, 0, 0),
		agent("off", types.AgentOffline, 0, 5),
	}
	agents[0].SatisfactionRating = rating(12)
	agents[1].SatisfactionRating = rating(-3)
	agents[2].SatisfactionRating = rating(math.NaN())

	reqs := []types.AssignmentRequest{
		{},
		{RequiredSkills: []string{"x", "y"}, RequiredLanguages: []string{"de"}},
		{RequiredSkills: []string{"WhatsApp"}, RequiredLanguages: []string{"pt"}},
	}

	for _, a := range agents {
		for _, req := range reqs {
			s := Score(&a, &conv, &req)
			assert.GreaterOrEqual(t, s, 0.0, a.ID)
			assert.LessOrEqual(t, s, 1.0, a.ID)
		}
	}
}

func TestWorkloadOrdering(t *testing.T) {
	conv := whatsappConv(types.PriorityNormal)
	req := types.AssignmentRequest{}

	light := agent("light", types.AgentAvailable, 1, 5)
	heavy := agent("heavy", types.AgentAvailable, 3, 5)
	light.SatisfactionRating = rating(4.5)
	heavy.SatisfactionRating = rating(4.5)

	diff := Score(&light, &conv, &req) - Score(&heavy, &conv, &req)
	assert.Greater(t, diff, 0.0)
	// (1 - 1/5) * 0.3 - (1 - 3/5) * 0.3
	assert.InDelta(t, 0.12, diff, 1e-9)
}

func TestFindBestAgentPrefersAvailableOverFullBusy(t *testing.T) {
	a := agent("A", types.AgentAvailable, 2, 5)
	a.SatisfactionRating = rating(4.7)
	b := agent("B", types.AgentBusy, 4, 4)

	s, dir := newSelector(t, []types.Agent{b, a}, nil)
	req := types.NewAssignmentRequest(whatsappConv(types.PriorityNormal))

	result, err := s.FindBestAgent(context.Background(), &req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "A", result.Agent.ID)
	assert.Equal(t, types.ReasonAutoAssignment, result.Assignment.Reason)
	assert.Nil(t, result.Assignment.AssignedBy)
	assert.NotEmpty(t, result.Reasoning)
	dir.AssertExpectations(t)
}

func TestFindBestAgentCriticalGating(t *testing.T) {
	junior := agent("junior", types.AgentAvailable, 0, 5)
	s, _ := newSelector(t, []types.Agent{junior}, nil)

	req := types.NewAssignmentRequest(whatsappConv(types.PriorityCritical))
	result, err := s.FindBestAgent(context.Background(), &req)
	require.NoError(t, err)
	assert.Nil(t, result)

	senior := agent("senior", types.AgentBusy, 1, 5)
	senior.PriorityLevel = 8
	s, _ = newSelector(t, []types.Agent{junior, senior}, nil)
	result, err = s.FindBestAgent(context.Background(), &req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.GreaterOrEqual(t, result.Agent.PriorityLevel, types.CriticalPriorityLevel)
}

func TestFindBestAgentNilRequest(t *testing.T) {
	dir := &MockDirectory{}
	s := NewSelector(dir, nil, zerolog.Nop())

	result, err := s.FindBestAgent(context.Background(), nil)
	assert.Nil(t, result)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	dir.AssertNotCalled(t, "ListAvailableAgents", mock.Anything)
}

func TestFindBestAgentAllOffline(t *testing.T) {
	pool := []types.Agent{
		agent("a", types.AgentOffline, 0, 5),
		agent("b", types.AgentOffline, 0, 5),
	}
	s, _ := newSelector(t, pool, nil)
	req := types.NewAssignmentRequest(whatsappConv(types.PriorityNormal))

	result, err := s.FindBestAgent(context.Background(), &req)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestFindBestAgentEmptyPool(t *testing.T) {
	s, _ := newSelector(t, []types.Agent{}, nil)
	req := types.NewAssignmentRequest(whatsappConv(types.PriorityNormal))

	result, err := s.FindBestAgent(context.Background(), &req)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestFindBestAgentNeverReturnsIneligible(t *testing.T) {
	pool := []types.Agent{
		agent("excluded", types.AgentAvailable, 0, 10),
		agent("full", types.AgentBusy, 3, 3),
		agent("ok", types.AgentBusy, 2, 3),
	}
	s, _ := newSelector(t, pool, nil)
	req := types.NewAssignmentRequest(whatsappConv(types.PriorityNormal))
	req.ExcludeAgents = []string{"excluded"}

	result, err := s.FindBestAgent(context.Background(), &req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "ok", result.Agent.ID)
	assert.True(t, CanHandle(&result.Agent, &req.Conversation, &req))
}

func TestFindBestAgentTieBreakIsStable(t *testing.T) {
	pool := []types.Agent{
		agent("first", types.AgentAvailable, 1, 5),
		agent("second", types.AgentAvailable, 1, 5),
		agent("third", types.AgentAvailable, 1, 5),
	}
	s, _ := newSelector(t, pool, nil)
	req := types.NewAssignmentRequest(whatsappConv(types.PriorityNormal))

	for i := 0; i < 20; i++ {
		result, err := s.FindBestAgent(context.Background(), &req)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "first", result.Agent.ID)
	}
}

func TestFindBestAgentPreferredAgent(t *testing.T) {
	best := agent("best", types.AgentAvailable, 0, 5)
	pref := agent("pref", types.AgentBusy, 3, 5)
	s, _ := newSelector(t, []types.Agent{best, pref}, nil)

	req := types.NewAssignmentRequest(whatsappConv(types.PriorityNormal))
	req.PreferredAgentID = "pref"
	result, err := s.FindBestAgent(context.Background(), &req)
	require.NoError(t, err)
	assert.Equal(t, "pref", result.Agent.ID)
	assert.Contains(t, result.Reasoning, "Preferred agent requested and eligible")

	// An ineligible preferred agent is ignored
	req.PreferredAgentID = "pref"
	req.ExcludeAgents = []string{"pref"}
	result, err = s.FindBestAgent(context.Background(), &req)
	require.NoError(t, err)
	assert.Equal(t, "best", result.Agent.ID)
}

func TestFindBestAgentBusinessHours(t *testing.T) {
	dir := &MockDirectory{}
	s := NewSelector(dir, fixedHours(false), zerolog.Nop())

	req := types.NewAssignmentRequest(whatsappConv(types.PriorityNormal))
	req.RespectBusinessHours = true
	result, err := s.FindBestAgent(context.Background(), &req)
	require.NoError(t, err)
	assert.Nil(t, result)
	dir.AssertNotCalled(t, "ListAvailableAgents", mock.Anything)
}

func TestFindBestAgentDirectoryFailure(t *testing.T) {
	s, _ := newSelector(t, nil, errors.New("connection refused"))
	req := types.NewAssignmentRequest(whatsappConv(types.PriorityNormal))

	result, err := s.FindBestAgent(context.Background(), &req)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, apperr.CodeDependency, apperr.CodeOf(err))
}

func TestFindBestAgentDirectoryTimeout(t *testing.T) {
	s, _ := newSelector(t, nil, context.DeadlineExceeded)
	req := types.NewAssignmentRequest(whatsappConv(types.PriorityNormal))

	_, err := s.FindBestAgent(context.Background(), &req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, apperr.IsRetryable(err))
}
