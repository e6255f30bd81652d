package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/directory"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

type statusCall struct {
	agentID string
	status  types.AgentStatus
}

// fakeStatus applies status changes straight to the directory
type fakeStatus struct {
	dir   *directory.Memory
	calls []statusCall
	err   error
}

func (f *fakeStatus) SetAgentStatus(ctx context.Context, agentID string, status types.AgentStatus) error {
	f.calls = append(f.calls, statusCall{agentID, status})
	if f.err != nil {
		return f.err
	}
	_, err := f.dir.SetStatus(ctx, agentID, status)
	return err
}

func setup(t *testing.T) (*directory.Memory, *directory.Presence, *fakeStatus) {
	t.Helper()
	dir := directory.NewMemory()
	for _, id := range []string{"agent-1", "agent-2"} {
		if err := dir.UpsertAgent(context.Background(), types.Agent{
			ID:                         id,
			Status:                     types.AgentAvailable,
			MaxConcurrentConversations: 3,
		}); err != nil {
			t.Fatalf("failed to seed agent: %v", err)
		}
	}
	return dir, directory.NewPresence(), &fakeStatus{dir: dir}
}

func TestProcessRegister(t *testing.T) {
	tests := []struct {
		name      string
		reg       types.AgentRegister
		wantCode  apperr.Code
		wantCalls int
	}{
		{"known agent", types.AgentRegister{AgentID: "agent-1"}, "", 0},
		{"initial status", types.AgentRegister{AgentID: "agent-1", Status: types.AgentBusy}, "", 1},
		{"unknown agent", types.AgentRegister{AgentID: "ghost"}, apperr.CodeNotFound, 0},
		{"missing id", types.AgentRegister{}, apperr.CodeValidation, 0},
		{"bad status", types.AgentRegister{AgentID: "agent-1", Status: "sleeping"}, apperr.CodeValidation, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, presence, status := setup(t)
			p := NewDefaultProcessor(presence, dir, status, zerolog.Nop())

			err := p.ProcessRegister(context.Background(), &tt.reg)
			if tt.wantCode != "" {
				if apperr.CodeOf(err) != tt.wantCode {
					t.Fatalf("expected %s error, got %v", tt.wantCode, err)
				}
				if _, ok := presence.Status(tt.reg.AgentID); ok {
					t.Error("rejected registration must not mark presence")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s, _ := presence.Status(tt.reg.AgentID); s != directory.StatusConnected {
				t.Errorf("expected connected, got %q", s)
			}
			if len(status.calls) != tt.wantCalls {
				t.Errorf("expected %d status calls, got %d", tt.wantCalls, len(status.calls))
			}
		})
	}
}

func TestProcessStatusUpdateAndDisconnect(t *testing.T) {
	dir, presence, status := setup(t)
	p := NewDefaultProcessor(presence, dir, status, zerolog.Nop())
	ctx := context.Background()

	if err := p.ProcessRegister(ctx, &types.AgentRegister{AgentID: "agent-1"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := p.ProcessStatusUpdate(ctx, &types.StatusUpdate{AgentID: "agent-1", Status: types.AgentBreak}); err != nil {
		t.Fatalf("status update failed: %v", err)
	}
	agent, _ := dir.GetAgent(ctx, "agent-1")
	if agent.Status != types.AgentBreak {
		t.Errorf("expected break, got %s", agent.Status)
	}

	status.err = errors.New("directory down")
	if err := p.ProcessStatusUpdate(ctx, &types.StatusUpdate{AgentID: "agent-1", Status: types.AgentAvailable}); err == nil {
		t.Error("expected status error to surface")
	}

	p.ProcessDisconnect(ctx, "agent-1")
	if s, _ := presence.Status("agent-1"); s != directory.StatusDisconnected {
		t.Errorf("expected disconnected, got %q", s)
	}
}

func TestMonitorCheck(t *testing.T) {
	dir, presence, status := setup(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	presence.SetClock(func() time.Time { return now })

	if _, err := dir.SetStatus(ctx, "agent-2", types.AgentOffline); err != nil {
		t.Fatalf("failed to set status: %v", err)
	}
	presence.SetConnected("agent-1", true)
	presence.SetConnected("agent-2", false)

	m := NewMonitor(presence, dir, status, time.Second, zerolog.Nop())

	if got := m.Check(ctx); len(got) != 0 {
		t.Fatalf("expected nobody offline yet, got %v", got)
	}

	now = now.Add(directory.StaleThreshold + time.Second)
	got := m.Check(ctx)
	if len(got) != 1 || got[0] != "agent-1" {
		t.Fatalf("expected agent-1 taken offline, got %v", got)
	}
	agent, _ := dir.GetAgent(ctx, "agent-1")
	if agent.Status != types.AgentOffline {
		t.Errorf("expected offline, got %s", agent.Status)
	}
	// agent-2 was already offline and is only forgotten
	if _, ok := presence.Status("agent-2"); ok {
		t.Error("expected agent-2 to be forgotten")
	}
	if len(status.calls) != 1 {
		t.Errorf("expected a single status change, got %+v", status.calls)
	}

	// A stale agent is not reported twice
	if got := m.Check(ctx); len(got) != 0 {
		t.Errorf("expected no repeat, got %v", got)
	}
}
