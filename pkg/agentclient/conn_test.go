package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// fakeBackend accepts one agent socket, records the frames it receives and
// runs script once the register frame arrived
type fakeBackend struct {
	frames chan map[string]any
	auth   chan string
	script func(conn *websocket.Conn)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.auth <- r.Header.Get("Authorization")
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		f.frames <- frame
		if frame["type"] == types.MsgRegister {
			conn.WriteJSON(types.ServerAck{Type: types.MsgAck, AgentID: frame["agentId"].(string)})
			if f.script != nil {
				f.script(conn)
			}
		}
	}
}

func waitFrame(t *testing.T, frames <-chan map[string]any, frameType string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-frames:
			if f["type"] == frameType {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", frameType)
			return nil
		}
	}
}

func TestWsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws/agent"},
		{"https://pytake.example/", "wss://pytake.example/ws/agent"},
	}
	for _, tt := range tests {
		if got := wsURL(tt.base); got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestConnRegistersAndHeartbeats(t *testing.T) {
	backend := &fakeBackend{
		frames: make(chan map[string]any, 32),
		auth:   make(chan string, 4),
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	c := New(Options{
		BackendURL: srv.URL,
		AgentID:    "a1",
		Token:      "tok",
		Status:     types.AgentAvailable,
		Heartbeat:  20 * time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	if got := <-backend.auth; got != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", got)
	}
	reg := waitFrame(t, backend.frames, types.MsgRegister)
	if reg["agentId"] != "a1" || reg["status"] != string(types.AgentAvailable) {
		t.Errorf("unexpected register frame %v", reg)
	}
	waitFrame(t, backend.frames, types.MsgHeartbeat)

	c.SetStatus(types.AgentBusy)
	update := waitFrame(t, backend.frames, types.MsgStatusUpdate)
	if update["status"] != string(types.AgentBusy) {
		t.Errorf("expected busy status update, got %v", update)
	}
	if !c.Registered() {
		t.Error("expected connection to be registered after ack")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConnDeliversAssignmentsAndStopsOnForceDisconnect(t *testing.T) {
	backend := &fakeBackend{
		frames: make(chan map[string]any, 32),
		auth:   make(chan string, 4),
		script: func(conn *websocket.Conn) {
			conn.WriteJSON(types.ConversationAssign{
				Type:           types.MsgConversationAssign,
				AgentID:        "a1",
				ConversationID: "c1",
				Platform:       types.PlatformWhatsApp,
				Priority:       types.PriorityHigh,
				Reason:         types.ReasonAutoAssignment,
			})
			conn.WriteJSON(types.ConversationRevoke{
				Type:           types.MsgConversationRevoke,
				AgentID:        "a1",
				ConversationID: "c0",
			})
			conn.WriteJSON(types.ForceDisconnect{Type: types.MsgForceDisconnect, AgentID: "a1"})
		},
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	c := New(Options{BackendURL: srv.URL, AgentID: "a1"}, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case a := <-c.Assignments():
		if a.ConversationID != "c1" || a.Priority != types.PriorityHigh {
			t.Errorf("unexpected assignment %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no assignment delivered")
	}
	select {
	case r := <-c.Revocations():
		if r.ConversationID != "c0" {
			t.Errorf("unexpected revoke %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no revoke delivered")
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrForceDisconnected) {
			t.Errorf("expected ErrForceDisconnected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after force_disconnect")
	}
}
