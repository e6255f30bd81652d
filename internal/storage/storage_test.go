package storage

import (
	"context"
	"testing"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/types"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func newConversation(id, native string, created time.Time) *types.Conversation {
	return &types.Conversation{
		ID:                     id,
		Platform:               types.PlatformWhatsApp,
		PlatformConversationID: native,
		ContactID:              "contact-" + native,
		Status:                 types.ConversationOpen,
		Priority:               types.PriorityNormal,
		CreatedAt:              created,
		UpdatedAt:              created,
		LastMessageAt:          created,
		MessageCount:           1,
		UnreadCount:            1,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	conv := newConversation("c1", "5511999", t0)
	if err := s.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.Version != 1 {
		t.Errorf("expected version 1 after create, got %d", conv.Version)
	}

	got, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ContactID != "contact-5511999" {
		t.Errorf("unexpected contact %q", got.ContactID)
	}

	byPlatform, err := s.GetByPlatformID(ctx, types.PlatformWhatsApp, "5511999")
	if err != nil {
		t.Fatalf("GetByPlatformID: %v", err)
	}
	if byPlatform.ID != "c1" {
		t.Errorf("expected c1, got %s", byPlatform.ID)
	}

	// Same native id on another platform is a different conversation
	if _, err := s.GetByPlatformID(ctx, types.PlatformTelegram, "5511999"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestMemoryStoreCreateConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newConversation("c1", "a", t0)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name string
		conv *types.Conversation
		code apperr.Code
	}{
		{"duplicate id", newConversation("c1", "b", t0), apperr.CodeConflict},
		{"duplicate platform key", newConversation("c2", "a", t0), apperr.CodeConflict},
		{"missing id", newConversation("", "c", t0), apperr.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Create(ctx, tt.conv)
			if got := apperr.CodeOf(err); got != tt.code {
				t.Errorf("expected %s, got %s (%v)", tt.code, got, err)
			}
		})
	}
}

func TestMemoryStoreOptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newConversation("c1", "a", t0)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, _ := s.Get(ctx, "c1")
	second, _ := s.Get(ctx, "c1")

	first.Status = types.ConversationPending
	if err := s.Update(ctx, first); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("expected version 2, got %d", first.Version)
	}

	second.Status = types.ConversationClosed
	if err := s.Update(ctx, second); !apperr.Is(err, apperr.CodeConflict) {
		t.Fatalf("expected conflict for stale write, got %v", err)
	}

	stored, _ := s.Get(ctx, "c1")
	if stored.Status != types.ConversationPending {
		t.Errorf("stale write leaked: status %s", stored.Status)
	}

	missing := newConversation("nope", "x", t0)
	if err := s.Update(ctx, missing); !apperr.Is(err, apperr.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv := newConversation("c1", "a", t0)
	conv.Tags = []string{"vip"}
	if err := s.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	conv.Tags[0] = "mutated"

	got, _ := s.Get(ctx, "c1")
	got.Tags = append(got.Tags, "other")

	again, _ := s.Get(ctx, "c1")
	if len(again.Tags) != 1 || again.Tags[0] != "vip" {
		t.Errorf("stored tags changed: %v", again.Tags)
	}
}

func TestFilter(t *testing.T) {
	sla := int64(60)
	responded := t0.Add(time.Minute)

	assigned := newConversation("assigned", "1", t0)
	assigned.Status = types.ConversationAssigned
	assigned.Assignment = &types.ConversationAssignment{AgentID: "agent-1"}

	withSLA := newConversation("sla", "2", t0)
	withSLA.SLASeconds = &sla

	answered := newConversation("answered", "3", t0)
	answered.SLASeconds = &sla
	answered.LastAgentResponseAt = &responded

	breached := newConversation("breached", "4", t0)
	breached.SLASeconds = &sla
	breached.SLABreached = true

	closed := newConversation("closed", "5", t0)
	closed.SLASeconds = &sla
	closed.Status = types.ConversationClosed

	tests := []struct {
		name   string
		filter Filter
		conv   *types.Conversation
		want   bool
	}{
		{"empty filter", Filter{}, assigned, true},
		{"status match", Filter{Statuses: []types.ConversationStatus{types.ConversationOpen}}, withSLA, true},
		{"status miss", Filter{Statuses: []types.ConversationStatus{types.ConversationOpen}}, assigned, false},
		{"agent match", Filter{AgentID: "agent-1"}, assigned, true},
		{"agent miss", Filter{AgentID: "agent-2"}, assigned, false},
		{"agent on unassigned", Filter{AgentID: "agent-1"}, withSLA, false},
		{"unassigned", Filter{Unassigned: true}, withSLA, true},
		{"unassigned miss", Filter{Unassigned: true}, assigned, false},
		{"sla pending", Filter{SLAPending: true}, withSLA, true},
		{"sla without deadline", Filter{SLAPending: true}, assigned, false},
		{"sla answered", Filter{SLAPending: true}, answered, false},
		{"sla already breached", Filter{SLAPending: true}, breached, false},
		{"sla closed", Filter{SLAPending: true}, closed, false},
		{"excluded id", Filter{ExcludeIDs: map[string]struct{}{"assigned": {}}}, assigned, false},
		{"other id excluded", Filter{ExcludeIDs: map[string]struct{}{"sla": {}}}, assigned, true},
		{"agent offline", Filter{AgentNotIn: map[string]struct{}{"agent-2": {}}}, assigned, true},
		{"agent online", Filter{AgentNotIn: map[string]struct{}{"agent-1": {}}}, assigned, false},
		{"nobody online", Filter{AgentNotIn: map[string]struct{}{}}, assigned, true},
		{"offline filter on unassigned", Filter{AgentNotIn: map[string]struct{}{}}, withSLA, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.conv); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i, id := range []string{"c3", "c1", "c2"} {
		conv := newConversation(id, id, t0.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, conv); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"c3", "c1", "c2"}
	for i, c := range all {
		if c.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], c.ID)
		}
	}

	limited, _ := s.List(ctx, Filter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("expected 2 with limit, got %d", len(limited))
	}

	// exclusions apply before the limit so a caller can page past rows it has seen
	next, _ := s.List(ctx, Filter{Limit: 2, ExcludeIDs: map[string]struct{}{"c3": {}, "c1": {}}})
	if len(next) != 1 || next[0].ID != "c2" {
		t.Errorf("expected only c2 after exclusions, got %v", next)
	}
}
