package storage

import (
	"context"
	"slices"

	"github.com/pytake/backend/internal/types"
)

// Store persists conversations. Update is optimistic: the conversation's Version
// must match the stored one, and a successful write increments it.
type Store interface {
	Get(ctx context.Context, id string) (*types.Conversation, error)
	GetByPlatformID(ctx context.Context, platform types.Platform, nativeID string) (*types.Conversation, error)
	Create(ctx context.Context, conv *types.Conversation) error
	Update(ctx context.Context, conv *types.Conversation) error
	List(ctx context.Context, filter Filter) ([]types.Conversation, error)
}

// Filter narrows List. Zero fields are not applied.
type Filter struct {
	Statuses   []types.ConversationStatus
	AgentID    string
	Unassigned bool
	// SLAPending selects conversations with an SLA, no agent reply and no recorded breach
	SLAPending bool
	// ExcludeIDs drops conversations already handled by the caller
	ExcludeIDs map[string]struct{}
	// AgentNotIn, when non-nil, keeps assigned conversations whose agent is
	// not in the set
	AgentNotIn map[string]struct{}
	Limit      int
}

// Matches reports whether conv passes the filter
func (f Filter) Matches(conv *types.Conversation) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, conv.Status) {
		return false
	}
	if f.AgentID != "" && (conv.Assignment == nil || conv.Assignment.AgentID != f.AgentID) {
		return false
	}
	if f.Unassigned && conv.Assignment != nil {
		return false
	}
	if f.SLAPending && (conv.SLASeconds == nil || conv.AgentResponded() || conv.SLABreached || conv.Status.Terminal()) {
		return false
	}
	if _, skip := f.ExcludeIDs[conv.ID]; skip {
		return false
	}
	if f.AgentNotIn != nil {
		if conv.Assignment == nil {
			return false
		}
		if _, ok := f.AgentNotIn[conv.Assignment.AgentID]; ok {
			return false
		}
	}
	return true
}
