package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/types"
)

// MemoryStore keeps conversations in process. Used when DYNAMO_MODE=none and in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*types.Conversation
	byPlatform map[string]string // platform key -> conversation id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*types.Conversation),
		byPlatform: make(map[string]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFound("conversation %s not found", id)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) GetByPlatformID(_ context.Context, platform types.Platform, nativeID string) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPlatform[types.PlatformKeyOf(platform, nativeID)]
	if !ok {
		return nil, apperr.NotFound("conversation %s/%s not found", platform, nativeID)
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, conv *types.Conversation) error {
	if conv.ID == "" {
		return apperr.Validation("conversation id is required")
	}
	key := types.PlatformKeyOf(conv.Platform, conv.PlatformConversationID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[conv.ID]; ok {
		return apperr.Conflict("conversation %s already exists", conv.ID)
	}
	if _, ok := s.byPlatform[key]; ok {
		return apperr.Conflict("conversation for %s already exists", key)
	}

	conv.PlatformKey = key
	conv.Version = 1
	s.byID[conv.ID] = conv.Clone()
	s.byPlatform[key] = conv.ID
	return nil
}

func (s *MemoryStore) Update(_ context.Context, conv *types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[conv.ID]
	if !ok {
		return apperr.NotFound("conversation %s not found", conv.ID)
	}
	if existing.Version != conv.Version {
		return apperr.Conflict("conversation %s was modified concurrently (version %d, stored %d)",
			conv.ID, conv.Version, existing.Version)
	}

	conv.Version++
	conv.PlatformKey = existing.PlatformKey
	s.byID[conv.ID] = conv.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Conversation, 0)
	for _, c := range s.byID {
		if filter.Matches(c) {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
