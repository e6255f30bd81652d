// Package platform sends outbound traffic to the messaging platforms a
// conversation lives on.
package platform

import (
	"context"
	"sort"
	"sync"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/types"
)

// Client delivers messages for one platform
type Client interface {
	Platform() types.Platform
	SendMessage(ctx context.Context, conv *types.Conversation, text string) (messageID string, err error)
	SendTypingIndicator(ctx context.Context, conv *types.Conversation) error
}

// Registry maps platforms to their clients
type Registry struct {
	mu      sync.RWMutex
	clients map[types.Platform]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[types.Platform]Client)}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the client for c.Platform()
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	r.clients[c.Platform()] = c
	r.mu.Unlock()
}

// Get returns the client for p or a validation error when none is registered
func (r *Registry) Get(p types.Platform) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[p]
	if !ok {
		return nil, apperr.Validation("no client registered for platform %q", p)
	}
	return c, nil
}

// Platforms lists the registered platforms in name order
func (r *Registry) Platforms() []types.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Platform, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
