package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes an event delivered on the local bus
type Handler func(ctx context.Context, env Envelope)

// Bus delivers events to in-process subscribers and forwards them to external publishers.
// Subscribers run synchronously in registration order; publisher errors are logged only.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string][]Handler // event type or "*" -> handlers
	publishers []Publisher
	producer   string
	logger     zerolog.Logger
}

func NewBus(producer string, logger zerolog.Logger, publishers ...Publisher) *Bus {
	return &Bus{
		handlers:   make(map[string][]Handler),
		publishers: publishers,
		producer:   producer,
		logger:     logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers fn for eventType, or for every event when eventType is "*"
func (b *Bus) Subscribe(eventType string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], fn)
}

// Emit wraps data in an envelope and publishes it
func (b *Bus) Emit(ctx context.Context, eventType string, data any) {
	env, err := New(eventType, b.producer, data)
	if err != nil {
		b.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to build event")
		return
	}
	_ = b.Publish(ctx, RoutingKey(eventType), env)
}

// Publish implements Publisher. It never fails.
func (b *Bus) Publish(ctx context.Context, key string, env Envelope) error {
	b.Deliver(ctx, env)
	for _, p := range b.publishers {
		if err := p.Publish(ctx, key, env); err != nil {
			b.logger.Warn().Err(err).Str("key", key).Str("event_id", env.Meta.ID).Msg("failed to publish event")
		}
	}
	return nil
}

// Deliver runs local subscribers only
func (b *Bus) Deliver(ctx context.Context, env Envelope) {
	b.mu.RLock()
	hs := append(append([]Handler(nil), b.handlers[env.Meta.Type]...), b.handlers["*"]...)
	b.mu.RUnlock()

	for _, h := range hs {
		b.safeCall(ctx, h, env)
	}
}

func (b *Bus) safeCall(ctx context.Context, h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("event_type", env.Meta.Type).Msg("event handler panicked")
		}
	}()
	h(ctx, env)
}

func (b *Bus) Close() error {
	var firstErr error
	for _, p := range b.publishers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
