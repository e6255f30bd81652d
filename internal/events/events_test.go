package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	envs []Envelope
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, msg Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.envs = append(p.envs, msg)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestNewEnvelope(t *testing.T) {
	env, err := New(TypeConversationAssigned, "pytake-backend", Assignment{
		ConversationID: "c1",
		Platform:       types.PlatformWhatsApp,
		Assignment:     types.ConversationAssignment{AgentID: "a1", Reason: types.ReasonAutoAssignment},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, env.Meta.ID)
	assert.Equal(t, TypeConversationAssigned, env.Meta.Type)
	require.NotNil(t, env.Meta.Producer)
	assert.Equal(t, "pytake-backend", *env.Meta.Producer)
	assert.Nil(t, env.Meta.CorrelationID)

	var got Assignment
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "a1", got.Assignment.AgentID)

	correlated := env.WithCorrelation("req-1")
	require.NotNil(t, correlated.Meta.CorrelationID)
	assert.Equal(t, "req-1", *correlated.Meta.CorrelationID)
	assert.Nil(t, env.Meta.CorrelationID)

	body, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"type":"conversation_assigned"`)
}

func TestBusDeliversToSubscribersAndPublishers(t *testing.T) {
	pub := &recordingPublisher{}
	bus := NewBus("test", zerolog.Nop(), pub)

	var typed, all []string
	bus.Subscribe(TypeSLABreached, func(_ context.Context, env Envelope) { typed = append(typed, env.Meta.Type) })
	bus.Subscribe("*", func(_ context.Context, env Envelope) { all = append(all, env.Meta.Type) })

	bus.Emit(context.Background(), TypeSLABreached, SLABreach{ConversationID: "c1"})
	bus.Emit(context.Background(), TypeMessageReceived, MessageReceived{ConversationID: "c1"})

	assert.Equal(t, []string{TypeSLABreached}, typed)
	assert.Equal(t, []string{TypeSLABreached, TypeMessageReceived}, all)
	assert.Equal(t, []string{"conversations.sla_breached", "conversations.message_received"}, pub.keys)
}

func TestBusSwallowsPublisherErrorsAndPanics(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	bus := NewBus("test", zerolog.Nop(), pub)

	delivered := false
	bus.Subscribe("*", func(context.Context, Envelope) { panic("boom") })
	bus.Subscribe("*", func(context.Context, Envelope) { delivered = true })

	env, err := New(TypeMessageSent, "", MessageSent{ConversationID: "c1"})
	require.NoError(t, err)

	assert.NoError(t, bus.Publish(context.Background(), RoutingKey(TypeMessageSent), env))
	assert.True(t, delivered)
	assert.Len(t, pub.envs, 1)
}

func TestFallbackPublisher(t *testing.T) {
	p := NewFallback(zerolog.Nop())
	assert.NoError(t, p.Publish(context.Background(), "k", Envelope{}))
	assert.NoError(t, p.Close())
}
