// Package routing drives conversations through their lifecycle: inbound
// messages, auto-assignment, agent replies, failover, escalation and transfers.
package routing

import (
	"context"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/assignment"
	"github.com/pytake/backend/internal/notification"
	"github.com/pytake/backend/internal/platform"
	"github.com/pytake/backend/internal/rules"
	"github.com/pytake/backend/internal/storage"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// Directory is the part of the agent directory the orchestrator talks to
type Directory interface {
	ListAvailableAgents(ctx context.Context) ([]types.Agent, error)
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	SetStatus(ctx context.Context, id string, status types.AgentStatus) (types.AgentStatus, error)
}

// Notifier creates notifications
type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) (notification.Notification, error)
}

// MetricsSink records named samples
type MetricsSink interface {
	Record(name string, value float64, tags map[string]string)
}

// Platforms resolves the client for a platform
type Platforms interface {
	Get(p types.Platform) (platform.Client, error)
}

// Renderer renders response templates
type Renderer interface {
	Render(ctx context.Context, id string, vars map[string]string) (string, error)
	RecordUsage(ctx context.Context, id string) error
}

// Emitter publishes lifecycle events
type Emitter interface {
	Emit(ctx context.Context, eventType string, data any)
}

// Deps are the collaborators of an Orchestrator. Notifier, Metrics, Events
// and Templates may be nil.
type Deps struct {
	Store     storage.Store
	Directory Directory
	Selector  *assignment.Selector
	Rules     *rules.Engine
	Platforms Platforms
	Templates Renderer
	Notifier  Notifier
	Metrics   MetricsSink
	Events    Emitter
}

// Config tunes the orchestrator
type Config struct {
	// CollaboratorTimeout bounds each store, directory and platform call
	CollaboratorTimeout time.Duration
	// RespectBusinessHours skips auto-assignment while closed
	RespectBusinessHours bool
	// WriteRetries is how often a conflicting read-modify-write is retried
	WriteRetries int
}

func DefaultConfig() Config {
	return Config{
		CollaboratorTimeout: 5 * time.Second,
		WriteRetries:        3,
	}
}

// Orchestrator owns every state transition of a conversation. Calls for the
// same conversation are serialised; the store's version check guards writes
// from other replicas.
type Orchestrator struct {
	store     storage.Store
	directory Directory
	selector  *assignment.Selector
	rules     *rules.Engine
	platforms Platforms
	templates Renderer
	notifier  Notifier
	metrics   MetricsSink
	events    Emitter

	cfg    Config
	locks  *keyedMutex
	now    func() time.Time
	logger zerolog.Logger
}

func New(deps Deps, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = DefaultConfig().CollaboratorTimeout
	}
	if cfg.WriteRetries <= 0 {
		cfg.WriteRetries = DefaultConfig().WriteRetries
	}
	if deps.Rules == nil {
		deps.Rules = rules.NewEngine(nil, nil, logger)
	}
	o := &Orchestrator{
		store:     deps.Store,
		directory: deps.Directory,
		selector:  deps.Selector,
		rules:     deps.Rules,
		platforms: deps.Platforms,
		templates: deps.Templates,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		events:    deps.Events,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		now:       time.Now,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
	}
	if o.selector == nil {
		o.selector = assignment.NewSelector(deps.Directory, deps.Rules.BusinessHours(), logger)
		o.selector.SetTimeout(cfg.CollaboratorTimeout)
	}
	return o
}

// SetClock replaces the time source
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.selector.SetClock(now)
	o.rules.SetClock(now)
}

// Store exposes the conversation store for read paths
func (o *Orchestrator) Store() storage.Store {
	return o.store
}

// GetConversation loads a conversation
func (o *Orchestrator) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	cctx, cancel := o.collaboratorCtx(ctx)
	defer cancel()
	conv, err := o.store.Get(cctx, id)
	return conv, apperr.FromContext("get conversation", err)
}

func (o *Orchestrator) collaboratorCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.CollaboratorTimeout)
}

// mutate re-reads the conversation and applies fn until the write succeeds
// or retries run out. fn returning an error aborts without writing. Callers
// hold the conversation lock, so conflicts only come from other replicas.
func (o *Orchestrator) mutate(ctx context.Context, id string, fn func(conv *types.Conversation) error) (before, after *types.Conversation, err error) {
	for attempt := 0; attempt <= o.cfg.WriteRetries; attempt++ {
		cctx, cancel := o.collaboratorCtx(ctx)
		current, err := o.store.Get(cctx, id)
		cancel()
		if err != nil {
			return nil, nil, apperr.FromContext("get conversation", err)
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return nil, nil, err
		}
		next.UpdatedAt = o.now()

		cctx, cancel = o.collaboratorCtx(ctx)
		err = o.store.Update(cctx, next)
		cancel()
		if err == nil {
			return current, next, nil
		}
		if !apperr.Is(err, apperr.CodeConflict) {
			return nil, nil, apperr.FromContext("update conversation", err)
		}
		o.logger.Debug().Str("conversation_id", id).Int("attempt", attempt+1).Msg("write conflict, retrying")
	}
	return nil, nil, apperr.Conflict("conversation %s kept changing, gave up after %d attempts", id, o.cfg.WriteRetries+1)
}

func (o *Orchestrator) emit(ctx context.Context, eventType string, data any) {
	if o.events == nil {
		return
	}
	o.events.Emit(ctx, eventType, data)
}

func (o *Orchestrator) record(name string, value float64, tags map[string]string) {
	if o.metrics == nil {
		return
	}
	o.metrics.Record(name, value, tags)
}

// notify never fails the caller; delivery problems are logged
func (o *Orchestrator) notify(ctx context.Context, n notification.Notification) {
	if o.notifier == nil {
		return
	}
	if _, err := o.notifier.Notify(ctx, n); err != nil {
		o.logger.Warn().Err(err).
			Str("recipient", n.Recipient).
			Str("type", string(n.Type)).
			Msg("failed to create notification")
	}
}
