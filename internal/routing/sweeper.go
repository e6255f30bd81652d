package routing

import (
	"context"
	"errors"
	"time"

	"github.com/pytake/backend/internal/alerts"
	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/events"
	"github.com/pytake/backend/internal/notification"
	"github.com/pytake/backend/internal/storage"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

var errSettled = errors.New("already settled")

// SweepReport summarises one sweeper pass
type SweepReport struct {
	Assigned    int
	Unassigned  int
	Breaches    int
	FailedOver  int
	Errors      int
	Duration    time.Duration
	CompletedAt time.Time
}

// Sweeper periodically retries waiting conversations, flags SLA breaches and
// moves conversations away from agents that dropped out of routing
type Sweeper struct {
	o        *Orchestrator
	interval time.Duration
	batch    int
	logger   zerolog.Logger
}

func NewSweeper(o *Orchestrator, interval time.Duration, batch int, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		o:        o,
		interval: interval,
		batch:    batch,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start sweeps on every tick until the context is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			report := s.Sweep(ctx)
			if report.Assigned+report.Breaches+report.FailedOver+report.Errors > 0 {
				s.logger.Info().
					Int("assigned", report.Assigned).
					Int("unassigned", report.Unassigned).
					Int("breaches", report.Breaches).
					Int("failed_over", report.FailedOver).
					Int("errors", report.Errors).
					Dur("duration", report.Duration).
					Msg("sweep finished")
			}
		}
	}
}

// Sweep runs a single pass
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	start := time.Now()
	var r SweepReport

	s.retryWaiting(ctx, &r)
	s.flagBreaches(ctx, &r)
	s.failoverOrphans(ctx, &r)

	r.Duration = time.Since(start)
	r.CompletedAt = s.o.now()
	s.o.record("sweep_duration_seconds", r.Duration.Seconds(), nil)
	return r
}

func (s *Sweeper) list(ctx context.Context, f storage.Filter) ([]types.Conversation, error) {
	f.Limit = s.batch
	cctx, cancel := s.o.collaboratorCtx(ctx)
	defer cancel()
	convs, err := s.o.store.List(cctx, f)
	return convs, apperr.FromContext("list conversations", err)
}

// each pages through every conversation matching f, batch rows at a time.
// Rows already handed to fn are excluded from later pages, so rows that stay
// matching after fn (an unplaceable conversation, a failed write) never hide
// the ones behind them.
func (s *Sweeper) each(ctx context.Context, f storage.Filter, fn func(types.Conversation)) error {
	seen := make(map[string]struct{})
	f.ExcludeIDs = seen
	for ctx.Err() == nil {
		convs, err := s.list(ctx, f)
		if err != nil {
			return err
		}
		for _, c := range convs {
			seen[c.ID] = struct{}{}
			fn(c)
		}
		if len(convs) < s.batch {
			return nil
		}
	}
	return apperr.FromContext("sweep", ctx.Err())
}

func (s *Sweeper) retryWaiting(ctx context.Context, r *SweepReport) {
	err := s.each(ctx, storage.Filter{
		Statuses:   []types.ConversationStatus{types.ConversationOpen, types.ConversationEscalated},
		Unassigned: true,
	}, func(c types.Conversation) {
		res, err := s.o.AutoAssignConversation(ctx, c.ID)
		switch {
		case err != nil:
			r.Errors++
			s.logger.Warn().Err(err).Str("conversation_id", c.ID).Msg("retry assignment failed")
		case res != nil:
			r.Assigned++
		default:
			r.Unassigned++
		}
	})
	if err != nil {
		r.Errors++
		s.logger.Error().Err(err).Msg("failed to list waiting conversations")
	}
}

func (s *Sweeper) flagBreaches(ctx context.Context, r *SweepReport) {
	var convs []types.Conversation
	err := s.each(ctx, storage.Filter{SLAPending: true}, func(c types.Conversation) {
		convs = append(convs, c)
	})
	if err != nil {
		r.Errors++
		s.logger.Error().Err(err).Msg("failed to list SLA candidates")
		return
	}
	for _, b := range alerts.CheckSLA(convs, s.o.now()) {
		flagged, err := s.flag(ctx, b)
		if err != nil {
			r.Errors++
			s.logger.Warn().Err(err).Str("conversation_id", b.ConversationID).Msg("failed to flag SLA breach")
			continue
		}
		if flagged {
			r.Breaches++
		}
	}
}

// flag marks one breach so it fires once, then emits its side effects
func (s *Sweeper) flag(ctx context.Context, b alerts.Breach) (bool, error) {
	o := s.o
	unlock := o.locks.Lock(b.ConversationID)
	defer unlock()

	_, after, err := o.mutate(ctx, b.ConversationID, func(c *types.Conversation) error {
		if c.SLABreached || c.AgentResponded() || c.Status.Terminal() {
			return errSettled
		}
		c.SLABreached = true
		return nil
	})
	if errors.Is(err, errSettled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	agentID := ""
	if after.Assignment != nil {
		agentID = after.Assignment.AgentID
	}
	o.emit(ctx, events.TypeSLABreached, events.SLABreach{
		ConversationID: after.ID,
		AgentID:        agentID,
		Deadline:       b.Deadline,
	})

	priority := notification.PriorityHigh
	if b.Severity == alerts.SeverityCritical {
		priority = notification.PriorityUrgent
	}
	meta := map[string]string{
		"conversation_id": after.ID,
		"severity":        string(b.Severity),
		"deadline":        b.Deadline.UTC().Format(time.RFC3339),
	}
	o.notify(ctx, notification.Notification{
		Type:      notification.TypeSLABreached,
		Title:     "SLA breached",
		Body:      b.Message,
		Recipient: notification.Supervisors,
		Priority:  priority,
		Metadata:  meta,
	})
	if agentID != "" {
		o.notify(ctx, notification.Notification{
			Type:      notification.TypeSLABreached,
			Title:     "Reply overdue for " + displayName(after),
			Body:      b.Message,
			Recipient: agentID,
			Priority:  priority,
			Metadata:  meta,
		})
	}
	o.record("sla_breaches_total", 1, map[string]string{
		"platform": string(after.Platform),
		"severity": string(b.Severity),
	})
	s.logger.Warn().
		Str("conversation_id", after.ID).
		Str("agent_id", agentID).
		Str("severity", string(b.Severity)).
		Dur("overdue", b.Overdue).
		Msg("SLA breached")
	return true, nil
}

// failoverOrphans catches conversations whose agent went offline without a
// status change reaching this replica
func (s *Sweeper) failoverOrphans(ctx context.Context, r *SweepReport) {
	o := s.o
	cctx, cancel := o.collaboratorCtx(ctx)
	agents, err := o.directory.ListAvailableAgents(cctx)
	cancel()
	if err != nil {
		r.Errors++
		s.logger.Error().Err(apperr.FromContext("list available agents", err)).Msg("failed to list agents")
		return
	}
	online := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		online[a.ID] = struct{}{}
	}

	err = s.each(ctx, storage.Filter{
		Statuses: []types.ConversationStatus{
			types.ConversationAssigned,
			types.ConversationActive,
			types.ConversationPending,
			types.ConversationEscalated,
		},
		AgentNotIn: online,
	}, func(c types.Conversation) {
		res, err := o.HandleAgentUnavailable(ctx, c.Assignment.AgentID, c.ID)
		if err != nil {
			r.Errors++
			s.logger.Warn().Err(err).
				Str("conversation_id", c.ID).
				Str("agent_id", c.Assignment.AgentID).
				Msg("orphan failover failed")
			return
		}
		if res != nil {
			r.FailedOver++
		}
	})
	if err != nil {
		r.Errors++
		s.logger.Error().Err(err).Msg("failed to list assigned conversations")
	}
}
