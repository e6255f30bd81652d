package assignment

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// AgentLister is the subset of the agent directory the selector needs
type AgentLister interface {
	ListAvailableAgents(ctx context.Context) ([]types.Agent, error)
}

// BusinessHours reports whether the business is open at a given instant
type BusinessHours interface {
	IsOpen(now time.Time) bool
}

// Selector picks the best eligible agent for an assignment request
type Selector struct {
	agents  AgentLister
	hours   BusinessHours
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewSelector creates a selector. hours may be nil, in which case the business is always open.
func NewSelector(agents AgentLister, hours BusinessHours, logger zerolog.Logger) *Selector {
	return &Selector{
		agents:  agents,
		hours:   hours,
		timeout: 5 * time.Second,
		now:     time.Now,
		logger:  logger.With().Str("component", "selector").Logger(),
	}
}

// SetTimeout bounds each directory call
func (s *Selector) SetTimeout(d time.Duration) {
	s.timeout = d
}

// SetClock replaces the time source
func (s *Selector) SetClock(now func() time.Time) {
	s.now = now
}

type candidate struct {
	agent     types.Agent
	breakdown Breakdown
	score     float64
}

// FindBestAgent returns the best agent for req, or nil when none is eligible.
// A nil result is not an error; only directory failures are.
func (s *Selector) FindBestAgent(ctx context.Context, req *types.AssignmentRequest) (*types.AssignmentResult, error) {
	if req == nil {
		return nil, apperr.Validation("assignment request is required")
	}
	conv := &req.Conversation
	now := s.now()

	if req.RespectBusinessHours && s.hours != nil && !s.hours.IsOpen(now) {
		s.logger.Debug().
			Str("conversation_id", conv.ID).
			Msg("outside business hours, skipping assignment")
		return nil, nil
	}

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	agents, err := s.agents.ListAvailableAgents(lctx)
	if err != nil {
		return nil, apperr.FromContext("list available agents", err)
	}

	eligible := Eligible(agents, conv, req)
	if len(eligible) == 0 {
		s.logger.Debug().
			Str("conversation_id", conv.ID).
			Int("pool_size", len(agents)).
			Msg("no eligible agent")
		return nil, nil
	}

	candidates := make([]candidate, 0, len(eligible))
	for _, a := range eligible {
		b := Explain(&a, conv, req)
		c := candidate{agent: a, breakdown: b, score: b.Total()}
		candidates = append(candidates, c)
		s.logger.Debug().
			Str("conversation_id", conv.ID).
			Str("agent_id", a.ID).
			Float64("score", c.score).
			Msg("candidate scored")
	}

	// cmp.Compare orders NaN first, so compare explicitly and treat NaN as equal
	slices.SortStableFunc(candidates, func(a, b candidate) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	best := candidates[0]
	preferred := false
	if req.PreferredAgentID != "" {
		if i := slices.IndexFunc(candidates, func(c candidate) bool { return c.agent.ID == req.PreferredAgentID }); i >= 0 {
			best = candidates[i]
			preferred = true
		}
	}

	strategy := cmp.Or(req.Strategy, types.StrategyBestMatch)
	result := &types.AssignmentResult{
		Agent: best.agent,
		Assignment: types.ConversationAssignment{
			AgentID:    best.agent.ID,
			AgentName:  best.agent.Name,
			AssignedAt: now,
			AssignedBy: nil,
			Reason:     types.ReasonAutoAssignment,
		},
		Score:                 best.score,
		Reasoning:             reasoning(best, conv, req, strategy, preferred),
		EstimatedResponseTime: best.agent.AvgResponseTime,
	}

	s.logger.Debug().
		Str("conversation_id", conv.ID).
		Str("agent_id", best.agent.ID).
		Float64("score", best.score).
		Str("strategy", string(strategy)).
		Int("candidates", len(candidates)).
		Msg("agent selected")

	return result, nil
}

func reasoning(c candidate, conv *types.Conversation, req *types.AssignmentRequest, strategy types.AssignmentStrategy, preferred bool) []string {
	a := c.agent
	out := []string{
		fmt.Sprintf("Selected agent %s (%s)", a.Name, a.ID),
		fmt.Sprintf("Strategy: %s", strategy),
		fmt.Sprintf("Match score: %.2f", c.score),
		fmt.Sprintf("Status: %s", a.Status),
		fmt.Sprintf("Workload: %d/%d conversations", a.CurrentConversationCount, a.MaxConcurrentConversations),
		fmt.Sprintf("Supports platform: %s", conv.Platform),
	}
	if preferred {
		out = append(out, "Preferred agent requested and eligible")
	}
	if a.SatisfactionRating != nil {
		out = append(out, fmt.Sprintf("Satisfaction rating: %.1f/5", *a.SatisfactionRating))
	} else {
		out = append(out, "Satisfaction rating: none (neutral)")
	}
	if len(req.RequiredSkills) > 0 {
		out = append(out, fmt.Sprintf("Skills matched: %.0f%% of [%s]", c.breakdown.Skills*100, strings.Join(req.RequiredSkills, ", ")))
	}
	if len(req.RequiredLanguages) > 0 {
		out = append(out, fmt.Sprintf("Languages: [%s] required, agent speaks [%s]",
			strings.Join(req.RequiredLanguages, ", "), strings.Join(a.Languages, ", ")))
	}
	if req.Emergency {
		out = append(out, "Emergency request")
	}
	return out
}
