package rules

import (
	"cmp"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

type compiledRule struct {
	rule types.AssignmentRule
	tags []glob.Glob
}

// RuleSet is an immutable, priority-ordered collection of rules
type RuleSet struct {
	rules []compiledRule
}

// NewRuleSet validates rules and orders them by priority, highest first.
// Rules with equal priority keep their input order.
func NewRuleSet(rules []types.AssignmentRule) (*RuleSet, error) {
	seen := make(map[string]bool, len(rules))
	compiled := make([]compiledRule, 0, len(rules))

	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: missing id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = true

		for _, p := range r.Conditions.Platforms {
			if !p.Valid() {
				return nil, fmt.Errorf("rule %s: unknown platform %q", r.ID, p)
			}
		}
		for _, p := range r.Conditions.PriorityLevels {
			if p < types.PriorityLow || p > types.PriorityCritical {
				return nil, fmt.Errorf("rule %s: invalid priority level %d", r.ID, int(p))
			}
		}
		if sp := r.Actions.SetPriority; sp != nil && (*sp < types.PriorityLow || *sp > types.PriorityCritical) {
			return nil, fmt.Errorf("rule %s: invalid set_priority %d", r.ID, int(*sp))
		}

		cr := compiledRule{rule: r}
		for _, pattern := range r.Conditions.Tags {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid tag pattern %q: %w", r.ID, pattern, err)
			}
			cr.tags = append(cr.tags, g)
		}
		compiled = append(compiled, cr)
	}

	slices.SortStableFunc(compiled, func(a, b compiledRule) int {
		return cmp.Compare(b.rule.Priority, a.rule.Priority)
	})
	return &RuleSet{rules: compiled}, nil
}

// Rules returns the rules in evaluation order
func (rs *RuleSet) Rules() []types.AssignmentRule {
	out := make([]types.AssignmentRule, len(rs.rules))
	for i, cr := range rs.rules {
		out[i] = cr.rule
	}
	return out
}

func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Match returns the first rule in priority order that matches conv
func (rs *RuleSet) Match(conv *types.Conversation, now time.Time, hours BusinessHours) (*types.AssignmentRule, bool) {
	for i := range rs.rules {
		cr := &rs.rules[i]
		matchers := func([]string) []glob.Glob { return cr.tags }
		if evaluate(&cr.rule, conv, now, hours, matchers) {
			r := cr.rule
			return &r, true
		}
	}
	return nil, false
}

// Apply folds the actions of rule into req.
// It reports whether supervisors should be notified once the conversation is assigned.
func Apply(rule *types.AssignmentRule, req *types.AssignmentRequest) (notify bool) {
	a := rule.Actions
	if a.AssignToAgent != "" {
		req.PreferredAgentID = a.AssignToAgent
	}
	if a.AssignToDepartment != "" {
		req.RequiredDepartments = []string{a.AssignToDepartment}
	}
	if a.LoadBalance {
		req.Strategy = types.StrategyLoadBalanced
	}
	if a.SetPriority != nil && !pinned(&req.Conversation, *a.SetPriority) {
		req.Conversation.Priority = *a.SetPriority
	}
	if len(a.AddTags) > 0 {
		req.Conversation.AddTags(a.AddTags...)
	}
	return a.Notify
}

// pinned reports whether a rule override to p would demote an escalated or
// critical conversation, which keeps it away from senior agents
func pinned(conv *types.Conversation, p types.Priority) bool {
	if p >= conv.Priority {
		return false
	}
	return conv.Status == types.ConversationEscalated || conv.Priority == types.PriorityCritical
}

// Resolution describes the rule that shaped an assignment request
type Resolution struct {
	Rule   *types.AssignmentRule
	Notify bool
}

// Engine holds the active rule set and swaps it atomically on reload
type Engine struct {
	current atomic.Pointer[RuleSet]
	hours   BusinessHours
	now     func() time.Time
	logger  zerolog.Logger
}

// NewEngine creates an engine over rs. A nil hours uses DefaultSchedule.
func NewEngine(rs *RuleSet, hours BusinessHours, logger zerolog.Logger) *Engine {
	if rs == nil {
		rs = &RuleSet{}
	}
	if hours == nil {
		hours = DefaultSchedule()
	}
	e := &Engine{
		hours:  hours,
		now:    time.Now,
		logger: logger.With().Str("component", "rules").Logger(),
	}
	e.current.Store(rs)
	return e
}

// SetClock replaces the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// RuleSet returns the active rule set
func (e *Engine) RuleSet() *RuleSet {
	return e.current.Load()
}

// Swap installs a new rule set
func (e *Engine) Swap(rs *RuleSet) {
	e.current.Store(rs)
	e.logger.Info().Int("rules", rs.Len()).Msg("rule set installed")
}

// Reload reads rules from path and installs them. The active set is kept on error.
func (e *Engine) Reload(path string) error {
	rs, err := LoadFile(path)
	if err != nil {
		return err
	}
	e.Swap(rs)
	return nil
}

// BusinessHours returns the provider used for business-hours conditions
func (e *Engine) BusinessHours() BusinessHours {
	return e.hours
}

// Evaluate checks a single rule against conv at the engine's current time
func (e *Engine) Evaluate(rule *types.AssignmentRule, conv *types.Conversation) bool {
	return Evaluate(rule, conv, e.now(), e.hours)
}

// Resolve applies the winning rule, if any, to req
func (e *Engine) Resolve(req *types.AssignmentRequest) Resolution {
	rule, ok := e.current.Load().Match(&req.Conversation, e.now(), e.hours)
	if !ok {
		return Resolution{}
	}
	notify := Apply(rule, req)

	e.logger.Debug().
		Str("conversation_id", req.Conversation.ID).
		Str("rule_id", rule.ID).
		Int("rule_priority", rule.Priority).
		Msg("assignment rule matched")

	return Resolution{Rule: rule, Notify: notify}
}
