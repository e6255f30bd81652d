// Package rules evaluates declarative assignment rules against conversations
// and resolves which rule shapes an assignment request.
package rules

import (
	"slices"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/pytake/backend/internal/types"
)

// Evaluate reports whether every present condition of rule matches conv at now.
// Conditions are checked in a fixed order and evaluation stops at the first miss.
// A nil hours falls back to DefaultSchedule.
func Evaluate(rule *types.AssignmentRule, conv *types.Conversation, now time.Time, hours BusinessHours) bool {
	return evaluate(rule, conv, now, hours, globsFor)
}

type matcherFunc func(patterns []string) []glob.Glob

func evaluate(rule *types.AssignmentRule, conv *types.Conversation, now time.Time, hours BusinessHours, tagMatchers matcherFunc) bool {
	if rule == nil || conv == nil || !rule.Enabled {
		return false
	}
	c := &rule.Conditions

	if len(c.Platforms) > 0 && !slices.Contains(c.Platforms, conv.Platform) {
		return false
	}
	if len(c.PriorityLevels) > 0 && !slices.Contains(c.PriorityLevels, conv.Priority) {
		return false
	}
	if c.BusinessHoursOnly {
		if hours == nil {
			hours = DefaultSchedule()
		}
		if !hours.IsOpen(now) {
			return false
		}
	}
	if len(c.Tags) > 0 && !anyTagMatches(tagMatchers(c.Tags), conv.Tags) {
		return false
	}
	if len(c.Departments) > 0 && (conv.Department == "" || !slices.Contains(c.Departments, conv.Department)) {
		return false
	}
	if len(c.CustomerSegments) > 0 && (conv.CustomerSegment == "" || !slices.Contains(c.CustomerSegments, conv.CustomerSegment)) {
		return false
	}
	return true
}

func anyTagMatches(patterns []glob.Glob, tags []string) bool {
	for _, p := range patterns {
		for _, t := range tags {
			if p.Match(t) {
				return true
			}
		}
	}
	return false
}

var globCache sync.Map // pattern -> glob.Glob

// globsFor compiles tag patterns, caching by pattern text.
// Patterns that fail to compile match only themselves literally.
func globsFor(patterns []string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if g, ok := globCache.Load(p); ok {
			out = append(out, g.(glob.Glob))
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			g = literal(p)
		}
		globCache.Store(p, g)
		out = append(out, g)
	}
	return out
}

type literal string

func (l literal) Match(s string) bool { return string(l) == s }
