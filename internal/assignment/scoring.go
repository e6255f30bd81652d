package assignment

import (
	"math"
	"slices"

	"github.com/pytake/backend/internal/types"
)

// Factor weights. They sum to 1.0.
const (
	WeightAvailability = 0.40
	WeightWorkload     = 0.30
	WeightSkills       = 0.15
	WeightLanguage     = 0.10
	WeightPerformance  = 0.05
)

// neutralPerformance is credited to agents without a satisfaction rating
const neutralPerformance = 0.5

// Breakdown holds the unweighted factor values of one score, each in [0,1]
type Breakdown struct {
	Availability float64
	Workload     float64
	Skills       float64
	Language     float64
	Performance  float64
}

// Total returns the weighted, normalised score clamped to [0,1]
func (b Breakdown) Total() float64 {
	sum := b.Availability*WeightAvailability +
		b.Workload*WeightWorkload +
		b.Skills*WeightSkills +
		b.Language*WeightLanguage +
		b.Performance*WeightPerformance
	total := WeightAvailability + WeightWorkload + WeightSkills + WeightLanguage + WeightPerformance
	return clamp01(sum / total)
}

// Score rates how well agent suits conv under req, in [0,1]
func Score(agent *types.Agent, conv *types.Conversation, req *types.AssignmentRequest) float64 {
	return Explain(agent, conv, req).Total()
}

// Explain computes the per-factor breakdown behind Score
func Explain(agent *types.Agent, _ *types.Conversation, req *types.AssignmentRequest) Breakdown {
	if agent == nil {
		return Breakdown{}
	}
	var skills, languages []string
	if req != nil {
		skills = req.RequiredSkills
		languages = req.RequiredLanguages
	}
	return Breakdown{
		Availability: availabilityFactor(agent),
		Workload:     workloadFactor(agent),
		Skills:       skillFactor(agent.Skills, skills),
		Language:     languageFactor(agent.Languages, languages),
		Performance:  performanceFactor(agent.SatisfactionRating),
	}
}

func availabilityFactor(a *types.Agent) float64 {
	switch {
	case a.Status == types.AgentAvailable:
		return 1.0
	case a.Status == types.AgentBusy && a.HasCapacity():
		return 0.5
	}
	return 0.0
}

func workloadFactor(a *types.Agent) float64 {
	if a.MaxConcurrentConversations == 0 {
		return 0.0
	}
	return clamp01(1 - float64(a.CurrentConversationCount)/float64(a.MaxConcurrentConversations))
}

func skillFactor(have, required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	matched := 0
	for _, s := range required {
		if slices.Contains(have, s) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

func languageFactor(have, required []string) float64 {
	if len(required) == 0 || intersects(have, required) {
		return 1.0
	}
	return 0.0
}

func performanceFactor(rating *float64) float64 {
	if rating == nil || math.IsNaN(*rating) {
		return neutralPerformance
	}
	return math.Min(math.Max(*rating, 0), 5) / 5.0
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}
