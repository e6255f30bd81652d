package api

import (
	"net/http"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/directory"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// RosterEntry represents a single agent in the roster payload
type RosterEntry struct {
	ID                         string            `json:"id"`
	Name                       string            `json:"name"`
	Email                      string            `json:"email"`
	Status                     types.AgentStatus `json:"status,omitempty"`
	Departments                []string          `json:"departments"`
	Skills                     []string          `json:"skills"`
	Languages                  []string          `json:"languages"`
	Platforms                  []types.Platform  `json:"platforms"`
	MaxConcurrentConversations uint32            `json:"maxConcurrentConversations"`
	PriorityLevel              int               `json:"priorityLevel"`
	SatisfactionRating         *float64          `json:"satisfactionRating,omitempty"`
}

// RosterHandler handles the roster registration endpoint
type RosterHandler struct {
	agents directory.Directory
	logger zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(agents directory.Directory, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		agents: agents,
		logger: logger.With().Str("component", "roster").Logger(),
	}
}

func (e *RosterEntry) validate() error {
	if e.ID == "" {
		return apperr.Validation("agent id is required")
	}
	if e.Status != "" && !e.Status.Valid() {
		return apperr.Validation("agent %s: invalid status %q", e.ID, e.Status)
	}
	if e.PriorityLevel < 1 || e.PriorityLevel > 10 {
		return apperr.Validation("agent %s: priority level must be between 1 and 10", e.ID)
	}
	for _, p := range e.Platforms {
		if !p.Valid() {
			return apperr.Validation("agent %s: unknown platform %q", e.ID, p)
		}
	}
	return nil
}

// HandleRoster handles POST /internal/agents/roster. Known agents keep their
// load counters and, unless the entry sets one, their status. New agents
// start offline.
func (h *RosterHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var roster []RosterEntry
	if err := decode(r, &roster); err != nil {
		writeError(w, h.logger, err)
		return
	}
	for i := range roster {
		if err := roster[i].validate(); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	registered := 0
	for _, entry := range roster {
		agent := types.Agent{
			ID:                         entry.ID,
			Name:                       entry.Name,
			Email:                      entry.Email,
			Status:                     entry.Status,
			Departments:                entry.Departments,
			Skills:                     entry.Skills,
			Languages:                  entry.Languages,
			Platforms:                  entry.Platforms,
			MaxConcurrentConversations: entry.MaxConcurrentConversations,
			PriorityLevel:              entry.PriorityLevel,
			SatisfactionRating:         entry.SatisfactionRating,
		}
		if existing, err := h.agents.GetAgent(r.Context(), entry.ID); err == nil {
			agent.CurrentConversationCount = existing.CurrentConversationCount
			agent.ConversationsHandled = existing.ConversationsHandled
			agent.AvgResponseTime = existing.AvgResponseTime
			if agent.Status == "" {
				agent.Status = existing.Status
			}
		} else if !apperr.Is(err, apperr.CodeNotFound) {
			writeError(w, h.logger, apperr.FromContext("get agent", err))
			return
		}
		if agent.Status == "" {
			agent.Status = types.AgentOffline
		}
		if err := h.agents.UpsertAgent(r.Context(), agent); err != nil {
			writeError(w, h.logger, apperr.FromContext("upsert agent", err))
			return
		}
		registered++
	}

	h.logger.Info().Int("registered", registered).Msg("roster received")
	writeJSON(w, http.StatusOK, map[string]int{"registered": registered})
}
