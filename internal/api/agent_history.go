package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/auth"
	"github.com/pytake/backend/internal/storage"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// AgentHistoryHandler lists the conversations an agent holds or held
type AgentHistoryHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewAgentHistoryHandler creates a new AgentHistoryHandler
func NewAgentHistoryHandler(store storage.Store, logger zerolog.Logger) *AgentHistoryHandler {
	return &AgentHistoryHandler{
		store:  store,
		logger: logger.With().Str("component", "agent_history_handler").Logger(),
	}
}

// GetConversations returns the agent's conversations
// GET /api/agents/{agentId}/conversations?status=active&limit=50
func (h *AgentHistoryHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	claims := claimsOf(r)
	if claims.Role == auth.RoleAgent && claims.Subject != agentID {
		forbidden(w)
		return
	}

	filter := storage.Filter{AgentID: agentID, Limit: 100}
	q := r.URL.Query()
	for _, s := range q["status"] {
		status := types.ConversationStatus(s)
		if !status.Valid() {
			writeError(w, h.logger, apperr.Validation("invalid status %q", s))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, h.logger, apperr.Validation("invalid limit %q", v))
			return
		}
		filter.Limit = limit
	}

	convs, err := h.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, apperr.FromContext("list conversations", err))
		return
	}

	out := make([]types.Conversation, 0, len(convs))
	for i := range convs {
		if canView(claims, &convs[i]) || claims.Role == auth.RoleAgent {
			out = append(out, convs[i])
		}
	}
	writeJSON(w, http.StatusOK, out)
}
