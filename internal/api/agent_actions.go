package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pytake/backend/internal/auth"
	"github.com/pytake/backend/internal/directory"
	"github.com/pytake/backend/internal/routing"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// AgentSockets is the part of the agent hub the API controls
type AgentSockets interface {
	ForceDisconnect(agentID string) bool
}

// AgentActionsHandler provides REST endpoints for agent records and control actions
type AgentActionsHandler struct {
	agents   directory.Directory
	router   *routing.Orchestrator
	sockets  AgentSockets
	presence *directory.Presence
	logger   zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler. sockets and presence may be nil.
func NewAgentActionsHandler(agents directory.Directory, router *routing.Orchestrator, sockets AgentSockets, presence *directory.Presence, logger zerolog.Logger) *AgentActionsHandler {
	return &AgentActionsHandler{
		agents:   agents,
		router:   router,
		sockets:  sockets,
		presence: presence,
		logger:   logger.With().Str("component", "agent_actions").Logger(),
	}
}

// agentView is an agent record with its live socket state
type agentView struct {
	types.Agent
	Connection directory.ConnectionStatus `json:"connection,omitempty"`
}

func (h *AgentActionsHandler) view(a types.Agent) agentView {
	v := agentView{Agent: a}
	if h.presence != nil {
		v.Connection, _ = h.presence.Status(a.ID)
	}
	return v
}

// List handles GET /api/agents?status=available
func (h *AgentActionsHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.ListAgents(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	claims := claimsOf(r)
	status := types.AgentStatus(r.URL.Query().Get("status"))
	out := make([]agentView, 0, len(agents))
	for i := range agents {
		if status != "" && agents[i].Status != status {
			continue
		}
		if !canViewAgent(claims, &agents[i]) {
			continue
		}
		out = append(out, h.view(agents[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /api/agents/{agentId}
func (h *AgentActionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.agents.GetAgent(r.Context(), chi.URLParam(r, "agentId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !canViewAgent(claimsOf(r), agent) {
		forbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, h.view(*agent))
}

type agentStatusRequest struct {
	Status types.AgentStatus `json:"status"`
}

// SetStatus handles POST /api/agents/{agentId}/status. Agents may only change
// their own status.
func (h *AgentActionsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	claims := claimsOf(r)
	if !isSupervisor(claims) && !(claims.Role == auth.RoleAgent && claims.Subject == agentID) {
		forbidden(w)
		return
	}

	var req agentStatusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.router.SetAgentStatus(r.Context(), agentID, req.Status); err != nil {
		writeError(w, h.logger, err)
		return
	}

	agent, err := h.agents.GetAgent(r.Context(), agentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(*agent))
}

// Logout handles POST /api/agents/{agentId}/logout: the agent goes offline,
// its conversations fail over and its socket is closed
func (h *AgentActionsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	if err := h.router.SetAgentStatus(r.Context(), agentID, types.AgentOffline); err != nil {
		writeError(w, h.logger, err)
		return
	}
	disconnected := false
	if h.sockets != nil {
		disconnected = h.sockets.ForceDisconnect(agentID)
	}

	h.logger.Info().
		Str("agent_id", agentID).
		Str("by", claimsOf(r).Actor()).
		Bool("socket_closed", disconnected).
		Msg("agent logged out via API")

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "agent logged out",
		"agentId":      agentID,
		"disconnected": disconnected,
	})
}
