package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pytake/backend/internal/auth"
	"github.com/rs/zerolog"
)

// AgentHandler handles WebSocket upgrade requests from agent consoles
type AgentHandler struct {
	hub      *AgentHub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewAgentHandler creates a new AgentHandler
func NewAgentHandler(hub *AgentHub, allowedOrigins []string, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{
		hub:      hub,
		upgrader: newUpgrader(allowedOrigins),
		logger:   logger.With().Str("component", "agent_ws").Logger(),
	}
}

// ServeHTTP upgrades the connection. The socket joins the hub once it sends
// a valid register message.
func (h *AgentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade agent connection")
		return
	}

	client := NewAgentClient(h.hub, conn, claims, h.logger)
	client.Start()
}
