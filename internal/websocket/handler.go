package websocket

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/pytake/backend/internal/auth"
	"github.com/pytake/backend/internal/config"
	"github.com/rs/zerolog"
)

// newUpgrader accepts requests without an Origin header (non-browser
// clients) and browsers from the configured origins
func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
		},
	}
}

// Handler handles dashboard WebSocket upgrade requests
type Handler struct {
	hub      *Hub
	config   *config.Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		config:   cfg,
		upgrader: newUpgrader(cfg.AllowedOrigins),
		logger:   logger.With().Str("component", "dashboard_ws").Logger(),
	}
}

// ServeHTTP upgrades the connection. Claims set by the auth middleware
// decide which departments the client sees.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())
	if claims != nil && claims.Role != auth.RoleAdmin && claims.Role != auth.RoleSupervisor {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, h.config, h.logger, claims)
	if !h.hub.add(client) {
		conn.Close()
		return
	}
	client.Start()
}
