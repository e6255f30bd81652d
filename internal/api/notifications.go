package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pytake/backend/internal/auth"
	"github.com/pytake/backend/internal/notification"
	"github.com/rs/zerolog"
)

// NotificationsHandler serves the in-app inbox
type NotificationsHandler struct {
	service *notification.Service
	logger  zerolog.Logger
}

func NewNotificationsHandler(service *notification.Service, logger zerolog.Logger) *NotificationsHandler {
	return &NotificationsHandler{
		service: service,
		logger:  logger.With().Str("component", "notifications_handler").Logger(),
	}
}

// mayRead reports whether the caller may open recipient's inbox. Agents read
// their own; supervisors read the shared inbox and any agent's.
func mayRead(c *auth.Claims, recipient string) bool {
	if isSupervisor(c) {
		return true
	}
	return c.Role == auth.RoleAgent && recipient == c.Subject && recipient != notification.Supervisors
}

// List handles GET /api/notifications/{recipient}?unread=true
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	recipient := chi.URLParam(r, "recipient")
	if !mayRead(claimsOf(r), recipient) {
		forbidden(w)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	list := h.service.List(recipient, unreadOnly)
	if list == nil {
		list = []notification.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"unread":        h.service.Unread(recipient),
	})
}

// MarkRead handles POST /api/notifications/{recipient}/{id}/read
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	recipient := chi.URLParam(r, "recipient")
	if !mayRead(claimsOf(r), recipient) {
		forbidden(w)
		return
	}
	if err := h.service.MarkRead(recipient, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
