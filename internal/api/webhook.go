package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pytake/backend/internal/routing"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// WebhookHandler receives inbound customer messages from platform webhooks
type WebhookHandler struct {
	router         *routing.Orchestrator
	logger         zerolog.Logger
	eventsReceived int64
	eventsFailed   int64
	lastReceived   time.Time
	mu             sync.RWMutex
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(router *routing.Orchestrator, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		router: router,
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

type inboundResponse struct {
	ConversationID string                   `json:"conversationId"`
	Created        bool                     `json:"created"`
	Status         types.ConversationStatus `json:"status"`
	AgentID        string                   `json:"agentId,omitempty"`
}

// HandleMessage handles POST /webhooks/{platform}/messages
func (h *WebhookHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var msg types.InboundMessage
	if err := decode(r, &msg); err != nil {
		atomic.AddInt64(&h.eventsFailed, 1)
		writeError(w, h.logger, err)
		return
	}
	msg.Platform = types.Platform(chi.URLParam(r, "platform"))

	res, err := h.router.HandleInboundMessage(r.Context(), msg)
	if err != nil {
		atomic.AddInt64(&h.eventsFailed, 1)
		writeError(w, h.logger, err)
		return
	}

	count := atomic.AddInt64(&h.eventsReceived, 1)
	h.mu.Lock()
	h.lastReceived = time.Now()
	h.mu.Unlock()

	// Log periodically
	if count%1000 == 0 {
		h.logger.Info().Int64("total_received", count).Msg("inbound messages received")
	}

	resp := inboundResponse{
		ConversationID: res.Conversation.ID,
		Created:        res.Created,
		Status:         res.Conversation.Status,
	}
	if res.Conversation.Assignment != nil {
		resp.AgentID = res.Conversation.Assignment.AgentID
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// GetStats handles GET /internal/webhooks/stats
func (h *WebhookHandler) GetStats(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	lastReceived := h.lastReceived
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"messages_received": atomic.LoadInt64(&h.eventsReceived),
		"messages_failed":   atomic.LoadInt64(&h.eventsFailed),
		"last_received":     lastReceived,
	})
}
