package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pytake/backend/internal/routing"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// ConversationsHandler exposes the routing operations on a single conversation
type ConversationsHandler struct {
	router *routing.Orchestrator
	logger zerolog.Logger
}

func NewConversationsHandler(router *routing.Orchestrator, logger zerolog.Logger) *ConversationsHandler {
	return &ConversationsHandler{
		router: router,
		logger: logger.With().Str("component", "conversations_handler").Logger(),
	}
}

// load fetches the conversation named in the URL and checks the caller may
// act on it. It writes the error response itself and returns nil on failure.
func (h *ConversationsHandler) load(w http.ResponseWriter, r *http.Request, work bool) *types.Conversation {
	conv, err := h.router.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return nil
	}
	claims := claimsOf(r)
	allowed := canView(claims, conv)
	if work {
		allowed = canWork(claims, conv)
	}
	if !allowed {
		forbidden(w)
		return nil
	}
	return conv
}

// Get handles GET /api/conversations/{id}
func (h *ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if conv := h.load(w, r, false); conv != nil {
		writeJSON(w, http.StatusOK, conv)
	}
}

type assignRequest struct {
	AgentID string `json:"agentId"`
}

// Assign handles POST /api/conversations/{id}/assign. Without an agent id the
// conversation is routed automatically.
func (h *ConversationsHandler) Assign(w http.ResponseWriter, r *http.Request) {
	conv := h.load(w, r, true)
	if conv == nil {
		return
	}
	var req assignRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var (
		res *types.AssignmentResult
		err error
	)
	if req.AgentID == "" {
		res, err = h.router.AutoAssignConversation(r.Context(), conv.ID)
	} else {
		res, err = h.router.AssignManually(r.Context(), conv.ID, req.AgentID, claimsOf(r).Actor())
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"conversationId": conv.ID,
			"assigned":       false,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type transferRequest struct {
	AgentID string `json:"agentId"`
	Note    string `json:"note,omitempty"`
}

// Transfer handles POST /api/conversations/{id}/transfer
func (h *ConversationsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	conv := h.load(w, r, true)
	if conv == nil {
		return
	}
	var req transferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.router.TransferConversation(r.Context(), conv.ID, req.AgentID, claimsOf(r).Actor(), req.Note)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type escalateRequest struct {
	Reason     string `json:"reason"`
	Department string `json:"department,omitempty"`
}

// Escalate handles POST /api/conversations/{id}/escalate
func (h *ConversationsHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	conv := h.load(w, r, true)
	if conv == nil {
		return
	}
	var req escalateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	updated, err := h.router.EscalateConversation(r.Context(), conv.ID, req.Reason, claimsOf(r).Actor(), req.Department)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type statusRequest struct {
	Status types.ConversationStatus `json:"status"`
}

// SetStatus handles POST /api/conversations/{id}/status
func (h *ConversationsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	conv := h.load(w, r, true)
	if conv == nil {
		return
	}
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	updated, err := h.router.UpdateConversationStatus(r.Context(), conv.ID, req.Status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type messageRequest struct {
	Text            string            `json:"text,omitempty"`
	TemplateID      string            `json:"templateId,omitempty"`
	TemplateContext map[string]string `json:"templateContext,omitempty"`
}

// SendMessage handles POST /api/conversations/{id}/messages
func (h *ConversationsHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conv := h.load(w, r, true)
	if conv == nil {
		return
	}
	var req messageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.router.SendMessage(r.Context(), types.OutboundMessage{
		ConversationID:  conv.ID,
		AgentID:         claimsOf(r).Actor(),
		Text:            req.Text,
		TemplateID:      req.TemplateID,
		TemplateContext: req.TemplateContext,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Typing handles POST /api/conversations/{id}/typing
func (h *ConversationsHandler) Typing(w http.ResponseWriter, r *http.Request) {
	conv := h.load(w, r, true)
	if conv == nil {
		return
	}
	if err := h.router.SendTypingIndicator(r.Context(), conv.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
