package api

import (
	"net/http"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/rules"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// RulesHandler exposes the active assignment rules
type RulesHandler struct {
	engine *rules.Engine
	logger zerolog.Logger
}

func NewRulesHandler(engine *rules.Engine, logger zerolog.Logger) *RulesHandler {
	return &RulesHandler{
		engine: engine,
		logger: logger.With().Str("component", "rules_handler").Logger(),
	}
}

// List handles GET /api/rules. Rules are returned in evaluation order.
func (h *RulesHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.RuleSet().Rules())
}

type evaluateRequest struct {
	Conversation types.Conversation `json:"conversation"`
	RuleID       string             `json:"ruleId,omitempty"`
}

type ruleResult struct {
	RuleID  string `json:"ruleId"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Matches bool   `json:"matches"`
}

type evaluateResponse struct {
	Results []ruleResult `json:"results"`
	// Winner is the rule auto-assignment would apply
	Winner  *types.AssignmentRule   `json:"winner,omitempty"`
	Request types.AssignmentRequest `json:"request"`
}

// Evaluate handles POST /api/rules/evaluate: a dry run of the rules against
// a conversation, showing the request the winning rule would produce
func (h *RulesHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var results []ruleResult
	for _, rule := range h.engine.RuleSet().Rules() {
		if req.RuleID != "" && rule.ID != req.RuleID {
			continue
		}
		results = append(results, ruleResult{
			RuleID:  rule.ID,
			Name:    rule.Name,
			Enabled: rule.Enabled,
			Matches: h.engine.Evaluate(&rule, &req.Conversation),
		})
	}
	if req.RuleID != "" && len(results) == 0 {
		writeError(w, h.logger, apperr.NotFound("rule %s not found", req.RuleID))
		return
	}

	areq := types.NewAssignmentRequest(req.Conversation)
	resolution := h.engine.Resolve(&areq)
	writeJSON(w, http.StatusOK, evaluateResponse{
		Results: results,
		Winner:  resolution.Rule,
		Request: areq,
	})
}
