package api

import (
	"net/http"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/routing"
	"github.com/pytake/backend/internal/rules"
	"github.com/pytake/backend/internal/templates"
	"github.com/rs/zerolog"
)

// AdminHandler runs maintenance actions on the routing core
type AdminHandler struct {
	sweeper       *routing.Sweeper
	engine        *rules.Engine
	renderer      *templates.Renderer
	rulesFile     string
	templatesFile string
	logger        zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler. renderer may be nil.
func NewAdminHandler(sweeper *routing.Sweeper, engine *rules.Engine, renderer *templates.Renderer, rulesFile, templatesFile string, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		sweeper:       sweeper,
		engine:        engine,
		renderer:      renderer,
		rulesFile:     rulesFile,
		templatesFile: templatesFile,
		logger:        logger.With().Str("component", "admin").Logger(),
	}
}

// Sweep handles POST /api/admin/sweep: runs one sweeper pass now
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report := h.sweeper.Sweep(r.Context())

	h.logger.Info().
		Str("by", claimsOf(r).Actor()).
		Int("assigned", report.Assigned).
		Int("breaches", report.Breaches).
		Int("failed_over", report.FailedOver).
		Msg("sweep triggered via admin")

	writeJSON(w, http.StatusOK, map[string]any{
		"assigned":    report.Assigned,
		"unassigned":  report.Unassigned,
		"breaches":    report.Breaches,
		"failedOver":  report.FailedOver,
		"errors":      report.Errors,
		"durationMs":  report.Duration.Milliseconds(),
		"completedAt": report.CompletedAt,
	})
}

// ReloadRules handles POST /api/admin/rules/reload. The active rules stay
// in place when the file is invalid.
func (h *AdminHandler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.rulesFile == "" {
		writeError(w, h.logger, apperr.BusinessRule("no rules file configured"))
		return
	}
	if err := h.engine.Reload(h.rulesFile); err != nil {
		writeError(w, h.logger, apperr.Validation("failed to reload rules: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded",
		"rules":   h.engine.RuleSet().Len(),
	})
}

// ReloadTemplates handles POST /api/admin/templates/reload
func (h *AdminHandler) ReloadTemplates(w http.ResponseWriter, r *http.Request) {
	if h.renderer == nil || h.templatesFile == "" {
		writeError(w, h.logger, apperr.BusinessRule("no templates file configured"))
		return
	}
	if err := h.renderer.LoadFile(h.templatesFile); err != nil {
		writeError(w, h.logger, apperr.Validation("failed to reload templates: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "templates reloaded",
		"templates": len(h.renderer.List()),
	})
}
