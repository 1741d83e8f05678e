// Package handler exposes the segregation-of-duties checker and rule
// administration over HTTP.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	id "entitle/pkg/domain"
	"entitle/pkg/requestcontext"

	"entitle/internal/platform/middleware"
	"entitle/internal/sod"
	"entitle/internal/transport/http/shared"
)

// Handler handles conflict-check and rule endpoints.
type Handler struct {
	svc    *sod.Service
	logger *slog.Logger
}

// New creates a conflict Handler.
func New(svc *sod.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register registers the conflict routes. Rule mutation is admin-only; checks
// and listings are open to any authenticated user.
func (h *Handler) Register(r chi.Router) {
	r.Route("/sod", func(r chi.Router) {
		r.Post("/check", h.handleCheck)
		r.Get("/rules", h.handleListRules)
		r.Get("/users/{id}/violations", h.handleUserViolations)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.logger))
			r.Post("/rules", h.handleCreateRule)
			r.Put("/rules/{id}", h.handleUpdateRule)
			r.Delete("/rules/{id}", h.handleDeleteRule)
		})
	})
}

type checkBody struct {
	UserID  id.UserID   `json:"user_id"`
	RoleID  id.RoleID   `json:"role_id"`
	RoleIDs []id.RoleID `json:"role_ids"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body checkBody
	if err := shared.Decode(r, &body); err != nil {
		shared.WriteError(w, err)
		return
	}
	user := body.UserID
	if user.IsNil() {
		user = requestcontext.ActorID(ctx)
	}

	if len(body.RoleIDs) > 0 {
		result, err := h.svc.CheckBulk(ctx, user, body.RoleIDs)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		shared.WriteJSON(w, http.StatusOK, result)
		return
	}
	result, err := h.svc.Check(ctx, user, body.RoleID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleUserViolations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	violations, err := h.svc.UserViolations(ctx, userID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if violations == nil {
		violations = []sod.Violation{}
	}
	shared.WriteJSON(w, http.StatusOK, violations)
}

type ruleBody struct {
	RoleA       id.RoleID    `json:"role_a_id"`
	RoleB       id.RoleID    `json:"role_b_id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Severity    sod.Severity `json:"severity"`
	Active      *bool        `json:"active"`
}

type ruleResponse struct {
	ID          id.RuleID    `json:"id"`
	RoleA       id.RoleID    `json:"role_a_id"`
	RoleB       id.RoleID    `json:"role_b_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Severity    sod.Severity `json:"severity"`
	Active      bool         `json:"active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
}

func toRuleResponse(rule sod.Rule) ruleResponse {
	return ruleResponse{
		ID:          rule.ID,
		RoleA:       rule.RoleA,
		RoleB:       rule.RoleB,
		Name:        rule.Name,
		Description: rule.Description,
		Severity:    rule.Severity,
		Active:      rule.Active,
		CreatedAt:   rule.CreatedAt,
		UpdatedAt:   &rule.UpdatedAt,
	}
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	activeOnly := r.URL.Query().Get("active") == "true"
	rules, err := h.svc.ListRules(ctx, activeOnly)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleResponse(rule))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body ruleBody
	if err := shared.Decode(r, &body); err != nil {
		shared.WriteError(w, err)
		return
	}
	rule := sod.Rule{
		RoleA:       body.RoleA,
		RoleB:       body.RoleB,
		Name:        body.Name,
		Description: body.Description,
		Severity:    body.Severity,
		CreatedBy:   requestcontext.ActorID(ctx),
	}
	created, err := h.svc.CreateRule(ctx, rule)
	if err != nil {
		h.logger.WarnContext(ctx, "create rule failed", "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toRuleResponse(created))
}

func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID, err := id.ParseRuleID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var body ruleBody
	if err := shared.Decode(r, &body); err != nil {
		shared.WriteError(w, err)
		return
	}
	rule := sod.Rule{
		ID:          ruleID,
		Name:        body.Name,
		Description: body.Description,
		Severity:    body.Severity,
		// Active is written as given; omitting it re-enables the rule.
		Active: true,
	}
	if body.Active != nil {
		rule.Active = *body.Active
	}
	updated, err := h.svc.UpdateRule(ctx, rule)
	if err != nil {
		h.logger.WarnContext(ctx, "update rule failed", "rule_id", ruleID, "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRuleResponse(updated))
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID, err := id.ParseRuleID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.svc.DeleteRule(ctx, ruleID); err != nil {
		h.logger.WarnContext(ctx, "delete rule failed", "rule_id", ruleID, "error", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
