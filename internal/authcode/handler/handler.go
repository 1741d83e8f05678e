// Package handler exposes the login-code exchange. Code issuance sits behind
// admin auth (an operator or an upstream IdP bridge calls it); redemption is
// the one unauthenticated route in the API.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	id "entitle/pkg/domain"

	"entitle/internal/authcode"
	"entitle/internal/platform/middleware"
	"entitle/internal/transport/http/shared"
)

// Handler handles login-code endpoints.
type Handler struct {
	svc    *authcode.Service
	logger *slog.Logger
}

// New creates a login-code Handler.
func New(svc *authcode.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterPublic registers the unauthenticated redemption route.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/auth/token", h.handleRedeem)
}

// Register registers the admin-only issuance route.
func (h *Handler) Register(r chi.Router) {
	r.With(middleware.RequireAdmin(h.logger)).Post("/auth/code", h.handleIssue)
}

type issueBody struct {
	UserID id.UserID `json:"user_id"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body issueBody
	if err := shared.Decode(r, &body); err != nil {
		shared.WriteError(w, err)
		return
	}
	code, err := h.svc.Issue(ctx, body.UserID)
	if err != nil {
		h.logger.WarnContext(ctx, "issue login code failed", "user_id", body.UserID, "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]string{"code": code})
}

type redeemBody struct {
	Code string `json:"code"`
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body redeemBody
	if err := shared.Decode(r, &body); err != nil {
		shared.WriteError(w, err)
		return
	}
	token, err := h.svc.Redeem(ctx, body.Code)
	if err != nil {
		h.logger.WarnContext(ctx, "redeem login code failed", "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "Bearer",
	})
}
