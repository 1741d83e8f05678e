// Package handler exposes the expiration sweep over HTTP. All routes are
// admin-only: revocation is an operator action, never a self-service one.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	id "entitle/pkg/domain"
	"entitle/pkg/requestcontext"

	"entitle/internal/platform/middleware"
	"entitle/internal/request"
	"entitle/internal/revocation"
	"entitle/internal/transport/http/shared"
)

// Handler handles revocation endpoints.
type Handler struct {
	svc    *revocation.Service
	logger *slog.Logger
}

// New creates a revocation Handler.
func New(svc *revocation.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register registers the revocation routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/revocations", func(r chi.Router) {
		r.Use(middleware.RequireAdmin(h.logger))
		r.Post("/scan", h.handleScan)
		r.Get("/expiring", h.handleExpiring)
		r.Get("/statistics", h.handleStatistics)
	})
	r.With(middleware.RequireAdmin(h.logger)).Post("/requests/{id}/revoke", h.handleRevokeOne)
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.svc.ScanAndRevoke(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual expiration sweep failed", "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRevokeOne(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	req, err := h.svc.RevokeOne(ctx, reqID, requestcontext.ActorID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "manual revocation failed", "request_id", reqID, "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toExpiringResponse(req))
}

func (h *Handler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	reqs, err := h.svc.ExpiringSoon(ctx, days)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]expiringResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toExpiringResponse(req))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Statistics(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, stats)
}

type expiringResponse struct {
	ID            id.RequestID   `json:"id"`
	RequestNumber string         `json:"request_number"`
	TargetUserID  id.UserID      `json:"target_user_id"`
	RoleID        id.RoleID      `json:"role_id"`
	Status        request.Status `json:"status"`
	ValidUntil    *time.Time     `json:"valid_until,omitempty"`
}

func toExpiringResponse(req request.AccessRequest) expiringResponse {
	return expiringResponse{
		ID:            req.ID,
		RequestNumber: req.RequestNumber,
		TargetUserID:  req.TargetUserID,
		RoleID:        req.RoleID,
		Status:        req.Status,
		ValidUntil:    req.ValidUntil,
	}
}
