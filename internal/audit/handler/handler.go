// Package handler exposes the audit ledger read path. Admin-only.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	id "entitle/pkg/domain"

	"entitle/internal/audit"
	"entitle/internal/platform/middleware"
	"entitle/internal/transport/http/shared"
)

// Handler handles audit ledger endpoints.
type Handler struct {
	svc    *audit.Service
	logger *slog.Logger
}

// New creates an audit Handler.
func New(svc *audit.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register registers the ledger routes.
func (h *Handler) Register(r chi.Router) {
	r.With(middleware.RequireAdmin(h.logger)).Get("/audit", h.handleList)
}

type eventResponse struct {
	ID        uuid.UUID    `json:"id"`
	RequestID id.RequestID `json:"request_id,omitempty"`
	ActorID   id.UserID    `json:"actor_id,omitempty"`
	Action    audit.Action `json:"action"`
	Detail    string       `json:"detail,omitempty"`
	Origin    string       `json:"origin,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := audit.Filter{Action: audit.Action(q.Get("action"))}
	if raw := q.Get("request_id"); raw != "" {
		reqID, err := id.ParseRequestID(raw)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		filter.RequestID = reqID
	}
	if raw := q.Get("actor_id"); raw != "" {
		actorID, err := id.ParseUserID(raw)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		filter.ActorID = actorID
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err == nil {
			filter.From = from
		}
	}
	if raw := q.Get("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err == nil {
			filter.Until = until
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	events, err := h.svc.List(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "list audit events failed", "error", err)
		shared.WriteError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:        e.ID,
			RequestID: e.RequestID,
			ActorID:   e.ActorID,
			Action:    e.Action,
			Detail:    e.Detail,
			Origin:    e.Origin,
			CreatedAt: e.CreatedAt,
		})
	}
	shared.WriteJSON(w, http.StatusOK, out)
}
