// Package handler exposes the request workflow over HTTP. Routes assume the
// auth middleware already ran: the actor is read from the request context.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	id "entitle/pkg/domain"
	dErrors "entitle/pkg/domain-errors"
	"entitle/pkg/requestcontext"

	"entitle/internal/platform/middleware"
	"entitle/internal/request"
	"entitle/internal/transport/http/shared"
)

// Handler handles request workflow endpoints.
type Handler struct {
	svc    *request.Service
	logger *slog.Logger
}

// New creates a request workflow Handler.
func New(svc *request.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register registers the workflow routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleListMine)
		r.Get("/statistics", h.handleStatistics)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/submit", h.handleSubmit)
		r.Post("/{id}/approve", h.handleApprove)
		r.Post("/{id}/reject", h.handleReject)
		r.Post("/{id}/cancel", h.handleCancel)
		r.Post("/{id}/comments", h.handleAddComment)
		r.With(middleware.RequireAdmin(h.logger)).Post("/{id}/implement", h.handleImplement)
	})
	r.Get("/approvals", h.handleApprovals)

	r.Get("/systems/{id}/chain", h.handleListChain)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin(h.logger))
		r.Post("/chains", h.handleCreateChainStep)
		r.Delete("/chains/{id}", h.handleDeleteChainStep)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.ActorID(ctx)

	var body createRequestBody
	if err := shared.Decode(r, &body); err != nil {
		shared.WriteError(w, err)
		return
	}
	target := body.TargetUserID
	if target.IsNil() {
		target = actor
	}
	req, err := h.svc.Create(ctx, request.CreateInput{
		RequesterID:   actor,
		TargetUserID:  target,
		SystemID:      body.SystemID,
		SubsystemID:   body.SubsystemID,
		RoleID:        body.RoleID,
		Type:          body.Type,
		Justification: body.Justification,
		IsTemporary:   body.IsTemporary,
		ValidFrom:     body.ValidFrom,
		ValidUntil:    body.ValidUntil,
	})
	if err != nil {
		h.logFailure(r, "create request", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toRequestResponse(req))
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f := request.ListFilter{
		Status: request.Status(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	reqs, err := h.svc.ListMine(ctx, requestcontext.ActorID(ctx), f)
	if err != nil {
		h.logFailure(r, "list requests", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponses(reqs))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	detail, err := h.svc.Get(ctx, reqID, requestcontext.ActorID(ctx), requestcontext.IsAdmin(ctx))
	if err != nil {
		h.logFailure(r, "get request", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toDetailResponse(detail))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	req, err := h.svc.Submit(ctx, reqID, requestcontext.ActorID(ctx))
	if err != nil {
		h.logFailure(r, "submit request", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, request.DecisionApprove)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, request.DecisionReject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision request.Decision) {
	ctx := r.Context()
	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var body decisionBody
	if r.ContentLength > 0 {
		if err := shared.Decode(r, &body); err != nil {
			shared.WriteError(w, err)
			return
		}
	}
	out, err := h.svc.Decide(ctx, reqID, requestcontext.ActorID(ctx), decision, body.Comment)
	if err != nil {
		h.logFailure(r, "decide request", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponse(out.Request))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	req, err := h.svc.Cancel(ctx, reqID, requestcontext.ActorID(ctx))
	if err != nil {
		h.logFailure(r, "cancel request", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleImplement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	req, err := h.svc.MarkImplemented(ctx, reqID, requestcontext.ActorID(ctx))
	if err != nil {
		h.logFailure(r, "implement request", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var body commentBody
	if err := shared.Decode(r, &body); err != nil {
		shared.WriteError(w, err)
		return
	}
	c, err := h.svc.AddComment(ctx, reqID, requestcontext.ActorID(ctx), body.Text)
	if err != nil {
		h.logFailure(r, "add comment", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, commentResponse{
		ID: c.ID, UserID: c.UserID, Text: c.Text, CreatedAt: c.CreatedAt,
	})
}

func (h *Handler) handleApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items, err := h.svc.ListPendingApprovals(ctx, requestcontext.ActorID(ctx))
	if err != nil {
		h.logFailure(r, "list approvals", err)
		shared.WriteError(w, err)
		return
	}
	out := make([]approvalItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, approvalItemResponse{
			Step: stepResponse{
				ID:           item.Step.ID,
				StepNumber:   item.Step.StepNumber,
				ApproverID:   item.Step.ApproverID,
				ApproverRole: item.Step.ApproverRole,
				Status:       item.Step.Status,
			},
			Request: toRequestResponse(item.Request),
		})
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.svc.Statistics(ctx, requestcontext.ActorID(ctx))
	if err != nil {
		h.logFailure(r, "request statistics", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleListChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	systemID, err := id.ParseSystemID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	steps, err := h.svc.ListChain(ctx, systemID)
	if err != nil {
		h.logFailure(r, "list chain", err)
		shared.WriteError(w, err)
		return
	}
	out := make([]chainStepResponse, 0, len(steps))
	for _, step := range steps {
		out = append(out, toChainStepResponse(step))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateChainStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body chainStepBody
	if err := shared.Decode(r, &body); err != nil {
		shared.WriteError(w, err)
		return
	}
	step, err := h.svc.CreateChainStep(ctx, requestcontext.ActorID(ctx), request.ChainStep{
		SystemID:     body.SystemID,
		StepNumber:   body.StepNumber,
		ApproverID:   body.ApproverID,
		ApproverRole: body.ApproverRole,
	})
	if err != nil {
		h.logFailure(r, "create chain step", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toChainStepResponse(step))
}

func (h *Handler) handleDeleteChainStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chainID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || chainID <= 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid chain step id"))
		return
	}
	if err := h.svc.DeleteChainStep(ctx, requestcontext.ActorID(ctx), chainID); err != nil {
		h.logFailure(r, "delete chain step", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logFailure(r *http.Request, op string, err error) {
	ctx := r.Context()
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"actor_id", requestcontext.ActorID(ctx),
		"error", err,
	)
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
