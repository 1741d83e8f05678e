package testutil

import (
	"net/http"

	id "entitle/pkg/domain"
	"entitle/pkg/requestcontext"
)

// WithActor stamps a request with an authenticated caller, simulating what the
// auth middleware does after validating a token.
func WithActor(req *http.Request, actor id.UserID) *http.Request {
	return req.WithContext(requestcontext.WithActorID(req.Context(), actor))
}

// WithAdmin stamps a request with an authenticated administrator.
func WithAdmin(req *http.Request, actor id.UserID) *http.Request {
	ctx := requestcontext.WithActorID(req.Context(), actor)
	ctx = requestcontext.WithAdmin(ctx, true)
	return req.WithContext(ctx)
}
