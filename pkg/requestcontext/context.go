// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets these values; services consume them (for example the audit
// ledger reads the origin IP without importing net/http). Keeping this package
// free of net/http lets the engine stay transport-agnostic.
package requestcontext

import (
	"context"

	id "entitle/pkg/domain"
)

type (
	actorIDKey   struct{}
	adminKey     struct{}
	originKey    struct{}
	requestIDKey struct{}
)

// WithActorID records the authenticated caller.
func WithActorID(ctx context.Context, actor id.UserID) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actor)
}

// ActorID returns the authenticated caller, or the zero id when unset
// (system-initiated work such as the expiration scan).
func ActorID(ctx context.Context) id.UserID {
	actor, _ := ctx.Value(actorIDKey{}).(id.UserID)
	return actor
}

// WithAdmin marks the caller as a privileged administrator.
func WithAdmin(ctx context.Context, admin bool) context.Context {
	return context.WithValue(ctx, adminKey{}, admin)
}

// IsAdmin reports whether the caller is a privileged administrator.
func IsAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(adminKey{}).(bool)
	return admin
}

// WithOrigin records where the call came from: a client IP, or "system" for
// scheduler-initiated mutations.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// Origin returns the recorded call origin, defaulting to "system".
func Origin(ctx context.Context) string {
	if origin, ok := ctx.Value(originKey{}).(string); ok && origin != "" {
		return origin
	}
	return "system"
}

// WithRequestID attaches the correlation id assigned by the HTTP layer.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the correlation id, or "" outside an HTTP request.
func RequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}
