// Package requestcontext provides HTTP-independent accessors for
// request-scoped values set by middleware.
//
// The resolved caller identity lives here only so handlers can pick it up;
// services never read it from the context. Handlers pass it explicitly:
//
//	actor, ok := requestcontext.Actor(ctx)
//	c, err := h.service.Get(ctx, actor, caseID)
package requestcontext

import (
	"context"
	"time"

	id "civicwatch/pkg/domain"
)

type (
	actorKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

var (
	ContextKeyActor       = actorKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// Actor returns the authenticated caller set by the auth middleware.
func Actor(ctx context.Context) (id.Actor, bool) {
	a, ok := ctx.Value(ContextKeyActor).(id.Actor)
	if !ok || !a.Valid() {
		return id.Actor{}, false
	}
	return a, true
}

func WithActor(ctx context.Context, actor id.Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now returns the request-scoped time, falling back to time.Now() for workers
// and tests that did not inject one.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the request time. Tests use it for deterministic timestamps.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

// RequestTime returns the pinned request time, if any.
func RequestTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(ContextKeyRequestTime).(time.Time)
	return t, ok
}
