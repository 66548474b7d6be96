// Package context carries request-scoped values set by the HTTP middleware.
package context

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/models"
)

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	MethodKey    = ContextKey("X-Method")
	RouteKey     = ContextKey("X-Route")
	RemoteIPKey  = ContextKey("X-Remote-Ip")
	UserIDKey    = ContextKey("X-User-Id")
	SessionIDKey = ContextKey("X-Session-Id")
	WorkerIDKey  = ContextKey("X-Worker-Id")
)

func set(ctx context.Context, key ContextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

func get(ctx context.Context, key ContextKey) string {
	value, _ := ctx.Value(key).(string)
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return set(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return get(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return set(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return get(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return set(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return get(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return set(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return get(ctx, RemoteIPKey)
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return set(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return get(ctx, UserIDKey)
}

func SetSessionID(ctx context.Context, sessionID string) context.Context {
	return set(ctx, SessionIDKey, sessionID)
}

func GetSessionID(ctx context.Context) string {
	return get(ctx, SessionIDKey)
}

func SetWorkerID(ctx context.Context, workerID string) context.Context {
	return set(ctx, WorkerIDKey, workerID)
}

func GetWorkerID(ctx context.Context) string {
	return get(ctx, WorkerIDKey)
}

// ActorFromRequest builds the actor for a workflow call from the values the
// HTTP middleware stored. Workflows never read these keys themselves.
func ActorFromRequest(ctx context.Context) models.Actor {
	return models.Actor{
		ActorID:   GetUserID(ctx),
		SessionID: GetSessionID(ctx),
		SourceIP:  GetRemoteIP(ctx),
	}.OrSystem()
}
