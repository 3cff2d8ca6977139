// Package contextkeys names the values the invoicer request path stores in
// a context.Context. Middleware sets them and handlers read them without
// the two importing each other.
package contextkeys

import (
	"context"
	"time"
)

// Key keeps these entries apart from plain string keys set elsewhere
type Key string

const (
	// AuthKey holds the *auth.AuthContext set by middleware.AuthMiddleware
	AuthKey Key = "auth_context"
	// UserKey holds the *users.User that middleware.QuotaMiddleware loaded
	// for plan checks.
	UserKey Key = "user"
	// LoggerKey holds the request scoped *observability.Logger
	LoggerKey Key = "logger"

	RequestIDKey        Key = "request_id"
	UserIDKey           Key = "user_id"
	RequestStartTimeKey Key = "request_start_time"
)

// The values are stored as interface{} so this package stays free of
// domain imports.

func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

func WithUser(ctx context.Context, user interface{}) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID records the caller for log lines. Authorization decisions use
// the AuthKey value instead.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestID returns "" outside a request
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// GetUserID returns "" for anonymous requests
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// GetRequestStartTime returns the zero time when unset
func GetRequestStartTime(ctx context.Context) time.Time {
	t, _ := ctx.Value(RequestStartTimeKey).(time.Time)
	return t
}
