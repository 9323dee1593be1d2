package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey    ctxKey = "request_id"
	userIDKey       ctxKey = "user_id"
	simulationIDKey ctxKey = "simulation_id"
)

// WithRequestID stores the request identifier for log and trace correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithUserID stores the authenticated user identifier.
func WithUserID(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userIDKey).(string)
	return value
}

// WithSimulationID tags work done on behalf of one simulation so compute and
// storage calls log under the same id.
func WithSimulationID(ctx context.Context, simulationID string) context.Context {
	simulationID = strings.TrimSpace(simulationID)
	if simulationID == "" {
		return ctx
	}
	return context.WithValue(ctx, simulationIDKey, simulationID)
}

func SimulationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(simulationIDKey).(string)
	return value
}
