package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithCycleContext tags a context and its logger with a fresh cycle id
func WithCycleContext(ctx context.Context, worker string) (context.Context, *Logger) {
	cycleID := uuid.NewString()
	l := FromContext(ctx).WithFields(map[string]interface{}{
		"worker":   worker,
		"cycle_id": cycleID,
	})
	ctx = context.WithValue(ctx, traceIDKey, cycleID)
	return NewContext(ctx, l), l
}

// CycleID returns the cycle id stored by WithCycleContext
func CycleID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// DecisionContext creates a logger context for one asset's decision
func DecisionContext(assetID, strategy, direction string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"asset":     assetID,
		"strategy":  strategy,
		"direction": direction,
	}).WithComponent("decision")
}

// RiskContext creates a logger context for sizing
func RiskContext(assetID string, riskPercent, quantity float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"asset":        assetID,
		"risk_percent": riskPercent,
		"quantity":     quantity,
	}).WithComponent("risk")
}

// BrokerContext creates a logger context for gateway calls
func BrokerContext(broker, operation string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"broker":    broker,
		"operation": operation,
	}).WithComponent("broker")
}
