package orchestrator

import (
	"context"
	"time"
)

// Logger defines the logging interface used by the Orchestrator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// WSHub broadcasts events to WebSocket subscribers.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// Auditor records registry and ledger changes.
type Auditor interface {
	Record(ctx context.Context, event, entityType, entityID string, details map[string]any)
}

// HistoryRecorder writes time-series history. Implemented by the InfluxDB
// client.
type HistoryRecorder interface {
	WriteActionOutcome(deviceID, actionType, status, reason string, duration time.Duration)
	WriteDeviceStatus(deviceID, status string)
}

type noopHub struct{}

func (noopHub) Broadcast(string, any) {}

type noopAuditor struct{}

func (noopAuditor) Record(context.Context, string, string, string, map[string]any) {}

type noopHistory struct{}

func (noopHistory) WriteActionOutcome(string, string, string, string, time.Duration) {}
func (noopHistory) WriteDeviceStatus(string, string)                                 {}
