package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
)

type instruments struct {
	initiated metric.Int64Counter
	finished  metric.Int64Counter
	duration  metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	initiated, err := meter.Int64Counter("fleet.actions.initiated",
		metric.WithDescription("Actions accepted by the orchestrator"))
	if err != nil {
		return nil, err
	}
	finished, err := meter.Int64Counter("fleet.actions.finished",
		metric.WithDescription("Actions that reached a terminal status"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("fleet.actions.duration",
		metric.WithDescription("Time from action creation to terminal status"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &instruments{initiated: initiated, finished: finished, duration: duration}, nil
}

func (m *instruments) recordInitiated(ctx context.Context, typ action.Type) {
	m.initiated.Add(ctx, 1, metric.WithAttributes(attribute.String("action_type", string(typ))))
}

func (m *instruments) recordFinished(ctx context.Context, a *action.Action) {
	attrs := metric.WithAttributes(
		attribute.String("action_type", string(a.Type)),
		attribute.String("status", string(a.Status)),
		attribute.String("failure_reason", string(a.FailureReason)),
	)
	m.finished.Add(ctx, 1, attrs)
	m.duration.Record(ctx, a.Duration().Seconds(), attrs)
}

