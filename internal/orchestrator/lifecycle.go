package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

// RegisterDevice adds a device to the registry and announces it.
func (o *Orchestrator) RegisterDevice(ctx context.Context, id string, status device.Status, metadata device.Metadata) (*device.Device, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}

	unlock := o.lockDevice(id)
	defer unlock()

	d, err := o.devices.Register(ctx, id, status, metadata)
	if err != nil {
		return nil, err
	}

	o.hub.Broadcast(EventDeviceRegistered, d)
	o.history.WriteDeviceStatus(d.ID, string(d.Status))
	o.audit.Record(ctx, AuditDeviceRegistered, "device", d.ID, map[string]any{
		"status":   d.Status,
		"metadata": d.Metadata,
	})
	return d, nil
}

// InitiateAction creates a PENDING action, marks the device BUSY and starts
// dispatch in the background. It returns as soon as the action is recorded.
//
// Errors, in the order they are checked: device.ErrDeviceNotFound,
// action.ErrInvalidArgument (unknown type, bad params or no executor),
// ErrDeviceOffline, action.ErrDeviceBusy.
func (o *Orchestrator) InitiateAction(ctx context.Context, deviceID string, typ action.Type, params action.Params) (_ *action.Action, err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.InitiateAction", trace.WithAttributes(
		attribute.String("device_id", deviceID),
		attribute.String("action_type", string(typ)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if o.isClosed() {
		return nil, ErrClosed
	}

	unlock := o.lockDevice(deviceID)
	defer unlock()

	dev, err := o.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := o.ledger.Catalogue().Validate(typ, params); err != nil {
		return nil, err
	}
	exec, ok := o.executors[typ]
	if !ok {
		return nil, fmt.Errorf("%w: no executor for action type %q", action.ErrInvalidArgument, typ)
	}
	if dev.Status == device.StatusOffline {
		return nil, fmt.Errorf("%w: %s", ErrDeviceOffline, deviceID)
	}

	a, err := o.ledger.Create(ctx, deviceID, typ, params)
	if err != nil {
		return nil, err
	}
	// From here on the deadline is the backstop for every failure.
	o.armWatchdog(a)

	// The action is recorded, so a cancelled request must not abort the
	// mutations that keep device and ledger in step.
	ctx = context.WithoutCancel(ctx)

	if _, err := o.devices.SetStatus(ctx, deviceID, device.StatusBusy); err != nil {
		o.logger.Error("marking device busy", "device_id", deviceID, "action_id", a.ID, "error", err)
		failed, ferr := o.ledger.Transition(ctx, a.ID, action.StatusFailed, action.Result{
			Message: "could not mark device busy",
			Reason:  action.ReasonInternal,
		})
		if ferr != nil {
			o.logger.Error("failing orphaned action", "action_id", a.ID, "error", ferr)
		} else {
			o.stopWatchdog(a.ID)
			o.emitAction(failed)
		}
		return nil, fmt.Errorf("marking device busy: %w", err)
	}
	o.emitDeviceStatus(deviceID, dev.Status, device.StatusBusy)

	o.emitAction(a)
	o.metrics.recordInitiated(ctx, typ)
	o.audit.Record(ctx, AuditActionInitiated, "action", a.ID, map[string]any{
		"device_id":   deviceID,
		"action_type": typ,
		"params":      a.Params,
	})
	span.SetAttributes(attribute.String("action_id", a.ID))

	dispatched := a.DeepCopy()
	if !o.spawn(func(bg context.Context) { o.runDispatch(bg, exec, dispatched) }) {
		o.logger.Warn("orchestrator closing, action left pending", "action_id", a.ID)
	}

	return a, nil
}

// runDispatch hands an action to its executor and records the result of the
// hand-off: RUNNING on acceptance, FAILED with dispatch_rejected otherwise.
func (o *Orchestrator) runDispatch(ctx context.Context, exec Executor, a *action.Action) {
	if err := o.dispatch.Acquire(ctx, 1); err != nil {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
	dispatchErr := exec.Dispatch(dctx, a, o)
	cancel()
	o.dispatch.Release(1)

	if ctx.Err() != nil {
		// Shutting down. Recover fails the action on the next start.
		return
	}

	unlock := o.lockDevice(a.DeviceID)
	defer unlock()

	current, err := o.ledger.Get(ctx, a.ID)
	if err != nil {
		o.logger.Error("dispatch lookup failed", "action_id", a.ID, "error", err)
		return
	}
	if current.IsTerminal() {
		// The outcome, or the watchdog, got there first.
		return
	}

	if dispatchErr != nil {
		o.logger.Warn("dispatch rejected", "action_id", a.ID, "device_id", a.DeviceID, "error", dispatchErr)
		if _, err := o.finishLocked(ctx, current, action.StatusFailed, action.Result{
			Message: dispatchErr.Error(),
			Reason:  action.ReasonDispatchRejected,
		}); err != nil {
			o.logger.Error("failing rejected action", "action_id", a.ID, "error", err)
		}
		return
	}

	if current.Status == action.StatusPending {
		if _, err := o.startLocked(ctx, current); err != nil {
			o.logger.Error("marking action running", "action_id", a.ID, "error", err)
		}
	}
}

// Outcome is an execution result reported by a device agent or executor.
type Outcome struct {
	Success bool
	Message string

	// Reason overrides the failure reason of an unsuccessful outcome.
	// Defaults to action.ReasonAgentError.
	Reason action.FailureReason
}

// ReportOutcome records the result of an action and frees its device.
//
// A success on a PENDING action first moves it to RUNNING, so the ledger
// still sees PENDING -> RUNNING -> COMPLETED. Reports for actions that are
// already terminal fail with action.ErrInvalidTransition.
func (o *Orchestrator) ReportOutcome(ctx context.Context, actionID string, outcome Outcome) (*action.Action, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}

	a, err := o.ledger.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}

	unlock := o.lockDevice(a.DeviceID)
	defer unlock()

	current, err := o.ledger.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if current.IsTerminal() {
		return nil, fmt.Errorf("%w: action %s already %s", action.ErrInvalidTransition, actionID, current.Status)
	}

	to := action.StatusCompleted
	result := action.Result{Message: outcome.Message}
	if !outcome.Success {
		to = action.StatusFailed
		result.Reason = outcome.Reason
		if result.Reason == "" {
			result.Reason = action.ReasonAgentError
		}
	}
	return o.finishLocked(ctx, current, to, result)
}

// startLocked moves a PENDING action to RUNNING. The caller holds the
// device lock.
func (o *Orchestrator) startLocked(ctx context.Context, current *action.Action) (*action.Action, error) {
	next, err := o.ledger.Transition(ctx, current.ID, action.StatusRunning, action.Result{})
	if err != nil {
		return nil, err
	}
	o.emitAction(next)
	o.audit.Record(ctx, AuditActionTransitions, "action", next.ID, map[string]any{
		"from": current.Status,
		"to":   next.Status,
	})
	return next, nil
}

// finishLocked moves an action to a terminal status and returns its device
// to IDLE. The caller holds the device lock.
//
// Once the terminal transition is written the device must follow, so the
// work runs detached from ctx's cancellation.
func (o *Orchestrator) finishLocked(ctx context.Context, current *action.Action, to action.Status, result action.Result) (*action.Action, error) {
	ctx = context.WithoutCancel(ctx)

	if to == action.StatusCompleted && current.Status == action.StatusPending {
		running, err := o.startLocked(ctx, current)
		if err != nil {
			return nil, err
		}
		current = running
	}

	next, err := o.ledger.Transition(ctx, current.ID, to, result)
	if err != nil {
		return nil, err
	}
	o.stopWatchdog(next.ID)

	if err := o.releaseLocked(ctx, next.DeviceID); err != nil {
		o.logger.Error("returning device to idle", "device_id", next.DeviceID, "action_id", next.ID, "error", err)
	}

	o.emitAction(next)
	o.metrics.recordFinished(ctx, next)
	o.history.WriteActionOutcome(next.DeviceID, string(next.Type), string(next.Status), string(next.FailureReason), next.Duration())
	o.audit.Record(ctx, AuditActionTransitions, "action", next.ID, map[string]any{
		"from":           current.Status,
		"to":             next.Status,
		"result":         next.Result,
		"failure_reason": next.FailureReason,
	})

	o.logger.Info("action finished",
		"action_id", next.ID,
		"device_id", next.DeviceID,
		"status", next.Status,
		"reason", next.FailureReason,
		"duration", next.Duration(),
	)
	return next, nil
}

// releaseLocked sets a device back to IDLE after its action ended.
func (o *Orchestrator) releaseLocked(ctx context.Context, deviceID string) error {
	dev, err := o.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.Status == device.StatusIdle {
		return nil
	}
	if _, err := o.devices.SetStatus(ctx, deviceID, device.StatusIdle); err != nil {
		return err
	}
	o.emitDeviceStatus(deviceID, dev.Status, device.StatusIdle)
	return nil
}

// SetAvailability sets a device to IDLE, OFFLINE or UNKNOWN.
//
// BUSY cannot be assigned this way (device.ErrInvalidStatus), and a device
// with an action in flight cannot be reassigned (action.ErrDeviceBusy).
// Setting the current status again only refreshes last_seen.
func (o *Orchestrator) SetAvailability(ctx context.Context, deviceID string, status device.Status) (*device.Device, error) {
	if err := device.ValidateStatus(status); err != nil {
		return nil, err
	}
	if status == device.StatusBusy {
		return nil, fmt.Errorf("%w: BUSY is set by the orchestrator only", device.ErrInvalidStatus)
	}
	if o.isClosed() {
		return nil, ErrClosed
	}

	unlock := o.lockDevice(deviceID)
	defer unlock()

	dev, err := o.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if active := o.ledger.Active(deviceID); active != nil || dev.Status == device.StatusBusy {
		return nil, fmt.Errorf("%w: %s has an action in flight", action.ErrDeviceBusy, deviceID)
	}

	if dev.Status == status {
		if err := o.devices.Touch(ctx, deviceID); err != nil {
			return nil, err
		}
		return o.devices.Get(ctx, deviceID)
	}

	updated, err := o.devices.SetStatus(ctx, deviceID, status)
	if err != nil {
		return nil, err
	}
	o.emitDeviceStatus(deviceID, dev.Status, status)
	o.audit.Record(ctx, AuditDeviceStatusSet, "device", deviceID, map[string]any{
		"from": dev.Status,
		"to":   status,
	})
	return updated, nil
}
