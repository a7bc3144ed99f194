package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

// RecoveryReport summarises what Recover did.
type RecoveryReport struct {
	Interrupted     int `json:"interrupted"`
	TimedOut        int `json:"timed_out"`
	Resumed         int `json:"resumed"`
	DevicesReleased int `json:"devices_released"`
}

// Recover reconciles state left by a previous process. Call it once after
// the device cache is loaded and before serving requests.
//
// PENDING actions never reached their executor and are failed as
// interrupted. RUNNING actions past their deadline are failed as timed out;
// the rest get their watchdog back and keep their device BUSY. Finally any
// BUSY device without an active action returns to IDLE.
func (o *Orchestrator) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	if err := o.ledger.Load(ctx); err != nil {
		return report, err
	}

	now := time.Now()
	for _, a := range o.ledger.ListActive() {
		if err := o.recoverAction(ctx, &a, now, &report); err != nil {
			return report, fmt.Errorf("recovering action %s: %w", a.ID, err)
		}
	}

	devices, err := o.devices.List(ctx)
	if err != nil {
		return report, fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if d.Status != device.StatusBusy {
			continue
		}
		unlock := o.lockDevice(d.ID)
		if o.ledger.Active(d.ID) == nil {
			if err := o.releaseLocked(ctx, d.ID); err != nil {
				unlock()
				return report, fmt.Errorf("releasing device %s: %w", d.ID, err)
			}
			report.DevicesReleased++
		}
		unlock()
	}

	o.logger.Info("orchestrator recovered",
		"interrupted", report.Interrupted,
		"timed_out", report.TimedOut,
		"resumed", report.Resumed,
		"devices_released", report.DevicesReleased,
	)
	return report, nil
}

func (o *Orchestrator) recoverAction(ctx context.Context, a *action.Action, now time.Time, report *RecoveryReport) error {
	unlock := o.lockDevice(a.DeviceID)
	defer unlock()

	switch {
	case a.Status == action.StatusPending:
		if _, err := o.finishLocked(ctx, a, action.StatusFailed, action.Result{
			Message: "interrupted by restart before dispatch",
			Reason:  action.ReasonInterrupted,
		}); err != nil {
			return err
		}
		report.Interrupted++

	case a.Deadline != nil && !now.Before(*a.Deadline):
		if _, err := o.finishLocked(ctx, a, action.StatusFailed, action.Result{
			Message: "no outcome reported before deadline",
			Reason:  action.ReasonTimeout,
		}); err != nil {
			return err
		}
		report.TimedOut++

	default:
		dev, err := o.devices.Get(ctx, a.DeviceID)
		if err != nil {
			return err
		}
		if dev.Status != device.StatusBusy {
			if _, err := o.devices.SetStatus(ctx, a.DeviceID, device.StatusBusy); err != nil {
				return err
			}
			o.emitDeviceStatus(a.DeviceID, dev.Status, device.StatusBusy)
		}
		o.armWatchdog(a)
		report.Resumed++
	}
	return nil
}
