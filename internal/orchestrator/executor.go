package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/mqtt"
)

// Reporter receives execution outcomes. The Orchestrator implements it.
type Reporter interface {
	ReportOutcome(ctx context.Context, actionID string, outcome Outcome) (*action.Action, error)
}

// Executor carries out one action type on a device.
//
// Dispatch hands the action over and returns without waiting for it to
// finish: a nil error means the device side accepted it and the action
// becomes RUNNING, an error fails it with dispatch_rejected. The outcome is
// delivered later through report, or arrives from the device agent by
// another path.
type Executor interface {
	Type() action.Type
	Dispatch(ctx context.Context, a *action.Action, report Reporter) error
}

// Publisher sends JSON messages to device agents. Implemented by mqtt.Client.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Command is the message published to fleet/command/{device_id}.
type Command struct {
	ActionID   string        `json:"action_id"`
	ActionType action.Type   `json:"action_type"`
	Params     action.Params `json:"params,omitempty"`
	IssuedAt   time.Time     `json:"issued_at"`
	Deadline   *time.Time    `json:"deadline,omitempty"`
}

func newCommand(a *action.Action) Command {
	return Command{
		ActionID:   a.ID,
		ActionType: a.Type,
		Params:     a.Params,
		IssuedAt:   time.Now().UTC(),
		Deadline:   a.Deadline,
	}
}

// SoftwareUpdateCommand asks an agent to install a version.
type SoftwareUpdateCommand struct {
	Command
	Version string `json:"version"`
}

// RebootCommand asks an agent to reboot after an optional delay.
type RebootCommand struct {
	Command
	DelaySeconds int `json:"delay_seconds"`
}

func publish(ctx context.Context, pub Publisher, deviceID string, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pub.PublishJSON(mqtt.Topics{}.DeviceCommand(deviceID), msg, false); err != nil {
		return fmt.Errorf("publishing command: %w", err)
	}
	return nil
}

// SoftwareUpdateExecutor publishes SOFTWARE_UPDATE commands to device
// agents over MQTT.
type SoftwareUpdateExecutor struct {
	pub Publisher
}

// NewSoftwareUpdateExecutor creates a SoftwareUpdateExecutor.
func NewSoftwareUpdateExecutor(pub Publisher) *SoftwareUpdateExecutor {
	return &SoftwareUpdateExecutor{pub: pub}
}

// Type implements Executor.
func (e *SoftwareUpdateExecutor) Type() action.Type { return action.TypeSoftwareUpdate }

// Dispatch implements Executor.
func (e *SoftwareUpdateExecutor) Dispatch(ctx context.Context, a *action.Action, _ Reporter) error {
	return publish(ctx, e.pub, a.DeviceID, SoftwareUpdateCommand{
		Command: newCommand(a),
		Version: a.Params[action.ParamVersion],
	})
}

// RebootExecutor publishes REBOOT commands to device agents over MQTT.
type RebootExecutor struct {
	pub Publisher
}

// NewRebootExecutor creates a RebootExecutor.
func NewRebootExecutor(pub Publisher) *RebootExecutor {
	return &RebootExecutor{pub: pub}
}

// Type implements Executor.
func (e *RebootExecutor) Type() action.Type { return action.TypeReboot }

// Dispatch implements Executor.
func (e *RebootExecutor) Dispatch(ctx context.Context, a *action.Action, _ Reporter) error {
	delay := 0
	if v, ok := a.Params[action.ParamDelaySeconds]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", action.ParamDelaySeconds, err)
		}
		delay = n
	}
	return publish(ctx, e.pub, a.DeviceID, RebootCommand{
		Command:      newCommand(a),
		DelaySeconds: delay,
	})
}

// MQTTExecutors returns an executor for every built-in action type, all
// publishing through pub.
func MQTTExecutors(pub Publisher) []Executor {
	return []Executor{
		NewSoftwareUpdateExecutor(pub),
		NewRebootExecutor(pub),
	}
}
