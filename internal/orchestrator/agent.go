package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/mqtt"
)

// Timeout for handling one agent message.
const agentMessageTimeout = defaultDispatchTimeout

// AgentReport is the payload agents publish to fleet/ack/{device_id}.
type AgentReport struct {
	ActionID string `json:"action_id"`
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
}

// AgentPresence is the payload agents publish to fleet/presence/{device_id}.
type AgentPresence struct {
	Status string `json:"status"` // "online" or "offline"
}

// Agent presence values.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Subscriber registers MQTT message handlers. Implemented by mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// SubscribeAgents routes agent outcome reports and presence messages to the
// orchestrator.
func (o *Orchestrator) SubscribeAgents(sub Subscriber, qos byte) error {
	topics := mqtt.Topics{}
	if err := sub.Subscribe(topics.AllDeviceAcks(), qos, o.HandleAgentReport); err != nil {
		return fmt.Errorf("subscribing to agent reports: %w", err)
	}
	if err := sub.Subscribe(topics.AllDevicePresence(), qos, o.HandleAgentPresence); err != nil {
		return fmt.Errorf("subscribing to agent presence: %w", err)
	}
	return nil
}

// HandleAgentReport handles a message on fleet/ack/{device_id}. The action
// must belong to the device named in the topic.
func (o *Orchestrator) HandleAgentReport(topic string, payload []byte) error {
	deviceID, err := mqtt.ParseDeviceTopic(topic, "ack")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}

	var report AgentReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("%w: decoding payload: %w", ErrInvalidReport, err)
	}
	if report.ActionID == "" {
		return fmt.Errorf("%w: missing action_id", ErrInvalidReport)
	}

	ctx, cancel := context.WithTimeout(context.Background(), agentMessageTimeout)
	defer cancel()

	a, err := o.ledger.Get(ctx, report.ActionID)
	if err != nil {
		return err
	}
	if a.DeviceID != deviceID {
		return fmt.Errorf("%w: action %s belongs to %s, reported by %s",
			ErrInvalidReport, a.ID, a.DeviceID, deviceID)
	}

	if _, err := o.ReportOutcome(ctx, report.ActionID, Outcome{
		Success: report.Success,
		Message: report.Message,
	}); err != nil {
		return err
	}
	return nil
}

// HandleAgentPresence handles a message on fleet/presence/{device_id}:
// online marks the device IDLE, offline marks it OFFLINE. Devices with an
// action in flight keep their status.
func (o *Orchestrator) HandleAgentPresence(topic string, payload []byte) error {
	deviceID, err := mqtt.ParseDeviceTopic(topic, "presence")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}

	var presence AgentPresence
	if err := json.Unmarshal(payload, &presence); err != nil {
		return fmt.Errorf("%w: decoding payload: %w", ErrInvalidReport, err)
	}

	var status device.Status
	switch presence.Status {
	case PresenceOnline:
		status = device.StatusIdle
	case PresenceOffline:
		status = device.StatusOffline
	default:
		return fmt.Errorf("%w: unknown presence %q", ErrInvalidReport, presence.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), agentMessageTimeout)
	defer cancel()

	if _, err := o.SetAvailability(ctx, deviceID, status); err != nil {
		if errors.Is(err, action.ErrDeviceBusy) {
			o.logger.Debug("presence ignored while busy", "device_id", deviceID, "presence", presence.Status)
			return nil
		}
		return err
	}
	return nil
}
