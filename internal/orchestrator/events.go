package orchestrator

import (
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

// WebSocket channels.
const (
	EventDeviceRegistered    = "device.registered"
	EventDeviceStatusChanged = "device.status_changed"
	EventActionStatusChanged = "action.status_changed"
)

// Audit events.
const (
	AuditDeviceRegistered  = "device.registered"
	AuditDeviceStatusSet   = "device.status_set"
	AuditActionInitiated   = "action.initiated"
	AuditActionTransitions = "action.transitioned"
)

// DeviceStatusChange is the payload of device.status_changed.
type DeviceStatusChange struct {
	DeviceID  string        `json:"device_id"`
	From      device.Status `json:"from"`
	To        device.Status `json:"to"`
	Timestamp time.Time     `json:"timestamp"`
}

func (o *Orchestrator) emitDeviceStatus(deviceID string, from, to device.Status) {
	if from == to {
		return
	}
	o.hub.Broadcast(EventDeviceStatusChanged, DeviceStatusChange{
		DeviceID:  deviceID,
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC(),
	})
	o.history.WriteDeviceStatus(deviceID, string(to))
}

func (o *Orchestrator) emitAction(a *action.Action) {
	o.hub.Broadcast(EventActionStatusChanged, a)
}
