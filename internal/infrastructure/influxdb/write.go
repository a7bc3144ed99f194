package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementActionOutcomes = "action_outcomes"
	MeasurementDeviceStatus   = "device_status"
)

// WriteActionOutcome records an action reaching a terminal state.
// reason is empty for successful actions.
func (c *Client) WriteActionOutcome(deviceID, actionType, status, reason string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(actionOutcomePoint(deviceID, actionType, status, reason, duration, time.Now()))
}

// WriteDeviceStatus records a device availability change.
func (c *Client) WriteDeviceStatus(deviceID, status string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(deviceStatusPoint(deviceID, status, time.Now()))
}

// WritePoint writes a point with arbitrary tags and fields at the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func actionOutcomePoint(deviceID, actionType, status, reason string, duration time.Duration, ts time.Time) *write.Point {
	tags := map[string]string{
		"device_id":   deviceID,
		"action_type": actionType,
		"status":      status,
	}
	if reason != "" {
		tags["failure_reason"] = reason
	}

	return write.NewPoint(
		MeasurementActionOutcomes,
		tags,
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"count":       1,
		},
		ts,
	)
}

func deviceStatusPoint(deviceID, status string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDeviceStatus,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"status": status},
		ts,
	)
}
