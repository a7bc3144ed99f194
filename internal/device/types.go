package device

import (
	"maps"
	"time"
)

// Status is the availability of a device as seen by the fleet.
type Status string

// Device statuses.
const (
	// StatusIdle means the device is reachable and has no action in flight.
	StatusIdle Status = "IDLE"

	// StatusBusy means an action is PENDING or RUNNING on the device.
	// Only the orchestrator sets it.
	StatusBusy Status = "BUSY"

	StatusOffline Status = "OFFLINE"
	StatusUnknown Status = "UNKNOWN"
)

// AllStatuses returns every device status in display order.
func AllStatuses() []Status {
	return []Status{StatusIdle, StatusBusy, StatusOffline, StatusUnknown}
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusIdle, StatusBusy, StatusOffline, StatusUnknown:
		return true
	}
	return false
}

// Metadata holds free-form registrant-supplied labels such as model or site.
type Metadata map[string]string

// Device is a managed endpoint tracked by its client-assigned ID.
type Device struct {
	// ID is assigned by the registrant and never changes.
	ID string `json:"device_id"`

	Status   Status   `json:"status"`
	Metadata Metadata `json:"metadata,omitempty"`

	// LastSeen is bumped on every status change and agent report.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of d. The registry hands out copies so
// callers never share the cached value.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.Metadata != nil {
		cpy.Metadata = maps.Clone(d.Metadata)
	}
	if d.LastSeen != nil {
		t := *d.LastSeen
		cpy.LastSeen = &t
	}
	return &cpy
}
