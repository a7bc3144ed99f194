package orchestrator

import "errors"

// Orchestrator errors. Registry and ledger errors (device.ErrDeviceNotFound,
// action.ErrDeviceBusy, ...) pass through unchanged.
var (
	// ErrDeviceOffline is returned when initiating an action on a device
	// marked OFFLINE.
	ErrDeviceOffline = errors.New("orchestrator: device offline")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("orchestrator: closed")

	// ErrInvalidReport is returned for agent messages that cannot be parsed
	// or do not match the reporting device.
	ErrInvalidReport = errors.New("orchestrator: invalid agent report")
)
