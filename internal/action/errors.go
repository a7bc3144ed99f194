package action

import "errors"

// Domain errors for the action package.
var (
	// ErrActionNotFound is returned when an action ID does not exist.
	ErrActionNotFound = errors.New("action: not found")

	// ErrInvalidArgument is returned for an unknown action type or missing
	// or malformed parameters.
	ErrInvalidArgument = errors.New("action: invalid argument")

	// ErrDeviceBusy is returned when the device already has a PENDING or
	// RUNNING action.
	ErrDeviceBusy = errors.New("action: device busy")

	// ErrInvalidTransition is returned for any status change outside the
	// state machine, including any change away from a terminal status.
	ErrInvalidTransition = errors.New("action: invalid transition")
)
