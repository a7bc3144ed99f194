package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering an ID that is already taken.
	// Registration is never an upsert.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when the ID or metadata fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidStatus is returned for unknown statuses, and for BUSY where the
	// caller is not allowed to set it.
	ErrInvalidStatus = errors.New("device: invalid status")
)
