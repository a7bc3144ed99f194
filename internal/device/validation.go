package device

import (
	"fmt"
	"regexp"
)

const (
	maxIDLength          = 128
	maxMetadataKeys      = 50
	maxMetadataKeyLength = 64
	maxMetadataValueLen  = 1024
)

// IDs end up in MQTT topics, so wildcard and separator characters are excluded.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// ValidateID checks a registrant-supplied device ID.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidDevice)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: device_id exceeds %d characters", ErrInvalidDevice, maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: device_id %q contains invalid characters", ErrInvalidDevice, id)
	}
	return nil
}

// ValidateStatus checks that s is a known device status.
func ValidateStatus(s Status) error {
	if !s.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return nil
}

// ValidateInitialStatus checks a status supplied at registration.
// BUSY is rejected: it only exists while the orchestrator runs an action.
func ValidateInitialStatus(s Status) error {
	if err := ValidateStatus(s); err != nil {
		return err
	}
	if s == StatusBusy {
		return fmt.Errorf("%w: BUSY cannot be assigned at registration", ErrInvalidStatus)
	}
	return nil
}

// ValidateMetadata enforces size limits on registrant-supplied metadata.
func ValidateMetadata(m Metadata) error {
	if len(m) > maxMetadataKeys {
		return fmt.Errorf("%w: metadata exceeds %d keys", ErrInvalidDevice, maxMetadataKeys)
	}
	for k, v := range m {
		if k == "" || len(k) > maxMetadataKeyLength {
			return fmt.Errorf("%w: metadata key %q must be 1-%d characters", ErrInvalidDevice, k, maxMetadataKeyLength)
		}
		if len(v) > maxMetadataValueLen {
			return fmt.Errorf("%w: metadata value for %q exceeds %d characters", ErrInvalidDevice, k, maxMetadataValueLen)
		}
	}
	return nil
}
