package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every fleet topic.
//
// Layout:
//
//	fleet/command/{device_id}   daemon -> agent, action commands
//	fleet/ack/{device_id}       agent -> daemon, action outcomes
//	fleet/presence/{device_id}  agent -> daemon, online/offline (retained)
//	fleet/system/status         daemon presence (retained, LWT)
const TopicPrefix = "fleet"

// Topics builds fleet topic strings.
type Topics struct{}

// DeviceCommand is where action commands for a device are published.
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceAck is where a device agent reports action outcomes.
func (Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// AllDeviceAcks matches acknowledgements from every device.
func (Topics) AllDeviceAcks() string {
	return TopicPrefix + "/ack/+"
}

// DevicePresence is where an agent announces itself online or offline.
func (Topics) DevicePresence(deviceID string) string {
	return fmt.Sprintf("%s/presence/%s", TopicPrefix, deviceID)
}

// AllDevicePresence matches presence messages from every device.
func (Topics) AllDevicePresence() string {
	return TopicPrefix + "/presence/+"
}

// SystemStatus carries the daemon's own online/offline status.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// ParseDeviceTopic extracts the device ID from a fleet/{kind}/{device_id}
// topic, checking that kind matches.
func ParseDeviceTopic(topic, kind string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix || parts[1] != kind || parts[2] == "" {
		return "", fmt.Errorf("%w: %q is not a %s topic", ErrInvalidTopicFormat, topic, kind)
	}
	return parts[2], nil
}
