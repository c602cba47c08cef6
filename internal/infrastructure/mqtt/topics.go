package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the devicehub bus.
const (
	// TopicPrefix is the root of every devicehub topic.
	TopicPrefix = "devicehub"

	// TopicPrefixDevices is the base for per-device topics.
	TopicPrefixDevices = "devicehub/devices"

	// TopicPrefixNotify is the base for outbound notification hand-offs.
	TopicPrefixNotify = "devicehub/notify"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "devicehub/system"
)

// Topics provides builders for devicehub MQTT topics.
//
//	topic := mqtt.Topics{}.DeviceCommand("dev-42")
//	// Returns: "devicehub/devices/dev-42/commands"
type Topics struct{}

// DeviceCommand returns the topic a device's firmware agent listens on.
//
// Example: devicehub/devices/dev-42/commands
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/commands", TopicPrefixDevices, deviceID)
}

// DeviceConfig returns the topic carrying configuration pushes for a device.
// Messages are retained so a reconnecting device sees its latest config.
//
// Example: devicehub/devices/dev-42/config
func (Topics) DeviceConfig(deviceID string) string {
	return fmt.Sprintf("%s/%s/config", TopicPrefixDevices, deviceID)
}

// DeviceAck returns the topic a device acknowledges commands on.
//
// Example: devicehub/devices/dev-42/ack
func (Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/%s/ack", TopicPrefixDevices, deviceID)
}

// Notify returns the hand-off topic for a notification channel.
//
// Example: devicehub/notify/email
func (Topics) Notify(channel string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixNotify, channel)
}

// SystemStatus returns the online/offline status topic.
//
// Example: devicehub/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllDeviceAcks returns a pattern matching every device acknowledgement.
//
// Pattern: devicehub/devices/+/ack
func (Topics) AllDeviceAcks() string {
	return TopicPrefixDevices + "/+/ack"
}

// AllTopics returns a pattern matching all devicehub topics.
//
// Pattern: devicehub/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// DeviceIDFromTopic extracts the device ID from a per-device topic.
// Returns "" when topic is not under TopicPrefixDevices.
func DeviceIDFromTopic(topic string) string {
	rest, ok := strings.CutPrefix(topic, TopicPrefixDevices+"/")
	if !ok {
		return ""
	}
	id, leaf, ok := strings.Cut(rest, "/")
	if !ok || id == "" || leaf == "" {
		return ""
	}
	return id
}
