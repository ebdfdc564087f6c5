package mqtingestor

import "strings"

// Topic layout: iot/sensor/<deviceId>/temperature
const (
	topicRoot   = "iot"
	topicKind   = "sensor"
	topicMetric = "temperature"
	topicLevels = 4
	deviceLevel = 2
)

// DeviceIDFromTopic extracts the device ID from a temperature topic. It
// reports false for any other topic shape or an empty device segment.
func DeviceIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicLevels {
		return "", false
	}
	if parts[0] != topicRoot || parts[1] != topicKind || parts[3] != topicMetric {
		return "", false
	}
	deviceID := strings.TrimSpace(parts[deviceLevel])
	if deviceID == "" {
		return "", false
	}
	return deviceID, true
}
