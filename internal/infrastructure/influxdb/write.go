package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by devicehub.
const (
	MeasurementAuthEvents    = "auth_events"
	MeasurementDeviceCommand = "device_commands"
)

// WriteAuthEvent records one authentication or authorisation event:
// a login attempt, a denial, a throttled request or a recovery request.
// Only low-cardinality values are tagged; the account ID is a field.
//
//	client.WriteAuthEvent("login", "empresa", "success", "acc-1")
func (c *Client) WriteAuthEvent(event, role, outcome, accountID string) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"event":   event,
		"outcome": outcome,
	}
	if role != "" {
		tags["role"] = role
	}
	fields := map[string]any{"count": 1}
	if accountID != "" {
		fields["account_id"] = accountID
	}

	c.writeAPI.WritePoint(write.NewPoint(MeasurementAuthEvents, tags, fields, time.Now()))
}

// WriteDeviceCommand records a dispatched device command.
func (c *Client) WriteDeviceCommand(deviceID, command, role string) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementDeviceCommand,
		map[string]string{
			"command": command,
			"role":    role,
		},
		map[string]any{
			"device_id": deviceID,
			"count":     1,
		},
		time.Now(),
	))
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
