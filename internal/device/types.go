package device

import (
	"encoding/json"
	"time"
)

// Device is a controllable unit assigned to at most one client.
type Device struct {
	ID     string `json:"id"`
	Nombre string `json:"nombre"`
	Tipo   string `json:"tipo"`

	// ClientID is the assigned client. Empty means unassigned, which only
	// SuperUsers can reach.
	ClientID        string          `json:"clientId,omitempty"`
	Estado          string          `json:"estado"`
	Config          json.RawMessage `json:"config"`
	FirmwareVersion string          `json:"firmwareVersion,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Command is a request to make a device do something. It is published to
// the device transport after authorisation.
type Command struct {
	ID       string         `json:"id"`
	DeviceID string         `json:"device_id"`
	Command  string         `json:"command"`
	Params   map[string]any `json:"params,omitempty"`
	IssuedBy string         `json:"issued_by"`
	Role     string         `json:"role"`
	IssuedAt time.Time      `json:"issued_at"`
}
