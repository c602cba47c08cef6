package device

import "errors"

var (
	ErrDeviceNotFound = errors.New("device: not found")
	ErrDeviceExists   = errors.New("device: already exists")

	// ErrInvalidDevice means nombre or tipo is missing.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidConfig means the config document is not a JSON object.
	ErrInvalidConfig = errors.New("device: invalid config")

	// ErrInvalidCommand means the command name or payload is malformed.
	ErrInvalidCommand = errors.New("device: invalid command")
)
