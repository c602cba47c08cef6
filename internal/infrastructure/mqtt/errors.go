package mqtt

import (
	"errors"
	"fmt"
)

// Errors returned by Client. Callers match them with errors.Is; the api
// package maps ErrNotConnected and ErrPublishFailed to 503.
var (
	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrInvalidQoS       = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrInvalidTopic     = errors.New("mqtt: empty topic")

	// ErrPayloadTooLarge is a publish failure; errors.Is matches both.
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrPublishFailed)
)
