// Package notify hands password-reset messages to the external mailer.
//
// The core never sends email itself. A Notifier publishes the reset link
// to whatever delivers it: an MQTT topic consumed by the mail service in
// production, or the log in development.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ResetMessage is everything the mailer needs to render a reset email.
type ResetMessage struct {
	AccountKind   string    `json:"account_kind"`
	AccountID     string    `json:"account_id"`
	Email         string    `json:"email"`
	Nombre        string    `json:"nombre"`
	NumeroCliente string    `json:"numero_cliente"`
	Link          string    `json:"link"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Notifier delivers password-reset messages.
type Notifier interface {
	SendPasswordReset(ctx context.Context, msg ResetMessage) error
}

// Publisher is the subset of the MQTT client used by MQTTNotifier.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// ErrNoRecipient is returned when a message has no email address.
var ErrNoRecipient = errors.New("reset message has no recipient")

// MQTTNotifier publishes reset messages as JSON on a fixed topic.
type MQTTNotifier struct {
	publisher Publisher
	topic     string
	qos       byte
}

// NewMQTTNotifier creates a notifier publishing to topic.
func NewMQTTNotifier(publisher Publisher, topic string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{publisher: publisher, topic: topic, qos: qos}
}

// SendPasswordReset publishes msg. Messages are never retained.
func (n *MQTTNotifier) SendPasswordReset(ctx context.Context, msg ResetMessage) error {
	if msg.Email == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling reset message: %w", err)
	}

	if err := n.publisher.Publish(n.topic, payload, n.qos, false); err != nil {
		return fmt.Errorf("publishing reset message: %w", err)
	}
	return nil
}

// LogNotifier writes reset messages to the log instead of delivering them.
// Only the token prefix of the link is logged.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs through logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendPasswordReset logs msg with a redacted link.
func (n *LogNotifier) SendPasswordReset(_ context.Context, msg ResetMessage) error {
	if msg.Email == "" {
		return ErrNoRecipient
	}
	n.logger.Info("password reset requested",
		"account_kind", msg.AccountKind,
		"email", msg.Email,
		"link", RedactLink(msg.Link),
		"expires_at", msg.ExpiresAt.Format(time.RFC3339),
	)
	return nil
}

// tokenPrefixLen is how much of a token may appear in logs.
const tokenPrefixLen = 6

// RedactLink truncates the value after "token=" to a short prefix.
func RedactLink(link string) string {
	i := strings.Index(link, "token=")
	if i < 0 {
		return link
	}
	end := i + len("token=") + tokenPrefixLen
	if end >= len(link) {
		return link
	}
	return link[:end] + "..."
}
