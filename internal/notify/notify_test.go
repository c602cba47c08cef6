package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakePublisher struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	err      error
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.topic, f.payload, f.qos, f.retained = topic, payload, qos, retained
	return f.err
}

func testMessage() ResetMessage {
	return ResetMessage{
		AccountKind:   "empresa",
		AccountID:     "cmp-1",
		Email:         "ops@example.com",
		Nombre:        "Stack SA",
		NumeroCliente: "500001-5",
		Link:          "https://app.example.com/auth/reset-password?token=0123456789abcdef0123456789abcdef",
		ExpiresAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMQTTNotifier_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, "devicehub/notify/email", 1)

	if err := n.SendPasswordReset(context.Background(), testMessage()); err != nil {
		t.Fatalf("SendPasswordReset() error = %v", err)
	}

	if pub.topic != "devicehub/notify/email" {
		t.Errorf("topic = %q", pub.topic)
	}
	if pub.qos != 1 || pub.retained {
		t.Errorf("qos = %d retained = %v, want 1 false", pub.qos, pub.retained)
	}

	var got ResetMessage
	if err := json.Unmarshal(pub.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Link != testMessage().Link {
		t.Errorf("Link = %q", got.Link)
	}
}

func TestMQTTNotifier_Errors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	n := NewMQTTNotifier(pub, "t", 1)

	if err := n.SendPasswordReset(context.Background(), testMessage()); err == nil {
		t.Error("expected publish error to propagate")
	}

	msg := testMessage()
	msg.Email = ""
	if err := n.SendPasswordReset(context.Background(), msg); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("error = %v, want ErrNoRecipient", err)
	}
}

func TestLogNotifier_RedactsToken(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := n.SendPasswordReset(context.Background(), testMessage()); err != nil {
		t.Fatalf("SendPasswordReset() error = %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "0123456789abcdef0123456789abcdef") {
		t.Errorf("full token leaked into log: %s", out)
	}
	if !strings.Contains(out, "token=012345...") {
		t.Errorf("expected token prefix in log, got %s", out)
	}
}

func TestRedactLink(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://x/reset?token=abcdefghijkl", "https://x/reset?token=abcdef..."},
		{"https://x/reset?token=abc", "https://x/reset?token=abc"},
		{"https://x/reset", "https://x/reset"},
	}
	for _, tt := range tests {
		if got := RedactLink(tt.in); got != tt.want {
			t.Errorf("RedactLink(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
