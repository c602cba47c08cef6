package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration that is never dialled.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "devicehub-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnectedClient returns a client that has not connected to a broker.
func disconnectedClient() *Client {
	return &Client{
		cfg:           testConfig(),
		subscriptions: make(map[string]subscription),
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.record("ERROR " + msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("WARN " + msg) }

func (l *recordingLogger) record(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ pahomqtt.Message = fakeMessage{}

func TestPublishValidation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"invalid qos", "devicehub/x", []byte("{}"), 3, ErrInvalidQoS},
		{"oversized payload", "devicehub/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "devicehub/x", []byte("{}"), 1, ErrNotConnected},
		{"nil payload not connected", "devicehub/x", nil, 0, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishOversizedIsPayloadTooLarge(t *testing.T) {
	err := disconnectedClient().Publish("devicehub/x", make([]byte, maxPayloadSize+1), 1, false)
	if !errors.Is(err, ErrPayloadTooLarge) || !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPayloadTooLarge wrapping ErrPublishFailed", err)
	}
}

func TestPublishRetainedDisconnected(t *testing.T) {
	c := disconnectedClient()
	if err := c.PublishRetained(Topics{}.DeviceConfig("dev-1"), []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishRetained() error = %v, want ErrNotConnected", err)
	}
	if c.QoS() != 1 {
		t.Errorf("QoS() = %d, want 1", c.QoS())
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v", err)
	}
	if err := c.Subscribe("devicehub/#", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) error = %v", err)
	}
	if err := c.Subscribe("devicehub/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v", err)
	}
	if err := c.Subscribe("devicehub/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("devicehub/#") {
		t.Error("failed subscription must not be tracked")
	}

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v", err)
	}
	if err := c.Unsubscribe("devicehub/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := disconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	var c Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true on zero client")
	}
}

func TestConnectRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed local port")
	}
	cfg := testConfig()
	cfg.Broker.Port = 1
	cfg.Reconnect.InitialDelay = 0

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWrapHandler(t *testing.T) {
	c := disconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got string
	c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	})(nil, fakeMessage{topic: "devicehub/devices/dev-1/ack", payload: []byte("ok")})
	if got != "devicehub/devices/dev-1/ack=ok" {
		t.Errorf("handler saw %q", got)
	}

	c.wrapHandler(func(string, []byte) error {
		return errors.New("bad ack")
	})(nil, fakeMessage{topic: "t"})

	c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})(nil, fakeMessage{topic: "t"})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	want := []string{"WARN MQTT handler returned error", "ERROR MQTT handler panic recovered"}
	if strings.Join(logger.lines, "|") != strings.Join(want, "|") {
		t.Errorf("logged %v, want %v", logger.lines, want)
	}
}

func TestCallbacks(t *testing.T) {
	c := disconnectedClient()

	var lost error
	c.SetOnDisconnect(func(err error) { lost = err })
	c.handleDisconnect(errors.New("link down"))
	if lost == nil || lost.Error() != "link down" {
		t.Errorf("onDisconnect got %v", lost)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "hub"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "devicehub-test" || opts.Username != "hub" {
		t.Errorf("ClientID = %q, Username = %q", opts.ClientID, opts.Username)
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("expected clean session with auto-reconnect")
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured without broker.tls")
	}

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL() = %q", got)
	}
	opts = buildClientOptions(cfg)
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS not configured for ssl broker")
	}
}

func TestLastWill(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "devicehub-test")

	if !opts.WillEnabled || opts.WillTopic != "devicehub/system/status" || !opts.WillRetained || opts.WillQos != 1 {
		t.Fatalf("will = %+v", opts)
	}

	var status statusPayload
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" || status.ClientID != "devicehub-test" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestTopicBuilders(t *testing.T) {
	tp := Topics{}
	tests := []struct {
		got, want string
	}{
		{tp.DeviceCommand("dev-42"), "devicehub/devices/dev-42/commands"},
		{tp.DeviceConfig("dev-42"), "devicehub/devices/dev-42/config"},
		{tp.DeviceAck("dev-42"), "devicehub/devices/dev-42/ack"},
		{tp.Notify("email"), "devicehub/notify/email"},
		{tp.SystemStatus(), "devicehub/system/status"},
		{tp.AllDeviceAcks(), "devicehub/devices/+/ack"},
		{tp.AllTopics(), "devicehub/#"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := map[string]string{
		"devicehub/devices/dev-42/ack":      "dev-42",
		"devicehub/devices/dev-42/commands": "dev-42",
		"devicehub/devices/dev-42":          "",
		"devicehub/devices//ack":            "",
		"devicehub/notify/email":            "",
		"other/devices/dev-42/ack":          "",
	}
	for topic, want := range tests {
		if got := DeviceIDFromTopic(topic); got != want {
			t.Errorf("DeviceIDFromTopic(%q) = %q, want %q", topic, got, want)
		}
	}
}
