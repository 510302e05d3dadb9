package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/vspi-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "vspid-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "vspid", Password: "secret"}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "vspid-test" || opts.Username != "vspid" || opts.Password != "secret" {
		t.Errorf("identity = %q %q %q", opts.ClientID, opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession || opts.TLSConfig != nil {
		t.Errorf("reconnect=%v clean=%v tls=%v", opts.AutoReconnect, opts.CleanSession, opts.TLSConfig)
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if !strings.HasPrefix(opts.Servers[0].String(), "ssl://") || opts.TLSConfig == nil {
		t.Errorf("TLS options not applied: %v", opts.Servers[0])
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "vspid-test")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillTopic != "vspi/system/status" {
		t.Errorf("will = enabled %v retained %v topic %q", opts.WillEnabled, opts.WillRetained, opts.WillTopic)
	}
	var status statusPayload
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" || status.ClientID != "vspid-test" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var status statusPayload
	if err := json.Unmarshal(buildStatusPayload("online", "id", ""), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "online" || status.Timestamp == "" || status.Reason != "" {
		t.Errorf("payload = %+v", status)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("vspi/x", nil, 3, false), ErrInvalidQoS},
		{"publish too large", c.Publish("vspi/x", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed},
		{"publish not connected", c.Publish("vspi/x", []byte("{}"), 1, false), ErrNotConnected},
		{"publish json not connected", c.PublishJSON("vspi/x", map[string]int{"a": 1}, true), ErrNotConnected},
		{"publish json unmarshalable", c.PublishJSON("vspi/x", make(chan int), false), ErrPublishFailed},
		{"subscribe empty topic", c.Subscribe("", 1, handler), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("vspi/#", 3, handler), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("vspi/#", 1, nil), ErrSubscribeFailed},
		{"subscribe not connected", c.Subscribe("vspi/#", 1, handler), ErrNotConnected},
		{"unsubscribe empty", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe not connected", c.Unsubscribe("vspi/#"), ErrNotConnected},
		{"health", c.HealthCheck(context.Background()), ErrNotConnected},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.want)
		}
	}

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("vspi/#") {
		t.Error("failed subscribe left a tracked subscription")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newClient(testConfig()).HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestDispatch(t *testing.T) {
	c := newClient(testConfig())
	logger := &mockLogger{}
	c.SetLogger(logger)

	var got string
	c.dispatch(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	}, "vspi/ctl/x/spi/spi_cs/set", []byte("1"))
	if got != "vspi/ctl/x/spi/spi_cs/set=1" {
		t.Errorf("handler saw %q", got)
	}

	c.dispatch(func(string, []byte) error { return errors.New("bad write") }, "t", nil)
	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)

	if len(logger.warns) != 1 || len(logger.errors) != 1 {
		t.Errorf("warns=%v errors=%v", logger.warns, logger.errors)
	}

	// Without a logger failures are swallowed.
	c.SetLogger(nil)
	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
}

func TestCallbacks(t *testing.T) {
	c := newClient(testConfig())
	var lost error
	c.SetOnDisconnect(func(err error) { lost = err })

	c.setConnected(true)
	c.handleDisconnect(errors.New("broker gone"))

	if lost == nil || lost.Error() != "broker gone" {
		t.Errorf("onDisconnect got %v", lost)
	}
	if c.IsConnected() {
		t.Error("still connected after handleDisconnect")
	}
}
