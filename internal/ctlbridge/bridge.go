package ctlbridge

import (
	"fmt"
	"sync"

	"github.com/nerrad567/vspi-core/internal/audit"
	"github.com/nerrad567/vspi-core/internal/infrastructure/mqtt"
)

// Client is the MQTT surface the bridge needs. *mqtt.Client implements it.
type Client interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any, retained bool) error
}

// Result is the reply published on a .../result topic. Errno is the negated
// errno, 0 on success.
type Result struct {
	OK    bool   `json:"ok"`
	Errno int    `json:"errno"`
	Error string `json:"error,omitempty"`
}

// Bridge maps MQTT write requests onto a Writer.
type Bridge struct {
	client Client
	writer *Writer
	qos    byte
	topics mqtt.Topics
	logger Logger

	mu      sync.Mutex
	started bool
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(client Client, writer *Writer, qos byte) *Bridge {
	return &Bridge{client: client, writer: writer, qos: qos, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start subscribes to every write-request topic. The client restores the
// subscription after a reconnect.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	topic := b.topics.AllCtlSets()
	if err := b.client.Subscribe(topic, b.qos, b.handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	b.started = true
	b.logger.Info("mqtt control bridge started", "topic", topic)
	return nil
}

// Stop removes the subscription.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	if err := b.client.Unsubscribe(b.topics.AllCtlSets()); err != nil {
		return fmt.Errorf("unsubscribing control bridge: %w", err)
	}
	return nil
}

// handle processes one message. Replies and other non-request topics under
// the control prefix are ignored.
func (b *Bridge) handle(topic string, payload []byte) error {
	bdf, entry, ok := b.topics.ParseCtlSet(topic)
	if !ok {
		return nil
	}

	out := b.writer.Write(Request{
		Device:  bdf,
		Entry:   entry,
		Value:   string(payload),
		Source:  audit.SourceMQTT,
		Subject: "mqtt",
	})

	res := Result{OK: out.OK(), Errno: -int(out.Errno)}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	if err := b.client.PublishJSON(b.topics.CtlResult(topic), res, false); err != nil {
		return fmt.Errorf("publishing result for %s: %w", topic, err)
	}
	return nil
}
