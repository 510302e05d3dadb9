package notify

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/vspi-core/internal/audit"
	"github.com/nerrad567/vspi-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/vspi-core/internal/spi"
)

// WebSocket channels events are broadcast on.
const (
	ChannelControllerChanged = "spi.controller_changed"
	ChannelDeviceChanged     = "spi.device_changed"
)

// ErrQueueFull is returned by AuditSink when the recorder drops an entry.
var ErrQueueFull = errors.New("notify: audit queue full")

// AuditRecorder queues audit entries. *audit.Recorder implements it.
type AuditRecorder interface {
	Record(e *audit.Entry) bool
}

// AuditSink records every event in the audit trail.
type AuditSink struct {
	rec AuditRecorder
}

// NewAuditSink creates a sink over rec.
func NewAuditSink(rec AuditRecorder) *AuditSink {
	return &AuditSink{rec: rec}
}

// Name implements Sink.
func (*AuditSink) Name() string { return "audit" }

// Handle implements Sink.
func (s *AuditSink) Handle(ev spi.Event) error {
	details := map[string]any{
		"event_id": ev.ID,
		"seq":      ev.Seq,
		"occupied": ev.Occupied,
	}
	if ev.Controller != nil {
		details["name"] = ev.Controller.Name
		details["range"] = fmt.Sprintf("0x%x-0x%x", ev.Controller.Start, ev.Controller.End)
		details["modalias"] = ev.Controller.Modalias
	}
	if ev.BAR != nil {
		details["bar_start"] = ev.BAR.Start
		details["bar_len"] = ev.BAR.Len
	}

	ok := s.rec.Record(&audit.Entry{
		Action:     string(ev.Type),
		Device:     ev.Device.String(),
		Controller: controllerIndex(ev),
		Source:     audit.SourcePlugin,
		Details:    details,
		CreatedAt:  ev.Time,
	})
	if !ok {
		return ErrQueueFull
	}
	return nil
}

// Publisher publishes MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	PublishRetained(topic string, payload []byte) error
}

// DeviceState is the retained payload on the device state topic.
type DeviceState struct {
	Device   string        `json:"device"`
	Attached bool          `json:"attached"`
	BAR      *spi.BARState `json:"bar,omitempty"`
	Occupied int           `json:"occupied"`
	Updated  string        `json:"updated"`
}

// MQTTSink mirrors lifecycle state onto retained topics and publishes
// each event on its event topic.
type MQTTSink struct {
	pub    Publisher
	topics mqtt.Topics

	mu   sync.Mutex
	bars map[spi.DeviceID]spi.BARState
}

// NewMQTTSink creates a sink over pub.
func NewMQTTSink(pub Publisher) *MQTTSink {
	return &MQTTSink{pub: pub, bars: make(map[spi.DeviceID]spi.BARState)}
}

// Name implements Sink.
func (*MQTTSink) Name() string { return "mqtt" }

// Handle implements Sink.
func (s *MQTTSink) Handle(ev spi.Event) error {
	bdf := ev.Device.String()
	var stateErr error

	switch ev.Type {
	case spi.EventControllerCreated:
		if ev.Controller != nil {
			stateErr = s.pub.PublishJSON(s.topics.ControllerState(bdf, ev.Controller.Index), ev.Controller, true)
		}
	case spi.EventControllerDeleted:
		if ev.Controller != nil {
			// An empty retained payload clears the topic.
			stateErr = s.pub.PublishRetained(s.topics.ControllerState(bdf, ev.Controller.Index), nil)
		}
	case spi.EventDeviceAttached, spi.EventBARMapped, spi.EventBARUnmapped:
		stateErr = s.pub.PublishJSON(s.topics.DeviceState(bdf), s.deviceState(ev, true), true)
	case spi.EventDeviceDetached:
		stateErr = s.pub.PublishJSON(s.topics.DeviceState(bdf), s.deviceState(ev, false), true)
	}

	eventErr := s.pub.PublishJSON(s.topics.Event(string(ev.Type)), ev, false)
	return errors.Join(stateErr, eventErr)
}

// deviceState builds the retained device payload, remembering the last BAR
// seen for the device.
func (s *MQTTSink) deviceState(ev spi.Event, attached bool) DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.BAR != nil {
		s.bars[ev.Device] = *ev.BAR
	}
	st := DeviceState{
		Device:   ev.Device.String(),
		Attached: attached,
		Occupied: ev.Occupied,
		Updated:  ev.Time.Format(time.RFC3339),
	}
	if bar, ok := s.bars[ev.Device]; ok && attached {
		st.BAR = &bar
	}
	if !attached {
		delete(s.bars, ev.Device)
	}
	return st
}

// MetricsWriter writes lifecycle points. *influxdb.Client implements it.
type MetricsWriter interface {
	WriteOccupancy(device string, occupied int, mapped bool, barLen uint64)
	WriteEvent(device, eventType string, controller int)
}

// MetricsSink records an event point for every event and an occupancy
// point whenever the occupied count or BAR state may have changed.
type MetricsSink struct {
	w MetricsWriter

	mu   sync.Mutex
	bars map[spi.DeviceID]spi.BARState
}

// NewMetricsSink creates a sink over w.
func NewMetricsSink(w MetricsWriter) *MetricsSink {
	return &MetricsSink{w: w, bars: make(map[spi.DeviceID]spi.BARState)}
}

// Name implements Sink.
func (*MetricsSink) Name() string { return "metrics" }

// Handle implements Sink.
func (s *MetricsSink) Handle(ev spi.Event) error {
	bdf := ev.Device.String()
	s.w.WriteEvent(bdf, string(ev.Type), controllerIndex(ev))

	s.mu.Lock()
	if ev.BAR != nil {
		s.bars[ev.Device] = *ev.BAR
	}
	bar := s.bars[ev.Device]
	if ev.Type == spi.EventDeviceDetached {
		delete(s.bars, ev.Device)
		bar = spi.BARState{}
	}
	s.mu.Unlock()

	s.w.WriteOccupancy(bdf, ev.Occupied, bar.Mapped, bar.Len)
	return nil
}

// Broadcaster pushes an event to WebSocket subscribers of a channel.
// *api.Hub implements it.
type Broadcaster interface {
	Broadcast(channel string, ev spi.Event)
}

// BroadcastSink forwards events to live WebSocket clients.
type BroadcastSink struct {
	b Broadcaster
}

// NewBroadcastSink creates a sink over b.
func NewBroadcastSink(b Broadcaster) *BroadcastSink {
	return &BroadcastSink{b: b}
}

// Name implements Sink.
func (*BroadcastSink) Name() string { return "websocket" }

// Handle implements Sink.
func (s *BroadcastSink) Handle(ev spi.Event) error {
	switch ev.Type {
	case spi.EventControllerCreated, spi.EventControllerDeleted:
		s.b.Broadcast(ChannelControllerChanged, ev)
	default:
		s.b.Broadcast(ChannelDeviceChanged, ev)
	}
	return nil
}
