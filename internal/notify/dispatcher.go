package notify

import (
	"sync"

	"github.com/nerrad567/vspi-core/internal/spi"
)

// Logger defines the logging interface for the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink consumes lifecycle events.
type Sink interface {
	Name() string
	Handle(ev spi.Event) error
}

var _ spi.Observer = (*Dispatcher)(nil)

// Dispatcher delivers events to every registered sink in registration order.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger Logger
}

// NewDispatcher creates a dispatcher with the given sinks. Nil sinks are
// ignored.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{logger: noopLogger{}}
	for _, s := range sinks {
		d.AddSink(s)
	}
	return d
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// AddSink appends a sink.
func (d *Dispatcher) AddSink(s Sink) {
	if s == nil {
		return
	}
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Sinks returns the names of the registered sinks.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// OnEvent implements spi.Observer.
func (d *Dispatcher) OnEvent(ev spi.Event) {
	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, s := range sinks {
		d.deliver(s, ev)
	}
}

func (d *Dispatcher) deliver(s Sink, ev spi.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notify sink panicked", "sink", s.Name(), "event", ev.Type, "panic", r)
		}
	}()

	if err := s.Handle(ev); err != nil {
		d.logger.Warn("notify sink failed",
			"sink", s.Name(),
			"event", ev.Type,
			"device", ev.Device,
			"error", err,
		)
		return
	}
	d.logger.Debug("event delivered", "sink", s.Name(), "event", ev.Type, "device", ev.Device)
}

// controllerIndex returns the 1-based controller index of ev, or 0.
func controllerIndex(ev spi.Event) int {
	if ev.Controller == nil {
		return 0
	}
	return ev.Controller.Index
}
