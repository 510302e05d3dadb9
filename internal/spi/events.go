package spi

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle change.
type EventType string

// Event types.
const (
	EventDeviceAttached    EventType = "device.attached"
	EventDeviceDetached    EventType = "device.detached"
	EventBARMapped         EventType = "bar.mapped"
	EventBARUnmapped       EventType = "bar.unmapped"
	EventControllerCreated EventType = "controller.created"
	EventControllerDeleted EventType = "controller.deleted"
)

// Event describes a change to a device or one of its controllers.
type Event struct {
	ID     string    `json:"id"`
	Type   EventType `json:"type"`
	Device DeviceID  `json:"device"`

	// Seq increases by one for each event of a device attachment.
	Seq uint64 `json:"seq"`

	// Controller is set for controller events.
	Controller *ControllerInfo `json:"controller,omitempty"`

	// BAR is set for BAR events.
	BAR *BARState `json:"bar,omitempty"`

	// Occupied is the number of occupied slots after the change.
	Occupied int `json:"occupied"`

	Time time.Time `json:"time"`
}

// Observer receives events after the change is complete, in the order the
// changes were made on each device. OnEvent is called without any plugin
// lock held, possibly on the goroutine of a later operation on the same
// device, and must not block for long.
type Observer interface {
	OnEvent(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

func newEvent(typ EventType, id DeviceID, occupied int, now time.Time) Event {
	return Event{
		ID:       "evt-" + uuid.NewString()[:8],
		Type:     typ,
		Device:   id,
		Occupied: occupied,
		Time:     now.UTC(),
	}
}
