package platform

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ResourceFlags classifies a Resource.
type ResourceFlags uint32

const (
	// ResourceMem marks a memory-mapped register window.
	ResourceMem ResourceFlags = 1 << iota
	// ResourceIRQ marks an interrupt line.
	ResourceIRQ
)

// String returns a short label for the flags.
func (f ResourceFlags) String() string {
	switch {
	case f&ResourceMem != 0:
		return "mem"
	case f&ResourceIRQ != 0:
		return "irq"
	default:
		return "none"
	}
}

// Resource is an inclusive address range claimed by a device.
type Resource struct {
	Start uint64        `json:"start"`
	End   uint64        `json:"end"`
	Flags ResourceFlags `json:"flags"`
}

// Size returns the number of addresses covered by r.
func (r Resource) Size() uint64 {
	return r.End - r.Start + 1
}

func (r Resource) overlaps(o Resource) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Spec describes a device to register.
type Spec struct {
	// Name is the driver name the device binds to.
	Name string
	// ID distinguishes devices that share a Name.
	ID int
	// Resources are the address ranges the device claims.
	Resources []Resource
	// Parent identifies the owning device, if any.
	Parent string
	// Data is opaque driver-specific configuration.
	Data any
}

// Device is a registered bus object.
type Device struct {
	spec         Spec
	registeredAt time.Time
}

// Name returns the driver name.
func (d *Device) Name() string { return d.spec.Name }

// ID returns the instance ID.
func (d *Device) ID() int { return d.spec.ID }

// Parent returns the parent device identity.
func (d *Device) Parent() string { return d.spec.Parent }

// Data returns the driver-specific configuration.
func (d *Device) Data() any { return d.spec.Data }

// RegisteredAt returns when the device joined the bus.
func (d *Device) RegisteredAt() time.Time { return d.registeredAt }

// Resources returns a copy of the claimed resources.
func (d *Device) Resources() []Resource {
	out := make([]Resource, len(d.spec.Resources))
	copy(out, d.spec.Resources)
	return out
}

// String returns the bus name of the device, "name.id".
func (d *Device) String() string {
	return deviceKey(d.spec.Name, d.spec.ID)
}

func deviceKey(name string, id int) string {
	return fmt.Sprintf("%s.%d", name, id)
}

// Bus holds the set of registered devices.
type Bus struct {
	mu      sync.RWMutex
	devices map[string]*Device
	now     func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		devices: make(map[string]*Device),
		now:     time.Now,
	}
}

// Register adds a device to the bus.
//
// Parameters:
//   - spec: device description; Name must be non-empty and every resource
//     must satisfy Start <= End
//
// Returns:
//   - *Device: handle to pass to Unregister
//   - error: ErrInvalid, ErrExist or ErrBusy
func (b *Bus) Register(spec Spec) (*Device, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalid)
	}
	for _, r := range spec.Resources {
		if r.End < r.Start {
			return nil, fmt.Errorf("%w: resource 0x%x-0x%x is inverted", ErrInvalid, r.Start, r.End)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := deviceKey(spec.Name, spec.ID)
	if _, ok := b.devices[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExist, key)
	}

	for _, r := range spec.Resources {
		if r.Flags&ResourceMem == 0 {
			continue
		}
		if owner, ok := b.claimant(r); ok {
			return nil, fmt.Errorf("%w: 0x%x-0x%x claimed by %s", ErrBusy, r.Start, r.End, owner)
		}
	}

	spec.Resources = append([]Resource(nil), spec.Resources...)
	dev := &Device{spec: spec, registeredAt: b.now()}
	b.devices[key] = dev
	return dev, nil
}

// claimant returns the device holding a memory resource overlapping r.
// Caller holds b.mu.
func (b *Bus) claimant(r Resource) (string, bool) {
	for key, dev := range b.devices {
		for _, held := range dev.spec.Resources {
			if held.Flags&ResourceMem != 0 && held.overlaps(r) {
				return key, true
			}
		}
	}
	return "", false
}

// Unregister removes a device from the bus, releasing its resources.
func (b *Bus) Unregister(dev *Device) error {
	if dev == nil {
		return fmt.Errorf("%w: nil device", ErrNotRegistered)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := dev.String()
	if cur, ok := b.devices[key]; !ok || cur != dev {
		return fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}
	delete(b.devices, key)
	return nil
}

// Lookup returns the device registered as "name.id".
func (b *Bus) Lookup(name string, id int) (*Device, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dev, ok := b.devices[deviceKey(name, id)]
	return dev, ok
}

// List returns every registered device ordered by bus name.
func (b *Bus) List() []*Device {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Device, 0, len(b.devices))
	for _, dev := range b.devices {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Len returns the number of registered devices.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.devices)
}
