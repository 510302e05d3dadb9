package spi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/vspi-core/internal/ctlfs"
	"github.com/nerrad567/vspi-core/internal/multifpgapci"
)

// ProtocolName is the name the plugin registers under.
const ProtocolName = "spi"

// Logger defines the logging interface used by the Plugin.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

var _ multifpgapci.ProtocolOps = (*Plugin)(nil)

// Plugin is the SPI protocol of the multi-FPGA framework. It owns the device
// registry and drives the per-device state machine:
//
//	Unattached ─Attach─► Attached(unmapped) ─MapBAR─► Attached(mapped)
//	     ▲                    ▲      │                   │
//	     └──────Detach────────┴──────┴──UnmapBAR─────────┘
//
// Controllers are created and deleted with NewController/DelController,
// usually through the "spi" control-plane directory of each device.
//
// All methods are safe for concurrent use.
type Plugin struct {
	registry *Registry
	logger   Logger
	now      func() time.Time

	defaultsMu sync.RWMutex
	defaults   map[DeviceID]PendingConfig

	obsMu     sync.RWMutex
	observers []Observer
}

// NewPlugin creates a plugin that registers controllers on reg.
func NewPlugin(reg Registrar) *Plugin {
	return &Plugin{
		registry: NewRegistry(reg),
		logger:   noopLogger{},
		now:      time.Now,
		defaults: make(map[DeviceID]PendingConfig),
	}
}

// SetLogger sets the logger for the plugin.
func (p *Plugin) SetLogger(logger Logger) {
	p.logger = logger
}

// SetDefaults sets the staged configuration a device starts with when it is
// attached. Devices without an entry start zeroed.
func (p *Plugin) SetDefaults(defaults map[DeviceID]PendingConfig) {
	p.defaultsMu.Lock()
	defer p.defaultsMu.Unlock()
	p.defaults = make(map[DeviceID]PendingConfig, len(defaults))
	for id, cfg := range defaults {
		p.defaults[id] = cfg
	}
}

// AddObserver subscribes o to lifecycle events.
func (p *Plugin) AddObserver(o Observer) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.observers = append(p.observers, o)
}

// Name returns ProtocolName.
func (p *Plugin) Name() string {
	return ProtocolName
}

// Attach creates the device record and its control-plane directory. On any
// failure nothing attributable to the device is left behind.
func (p *Plugin) Attach(dev *multifpgapci.Device, parent *ctlfs.Dir) error {
	if dev == nil || parent == nil {
		return fmt.Errorf("%w: attach needs a device and a parent directory", ErrInvalidArgument)
	}

	rec, err := p.registry.Insert(dev.ID)
	if err != nil {
		p.logger.Error("spi attach failed", "device", dev.ID, "error", err)
		return err
	}

	rec.mu.Lock()
	p.defaultsMu.RLock()
	if cfg, ok := p.defaults[dev.ID]; ok {
		rec.staged.replace(cfg)
	}
	p.defaultsMu.RUnlock()

	ns, err := p.buildNamespace(dev.ID, parent)
	if err != nil {
		rec.dead = true
		rec.mu.Unlock()
		p.registry.Remove(dev.ID)
		err = fmt.Errorf("%w: namespace for %s: %w", ErrResourceExhausted, dev.ID, err)
		p.logger.Error("spi attach failed", "device", dev.ID, "error", err)
		return err
	}
	rec.ns = ns
	rec.queue(newEvent(EventDeviceAttached, dev.ID, 0, p.now()))
	rec.mu.Unlock()

	p.logger.Info("spi device attached", "device", dev.ID, "namespace", ns.Path())
	p.deliver(rec)
	return nil
}

// buildNamespace creates the "spi" directory and its entries under parent.
func (p *Plugin) buildNamespace(id DeviceID, parent *ctlfs.Dir) (*ctlfs.Dir, error) {
	ns, err := parent.Mkdir(namespaceDir)
	if err != nil {
		return nil, err
	}
	if err := ns.AddGroup(p.attrs(id)); err != nil {
		_ = parent.Remove(namespaceDir)
		return nil, err
	}
	return ns, nil
}

// Detach releases every controller of the device, removes its directory and
// forgets the record. Parts that are already gone are skipped.
func (p *Plugin) Detach(dev *multifpgapci.Device, parent *ctlfs.Dir) {
	if dev == nil {
		return
	}
	rec, ok := p.registry.Remove(dev.ID)
	if !ok {
		p.logger.Error("spi detach of unknown device", "device", dev.ID, "error", ErrNotFound)
		return
	}
	p.release(rec, parent)
}

// release tears down a record already removed from the registry.
func (p *Plugin) release(rec *Record, parent *ctlfs.Dir) {
	rec.mu.Lock()
	rec.dead = true
	released, err := rec.slots.ClearAll()
	if err != nil {
		p.logger.Error("spi detach: releasing controllers", "device", rec.id, "error", err)
	}
	if rec.ns != nil {
		if parent == nil {
			parent = rec.ns.Parent()
		}
		if parent != nil {
			if err := parent.Remove(namespaceDir); err != nil && !errors.Is(err, ctlfs.ErrNotExist) {
				p.logger.Error("spi detach: removing namespace", "device", rec.id, "error", err)
			}
		}
		rec.ns = nil
	}
	rec.bar = multifpgapci.BAR{}
	rec.mapped = false

	now := p.now()
	for i, c := range released {
		ev := newEvent(EventControllerDeleted, rec.id, len(released)-i-1, now)
		info := c.Info()
		ev.Controller = &info
		rec.queue(ev)
	}
	rec.queue(newEvent(EventDeviceDetached, rec.id, 0, now))
	rec.mu.Unlock()

	p.logger.Info("spi device detached", "device", rec.id, "released", len(released))
	p.deliver(rec)
}

// MapBAR records the BAR geometry, replacing any previous mapping.
func (p *Plugin) MapBAR(dev *multifpgapci.Device, bar multifpgapci.BAR) {
	p.setBAR(dev, bar, true)
}

// UnmapBAR clears the BAR geometry. Existing controllers keep the windows
// they were created with.
func (p *Plugin) UnmapBAR(dev *multifpgapci.Device, _ multifpgapci.BAR) {
	p.setBAR(dev, multifpgapci.BAR{}, false)
}

func (p *Plugin) setBAR(dev *multifpgapci.Device, bar multifpgapci.BAR, mapped bool) {
	if dev == nil {
		return
	}
	op, typ := "map_bar", EventBARMapped
	if !mapped {
		op, typ = "unmap_bar", EventBARUnmapped
	}

	rec, err := p.registry.Lookup(dev.ID)
	if err != nil {
		p.logger.Error("spi "+op+" failed", "device", dev.ID, "error", err)
		return
	}

	rec.mu.Lock()
	if rec.dead {
		rec.mu.Unlock()
		p.logger.Error("spi "+op+" failed", "device", dev.ID, "error", ErrNotFound)
		return
	}
	rec.bar = bar
	rec.mapped = mapped
	state := rec.barState()
	occupied := rec.slots.Len()
	ev := newEvent(typ, dev.ID, occupied, p.now())
	ev.BAR = &state
	rec.queue(ev)
	rec.mu.Unlock()

	p.logger.Info("spi "+op, "device", dev.ID, "bar", bar.String(), "controllers", occupied)
	p.deliver(rec)
}

// barState snapshots the BAR fields. Caller holds r.mu.
func (r *Record) barState() BARState {
	if !r.mapped {
		return BARState{}
	}
	return BARState{Mapped: true, Start: r.bar.Start, Len: r.bar.Len}
}

// NewController creates the controller at the 1-based index in indexText
// using the device's staged configuration. A device whose BAR is not mapped
// has no address window to carve from, so it reports ErrNotFound for the
// BAR rather than for the slot.
//
// Returns:
//   - Controller: the created controller
//   - error: ErrNotFound (unknown device or unmapped BAR), ErrInvalidArgument,
//     ErrOutOfRange, ErrAlreadyExists or ErrRegistrationFailed
func (p *Plugin) NewController(id DeviceID, indexText string) (Controller, error) {
	c, rec, err := p.newController(id, indexText)
	if err != nil {
		p.logger.Error("spi controller create failed",
			"device", id,
			"entry", entryNewController,
			"index", indexText,
			"error", err,
		)
		return Controller{}, err
	}

	p.logger.Info("spi controller created",
		"device", id,
		"controller", c.Name(),
		"range", c.Range.String(),
		"chip_select", c.ChipSelect,
		"modalias", c.Modalias,
	)
	p.deliver(rec)
	return c, nil
}

// newController creates the controller and queues its event. The record
// is returned for delivery.
func (p *Plugin) newController(id DeviceID, indexText string) (Controller, *Record, error) {
	rec, err := p.registry.Lookup(id)
	if err != nil {
		return Controller{}, nil, err
	}
	index, err := parseIndex(indexText)
	if err != nil {
		return Controller{}, nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.dead {
		return Controller{}, nil, fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	if existing, ok := rec.slots.Get(index); ok {
		return Controller{}, nil, fmt.Errorf("%w: slot %d is %s", ErrAlreadyExists, index+1, existing.Name())
	}
	if !rec.mapped {
		return Controller{}, nil, fmt.Errorf("%w: BAR of %s is not mapped", ErrNotFound, id)
	}

	cfg := rec.staged.snapshot()
	if cfg.Driver == "" {
		return Controller{}, nil, fmt.Errorf("%w: %s is not set", ErrInvalidArgument, entryDriver)
	}
	if cfg.Controllers != 0 && uint32(index) >= cfg.Controllers { //nolint:gosec // index is 0..7
		p.logger.Warn("spi controller index beyond staged controller count",
			"device", id, "index", index+1, "controllers", cfg.Controllers)
	}

	r, err := windowFor(rec.bar.Start, uint64(cfg.BaseAddr), uint64(cfg.ControllerSize), index)
	if err != nil {
		return Controller{}, nil, err
	}
	if bar := (Range{Start: rec.bar.Start, End: rec.bar.Start + rec.bar.Len - 1}); rec.bar.Len > 0 && !r.Within(bar) {
		p.logger.Warn("spi controller window outside BAR",
			"device", id, "index", index+1, "range", r.String(), "bar", bar.String())
	}

	c, err := rec.slots.Create(index, r, cfg.ChipSelect, cfg.Driver, cfg.DevDriver, cfg.NumChipSelect)
	if err != nil {
		return Controller{}, nil, err
	}
	ev := newEvent(EventControllerCreated, id, rec.slots.Len(), p.now())
	info := c.Info()
	ev.Controller = &info
	rec.queue(ev)
	return c, rec, nil
}

// DelController deletes the controller at the 1-based index in indexText.
//
// Returns ErrNotFound for an unknown device or empty slot, ErrInvalidArgument
// or ErrOutOfRange for bad index text.
func (p *Plugin) DelController(id DeviceID, indexText string) (Controller, error) {
	c, rec, err := p.delController(id, indexText)
	if err != nil {
		p.logger.Error("spi controller delete failed",
			"device", id,
			"entry", entryDelController,
			"index", indexText,
			"error", err,
		)
		if c.handle == nil {
			return Controller{}, err
		}
		// The slot was cleared even though the bus complained.
	} else {
		p.logger.Info("spi controller deleted", "device", id, "controller", c.Name())
	}

	p.deliver(rec)
	return c, err
}

// delController clears the slot and queues its event whenever the slot was
// cleared, even if the bus reported an error.
func (p *Plugin) delController(id DeviceID, indexText string) (Controller, *Record, error) {
	rec, err := p.registry.Lookup(id)
	if err != nil {
		return Controller{}, nil, err
	}
	index, err := parseIndex(indexText)
	if err != nil {
		return Controller{}, nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.dead {
		return Controller{}, nil, fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	c, err := rec.slots.Delete(index)
	if c.handle != nil {
		ev := newEvent(EventControllerDeleted, id, rec.slots.Len(), p.now())
		info := c.Info()
		ev.Controller = &info
		rec.queue(ev)
	}
	return c, rec, err
}

// Controller returns the controller at the 1-based index.
func (p *Plugin) Controller(id DeviceID, index int) (Controller, error) {
	if index < 1 || index > MaxControllers {
		return Controller{}, fmt.Errorf("%w: %d not in 1..%d", ErrOutOfRange, index, MaxControllers)
	}
	rec, err := p.live(id)
	if err != nil {
		return Controller{}, err
	}
	defer rec.mu.Unlock()

	c, ok := rec.slots.Get(index - 1)
	if !ok {
		return Controller{}, fmt.Errorf("%w: slot %d is empty", ErrNotFound, index)
	}
	return c, nil
}

// Controllers returns the occupied slots of a device in index order.
func (p *Plugin) Controllers(id DeviceID) ([]Controller, error) {
	rec, err := p.live(id)
	if err != nil {
		return nil, err
	}
	defer rec.mu.Unlock()
	return rec.slots.Occupied(), nil
}

// BAR returns the BAR fields of a device.
func (p *Plugin) BAR(id DeviceID) (BARState, error) {
	rec, err := p.live(id)
	if err != nil {
		return BARState{}, err
	}
	defer rec.mu.Unlock()
	return rec.barState(), nil
}

// Staged returns the staged configuration of a device.
func (p *Plugin) Staged(id DeviceID) (PendingConfig, error) {
	rec, err := p.registry.Lookup(id)
	if err != nil {
		return PendingConfig{}, err
	}
	return rec.staged.snapshot(), nil
}

// Devices returns the attached device identities.
func (p *Plugin) Devices() []DeviceID {
	return p.registry.IDs()
}

// Close detaches every device still attached. The plugin can be reused
// afterwards.
func (p *Plugin) Close() {
	for _, id := range p.registry.IDs() {
		if rec, ok := p.registry.Remove(id); ok {
			p.release(rec, nil)
		}
	}
}

// live looks up a record and returns it locked. The caller unlocks it.
func (p *Plugin) live(id DeviceID) (*Record, error) {
	rec, err := p.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	if rec.dead {
		rec.mu.Unlock()
		return nil, fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	return rec, nil
}

// deliver hands the events queued on rec to the observers in queue order.
// If another goroutine is already delivering for rec, the events are left
// for it, so an observer may call back into the plugin.
func (p *Plugin) deliver(rec *Record) {
	if rec == nil {
		return
	}
	rec.qmu.Lock()
	if rec.delivering {
		rec.qmu.Unlock()
		return
	}
	rec.delivering = true
	for len(rec.pending) > 0 {
		batch := rec.pending
		rec.pending = nil
		rec.qmu.Unlock()
		for _, ev := range batch {
			p.emit(ev)
		}
		rec.qmu.Lock()
	}
	rec.delivering = false
	rec.qmu.Unlock()
}

// emit delivers ev to every observer. A panicking observer is logged and
// does not affect the others.
func (p *Plugin) emit(ev Event) {
	p.obsMu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.obsMu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("spi event observer panicked", "event", ev.Type, "panic", r)
				}
			}()
			o.OnEvent(ev)
		}()
	}
}
