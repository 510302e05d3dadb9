package multifpgapci

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/vspi-core/internal/ctlfs"
	"github.com/nerrad567/vspi-core/internal/mmio"
)

// Logger defines the logging interface used by the Framework.
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

// ProtocolOps is the callback contract a protocol plugin implements.
type ProtocolOps interface {
	// Name identifies the protocol, e.g. "spi".
	Name() string
	// Attach is called once per device before any BAR is mapped. parent is
	// the device's control-plane directory. A non-nil error aborts AddDevice.
	Attach(dev *Device, parent *ctlfs.Dir) error
	// Detach is called once per attached device. It must tolerate state
	// that is already gone.
	Detach(dev *Device, parent *ctlfs.Dir)
	// MapBAR reports a newly mapped BAR window.
	MapBAR(dev *Device, bar BAR)
	// UnmapBAR reports that the window is about to be released.
	UnmapBAR(dev *Device, bar BAR)
}

// MapFunc maps BAR 0 of a device.
type MapFunc func(dev *Device) (mmio.Region, error)

// MapResource is the default MapFunc: it mmaps dev.ResourcePath when set and
// otherwise allocates an in-memory window of dev.BARLen bytes.
func MapResource(dev *Device) (mmio.Region, error) {
	if dev.ResourcePath != "" {
		return mmio.OpenResource(dev.ResourcePath, dev.BARLen)
	}
	return mmio.NewMemory(dev.BARLen)
}

// deviceState is the framework's view of one present device.
type deviceState struct {
	dev      *Device
	dir      *ctlfs.Dir
	bar      BAR
	attached []ProtocolOps
}

// Framework tracks present devices and registered protocols.
type Framework struct {
	root   *ctlfs.Dir
	mapper MapFunc
	logger Logger

	mu        sync.Mutex
	protocols []ProtocolOps
	devices   map[DeviceID]*deviceState
}

// New creates a Framework whose device directories live under root.
func New(root *ctlfs.Dir) *Framework {
	return &Framework{
		root:    root,
		mapper:  MapResource,
		logger:  noopLogger{},
		devices: make(map[DeviceID]*deviceState),
	}
}

// SetLogger sets the logger for the framework.
func (f *Framework) SetLogger(logger Logger) {
	f.logger = logger
}

// SetMapper replaces the BAR mapping function. Call before adding devices.
func (f *Framework) SetMapper(fn MapFunc) {
	f.mapper = fn
}

// Root returns the control-plane root directory.
func (f *Framework) Root() *ctlfs.Dir {
	return f.root
}

// RegisterProtocol adds a protocol and attaches it to every present device.
// Devices the protocol rejects are logged and left without it.
func (f *Framework) RegisterProtocol(ops ProtocolOps) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.protocols {
		if p.Name() == ops.Name() {
			return fmt.Errorf("%w: %s", ErrProtocolExists, ops.Name())
		}
	}
	f.protocols = append(f.protocols, ops)

	for _, st := range f.sortedDevices() {
		if err := ops.Attach(st.dev, st.dir); err != nil {
			f.logger.Error("protocol attach failed",
				"protocol", ops.Name(),
				"device", st.dev.ID,
				"error", err,
			)
			continue
		}
		st.attached = append(st.attached, ops)
		if st.bar.Mapping != nil {
			ops.MapBAR(st.dev, st.bar)
		}
	}

	f.logger.Info("protocol registered", "protocol", ops.Name())
	return nil
}

// UnregisterProtocol detaches a protocol from every device and removes it.
func (f *Framework) UnregisterProtocol(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := -1
	for i, p := range f.protocols {
		if p.Name() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrProtocolNotFound, name)
	}
	ops := f.protocols[idx]
	f.protocols = append(f.protocols[:idx], f.protocols[idx+1:]...)

	for _, st := range f.sortedDevices() {
		for i, p := range st.attached {
			if p.Name() != name {
				continue
			}
			if st.bar.Mapping != nil {
				ops.UnmapBAR(st.dev, st.bar)
			}
			ops.Detach(st.dev, st.dir)
			st.attached = append(st.attached[:i], st.attached[i+1:]...)
			break
		}
	}

	f.logger.Info("protocol unregistered", "protocol", name)
	return nil
}

// AddDevice makes a device present: it creates the device directory,
// attaches every protocol and maps BAR 0. Attach is all-or-nothing: if any
// protocol or the mapping fails, everything done so far is undone.
func (f *Framework) AddDevice(dev *Device) error {
	if dev == nil || dev.ID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.devices[dev.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, dev.ID)
	}

	dir, err := f.root.Mkdir(dev.ID.String())
	if err != nil {
		return fmt.Errorf("creating directory for %s: %w", dev.ID, err)
	}
	st := &deviceState{dev: dev, dir: dir}

	for _, ops := range f.protocols {
		if err := ops.Attach(dev, dir); err != nil {
			f.rollback(st)
			return fmt.Errorf("%w: %s on %s: %w", ErrAttachFailed, ops.Name(), dev.ID, err)
		}
		st.attached = append(st.attached, ops)
	}

	if dev.BARLen > 0 {
		region, err := f.mapper(dev)
		if err != nil {
			f.rollback(st)
			return fmt.Errorf("%w: %s: %w", ErrMapFailed, dev.ID, err)
		}
		st.bar = BAR{Mapping: region, Start: dev.BARStart, Len: region.Len()}
		for _, ops := range st.attached {
			ops.MapBAR(dev, st.bar)
		}
	}

	f.devices[dev.ID] = st
	f.logger.Info("device added",
		"device", dev.ID,
		"bar", st.bar.String(),
		"protocols", len(st.attached),
	)
	return nil
}

// rollback undoes a partial AddDevice. Caller holds f.mu.
func (f *Framework) rollback(st *deviceState) {
	for i := len(st.attached) - 1; i >= 0; i-- {
		st.attached[i].Detach(st.dev, st.dir)
	}
	st.attached = nil
	if err := f.root.Remove(st.dev.ID.String()); err != nil {
		f.logger.Warn("removing device directory", "device", st.dev.ID, "error", err)
	}
}

// RemoveDevice unmaps, detaches and forgets a device.
func (f *Framework) RemoveDevice(id DeviceID) error {
	f.mu.Lock()
	st, ok := f.devices[id]
	if ok {
		delete(f.devices, id)
	}
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return f.teardown(st)
}

// teardown runs the removal steps for a device already taken out of the map.
// Every step runs even if an earlier one fails.
func (f *Framework) teardown(st *deviceState) error {
	var errs []error

	if st.bar.Mapping != nil {
		for _, ops := range st.attached {
			ops.UnmapBAR(st.dev, st.bar)
		}
	}
	for i := len(st.attached) - 1; i >= 0; i-- {
		st.attached[i].Detach(st.dev, st.dir)
	}
	if st.bar.Mapping != nil {
		if err := st.bar.Mapping.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := f.root.Remove(st.dev.ID.String()); err != nil && !errors.Is(err, ctlfs.ErrNotExist) {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		f.logger.Error("device removal incomplete", "device", st.dev.ID, "error", err)
		return fmt.Errorf("removing %s: %w", st.dev.ID, err)
	}
	f.logger.Info("device removed", "device", st.dev.ID)
	return nil
}

// Devices returns the present devices ordered by address.
func (f *Framework) Devices() []Device {
	f.mu.Lock()
	defer f.mu.Unlock()

	states := f.sortedDevices()
	out := make([]Device, 0, len(states))
	for _, st := range states {
		out = append(out, *st.dev)
	}
	return out
}

// Device returns one present device.
func (f *Framework) Device(id DeviceID) (Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.devices[id]
	if !ok {
		return Device{}, false
	}
	return *st.dev, true
}

// Shutdown removes every device concurrently and waits for completion or
// for ctx to end.
func (f *Framework) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	states := f.sortedDevices()
	f.devices = make(map[DeviceID]*deviceState)
	f.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, st := range states {
		st := st
		g.Go(func() error {
			return f.teardown(st)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		f.logger.Info("framework shut down", "devices", len(states))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// sortedDevices returns device states ordered by ID. Caller holds f.mu.
func (f *Framework) sortedDevices() []*deviceState {
	out := make([]*deviceState, 0, len(f.devices))
	for _, st := range f.devices {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].dev.ID < out[j].dev.ID })
	return out
}
