package spi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/vspi-core/internal/ctlfs"
	"github.com/nerrad567/vspi-core/internal/multifpgapci"
)

const testDev = multifpgapci.DeviceID("0000:03:00.0")

// recordingObserver collects events.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnEvent(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) Types() []EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]EventType, len(o.events))
	for i, ev := range o.events {
		out[i] = ev.Type
	}
	return out
}

// fixture bundles a plugin with its bus and namespace root.
type fixture struct {
	plugin *Plugin
	reg    *flakyRegistrar
	root   *ctlfs.Dir
	obs    *recordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := newFlakyRegistrar()
	f := &fixture{
		plugin: NewPlugin(reg),
		reg:    reg,
		root:   ctlfs.NewRoot("multifpgapci"),
		obs:    &recordingObserver{},
	}
	f.plugin.AddObserver(f.obs)
	return f
}

// attach attaches id under a fresh device directory.
func (f *fixture) attach(t *testing.T, id multifpgapci.DeviceID) *ctlfs.Dir {
	t.Helper()
	parent, err := f.root.Mkdir(id.String())
	if err != nil {
		t.Fatalf("Mkdir(%s) error = %v", id, err)
	}
	if err := f.plugin.Attach(&multifpgapci.Device{ID: id}, parent); err != nil {
		t.Fatalf("Attach(%s) error = %v", id, err)
	}
	return parent
}

func (f *fixture) mapBAR(id multifpgapci.DeviceID, start, length uint64) {
	f.plugin.MapBAR(&multifpgapci.Device{ID: id}, multifpgapci.BAR{Start: start, Len: length})
}

// write writes an entry of the device's spi directory.
func (f *fixture) write(t *testing.T, id multifpgapci.DeviceID, entry, value string) error {
	t.Helper()
	_, err := f.root.Write(id.String()+"/spi/"+entry, value)
	return err
}

// stage writes the staged entries needed for a create.
func (f *fixture) stage(t *testing.T, id multifpgapci.DeviceID, offset, stride string) {
	t.Helper()
	for entry, value := range map[string]string{
		entryBaseAddr:       offset,
		entryControllerSize: stride,
		entryNumCS:          "1",
		entryCS:             "0",
		entryDriver:         "xilinx_spi\n",
		entryDevDriver:      "spidev\n",
	} {
		if err := f.write(t, id, entry, value); err != nil {
			t.Fatalf("write %s=%q error = %v", entry, value, err)
		}
	}
}

// ready attaches, maps and stages a device.
func (f *fixture) ready(t *testing.T, id multifpgapci.DeviceID, barStart uint64) {
	t.Helper()
	f.attach(t, id)
	f.mapBAR(id, barStart, 0x10000)
	f.stage(t, id, "0x100", "0x40")
}

func TestAttach_CreatesNamespace(t *testing.T) {
	f := newFixture(t)
	f.attach(t, testDev)

	entries, err := f.root.List(testDev.String() + "/spi")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	modes := make(map[string]string, len(entries))
	for _, e := range entries {
		modes[e.Name] = e.Mode
	}
	for _, name := range StagedEntries() {
		if modes[name] != "rw" {
			t.Errorf("%s mode = %q, want rw", name, modes[name])
		}
	}
	if modes[entryNewController] != "-w" || modes[entryDelController] != "-w" {
		t.Errorf("action entries modes = %q, %q", modes[entryNewController], modes[entryDelController])
	}
	if modes[entryList] != "r-" {
		t.Errorf("%s mode = %q, want r-", entryList, modes[entryList])
	}

	if got := f.plugin.Devices(); len(got) != 1 || got[0] != testDev {
		t.Errorf("Devices() = %v", got)
	}
}

func TestAttach_Twice(t *testing.T) {
	f := newFixture(t)
	parent := f.attach(t, testDev)

	err := f.plugin.Attach(&multifpgapci.Device{ID: testDev}, parent)
	if !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("second Attach() error = %v, want ErrAlreadyAttached", err)
	}
	if _, err := f.root.Dir(testDev.String() + "/spi"); err != nil {
		t.Errorf("original namespace damaged: %v", err)
	}
}

func TestAttach_NamespaceFailureLeavesNothing(t *testing.T) {
	f := newFixture(t)
	parent, _ := f.root.Mkdir(testDev.String())
	// Occupy the name the plugin needs.
	_ = parent.AddGroup([]ctlfs.Attr{{Name: "spi", Mode: ctlfs.ModeRead, Show: func() (string, error) { return "", nil }}})

	err := f.plugin.Attach(&multifpgapci.Device{ID: testDev}, parent)
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("Attach() error = %v, want ErrResourceExhausted", err)
	}
	if len(f.plugin.Devices()) != 0 {
		t.Error("record left in registry after failed attach")
	}
	if _, err := f.plugin.Staged(testDev); !errors.Is(err, ErrNotFound) {
		t.Errorf("Staged() error = %v, want ErrNotFound", err)
	}
	if len(f.obs.Types()) != 0 {
		t.Errorf("events emitted for failed attach: %v", f.obs.Types())
	}

	// A later attach on a clean parent succeeds.
	_ = parent.Remove("spi")
	if err := f.plugin.Attach(&multifpgapci.Device{ID: testDev}, parent); err != nil {
		t.Errorf("retry Attach() error = %v", err)
	}
}

func TestScenario_AddressPlacement(t *testing.T) {
	f := newFixture(t)
	f.ready(t, testDev, 0x1000)

	want := map[string]Range{
		"1": {Start: 0x1140, End: 0x117f},
		"2": {Start: 0x1180, End: 0x11bf},
	}
	for _, idx := range []string{"1", "2"} {
		c, err := f.plugin.NewController(testDev, idx)
		if err != nil {
			t.Fatalf("NewController(%s) error = %v", idx, err)
		}
		if c.Range != want[idx] {
			t.Errorf("NewController(%s) range = %s, want %s", idx, c.Range, want[idx])
		}
	}
}

func TestScenario_UnmapKeepsControllers(t *testing.T) {
	f := newFixture(t)
	f.attach(t, testDev)
	f.mapBAR(testDev, 0x2000, 0x1000)
	f.stage(t, testDev, "0", "0x100")

	created, err := f.plugin.NewController(testDev, "3")
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	f.plugin.UnmapBAR(&multifpgapci.Device{ID: testDev}, multifpgapci.BAR{})

	bar, err := f.plugin.BAR(testDev)
	if err != nil || bar.Mapped {
		t.Errorf("BAR() = %+v, %v; want unmapped", bar, err)
	}
	got, err := f.plugin.Controller(testDev, 3)
	if err != nil {
		t.Fatalf("Controller(3) error = %v", err)
	}
	if got.Range != created.Range || got.Range != (Range{Start: 0x2200, End: 0x22ff}) {
		t.Errorf("Controller(3) range = %s, want %s", got.Range, created.Range)
	}
	if f.reg.bus.Len() != 1 {
		t.Errorf("bus devices = %d, want 1", f.reg.bus.Len())
	}

	// Creates need a mapped BAR; deletes do not.
	if _, err := f.plugin.NewController(testDev, "4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("NewController() while unmapped error = %v, want ErrNotFound", err)
	}
	if _, err := f.plugin.DelController(testDev, "3"); err != nil {
		t.Errorf("DelController() while unmapped error = %v", err)
	}
}

func TestNewController_RoundTripEveryIndex(t *testing.T) {
	f := newFixture(t)
	f.ready(t, testDev, 0x1000)

	for i := 1; i <= MaxControllers; i++ {
		idx := fmt.Sprint(i)
		if err := f.write(t, testDev, entryNewController, idx); err != nil {
			t.Fatalf("create %d error = %v", i, err)
		}
		if err := f.write(t, testDev, entryDelController, idx+"\n"); err != nil {
			t.Fatalf("delete %d error = %v", i, err)
		}
		ctrls, _ := f.plugin.Controllers(testDev)
		if len(ctrls) != 0 || f.reg.bus.Len() != 0 {
			t.Fatalf("index %d: controllers=%d bus=%d after round trip", i, len(ctrls), f.reg.bus.Len())
		}
		if _, err := f.plugin.DelController(testDev, idx); !errors.Is(err, ErrNotFound) {
			t.Errorf("index %d: delete of empty slot error = %v, want ErrNotFound", i, err)
		}
	}
}

func TestNewController_DoubleCreate(t *testing.T) {
	f := newFixture(t)
	f.ready(t, testDev, 0x1000)

	first, err := f.plugin.NewController(testDev, "5")
	if err != nil {
		t.Fatal(err)
	}
	_ = f.write(t, testDev, entryCS, "3")
	if _, err := f.plugin.NewController(testDev, "5"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second NewController() error = %v, want ErrAlreadyExists", err)
	}

	got, _ := f.plugin.Controller(testDev, 5)
	if got.Name() != first.Name() || got.ChipSelect != first.ChipSelect || got.Range != first.Range {
		t.Errorf("original controller changed: %+v, was %+v", got, first)
	}
	if f.reg.registered != 1 {
		t.Errorf("registrations = %d, want 1", f.reg.registered)
	}
}

func TestController_BadIndexText(t *testing.T) {
	tests := []struct {
		text    string
		wantErr error
		errno   unix.Errno
	}{
		{"0", ErrOutOfRange, unix.ERANGE},
		{"9", ErrOutOfRange, unix.ERANGE},
		{"-1", ErrOutOfRange, unix.ERANGE},
		{"abc", ErrInvalidArgument, unix.EINVAL},
		{"", ErrInvalidArgument, unix.EINVAL},
	}

	f := newFixture(t)
	f.ready(t, testDev, 0x1000)
	if _, err := f.plugin.NewController(testDev, "2"); err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			for _, entry := range []string{entryNewController, entryDelController} {
				err := f.write(t, testDev, entry, tt.text)
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("%s %q error = %v, want %v", entry, tt.text, err, tt.wantErr)
				}
				if got := Errno(err); got != tt.errno {
					t.Errorf("%s %q errno = %v, want %v", entry, tt.text, got, tt.errno)
				}
			}
			ctrls, _ := f.plugin.Controllers(testDev)
			if len(ctrls) != 1 || ctrls[0].Index != 1 {
				t.Errorf("slot state changed: %+v", ctrls)
			}
		})
	}
}

func TestNewController_StagedValuesChecked(t *testing.T) {
	f := newFixture(t)
	f.attach(t, testDev)
	f.mapBAR(testDev, 0x1000, 0x1000)

	// Nothing staged: no driver.
	if _, err := f.plugin.NewController(testDev, "1"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NewController() without driver error = %v, want ErrInvalidArgument", err)
	}
	// Driver but zero stride.
	_ = f.write(t, testDev, entryDriver, "xilinx_spi")
	if _, err := f.plugin.NewController(testDev, "1"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NewController() with zero stride error = %v, want ErrInvalidArgument", err)
	}
	if f.reg.bus.Len() != 0 {
		t.Error("controller registered despite invalid staging")
	}
}

func TestNewController_WindowOutsideBARStillCreated(t *testing.T) {
	f := newFixture(t)
	f.attach(t, testDev)
	f.mapBAR(testDev, 0x1000, 0x100)
	f.stage(t, testDev, "0xf0", "0x40")

	c, err := f.plugin.NewController(testDev, "8")
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if c.Range.Start != 0x1000+0xf0+7*0x40 {
		t.Errorf("range = %s", c.Range)
	}
}

func TestNewController_RegistrationFailed(t *testing.T) {
	f := newFixture(t)
	// Two devices whose BARs and staging place controller 1 at the same window.
	f.ready(t, "0000:03:00.0", 0x1000)
	f.ready(t, "0000:04:00.0", 0x1000)

	if _, err := f.plugin.NewController("0000:03:00.0", "1"); err != nil {
		t.Fatal(err)
	}
	_ = f.write(t, "0000:04:00.0", entryDriver, "other_spi")
	_, err := f.plugin.NewController("0000:04:00.0", "1")
	if !errors.Is(err, ErrRegistrationFailed) {
		t.Fatalf("NewController() error = %v, want ErrRegistrationFailed", err)
	}
	if Errno(err) != unix.EIO {
		t.Errorf("Errno() = %v, want EIO", Errno(err))
	}
	if _, err := f.plugin.Controller("0000:04:00.0", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("slot occupied after failed registration: %v", err)
	}
	// The failure is local to that slot.
	if _, err := f.plugin.NewController("0000:04:00.0", "2"); err != nil {
		t.Errorf("NewController(2) after a failed slot error = %v", err)
	}
}

func TestUnknownDevice(t *testing.T) {
	f := newFixture(t)
	dev := &multifpgapci.Device{ID: "0000:09:00.0"}

	f.plugin.MapBAR(dev, multifpgapci.BAR{Start: 0x1000, Len: 0x100})
	f.plugin.UnmapBAR(dev, multifpgapci.BAR{})
	f.plugin.Detach(dev, nil)

	if _, err := f.plugin.NewController(dev.ID, "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("NewController() error = %v, want ErrNotFound", err)
	}
	if _, err := f.plugin.DelController(dev.ID, "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DelController() error = %v, want ErrNotFound", err)
	}
	if Errno(ErrNotFound) != unix.ENODEV {
		t.Errorf("Errno(ErrNotFound) = %v, want ENODEV", Errno(ErrNotFound))
	}
	if len(f.plugin.Devices()) != 0 || len(f.obs.Types()) != 0 {
		t.Error("callbacks on an unknown device changed state")
	}
}

func TestDetach_ReleasesEverySlot(t *testing.T) {
	for n := 0; n <= MaxControllers; n++ {
		t.Run(fmt.Sprintf("%d slots", n), func(t *testing.T) {
			f := newFixture(t)
			parent := f.attach(t, testDev)
			f.mapBAR(testDev, 0x1000, 0x10000)
			f.stage(t, testDev, "0x100", "0x40")
			for i := 1; i <= n; i++ {
				if _, err := f.plugin.NewController(testDev, fmt.Sprint(i)); err != nil {
					t.Fatal(err)
				}
			}

			f.plugin.Detach(&multifpgapci.Device{ID: testDev}, parent)

			if f.reg.unregistered != n || f.reg.bus.Len() != 0 {
				t.Errorf("unregistered=%d bus=%d, want %d and 0", f.reg.unregistered, f.reg.bus.Len(), n)
			}
			if _, err := f.plugin.registry.Lookup(testDev); !errors.Is(err, ErrNotFound) {
				t.Errorf("Lookup() after detach error = %v, want ErrNotFound", err)
			}
			if _, err := parent.Dir("spi"); !errors.Is(err, ctlfs.ErrNotExist) {
				t.Errorf("namespace left behind: %v", err)
			}

			// Detach again is harmless.
			f.plugin.Detach(&multifpgapci.Device{ID: testDev}, parent)
		})
	}
}

func TestDetach_StaleEntryReportsNotFound(t *testing.T) {
	f := newFixture(t)
	f.ready(t, testDev, 0x1000)
	ns, err := f.root.Dir(testDev.String() + "/spi")
	if err != nil {
		t.Fatal(err)
	}

	// Capture the store callback before detach removes the directory.
	var create func(string) error
	for _, a := range f.plugin.attrs(testDev) {
		if a.Name == entryNewController {
			create = a.Store
		}
	}
	f.plugin.Detach(&multifpgapci.Device{ID: testDev}, ns.Parent())

	if err := create("1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale create error = %v, want ErrNotFound", err)
	}
	if f.reg.bus.Len() != 0 {
		t.Error("stale create registered a controller")
	}
}

func TestConcurrentCreateSameIndex(t *testing.T) {
	f := newFixture(t)
	f.ready(t, testDev, 0x1000)

	const workers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		exists  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.write(t, testDev, entryNewController, "4")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrAlreadyExists):
				exists++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 || exists != workers-1 {
		t.Errorf("success=%d exists=%d, want 1 and %d", success, exists, workers-1)
	}
	if f.reg.bus.Len() != 1 || f.reg.registered != 1 {
		t.Errorf("bus=%d registered=%d, want 1 and 1", f.reg.bus.Len(), f.reg.registered)
	}
}

func TestConcurrentCreateAndDetach(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		parent := f.attach(t, testDev)
		f.mapBAR(testDev, 0x1000, 0x10000)
		f.stage(t, testDev, "0x100", "0x40")

		var wg sync.WaitGroup
		for i := 1; i <= MaxControllers; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				_, err := f.plugin.NewController(testDev, fmt.Sprint(idx))
				if err != nil && !errors.Is(err, ErrNotFound) {
					t.Errorf("NewController(%d) error = %v", idx, err)
				}
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.plugin.Detach(&multifpgapci.Device{ID: testDev}, parent)
		}()
		wg.Wait()

		if f.reg.bus.Len() != 0 {
			t.Fatalf("round %d: %d controllers outlived detach", round, f.reg.bus.Len())
		}
	}
}

func TestConcurrentMapAndCreate(t *testing.T) {
	f := newFixture(t)
	f.ready(t, testDev, 0x1000)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			f.mapBAR(testDev, 0x100000, 0x10000)
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = f.plugin.NewController(testDev, "1")
	}()
	wg.Wait()

	c, err := f.plugin.Controller(testDev, 1)
	if err != nil {
		t.Fatal(err)
	}
	if c.Range.Start != 0x1140 && c.Range.Start != 0x100140 {
		t.Errorf("controller placed from a torn BAR: %s", c.Range)
	}
}

func TestStagedEntriesReadable(t *testing.T) {
	f := newFixture(t)
	f.attach(t, testDev)
	f.stage(t, testDev, "256", "0x40")
	_ = f.write(t, testDev, entryControllers, "4")

	want := map[string]string{
		entryControllers:    "4\n",
		entryControllerSize: "0x40\n",
		entryBaseAddr:       "0x100\n",
		entryNumCS:          "1\n",
		entryCS:             "0\n",
		entryDriver:         "xilinx_spi\n",
		entryDevDriver:      "spidev\n",
	}
	for entry, w := range want {
		got, err := f.root.Read(testDev.String() + "/spi/" + entry)
		if err != nil {
			t.Errorf("Read(%s) error = %v", entry, err)
			continue
		}
		if got != w {
			t.Errorf("Read(%s) = %q, want %q", entry, got, w)
		}
	}

	staged, _ := f.plugin.Staged(testDev)
	if staged.BaseAddr != 0x100 || staged.Controllers != 4 {
		t.Errorf("Staged() = %+v", staged)
	}
}

func TestStaging_InvalidValuesRejected(t *testing.T) {
	f := newFixture(t)
	f.attach(t, testDev)

	if err := f.write(t, testDev, entryControllerSize, "big"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("write size error = %v, want ErrInvalidArgument", err)
	}
	if err := f.write(t, testDev, entryDriver, strings.Repeat("d", NameSize)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("write driver error = %v, want ErrInvalidArgument", err)
	}
	staged, _ := f.plugin.Staged(testDev)
	if staged != (PendingConfig{}) {
		t.Errorf("rejected writes changed staging: %+v", staged)
	}
}

func TestSetDefaults(t *testing.T) {
	f := newFixture(t)
	f.plugin.SetDefaults(map[DeviceID]PendingConfig{
		testDev: {ControllerSize: 0x40, BaseAddr: 0x100, Driver: "xilinx_spi", DevDriver: "spidev", NumChipSelect: 1},
	})
	f.attach(t, testDev)
	f.mapBAR(testDev, 0x1000, 0x10000)

	c, err := f.plugin.NewController(testDev, "1")
	if err != nil {
		t.Fatalf("NewController() with defaults error = %v", err)
	}
	if c.Range != (Range{Start: 0x1140, End: 0x117f}) {
		t.Errorf("range = %s", c.Range)
	}
}

func TestListing(t *testing.T) {
	f := newFixture(t)
	f.ready(t, testDev, 0x1000)
	_, _ = f.plugin.NewController(testDev, "2")
	_, _ = f.plugin.NewController(testDev, "1")

	got, err := f.root.Read(testDev.String() + "/spi/" + entryList)
	if err != nil {
		t.Fatal(err)
	}
	want := "1 xilinx_spi.1 0x1140-0x117f cs=0 num_cs=1 modalias=spidev\n" +
		"2 xilinx_spi.2 0x1180-0x11bf cs=0 num_cs=1 modalias=spidev\n"
	if got != want {
		t.Errorf("listing = %q, want %q", got, want)
	}
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	parent := f.attach(t, testDev)
	f.mapBAR(testDev, 0x1000, 0x10000)
	f.stage(t, testDev, "0x100", "0x40")
	_, _ = f.plugin.NewController(testDev, "1")
	_, _ = f.plugin.NewController(testDev, "1") // fails, no event
	_, _ = f.plugin.DelController(testDev, "1")
	_, _ = f.plugin.NewController(testDev, "2")
	f.plugin.UnmapBAR(&multifpgapci.Device{ID: testDev}, multifpgapci.BAR{})
	f.plugin.Detach(&multifpgapci.Device{ID: testDev}, parent)

	want := []EventType{
		EventDeviceAttached,
		EventBARMapped,
		EventControllerCreated,
		EventControllerDeleted,
		EventControllerCreated,
		EventBARUnmapped,
		EventControllerDeleted,
		EventDeviceDetached,
	}
	got := f.obs.Types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	f.obs.mu.Lock()
	created := f.obs.events[2]
	f.obs.mu.Unlock()
	if created.Controller == nil || created.Controller.Index != 1 || created.Occupied != 1 || created.ID == "" {
		t.Errorf("created event = %+v", created)
	}
	if created.Seq != 3 {
		t.Errorf("created event Seq = %d, want 3", created.Seq)
	}
}

// gateLogger parks the first Info call carrying msg until release is closed.
type gateLogger struct {
	noopLogger
	msg     string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGateLogger(msg string) *gateLogger {
	return &gateLogger{msg: msg, entered: make(chan struct{}), release: make(chan struct{})}
}

func (l *gateLogger) Info(msg string, _ ...any) {
	if msg != l.msg {
		return
	}
	l.once.Do(func() {
		close(l.entered)
		<-l.release
	})
}

func assertEventTypes(t *testing.T, got, want []EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestEvents_DeliveredInChangeOrder(t *testing.T) {
	f := newFixture(t)
	f.ready(t, testDev, 0x1000)
	gate := newGateLogger("spi controller created")
	f.plugin.SetLogger(gate)

	done := make(chan error, 1)
	go func() {
		_, err := f.plugin.NewController(testDev, "1")
		done <- err
	}()
	<-gate.entered

	// The slot is occupied but the create has not returned yet.
	if _, err := f.plugin.DelController(testDev, "1"); err != nil {
		t.Fatalf("DelController() error = %v", err)
	}
	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("NewController() error = %v", err)
	}

	assertEventTypes(t, f.obs.Types(), []EventType{
		EventDeviceAttached,
		EventBARMapped,
		EventControllerCreated,
		EventControllerDeleted,
	})

	f.obs.mu.Lock()
	events := append([]Event(nil), f.obs.events...)
	f.obs.mu.Unlock()
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Errorf("events[%d].Seq = %d, want %d", i, ev.Seq, i+1)
		}
	}
	if last := events[len(events)-1]; last.Occupied != 0 {
		t.Errorf("last event Occupied = %d, want 0", last.Occupied)
	}
	if cs, _ := f.plugin.Controllers(testDev); len(cs) != 0 {
		t.Errorf("controllers = %v, want none", cs)
	}
}

func TestEvents_ObserverMayCallBack(t *testing.T) {
	f := newFixture(t)
	f.ready(t, testDev, 0x1000)
	f.plugin.AddObserver(ObserverFunc(func(ev Event) {
		if ev.Type == EventControllerCreated {
			_, _ = f.plugin.DelController(testDev, "1")
		}
	}))

	if _, err := f.plugin.NewController(testDev, "1"); err != nil {
		t.Fatalf("NewController() error = %v", err)
	}

	assertEventTypes(t, f.obs.Types(), []EventType{
		EventDeviceAttached,
		EventBARMapped,
		EventControllerCreated,
		EventControllerDeleted,
	})
}

func TestBARCallbacks_NilDevice(t *testing.T) {
	f := newFixture(t)
	f.attach(t, testDev)

	f.plugin.MapBAR(nil, multifpgapci.BAR{Start: 0x1000, Len: 0x100})
	f.plugin.UnmapBAR(nil, multifpgapci.BAR{})

	assertEventTypes(t, f.obs.Types(), []EventType{EventDeviceAttached})
	if bar, err := f.plugin.BAR(testDev); err != nil || bar.Mapped {
		t.Errorf("BAR() = %+v, %v, want unmapped", bar, err)
	}
}

func TestObserverPanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.plugin.AddObserver(ObserverFunc(func(Event) { panic("boom") }))
	late := &recordingObserver{}
	f.plugin.AddObserver(late)

	f.attach(t, testDev)
	if len(late.Types()) != 1 {
		t.Errorf("observer after a panicking one got %v", late.Types())
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "0000:03:00.0", 0x1000)
	f.ready(t, "0000:04:00.0", 0x8000)
	_, _ = f.plugin.NewController("0000:03:00.0", "1")
	_, _ = f.plugin.NewController("0000:04:00.0", "1")

	f.plugin.Close()

	if len(f.plugin.Devices()) != 0 || f.reg.bus.Len() != 0 {
		t.Errorf("Close() left devices=%d bus=%d", len(f.plugin.Devices()), f.reg.bus.Len())
	}
	if _, err := f.root.Dir("0000:03:00.0/spi"); !errors.Is(err, ctlfs.ErrNotExist) {
		t.Errorf("namespace left behind: %v", err)
	}
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want unix.Errno
	}{
		{nil, 0},
		{fmt.Errorf("wrap: %w", ErrNotFound), unix.ENODEV},
		{ErrAlreadyExists, unix.EEXIST},
		{ErrAlreadyAttached, unix.EEXIST},
		{ErrOutOfRange, unix.ERANGE},
		{ErrInvalidArgument, unix.EINVAL},
		{ErrResourceExhausted, unix.ENOMEM},
		{ErrRegistrationFailed, unix.EIO},
		{ctlfs.ErrNotExist, unix.ENOENT},
		{ctlfs.ErrPermission, unix.EACCES},
		{ctlfs.ErrIsDir, unix.EISDIR},
		{errors.New("other"), unix.EIO},
	}
	for _, tt := range tests {
		if got := Errno(tt.err); got != tt.want {
			t.Errorf("Errno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
