package platform

import (
	"errors"
	"sync"
	"testing"
)

func memSpec(name string, id int, start, end uint64) Spec {
	return Spec{
		Name:      name,
		ID:        id,
		Resources: []Resource{{Start: start, End: end, Flags: ResourceMem}},
		Parent:    "0000:03:00.0",
	}
}

func TestRegister(t *testing.T) {
	bus := NewBus()

	dev, err := bus.Register(memSpec("xilinx_spi", 1, 0x1140, 0x117f))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if got := dev.String(); got != "xilinx_spi.1" {
		t.Errorf("String() = %q, want %q", got, "xilinx_spi.1")
	}
	if dev.Parent() != "0000:03:00.0" {
		t.Errorf("Parent() = %q", dev.Parent())
	}
	if got := dev.Resources()[0].Size(); got != 0x40 {
		t.Errorf("Size() = %#x, want 0x40", got)
	}
	if bus.Len() != 1 {
		t.Errorf("Len() = %d, want 1", bus.Len())
	}
	if found, ok := bus.Lookup("xilinx_spi", 1); !ok || found != dev {
		t.Error("Lookup() did not return the registered device")
	}
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr error
	}{
		{"empty name", memSpec("", 1, 0, 1), ErrInvalid},
		{"inverted resource", memSpec("spi", 2, 0x10, 0x0f), ErrInvalid},
		{"duplicate name.id", memSpec("spi", 1, 0x9000, 0x90ff), ErrExist},
		{"overlap start", memSpec("other", 1, 0x10ff, 0x1100), ErrBusy},
		{"overlap inside", memSpec("other", 2, 0x1010, 0x1020), ErrBusy},
	}

	bus := NewBus()
	if _, err := bus.Register(memSpec("spi", 1, 0x1000, 0x10ff)); err != nil {
		t.Fatalf("seed Register() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := bus.Register(tt.spec); !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if bus.Len() != 1 {
		t.Errorf("failed registrations changed the bus: Len() = %d", bus.Len())
	}
}

func TestRegister_AdjacentRangesAllowed(t *testing.T) {
	bus := NewBus()
	if _, err := bus.Register(memSpec("spi", 1, 0x1140, 0x117f)); err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Register(memSpec("spi", 2, 0x1180, 0x11bf)); err != nil {
		t.Errorf("adjacent Register() error = %v", err)
	}
}

func TestRegister_IRQDoesNotConflict(t *testing.T) {
	bus := NewBus()
	irq := Spec{Name: "a", ID: 1, Resources: []Resource{{Start: 5, End: 5, Flags: ResourceIRQ}}}
	if _, err := bus.Register(irq); err != nil {
		t.Fatal(err)
	}
	irq.Name = "b"
	if _, err := bus.Register(irq); err != nil {
		t.Errorf("shared IRQ Register() error = %v", err)
	}
}

func TestUnregister(t *testing.T) {
	bus := NewBus()
	dev, _ := bus.Register(memSpec("spi", 1, 0x1000, 0x10ff))

	if err := bus.Unregister(dev); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if err := bus.Unregister(dev); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("second Unregister() error = %v, want ErrNotRegistered", err)
	}
	if err := bus.Unregister(nil); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Unregister(nil) error = %v, want ErrNotRegistered", err)
	}

	// Range is free again.
	if _, err := bus.Register(memSpec("spi", 1, 0x1000, 0x10ff)); err != nil {
		t.Errorf("re-Register() error = %v", err)
	}
}

func TestUnregister_StaleHandle(t *testing.T) {
	bus := NewBus()
	old, _ := bus.Register(memSpec("spi", 1, 0x1000, 0x10ff))
	_ = bus.Unregister(old)
	fresh, _ := bus.Register(memSpec("spi", 1, 0x1000, 0x10ff))

	if err := bus.Unregister(old); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("stale Unregister() error = %v, want ErrNotRegistered", err)
	}
	if found, ok := bus.Lookup("spi", 1); !ok || found != fresh {
		t.Error("stale Unregister() removed the live device")
	}
}

func TestList_Sorted(t *testing.T) {
	bus := NewBus()
	_, _ = bus.Register(memSpec("spi", 3, 0x300, 0x3ff))
	_, _ = bus.Register(memSpec("spi", 1, 0x100, 0x1ff))
	_, _ = bus.Register(memSpec("spi", 2, 0x200, 0x2ff))

	got := bus.List()
	want := []string{"spi.1", "spi.2", "spi.3"}
	for i, dev := range got {
		if dev.String() != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, dev, want[i])
		}
	}
}

func TestRegister_ConcurrentSameRange(t *testing.T) {
	bus := NewBus()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, err := bus.Register(memSpec("spi", id, 0x1000, 0x10ff)); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("successful registrations = %d, want 1", success)
	}
}
