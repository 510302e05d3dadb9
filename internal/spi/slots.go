package spi

import (
	"errors"
	"fmt"

	"github.com/nerrad567/vspi-core/internal/platform"
)

// BitsPerWord is the word size every virtual controller is created with.
const BitsPerWord = 8

// Registrar registers bus-controller objects. *platform.Bus implements it.
type Registrar interface {
	Register(spec platform.Spec) (*platform.Device, error)
	Unregister(dev *platform.Device) error
}

// BoardInfo describes the device attached to a controller.
type BoardInfo struct {
	ChipSelect uint32 `json:"chip_select"`
	Modalias   string `json:"modalias"`
}

// ControllerData is the platform data handed to the bus-controller driver.
type ControllerData struct {
	BitsPerWord   uint8       `json:"bits_per_word"`
	NumChipSelect uint32      `json:"num_chipselect"`
	Devices       []BoardInfo `json:"devices"`
}

// Controller is an occupied slot.
type Controller struct {
	// Index is the 0-based slot index.
	Index         int
	Range         Range
	ChipSelect    uint32
	Driver        string
	Modalias      string
	NumChipSelect uint32

	handle *platform.Device
}

// Name returns the bus name of the registered object, e.g. "xilinx_spi.1".
func (c Controller) Name() string {
	if c.handle == nil {
		return ""
	}
	return c.handle.String()
}

// Info returns the externally visible description of c.
func (c Controller) Info() ControllerInfo {
	return ControllerInfo{
		Index:         c.Index + 1,
		Name:          c.Name(),
		Start:         c.Range.Start,
		End:           c.Range.End,
		ChipSelect:    c.ChipSelect,
		NumChipSelect: c.NumChipSelect,
		Driver:        c.Driver,
		Modalias:      c.Modalias,
	}
}

// ControllerInfo is the JSON form of a Controller with a 1-based index.
type ControllerInfo struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	Start         uint64 `json:"start"`
	End           uint64 `json:"end"`
	ChipSelect    uint32 `json:"chip_select"`
	NumChipSelect uint32 `json:"num_chipselect"`
	Driver        string `json:"driver"`
	Modalias      string `json:"modalias"`
}

// SlotTable holds the fixed set of controller slots of one device.
//
// SlotTable does no locking; the owning Record serializes access.
type SlotTable struct {
	parent string
	reg    Registrar
	slots  [MaxControllers]*Controller
}

// NewSlotTable creates an empty table whose controllers are registered on
// reg as children of parent.
func NewSlotTable(parent string, reg Registrar) *SlotTable {
	return &SlotTable{parent: parent, reg: reg}
}

// Create registers a controller at the 0-based index and occupies the slot.
// Registration is the last step: on error the slot stays empty and nothing
// is left on the bus.
//
// Parameters:
//   - index: 0-based slot index
//   - r: absolute register window
//   - cs: chip-select of the attached device
//   - busDriver: driver the controller object binds to
//   - devDriver: modalias of the attached device
//   - numCS: chip-select count of the bus
//
// Returns:
//   - Controller: copy of the occupied slot
//   - error: ErrOutOfRange, ErrAlreadyExists or ErrRegistrationFailed
func (t *SlotTable) Create(index int, r Range, cs uint32, busDriver, devDriver string, numCS uint32) (Controller, error) {
	if index < 0 || index >= MaxControllers {
		return Controller{}, fmt.Errorf("%w: slot %d", ErrOutOfRange, index)
	}
	if t.slots[index] != nil {
		return Controller{}, fmt.Errorf("%w: slot %d is %s", ErrAlreadyExists, index+1, t.slots[index].Name())
	}

	spec := platform.Spec{
		Name:      busDriver,
		ID:        index + 1,
		Resources: []platform.Resource{{Start: r.Start, End: r.End, Flags: platform.ResourceMem}},
		Parent:    t.parent,
		Data: ControllerData{
			BitsPerWord:   BitsPerWord,
			NumChipSelect: numCS,
			Devices:       []BoardInfo{{ChipSelect: cs, Modalias: devDriver}},
		},
	}
	handle, err := t.reg.Register(spec)
	if err != nil {
		return Controller{}, fmt.Errorf("%w: %s.%d at %s: %w", ErrRegistrationFailed, busDriver, index+1, r, err)
	}

	c := &Controller{
		Index:         index,
		Range:         r,
		ChipSelect:    cs,
		Driver:        busDriver,
		Modalias:      devDriver,
		NumChipSelect: numCS,
		handle:        handle,
	}
	t.slots[index] = c
	return *c, nil
}

// Delete unregisters the controller at the 0-based index and clears the slot.
// The slot is cleared even if the bus reports an error.
func (t *SlotTable) Delete(index int) (Controller, error) {
	if index < 0 || index >= MaxControllers {
		return Controller{}, fmt.Errorf("%w: slot %d", ErrOutOfRange, index)
	}
	c := t.slots[index]
	if c == nil {
		return Controller{}, fmt.Errorf("%w: slot %d is empty", ErrNotFound, index+1)
	}
	t.slots[index] = nil

	if err := t.reg.Unregister(c.handle); err != nil {
		return *c, fmt.Errorf("unregistering %s: %w", c.Name(), err)
	}
	return *c, nil
}

// ClearAll unregisters every occupied slot. It visits all slots even when
// some unregistrations fail and returns the released controllers together
// with the joined failures. Calling it on an empty table does nothing.
func (t *SlotTable) ClearAll() ([]Controller, error) {
	var (
		released []Controller
		errs     []error
	)
	for i := range t.slots {
		if t.slots[i] == nil {
			continue
		}
		c, err := t.Delete(i)
		released = append(released, c)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return released, errors.Join(errs...)
}

// Get returns the controller at the 0-based index.
func (t *SlotTable) Get(index int) (Controller, bool) {
	if index < 0 || index >= MaxControllers || t.slots[index] == nil {
		return Controller{}, false
	}
	return *t.slots[index], true
}

// Occupied returns copies of the occupied slots in index order.
func (t *SlotTable) Occupied() []Controller {
	out := make([]Controller, 0, MaxControllers)
	for _, c := range t.slots {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// Len returns the number of occupied slots.
func (t *SlotTable) Len() int {
	n := 0
	for _, c := range t.slots {
		if c != nil {
			n++
		}
	}
	return n
}
