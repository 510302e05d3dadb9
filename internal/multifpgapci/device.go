package multifpgapci

import (
	"fmt"
	"strings"

	"github.com/nerrad567/vspi-core/internal/mmio"
)

// DeviceID is a canonical PCI address "dddd:bb:ss.f".
type DeviceID string

// ParseDeviceID parses a PCI address. The domain may be omitted ("03:00.0").
// The result is lower-case with a four-digit domain.
func ParseDeviceID(s string) (DeviceID, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ":") == 1 {
		s = "0000:" + s
	}

	var domain, bus, slot, fn uint32
	var rest string
	n, _ := fmt.Sscanf(s, "%x:%x:%x.%x%s", &domain, &bus, &slot, &fn, &rest)
	if n != 4 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDeviceID, s)
	}
	if domain > 0xffff || bus > 0xff || slot > 0x1f || fn > 0x7 {
		return "", fmt.Errorf("%w: %q out of range", ErrInvalidDeviceID, s)
	}
	return DeviceID(fmt.Sprintf("%04x:%02x:%02x.%x", domain, bus, slot, fn)), nil
}

// String returns the address.
func (id DeviceID) String() string {
	return string(id)
}

// Device describes one FPGA endpoint.
type Device struct {
	ID      DeviceID `json:"id"`
	Vendor  uint16   `json:"vendor"`
	Product uint16   `json:"product"`

	// ResourcePath is the sysfs resource file for BAR 0. Empty selects an
	// in-memory window.
	ResourcePath string `json:"resource_path,omitempty"`

	// BARStart is the bus address of BAR 0.
	BARStart uint64 `json:"bar_start"`

	// BARLen is the size of BAR 0 in bytes. Zero leaves the BAR unmapped.
	BARLen uint64 `json:"bar_len"`
}

// BAR is a mapped BAR window as handed to protocols.
type BAR struct {
	// Mapping gives register access to the window.
	Mapping mmio.Region
	// Start is the bus address of the first byte.
	Start uint64
	// Len is the window size in bytes.
	Len uint64
}

// String formats the window as "0xstart-0xend".
func (b BAR) String() string {
	if b.Len == 0 {
		return "unmapped"
	}
	return fmt.Sprintf("0x%x-0x%x", b.Start, b.Start+b.Len-1)
}
