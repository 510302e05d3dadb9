package spi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// PendingConfig holds the parameters of the next controller to create.
// Fields are staged one at a time through the control plane and read as a
// whole when a controller is created.
type PendingConfig struct {
	// Controllers is the intended controller count. Informational only.
	Controllers uint32 `json:"virt_spi_controllers" yaml:"virt_spi_controllers"`
	// ControllerSize is the per-controller window stride in bytes.
	ControllerSize uint32 `json:"virt_spi_controller_size" yaml:"virt_spi_controller_size"`
	// BaseAddr is the offset from the BAR start to the first controller.
	BaseAddr uint32 `json:"spi_base_addr" yaml:"spi_base_addr"`
	// NumChipSelect is the chip-select count of the new bus.
	NumChipSelect uint32 `json:"spi_num_cs" yaml:"spi_num_cs"`
	// ChipSelect is the chip-select line of the attached device.
	ChipSelect uint32 `json:"spi_cs" yaml:"spi_cs"`
	// Driver is the bus-controller driver name.
	Driver string `json:"spi_driver" yaml:"spi_driver"`
	// DevDriver is the modalias of the attached device.
	DevDriver string `json:"spi_dev_driver" yaml:"spi_dev_driver"`
}

// Validate checks the names against NameSize. Numeric fields are only
// checked when a controller is created.
func (c PendingConfig) Validate() error {
	if _, err := parseName(c.Driver); err != nil {
		return fmt.Errorf("spi_driver: %w", err)
	}
	if _, err := parseName(c.DevDriver); err != nil {
		return fmt.Errorf("spi_dev_driver: %w", err)
	}
	return nil
}

// staging guards a PendingConfig so a create reads a consistent snapshot.
type staging struct {
	mu  sync.Mutex
	cfg PendingConfig
}

func (s *staging) snapshot() PendingConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *staging) update(fn func(*PendingConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}

func (s *staging) replace(cfg PendingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// parseUint32 parses a staged number. "0x" selects hex, anything else is
// decimal. Surrounding whitespace is ignored.
func parseUint32(text string) (uint32, error) {
	s := strings.TrimSpace(text)
	base := 10
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		s, base = rest, 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a 32-bit unsigned number", ErrInvalidArgument, strings.TrimSpace(text))
	}
	return uint32(v), nil
}

// parseName strips one trailing newline and enforces NameSize.
func parseName(text string) (string, error) {
	s := strings.TrimSuffix(text, "\n")
	if len(s) >= NameSize {
		return "", fmt.Errorf("%w: name %q exceeds %d bytes", ErrInvalidArgument, s, NameSize-1)
	}
	return s, nil
}

// parseIndex converts 1-based index text into a 0-based slot index.
func parseIndex(text string) (int, error) {
	s := strings.TrimSpace(text)
	n, err := strconv.Atoi(s)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %s", ErrOutOfRange, s)
		}
		return 0, fmt.Errorf("%w: index %q is not a number", ErrInvalidArgument, s)
	}
	if n < 1 || n > MaxControllers {
		return 0, fmt.Errorf("%w: %d not in 1..%d", ErrOutOfRange, n, MaxControllers)
	}
	return n - 1, nil
}
