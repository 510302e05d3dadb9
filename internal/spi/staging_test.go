package spi

import (
	"errors"
	"strings"
	"testing"
)

func TestParseIndex(t *testing.T) {
	tests := []struct {
		text    string
		want    int
		wantErr error
	}{
		{"1", 0, nil},
		{"8", 7, nil},
		{"3\n", 2, nil},
		{" 5 ", 4, nil},
		{"0", 0, ErrOutOfRange},
		{"9", 0, ErrOutOfRange},
		{"-1", 0, ErrOutOfRange},
		{"99999999999999999999", 0, ErrOutOfRange},
		{"abc", 0, ErrInvalidArgument},
		{"", 0, ErrInvalidArgument},
		{"0x1", 0, ErrInvalidArgument},
		{"1.5", 0, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := parseIndex(tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("parseIndex(%q) error = %v, want %v", tt.text, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseIndex(%q) error = %v", tt.text, err)
			}
			if got != tt.want {
				t.Errorf("parseIndex(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseUint32(t *testing.T) {
	tests := []struct {
		text    string
		want    uint32
		wantErr bool
	}{
		{"64", 64, false},
		{"0x40", 0x40, false},
		{"0X1000\n", 0x1000, false},
		{"010", 10, false},
		{"4294967295", 1<<32 - 1, false},
		{"4294967296", 0, true},
		{"-1", 0, true},
		{"0x", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := parseUint32(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseUint32(%q) error = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
			if got != tt.want {
				t.Errorf("parseUint32(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseName(t *testing.T) {
	got, err := parseName("xilinx_spi\n")
	if err != nil || got != "xilinx_spi" {
		t.Errorf("parseName() = %q, %v", got, err)
	}

	longest := strings.Repeat("a", NameSize-1)
	if _, err := parseName(longest); err != nil {
		t.Errorf("parseName(%d bytes) error = %v", len(longest), err)
	}
	if _, err := parseName(longest + "a"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("parseName(%d bytes) error = %v, want ErrInvalidArgument", NameSize, err)
	}
}

func TestPendingConfig_Validate(t *testing.T) {
	ok := PendingConfig{Driver: "xilinx_spi", DevDriver: "spidev"}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	bad := PendingConfig{Driver: strings.Repeat("x", NameSize)}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Validate() error = %v, want ErrInvalidArgument", err)
	}
}

func TestStaging_LastWriterWins(t *testing.T) {
	var s staging
	s.update(func(c *PendingConfig) { c.ControllerSize = 0x40 })
	s.update(func(c *PendingConfig) { c.ControllerSize = 0x80 })
	s.update(func(c *PendingConfig) { c.Driver = "xilinx_spi" })

	got := s.snapshot()
	if got.ControllerSize != 0x80 || got.Driver != "xilinx_spi" {
		t.Errorf("snapshot() = %+v", got)
	}

	s.replace(PendingConfig{})
	if got := s.snapshot(); got != (PendingConfig{}) {
		t.Errorf("snapshot() after replace = %+v", got)
	}
}
