package mmio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemory_ReadWrite(t *testing.T) {
	r, err := NewMemory(0x100)
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	defer r.Close()

	if r.Len() != 0x100 {
		t.Errorf("Len() = %#x, want 0x100", r.Len())
	}
	if err := r.WriteUint32(0x40, 0xdeadbeef); err != nil {
		t.Fatalf("WriteUint32() error = %v", err)
	}
	got, err := r.ReadUint32(0x40)
	if err != nil {
		t.Fatalf("ReadUint32() error = %v", err)
	}
	if got != 0xdeadbeef {
		t.Errorf("ReadUint32() = %#x, want 0xdeadbeef", got)
	}
}

func TestMemory_Bounds(t *testing.T) {
	r, _ := NewMemory(0x10)

	tests := []struct {
		name    string
		off     uint64
		wantErr error
	}{
		{"last word", 0x0c, nil},
		{"past end", 0x10, ErrOutOfBounds},
		{"unaligned", 0x02, ErrUnaligned},
		{"overflow", ^uint64(0) - 3, ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.ReadUint32(tt.off)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ReadUint32() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadUint32() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemory_Close(t *testing.T) {
	r, _ := NewMemory(8)
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := r.ReadUint32(0); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadUint32() after Close error = %v, want ErrClosed", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", r.Len())
	}
}

func TestNewMemory_ZeroLength(t *testing.T) {
	if _, err := NewMemory(0); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("NewMemory(0) error = %v, want ErrInvalidLength", err)
	}
}

func TestOpenResource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resource0")
	if err := os.WriteFile(path, make([]byte, 4096), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := OpenResource(path, 0)
	if err != nil {
		t.Fatalf("OpenResource() error = %v", err)
	}
	if r.Len() != 4096 {
		t.Errorf("Len() = %d, want 4096", r.Len())
	}
	if err := r.WriteUint32(0x100, 0x01020304); err != nil {
		t.Fatalf("WriteUint32() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// MAP_SHARED writes land in the file.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if data[0x100] != 0x04 || data[0x103] != 0x01 {
		t.Errorf("file bytes = % x, want little-endian 01020304", data[0x100:0x104])
	}
}

func TestOpenResource_Errors(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small")
	if err := os.WriteFile(small, make([]byte, 16), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenResource(filepath.Join(dir, "missing"), 0); err == nil {
		t.Error("OpenResource() on missing file succeeded")
	}
	if _, err := OpenResource(small, 32); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("OpenResource() oversize error = %v, want ErrInvalidLength", err)
	}
}
