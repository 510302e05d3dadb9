package mmio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Region is a mapped register window.
type Region interface {
	// Len returns the size of the window in bytes.
	Len() uint64
	// ReadUint32 reads the register at byte offset off.
	ReadUint32(off uint64) (uint32, error)
	// WriteUint32 writes the register at byte offset off.
	WriteUint32(off uint64, v uint32) error
	// Close releases the mapping. Further accesses return ErrClosed.
	Close() error
}

// window implements Region over a byte slice. release is called once on Close.
type window struct {
	mu      sync.RWMutex
	mem     []byte
	release func([]byte) error
	name    string
}

// NewMemory returns a zeroed in-memory region of length bytes.
func NewMemory(length uint64) (Region, error) {
	if length == 0 {
		return nil, fmt.Errorf("%w: zero length", ErrInvalidLength)
	}
	return &window{
		mem:     make([]byte, length),
		release: func([]byte) error { return nil },
		name:    "memory",
	}, nil
}

// OpenResource maps length bytes of a PCI resource file read/write.
// A length of 0 maps the whole file.
//
// Parameters:
//   - path: sysfs resource file, e.g. /sys/bus/pci/devices/0000:03:00.0/resource0
//   - length: bytes to map; must not exceed the file size
//
// Returns:
//   - Region: the mapped window
//   - error: if the file cannot be opened, sized or mapped
func OpenResource(path string, length uint64) (Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// The mapping stays valid after the descriptor is closed.
	defer f.Close() //nolint:errcheck // read-write fd, nothing buffered

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := uint64(info.Size()) //nolint:gosec // file sizes are non-negative
	if length == 0 {
		length = size
	}
	if length == 0 || length > size {
		return nil, fmt.Errorf("%w: %d bytes requested, %s has %d", ErrInvalidLength, length, path, size)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED) //nolint:gosec // bounded by file size
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &window{mem: mem, release: unix.Munmap, name: path}, nil
}

func (w *window) Len() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return uint64(len(w.mem))
}

func (w *window) ReadUint32(off uint64) (uint32, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.check(off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(w.mem[off : off+4]), nil
}

func (w *window) WriteUint32(off uint64, v uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.check(off); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(w.mem[off:off+4], v)
	return nil
}

func (w *window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mem == nil {
		return nil
	}
	mem := w.mem
	w.mem = nil
	if err := w.release(mem); err != nil {
		return fmt.Errorf("unmapping %s: %w", w.name, err)
	}
	return nil
}

// check validates a 32-bit access. Caller holds w.mu.
func (w *window) check(off uint64) error {
	if w.mem == nil {
		return ErrClosed
	}
	if off%4 != 0 {
		return fmt.Errorf("%w: offset 0x%x", ErrUnaligned, off)
	}
	if off+4 > uint64(len(w.mem)) || off+4 < off {
		return fmt.Errorf("%w: offset 0x%x, length 0x%x", ErrOutOfBounds, off, len(w.mem))
	}
	return nil
}
