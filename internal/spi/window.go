package spi

import (
	"fmt"
	"math/bits"
)

const (
	// MaxControllers is the number of controller slots per device.
	MaxControllers = 8

	// NameSize bounds driver and modalias names, including the terminator
	// the bus keeps for them.
	NameSize = 32
)

// Range is an inclusive absolute address range.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Size returns the number of bytes covered by r.
func (r Range) Size() uint64 {
	return r.End - r.Start + 1
}

// Overlaps reports whether r and o share an address.
func (r Range) Overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Within reports whether r lies entirely inside o.
func (r Range) Within(o Range) bool {
	return r.Start >= o.Start && r.End <= o.End
}

// String formats the range as "0xstart-0xend".
func (r Range) String() string {
	return fmt.Sprintf("0x%x-0x%x", r.Start, r.End)
}

// ComputeRange places controller index (0-based) in the address window:
//
//	start = barBase + offset + index*stride
//	end   = start + stride - 1
//
// stride must be non-zero; callers validate it first (see windowFor).
func ComputeRange(barBase, offset, stride uint64, index int) Range {
	start := barBase + offset + uint64(index)*stride //nolint:gosec // index is 0..7
	return Range{Start: start, End: start + stride - 1}
}

// windowFor validates the inputs of ComputeRange and rejects windows that
// would wrap the 64-bit address space.
func windowFor(barBase, offset, stride uint64, index int) (Range, error) {
	if stride == 0 {
		return Range{}, fmt.Errorf("%w: controller size is zero", ErrInvalidArgument)
	}
	if index < 0 || index >= MaxControllers {
		return Range{}, fmt.Errorf("%w: slot %d", ErrOutOfRange, index)
	}

	hi, step := bits.Mul64(uint64(index), stride) //nolint:gosec // index checked above
	base, c1 := bits.Add64(barBase, offset, 0)
	start, c2 := bits.Add64(base, step, 0)
	_, c3 := bits.Add64(start, stride-1, 0)
	if hi != 0 || c1 != 0 || c2 != 0 || c3 != 0 {
		return Range{}, fmt.Errorf("%w: window for slot %d overflows the address space", ErrInvalidArgument, index)
	}
	return ComputeRange(barBase, offset, stride, index), nil
}
