package mmio

import "errors"

// Domain errors for the mmio package.
var (
	// ErrOutOfBounds is returned when an access falls outside the region.
	ErrOutOfBounds = errors.New("mmio: access out of bounds")

	// ErrUnaligned is returned when a 32-bit access is not 4-byte aligned.
	ErrUnaligned = errors.New("mmio: unaligned access")

	// ErrClosed is returned when accessing a region after Close.
	ErrClosed = errors.New("mmio: region closed")

	// ErrInvalidLength is returned when a region would be empty or larger
	// than the backing resource.
	ErrInvalidLength = errors.New("mmio: invalid length")
)
