package spi

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/vspi-core/internal/ctlfs"
)

// Domain errors for the spi package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, spi.ErrAlreadyExists) {
//	    // the slot is taken; delete it first
//	}
var (
	// ErrNotFound is returned when a device record or slot is absent.
	ErrNotFound = errors.New("spi: not found")

	// ErrAlreadyExists is returned when creating a controller in an occupied slot.
	ErrAlreadyExists = errors.New("spi: controller already exists")

	// ErrOutOfRange is returned when a controller index is outside 1..8.
	ErrOutOfRange = errors.New("spi: index out of range")

	// ErrInvalidArgument is returned for unparsable text or unusable staged values.
	ErrInvalidArgument = errors.New("spi: invalid argument")

	// ErrResourceExhausted is returned when the per-device namespace cannot be created.
	ErrResourceExhausted = errors.New("spi: resource exhausted")

	// ErrRegistrationFailed is returned when the bus rejects a validated controller.
	ErrRegistrationFailed = errors.New("spi: registration failed")

	// ErrAlreadyAttached is returned when attaching a device twice.
	ErrAlreadyAttached = errors.New("spi: device already attached")
)

// Errno maps an error onto the errno a control-plane write reports.
// A nil error maps to 0 and unknown errors to EIO.
func Errno(err error) unix.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return unix.ENODEV
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrAlreadyAttached):
		return unix.EEXIST
	case errors.Is(err, ErrOutOfRange):
		return unix.ERANGE
	case errors.Is(err, ErrInvalidArgument):
		return unix.EINVAL
	case errors.Is(err, ErrResourceExhausted):
		return unix.ENOMEM
	case errors.Is(err, ErrRegistrationFailed):
		return unix.EIO
	case errors.Is(err, ctlfs.ErrNotExist):
		return unix.ENOENT
	case errors.Is(err, ctlfs.ErrPermission):
		return unix.EACCES
	case errors.Is(err, ctlfs.ErrIsDir):
		return unix.EISDIR
	case errors.Is(err, ctlfs.ErrExist):
		return unix.EEXIST
	case errors.Is(err, ctlfs.ErrInvalidName):
		return unix.EINVAL
	default:
		return unix.EIO
	}
}
