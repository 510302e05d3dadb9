package platform

import "errors"

// Domain errors for the platform package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, platform.ErrBusy) {
//	    // another device already claims the address range
//	}
var (
	// ErrInvalid is returned when a Spec is missing its name or carries a
	// malformed resource.
	ErrInvalid = errors.New("platform: invalid device")

	// ErrExist is returned when a device with the same name.id is registered.
	ErrExist = errors.New("platform: device already registered")

	// ErrBusy is returned when a memory resource overlaps one that another
	// registered device already claims.
	ErrBusy = errors.New("platform: resource busy")

	// ErrNotRegistered is returned when unregistering a device that is not on the bus.
	ErrNotRegistered = errors.New("platform: device not registered")
)
