package multifpgapci

import "errors"

// Domain errors for the multifpgapci package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, multifpgapci.ErrDeviceNotFound) {
//	    // device was never added or has already been removed
//	}
var (
	// ErrInvalidDeviceID is returned when a PCI address cannot be parsed.
	ErrInvalidDeviceID = errors.New("multifpgapci: invalid device id")

	// ErrDeviceExists is returned when adding a device that is already present.
	ErrDeviceExists = errors.New("multifpgapci: device already present")

	// ErrDeviceNotFound is returned when a device is not present.
	ErrDeviceNotFound = errors.New("multifpgapci: device not found")

	// ErrProtocolExists is returned when registering a protocol name twice.
	ErrProtocolExists = errors.New("multifpgapci: protocol already registered")

	// ErrProtocolNotFound is returned when unregistering an unknown protocol.
	ErrProtocolNotFound = errors.New("multifpgapci: protocol not registered")

	// ErrAttachFailed is returned when a protocol rejects a device.
	ErrAttachFailed = errors.New("multifpgapci: attach failed")

	// ErrMapFailed is returned when the BAR window cannot be mapped.
	ErrMapFailed = errors.New("multifpgapci: BAR mapping failed")
)
