package ctlfs

import "errors"

// Namespace errors. Check with errors.Is().
var (
	// ErrNotExist is returned when a path does not resolve to an entry.
	ErrNotExist = errors.New("ctlfs: no such entry")

	// ErrExist is returned when creating an entry whose name is taken.
	ErrExist = errors.New("ctlfs: entry exists")

	// ErrPermission is returned when reading a write-only attribute or
	// writing a read-only one.
	ErrPermission = errors.New("ctlfs: permission denied")

	// ErrInvalidName is returned for empty names or names containing '/'.
	ErrInvalidName = errors.New("ctlfs: invalid name")

	// ErrIsDir is returned when reading or writing a directory.
	ErrIsDir = errors.New("ctlfs: is a directory")
)
