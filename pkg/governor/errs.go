package governor

import "errors"

var (
	// ErrUnknownCore indicates that no core is registered under the index.
	ErrUnknownCore = errors.New("governor: unknown core")

	// ErrCoreExists indicates a second registration for the same index.
	ErrCoreExists = errors.New("governor: core already registered")
)
