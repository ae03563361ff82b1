package ratetable

import "errors"

var (
	// ErrConfig indicates a missing or malformed rate table, or a host
	// configuration the table cannot describe (wrong state counts).
	ErrConfig = errors.New("ratetable: invalid configuration")

	// ErrLookup indicates that a frequency has no exact match in the
	// classifier's supported set.
	ErrLookup = errors.New("ratetable: frequency not supported")
)
