package config

import "errors"

var (
	// ErrFormat indicates a config file extension that is neither YAML nor
	// TOML.
	ErrFormat = errors.New("config: unsupported file format")

	// ErrInvalid indicates a value that fails validation.
	ErrInvalid = errors.New("config: invalid value")
)
