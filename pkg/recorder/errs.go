package recorder

import "errors"

// ErrOptions indicates an invalid recorder configuration.
var ErrOptions = errors.New("recorder: invalid options")
