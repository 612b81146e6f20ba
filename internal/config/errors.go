package config

import "errors"

// ErrConfigInvalid is returned for any malformed or incomplete configuration.
var ErrConfigInvalid = errors.New("invalid configuration")
