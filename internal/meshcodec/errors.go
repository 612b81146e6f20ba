package meshcodec

import "errors"

var (
	// ErrCodec wraps any JSON marshal/unmarshal failure.
	ErrCodec = errors.New("envelope codec error")

	// ErrUnknownVariant is returned when an envelope's type discriminator
	// does not match any known variant.
	ErrUnknownVariant = errors.New("unknown envelope variant")
)
