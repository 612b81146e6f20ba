package meshnet

import "errors"

var (
	// ErrTransport wraps dial, publish, and registration failures.
	ErrTransport = errors.New("transport error")

	// ErrNotSubscribed is returned when publishing to a topic the swarm
	// has not subscribed to.
	ErrNotSubscribed = errors.New("not subscribed to topic")
)
