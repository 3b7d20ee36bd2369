package domain

import "errors"

var (
	// ErrValidation marks malformed input; never retried.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound marks an unknown item or size; terminal for the attempt.
	ErrNotFound = errors.New("item or size not found")

	// ErrUnavailable is returned after transient store failures exhausted
	// their retry budget and the idempotency record could not confirm the
	// operation's effect.
	ErrUnavailable = errors.New("stock store unavailable")
)
