package database

import "errors"

var (
	// ErrTokenNotFound means no token record exists for the tenant; the
	// tenant has never connected or authorization was revoked.
	ErrTokenNotFound = errors.New("token record not found")

	// ErrEntityNotFound means the requested business entity does not exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrJobNotFound means no job row matched the id and expected status.
	ErrJobNotFound = errors.New("job not found")
)
