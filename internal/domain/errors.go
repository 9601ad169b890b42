package domain

import "errors"

var (
	// ErrValidation marks malformed or incomplete input; maps to HTTP 400.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a lookup miss; maps to HTTP 404.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate submission for an already tracked job.
	ErrConflict = errors.New("conflict")

	// ErrNoProviders is returned when the directory has no provider for a
	// job's location. No SMS is sent and no dispatch state is created.
	ErrNoProviders = errors.New("no providers available")

	// ErrUnmatchedReply is returned when an inbound SMS does not map to a
	// currently awaited provider. Stale or spoofed replies land here.
	ErrUnmatchedReply = errors.New("no pending job awaits this phone")
)
