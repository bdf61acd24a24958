package domain

import "errors"

var (
	// ErrNotFound is returned for an unknown realm, job, tag or queue.
	ErrNotFound = errors.New("not found")

	// ErrDataConflict is returned when a known job is re-added with different data.
	ErrDataConflict = errors.New("job data conflict")

	// ErrInvalidTransition is returned when a job cannot be moved between queues.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrBadRequest is returned for malformed input.
	ErrBadRequest = errors.New("bad request")
)
