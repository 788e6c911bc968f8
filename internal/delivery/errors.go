package delivery

import "errors"

var (
	// ErrValidation means a required field was missing or malformed.
	// Never retried; the caller must fix the input.
	ErrValidation = errors.New("delivery: invalid request")

	// ErrArtifactNotFound means the artifact reference does not resolve
	// to a readable file at enqueue time.
	ErrArtifactNotFound = errors.New("delivery: artifact not found")

	// ErrJobNotFound covers both unknown job ids and jobs no longer
	// dispatchable (already sent).
	ErrJobNotFound = errors.New("delivery: job not found or already sent")

	// ErrDispatchLocked means another dispatch run holds the lease.
	ErrDispatchLocked = errors.New("delivery: dispatch already running")
)
