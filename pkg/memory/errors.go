package memory

import "errors"

var (
	// ErrSessionNotFound indicates the session id has no stored state yet.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable wraps storage failures that degraded a read to an
	// empty context or pushed a write onto the retry queue.
	ErrStoreUnavailable = errors.New("memory store unavailable")
)
