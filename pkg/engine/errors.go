package engine

import "errors"

var (
	// ErrPlatformNotAllowed rejects requests from a platform the agent is
	// not configured to serve.
	ErrPlatformNotAllowed = errors.New("platform not allowed")

	// ErrInvalidRequest rejects requests missing a session id or message.
	ErrInvalidRequest = errors.New("session id and message are required")

	// ErrCompositionFailure wraps draft-composition errors when a task is
	// failed because of them.
	ErrCompositionFailure = errors.New("draft composition failed")
)
