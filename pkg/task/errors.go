package task

import "errors"

var (
	// ErrStateConflict signals an attempt to activate a second task in a
	// session that already has one active.
	ErrStateConflict = errors.New("session already has an active task")

	// ErrNoResumableTask signals a continuation request with nothing to
	// resume.
	ErrNoResumableTask = errors.New("no resumable task")

	// ErrTaskNotFound signals an unknown task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStaleCheckpoint signals an out-of-order checkpoint; the stored
	// sequence is already at or past the attempted one.
	ErrStaleCheckpoint = errors.New("stale checkpoint")
)
