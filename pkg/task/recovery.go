package task

import (
	"context"
	"errors"
	"strings"
)

type FailureClass string

const (
	FailureNetwork      FailureClass = "network"
	FailureTimeout      FailureClass = "timeout"
	FailureValidation   FailureClass = "validation"
	FailureInterruption FailureClass = "interruption"
	FailureUnknown      FailureClass = "unknown"
)

// ClassifyFailure buckets an error so the stored task carries an
// actionable recovery hint rather than a raw error string.
func ClassifyFailure(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}
	if errors.Is(err, context.Canceled) {
		return FailureInterruption
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return FailureTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "unreachable") || strings.Contains(msg, "refused"):
		return FailureNetwork
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation") ||
		strings.Contains(msg, "malformed"):
		return FailureValidation
	case strings.Contains(msg, "cancel") || strings.Contains(msg, "interrupt"):
		return FailureInterruption
	default:
		return FailureUnknown
	}
}

var recoveryHints = map[FailureClass]string{
	FailureNetwork:      "A service I depend on was unreachable. It usually recovers on its own.",
	FailureTimeout:      "The step took too long and was cut off. Trying again often works.",
	FailureValidation:   "Something about the step's input looked wrong. It may need a small correction.",
	FailureInterruption: "The step was interrupted before finishing. Nothing was lost.",
	FailureUnknown:      "The step hit an unexpected problem.",
}

// RecoveryHint returns the user-facing hint for a failure class.
func RecoveryHint(class FailureClass) string {
	if hint, ok := recoveryHints[class]; ok {
		return hint
	}
	return recoveryHints[FailureUnknown]
}
