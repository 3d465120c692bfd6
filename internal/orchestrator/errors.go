package orchestrator

import (
	"errors"
	"fmt"
)

// Kind classifies a decide failure.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindConfigInvalid      Kind = "config_invalid"
	KindHistoryUnavailable Kind = "history_unavailable"
	KindReasoningFailed    Kind = "reasoning_failed"
	KindAuditWriteFailed   Kind = "audit_write_failed"
)

// Fatal reports whether a failure of this kind aborts the decide call.
// Config and history failures degrade to defaults instead.
func (k Kind) Fatal() bool {
	return k != KindConfigInvalid && k != KindHistoryUnavailable
}

// Error is returned by Decide. It names the stage that failed and wraps the
// cause.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("decide: %s during %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}
