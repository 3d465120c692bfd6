// Package kairo provides a Go client for the Kairo decision orchestrator API.
package kairo

import (
	"errors"
	"fmt"
)

// Error represents an error from the Kairo API with the HTTP status code,
// the server's error code and, for decide failures, the pipeline stage the
// request reached.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Stage      string
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("kairo: %s (%d, stage %s): %s", e.Code, e.StatusCode, e.Stage, e.Message)
	}
	return fmt.Sprintf("kairo: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsInvalidInput returns true if the server rejected the request body.
func IsInvalidInput(err error) bool { return hasCode(err, "INVALID_INPUT") }

// IsReasoningFailed returns true if the reasoning provider failed or returned
// an unusable answer. No audit record exists for such a call.
func IsReasoningFailed(err error) bool { return hasCode(err, "REASONING_FAILED") }

// IsRetuneInProgress returns true if another retune was already running.
func IsRetuneInProgress(err error) bool { return hasCode(err, "RETUNE_IN_PROGRESS") }

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}
