package reasoning

import (
	"errors"
	"fmt"
)

// ErrReasoningFailed matches every error returned by Client.Recommend.
var ErrReasoningFailed = errors.New("reasoning failed")

// Parse failures. ErrMalformedResponse and ErrInvalidJSON are parse errors;
// ErrMissingFields is a schema error.
var (
	ErrMalformedResponse = errors.New("reasoning: no JSON object in response")
	ErrInvalidJSON       = errors.New("reasoning: response object is not valid JSON")
	ErrMissingFields     = errors.New("reasoning: response is missing required fields")
)

// Transport failures.
var (
	ErrEmptyResponse = errors.New("reasoning: empty response")
	ErrNoProvider    = errors.New("reasoning: no provider configured")
)

// Error is returned by Client.Recommend. It carries the provider name and
// the underlying cause, never the prompt.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reasoning failed (%s): %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrReasoningFailed.
func (e *Error) Is(target error) bool {
	return target == ErrReasoningFailed
}

// StatusError reports a non-2xx response from a provider's HTTP API.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}
