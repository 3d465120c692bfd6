// Package reasoning asks an external language model whether a remediation
// playbook should run, and turns its free-form answer into a typed
// recommendation.
//
// The Client builds the prompt, applies the per-call timeout and parses the
// response. Transport lives behind the Completer interface, implemented for
// OpenAI, Ollama and Gemini.
package reasoning

import "context"

// CompletionRequest is the provider-neutral input of one completion call.
type CompletionRequest struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer sends a prompt to a text-completion backend and returns its raw
// text. Implementations must honor ctx cancellation.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Name identifies the provider in logs and response metadata.
	Name() string
}

// NoopCompleter is used when no provider is configured. Every call fails,
// so decide requests surface as reasoning failures instead of guessing.
type NoopCompleter struct{}

func (NoopCompleter) Complete(context.Context, CompletionRequest) (string, error) {
	return "", ErrNoProvider
}

func (NoopCompleter) Name() string { return "none" }
