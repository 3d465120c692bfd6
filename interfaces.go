package kairo

import "context"

// Completer sends a prompt to a text-completion backend and returns the raw
// reply. When provided via WithCompleter it replaces the provider picked from
// KAIRO_REASONING_PROVIDER. Implementations must honor ctx cancellation.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Name identifies the provider in logs and the health endpoint.
	Name() string
}

// ImpactClassifier reports whether the impact text of an executed playbook
// counts as a success.
type ImpactClassifier func(impact string) bool
