package kairo

import "time"

// CompletionRequest is the provider-neutral input passed to a Completer.
type CompletionRequest struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Decision is the public view of one audit record: either a recommendation
// produced by a decide call or an outcome reported against one.
type Decision struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	ActionType string         `json:"action_type"`
	Actor      string         `json:"actor"`
	PlaybookID *string        `json:"playbook_id"`
	Confidence float64        `json:"confidence"`
	Outcome    string         `json:"outcome"`
	Impact     *string        `json:"impact"`
	Context    map[string]any `json:"context"`
	// ParentID links an outcome record to the recommendation it reports on.
	ParentID *string `json:"parent_id,omitempty"`
}

// Tuning is the public view of the self-tuned gate parameters.
type Tuning struct {
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	Aggressiveness      float64   `json:"aggressiveness"`
	SuccessRate         float64   `json:"success_rate"`
	LastTuned           time.Time `json:"last_tuned"`
}
