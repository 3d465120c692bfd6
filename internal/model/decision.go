package model

import (
	"fmt"
	"math"
	"time"
)

// Outcome is the lifecycle state of a recorded decision.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeExecuted Outcome = "executed"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeExecuted, OutcomeRejected, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether o is a final outcome. Pending is the only
// non-terminal state; a terminal outcome never transitions again.
func (o Outcome) Terminal() bool {
	return o.Valid() && o != OutcomePending
}

// Action types written by the orchestrator and by outcome submitters.
const (
	ActionPlaybookRecommendation = "playbook_recommendation"
	ActionPlaybookOutcome        = "playbook_outcome"
)

// ActorSystem is the actor recorded for decisions issued by the orchestrator itself.
const ActorSystem = "system"

// DecisionRecord is an append-only audit entry. Source of truth for tuning.
// Never mutated: a later outcome for the same decision is a new record
// whose ParentID points at the original.
type DecisionRecord struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	ActionType string         `json:"action_type"`
	Actor      string         `json:"actor"`
	PlaybookID *string        `json:"playbook_id"`
	Confidence float64        `json:"confidence"`
	Outcome    Outcome        `json:"outcome"`
	Impact     *string        `json:"impact"`
	Context    map[string]any `json:"context"`
	ParentID   *string        `json:"parent_id,omitempty"`
}

// Validate checks the invariants every stored record must satisfy.
func (r DecisionRecord) Validate() error {
	if r.ActionType == "" {
		return fmt.Errorf("action_type is required")
	}
	if len(r.ActionType) > MaxActionTypeLen {
		return fmt.Errorf("action_type exceeds maximum length of %d characters", MaxActionTypeLen)
	}
	if err := ValidateActor(r.Actor); err != nil {
		return err
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0, 1], got %v", r.Confidence)
	}
	if !r.Outcome.Valid() {
		return fmt.Errorf("outcome %q is not one of pending, executed, rejected, failed", r.Outcome)
	}
	if r.Impact != nil && len(*r.Impact) > MaxImpactLen {
		return fmt.Errorf("impact exceeds maximum length of %d bytes", MaxImpactLen)
	}
	return nil
}

// Parent returns the id of the record this one is linked to. Outcome
// records may link to a decision or to an earlier outcome; following the
// links ends at the decision that started the chain.
func (r DecisionRecord) Parent() (string, bool) {
	if r.ParentID == nil || *r.ParentID == "" {
		return "", false
	}
	return *r.ParentID, true
}

// Field length limits for audit records.
const (
	MaxActionTypeLen = 200
	MaxActorLen      = 255
	MaxImpactLen     = 4 * 1024
)

// ValidateActor checks that an actor identifier conforms to the allowed format.
// Actors must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateActor(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("actor is required")
	}
	if len(id) > MaxActorLen {
		return fmt.Errorf("actor must be at most %d characters", MaxActorLen)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("actor contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
