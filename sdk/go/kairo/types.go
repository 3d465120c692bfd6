package kairo

import (
	"encoding/json"
	"time"
)

// Mode selects the gate applied to a recommendation.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Outcome is the lifecycle state of a recorded decision.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeExecuted Outcome = "executed"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Playbook is a remediation the caller is able to run.
type Playbook struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// DecideRequest asks whether one of the available playbooks should run.
type DecideRequest struct {
	Module             string          `json:"module"`
	Metrics            json.RawMessage `json:"metrics,omitempty"`
	Context            string          `json:"context"`
	AvailablePlaybooks []Playbook      `json:"available_playbooks"`
	// Mode defaults to manual on the server when empty.
	Mode Mode `json:"mode,omitempty"`
}

// Tuning holds the self-tuned gate parameters.
type Tuning struct {
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	Aggressiveness      float64   `json:"aggressiveness"`
	SuccessRate         float64   `json:"success_rate"`
	LastTuned           time.Time `json:"last_tuned"`
}

// Processing describes how a decide call was assembled.
type Processing struct {
	ConfigLoaded  bool    `json:"config_loaded"`
	HistoryLoaded bool    `json:"history_loaded"`
	HistoryCount  int     `json:"history_count"`
	Temperature   float64 `json:"temperature"`
	Provider      string  `json:"provider"`
	DurationMs    int64   `json:"duration_ms"`
}

// Decision is the response of a successful decide call.
type Decision struct {
	DecisionID       string     `json:"decision_id"`
	Recommendation   string     `json:"recommendation"`
	PlaybookID       *string    `json:"playbook_id"`
	Reason           string     `json:"reason"`
	Confidence       float64    `json:"confidence"`
	Urgency          string     `json:"urgency,omitempty"`
	EstimatedImpact  string     `json:"estimated_impact,omitempty"`
	MemoryInfluence  string     `json:"memory_influence,omitempty"`
	Mode             Mode       `json:"mode"`
	ShouldExecute    bool       `json:"should_execute"`
	AppliedThreshold float64    `json:"applied_threshold"`
	Tuning           Tuning     `json:"tuning"`
	Processing       Processing `json:"processing"`
	Timestamp        time.Time  `json:"timestamp"`
}

// Record is one append-only audit entry.
type Record struct {
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

// OutcomeRequest reports what happened after a decision.
type OutcomeRequest struct {
	ParentID   string         `json:"parent_id"`
	Outcome    Outcome        `json:"outcome"`
	Impact     *string        `json:"impact,omitempty"`
	Actor      string         `json:"actor"`
	PlaybookID *string        `json:"playbook_id,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// OutcomeResponse is returned by RecordOutcome.
type OutcomeResponse struct {
	ID     string `json:"id"`
	Record Record `json:"record"`
}

// RecentResponse is returned by Recent.
type RecentResponse struct {
	Records []Record `json:"records"`
	Count   int      `json:"count"`
	Digest  string   `json:"digest"`
}

// TuningView is returned by GetTuning. Stored is false when the server has
// never been tuned; Valid is false when the defaults are in effect.
type TuningView struct {
	Tuning Tuning `json:"tuning"`
	Valid  bool   `json:"valid"`
	Stored bool   `json:"stored"`
}

// Health is returned by Health.
type Health struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Store       string `json:"store"`
	StoreStatus string `json:"store_status"`
	Reasoning   string `json:"reasoning"`
	Uptime      int64  `json:"uptime_seconds"`
}

type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Stage   string `json:"stage"`
	} `json:"error"`
}
