package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode selects how strictly a recommendation is gated.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Playbook is an entry of the caller-supplied playbook catalog.
type Playbook struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Request field limits. They keep a single request from blowing up the
// prompt sent to the reasoning provider.
const (
	MaxModuleLen    = 200
	MaxContextLen   = 16 * 1024
	MaxMetricsLen   = 64 * 1024
	MaxPlaybooks    = 100
	MaxPlaybookLen  = 500
	MaxHistoryLimit = 5
)

// DecisionRequest is the transient input of one decide call. Not persisted.
type DecisionRequest struct {
	Module             string          `json:"module"`
	Metrics            json.RawMessage `json:"metrics,omitempty"`
	Context            string          `json:"context"`
	AvailablePlaybooks []Playbook      `json:"available_playbooks"`
	Mode               Mode            `json:"mode"`
}

// Normalize fills defaults. An empty mode means manual, the stricter gate.
func (r *DecisionRequest) Normalize() {
	if r.Mode == "" {
		r.Mode = ModeManual
	}
}

// Validate checks required fields and per-field limits.
func (r DecisionRequest) Validate() error {
	if r.Module == "" {
		return fmt.Errorf("module is required")
	}
	if len(r.Module) > MaxModuleLen {
		return fmt.Errorf("module exceeds maximum length of %d characters", MaxModuleLen)
	}
	if r.Mode != ModeAuto && r.Mode != ModeManual {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeAuto, ModeManual, r.Mode)
	}
	if len(r.Context) > MaxContextLen {
		return fmt.Errorf("context exceeds maximum length of %d bytes", MaxContextLen)
	}
	if len(r.Metrics) > MaxMetricsLen {
		return fmt.Errorf("metrics exceeds maximum length of %d bytes", MaxMetricsLen)
	}
	if len(r.Metrics) > 0 && !json.Valid(r.Metrics) {
		return fmt.Errorf("metrics must be valid JSON")
	}
	if len(r.AvailablePlaybooks) > MaxPlaybooks {
		return fmt.Errorf("at most %d playbooks may be supplied", MaxPlaybooks)
	}
	for i, p := range r.AvailablePlaybooks {
		if p.ID == "" {
			return fmt.Errorf("available_playbooks[%d].id is required", i)
		}
		if len(p.ID) > MaxPlaybookLen || len(p.Title) > MaxPlaybookLen {
			return fmt.Errorf("available_playbooks[%d] exceeds maximum length of %d characters", i, MaxPlaybookLen)
		}
	}
	return nil
}

// Urgency is the reasoning provider's estimate of how soon to act.
type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyMedium   Urgency = "Medium"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
)

// Recommendation values returned by the reasoning provider.
const (
	RecommendYes = "Yes"
	RecommendNo  = "No"
)

// ParsedRecommendation is the structured decision extracted from a reasoning
// response. Confidence is passed through unclamped.
type ParsedRecommendation struct {
	Recommendation  string  `json:"recommendation"`
	PlaybookID      *string `json:"playbook_id"`
	Reason          string  `json:"reason"`
	Confidence      float64 `json:"confidence"`
	Urgency         Urgency `json:"urgency,omitempty"`
	EstimatedImpact string  `json:"estimated_impact,omitempty"`
	MemoryInfluence string  `json:"memory_influence,omitempty"`
}

// Recommends reports whether the provider recommended executing the playbook.
func (r ParsedRecommendation) Recommends() bool {
	return r.Recommendation == RecommendYes
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

// EnrichedDecision is the response of a successful decide call.
type EnrichedDecision struct {
	DecisionID string `json:"decision_id"`
	ParsedRecommendation
	Mode             Mode         `json:"mode"`
	ShouldExecute    bool         `json:"should_execute"`
	AppliedThreshold float64      `json:"applied_threshold"`
	Tuning           TuningConfig `json:"tuning"`
	Processing       Processing   `json:"processing"`
	Timestamp        time.Time    `json:"timestamp"`
}
