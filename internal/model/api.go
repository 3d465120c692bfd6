package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeReasoningFailed    = "REASONING_FAILED"
	ErrCodeAuditWriteFailed   = "AUDIT_WRITE_FAILED"
	ErrCodeTuningWriteFailed  = "TUNING_WRITE_FAILED"
	ErrCodeRetuneInProgress   = "RETUNE_IN_PROGRESS"
	ErrCodeHistoryUnavailable = "HISTORY_UNAVAILABLE"
)

// RecordOutcomeRequest is the body of POST /v1/audit. It appends an outcome
// record linked to an earlier decision; the original is never modified.
type RecordOutcomeRequest struct {
	ParentID   string         `json:"parent_id"`
	Outcome    Outcome        `json:"outcome"`
	Impact     *string        `json:"impact,omitempty"`
	Actor      string         `json:"actor"`
	PlaybookID *string        `json:"playbook_id,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// Validate checks the outcome submission before it is turned into a record.
func (r RecordOutcomeRequest) Validate() error {
	if r.ParentID == "" {
		return fmt.Errorf("parent_id is required")
	}
	if _, err := uuid.Parse(r.ParentID); err != nil {
		return fmt.Errorf("parent_id must be a decision id: %w", err)
	}
	if !r.Outcome.Terminal() {
		return fmt.Errorf("outcome must be one of executed, rejected, failed")
	}
	return ValidateActor(r.Actor)
}

// Record converts the submission into an append-only outcome record.
// Confidence defaults to 1: a reported outcome is an observation, not a guess.
func (r RecordOutcomeRequest) Record(now time.Time) DecisionRecord {
	confidence := 1.0
	if r.Confidence != nil {
		confidence = *r.Confidence
	}
	parent := r.ParentID
	ctx := r.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	return DecisionRecord{
		Timestamp:  now.UTC(),
		ActionType: ActionPlaybookOutcome,
		Actor:      r.Actor,
		PlaybookID: r.PlaybookID,
		Confidence: confidence,
		Outcome:    r.Outcome,
		Impact:     r.Impact,
		Context:    ctx,
		ParentID:   &parent,
	}
}

// TuningView is the response of GET /v1/tuning.
type TuningView struct {
	Tuning TuningConfig `json:"tuning"`
	Valid  bool         `json:"valid"`
	Stored bool         `json:"stored"`
}

// HealthResponse is the response of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Store       string `json:"store"`
	StoreStatus string `json:"store_status"`
	Reasoning   string `json:"reasoning"`
	Uptime      int64  `json:"uptime_seconds"`
}

// RecentDecisionsResponse is the response of GET /v1/audit/recent.
type RecentDecisionsResponse struct {
	Records []DecisionRecord `json:"records"`
	Count   int              `json:"count"`
	// Digest is the Merkle root over the returned records' content hashes.
	Digest string `json:"digest"`
}

// RecordOutcomeResponse is the response of POST /v1/audit.
type RecordOutcomeResponse struct {
	ID     string         `json:"id"`
	Record DecisionRecord `json:"record"`
}
