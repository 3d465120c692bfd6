package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kairo-hq/kairo/internal/model"
)

// recordRow is the column layout shared by both backends.
type recordRow struct {
	seq         int64
	id          string
	recordedAt  string
	actionType  string
	actor       string
	playbookID  sql.NullString
	confidence  sql.NullFloat64
	outcome     string
	impact      sql.NullString
	contextJSON []byte
	parentID    sql.NullString
}

// prepareRecord assigns an id, normalizes the timestamp and validates rec.
// Timestamps are truncated to microseconds so that a record reads back
// identical from either backend.
func prepareRecord(rec model.DecisionRecord) (model.DecisionRecord, []byte, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Microsecond)
	if rec.Context == nil {
		rec.Context = map[string]any{}
	}
	if err := rec.Validate(); err != nil {
		return model.DecisionRecord{}, nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	ctxJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return model.DecisionRecord{}, nil, fmt.Errorf("%w: context: %v", ErrInvalidRecord, err)
	}
	return rec, ctxJSON, nil
}

// decode turns a raw row into a record, rejecting anything a well-formed
// append could not have produced.
func (r recordRow) decode() (model.DecisionRecord, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.recordedAt)
	if err != nil {
		return model.DecisionRecord{}, fmt.Errorf("timestamp: %w", err)
	}
	if !r.confidence.Valid {
		return model.DecisionRecord{}, fmt.Errorf("confidence is null")
	}
	var ctx map[string]any
	if err := json.Unmarshal(r.contextJSON, &ctx); err != nil {
		return model.DecisionRecord{}, fmt.Errorf("context: %w", err)
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	rec := model.DecisionRecord{
		ID:         r.id,
		Timestamp:  ts.UTC(),
		ActionType: r.actionType,
		Actor:      r.actor,
		PlaybookID: nullStringPtr(r.playbookID),
		Confidence: r.confidence.Float64,
		Outcome:    model.Outcome(r.outcome),
		Impact:     nullStringPtr(r.impact),
		Context:    ctx,
		ParentID:   nullStringPtr(r.parentID),
	}
	if rec.ID == "" {
		return model.DecisionRecord{}, fmt.Errorf("id is empty")
	}
	if err := rec.Validate(); err != nil {
		return model.DecisionRecord{}, err
	}
	return rec, nil
}

// looseFloat accepts the numeric representations a dynamically typed column
// may hold. Anything else reads as NULL.
func looseFloat(v any) sql.NullFloat64 {
	switch n := v.(type) {
	case float64:
		return sql.NullFloat64{Float64: n, Valid: true}
	case int64:
		return sql.NullFloat64{Float64: float64(n), Valid: true}
	default:
		return sql.NullFloat64{}
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func stringPtrArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// tuningRow is the nullable column layout of the tuning table. A row with
// any NULL column is reported as ErrMalformed rather than half-filled.
type tuningRow struct {
	threshold      sql.NullFloat64
	aggressiveness sql.NullFloat64
	successRate    sql.NullFloat64
	lastTuned      sql.NullString
}

func (r tuningRow) decode() (model.TuningConfig, error) {
	if !r.threshold.Valid || !r.aggressiveness.Valid || !r.successRate.Valid || !r.lastTuned.Valid {
		return model.TuningConfig{}, fmt.Errorf("%w: tuning config has missing fields", ErrMalformed)
	}
	ts, err := time.Parse(time.RFC3339Nano, r.lastTuned.String)
	if err != nil {
		return model.TuningConfig{}, fmt.Errorf("%w: last_tuned: %v", ErrMalformed, err)
	}
	return model.TuningConfig{
		ConfidenceThreshold: r.threshold.Float64,
		Aggressiveness:      r.aggressiveness.Float64,
		SuccessRate:         r.successRate.Float64,
		LastTuned:           ts.UTC(),
	}, nil
}
