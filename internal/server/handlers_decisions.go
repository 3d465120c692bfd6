package server

import (
	"errors"
	"net/http"

	"github.com/kairo-hq/kairo/internal/integrity"
	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/orchestrator"
	"github.com/kairo-hq/kairo/internal/storage"
)

// defaultRecentLimit applies to GET /v1/audit/recent without ?limit=.
const defaultRecentLimit = 20

// HandleDecide handles POST /v1/decide.
func (h *Handlers) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var req model.DecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	decision, err := h.decider.Decide(r.Context(), req)
	if err != nil {
		h.writeDecideError(w, r, err)
		return
	}

	h.broker.Publish(EventDecision, decision)
	writeJSON(w, r, http.StatusOK, decision)
}

// writeDecideError maps an orchestrator failure onto the error envelope.
// Provider and store details stay in the log.
func (h *Handlers) writeDecideError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *orchestrator.Error
	if !errors.As(err, &oe) {
		h.writeInternalError(w, r, "decide failed", err)
		return
	}

	detail := model.ErrorDetail{Stage: string(oe.Stage)}
	status := http.StatusInternalServerError
	switch oe.Kind {
	case orchestrator.KindInvalidInput:
		status, detail.Code, detail.Message = http.StatusBadRequest, model.ErrCodeInvalidInput, oe.Err.Error()
	case orchestrator.KindReasoningFailed:
		status, detail.Code, detail.Message = http.StatusBadGateway, model.ErrCodeReasoningFailed, "reasoning provider failed"
	case orchestrator.KindAuditWriteFailed:
		detail.Code, detail.Message = model.ErrCodeAuditWriteFailed, "decision could not be recorded"
	default:
		detail.Code, detail.Message = model.ErrCodeInternalError, "decide failed"
	}
	if status >= 500 {
		h.logger.Error("decide failed",
			"kind", oe.Kind, "stage", oe.Stage, "error", oe.Err,
			"request_id", RequestIDFromContext(r.Context()))
	}
	writeErrorDetail(w, r, status, detail)
}

// HandleRecordOutcome handles POST /v1/audit. The outcome is appended as a
// new record linked to its parent; the parent is never modified.
func (h *Handlers) HandleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req model.RecordOutcomeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rec := req.Record(h.now())
	id, err := h.store.Append(r.Context(), rec)
	if errors.Is(err, storage.ErrInvalidRecord) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("record outcome failed", "parent_id", req.ParentID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeAuditWriteFailed, "outcome could not be recorded")
		return
	}
	rec.ID = id

	resp := model.RecordOutcomeResponse{ID: id, Record: rec}
	h.broker.Publish(EventOutcome, resp)
	writeJSON(w, r, http.StatusCreated, resp)
}

// HandleRecentDecisions handles GET /v1/audit/recent.
func (h *Handlers) HandleRecentDecisions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultRecentLimit, storage.MaxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	records, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list recent decisions failed", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeHistoryUnavailable, "audit history unavailable")
		return
	}
	if records == nil {
		records = []model.DecisionRecord{}
	}
	writeJSON(w, r, http.StatusOK, model.RecentDecisionsResponse{
		Records: records,
		Count:   len(records),
		Digest:  integrity.Digest(records),
	})
}
