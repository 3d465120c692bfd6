package server

import (
	"errors"
	"net/http"

	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/storage"
	"github.com/kairo-hq/kairo/internal/tuner"
)

// HandleRetune handles POST /v1/retune.
func (h *Handlers) HandleRetune(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.retuner.Retune(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, tuner.ErrRetuneInProgress):
		writeError(w, r, http.StatusConflict, model.ErrCodeRetuneInProgress, "a retune is already running")
		return
	case errors.Is(err, tuner.ErrHistoryUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeHistoryUnavailable, "audit history unavailable")
		return
	case errors.Is(err, tuner.ErrTuningWriteFailed):
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeTuningWriteFailed, "tuning config could not be written")
		return
	default:
		h.writeInternalError(w, r, "retune failed", err)
		return
	}

	h.broker.Publish(EventTuning, cfg)
	writeJSON(w, r, http.StatusOK, cfg)
}

// HandleGetTuning handles GET /v1/tuning. It reports the config a decide
// call would use right now: the stored one when valid, the defaults otherwise.
func (h *Handlers) HandleGetTuning(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.ReadTuning(r.Context())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, r, http.StatusOK, model.TuningView{Tuning: model.DefaultTuning()})
		return
	case errors.Is(err, storage.ErrMalformed):
		writeJSON(w, r, http.StatusOK, model.TuningView{Tuning: model.DefaultTuning(), Stored: true})
		return
	case err != nil:
		h.writeInternalError(w, r, "tuning config unavailable", err)
		return
	}

	if cfg.Validate() != nil {
		writeJSON(w, r, http.StatusOK, model.TuningView{Tuning: model.DefaultTuning(), Stored: true})
		return
	}
	writeJSON(w, r, http.StatusOK, model.TuningView{Tuning: cfg, Valid: true, Stored: true})
}
