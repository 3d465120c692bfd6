package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/storage"
)

// Decider runs one decision. *orchestrator.Orchestrator implements it.
type Decider interface {
	Decide(ctx context.Context, req model.DecisionRequest) (model.EnrichedDecision, error)
}

// Retuner recomputes the tuning config. *tuner.Tuner implements it.
type Retuner interface {
	Retune(ctx context.Context) (model.TuningConfig, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               storage.Store
	decider             Decider
	retuner             Retuner
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	now                 func() time.Time
	version             string
	provider            string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Broker and OpenAPISpec are optional; without them /v1/subscribe answers
// 503 and /openapi.yaml 404.
type HandlersDeps struct {
	Store               storage.Store
	Decider             Decider
	Retuner             Retuner
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	Provider            string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		store:               d.Store,
		decider:             d.Decider,
		retuner:             d.Retuner,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		now:                 time.Now,
		version:             d.Version,
		provider:            d.Provider,
		maxRequestBodyBytes: maxBody,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	storeStatus := "connected"
	httpStatus := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health: store ping failed", "error", err)
		status = "unhealthy"
		storeStatus = "disconnected"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:      status,
		Version:     h.version,
		Store:       h.store.Name(),
		StoreStatus: storeStatus,
		Reasoning:   h.provider,
		Uptime:      int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleSubscribe handles GET /v1/subscribe (SSE).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "event stream not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Idle streams would otherwise be cut by the server's WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeInternalError logs err and writes a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

var errBadLimit = errors.New("limit must be a positive integer")

// queryLimit parses ?limit=, defaulting when absent and capping at max.
func queryLimit(r *http.Request, defaultVal, maxVal int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errBadLimit
	}
	return min(n, maxVal), nil
}
