// Package orchestrator runs one decision end to end: load tuning and recent
// history, ask the reasoning provider, gate the answer, and record it.
//
// An Orchestrator holds only injected dependencies. Concurrent Decide calls
// share nothing but the stores.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kairo-hq/kairo/internal/gate"
	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/storage"
	"github.com/kairo-hq/kairo/internal/telemetry"
)

// Stage names a step of the decide pipeline.
type Stage string

const (
	StageReceived      Stage = "received"
	StageConfigLoaded  Stage = "config_loaded"
	StageHistoryLoaded Stage = "history_loaded"
	StageReasoned      Stage = "reasoned"
	StageGated         Stage = "gated"
	StageAudited       Stage = "audited"
	StageResponded     Stage = "responded"
)

// Reasoner produces a recommendation. *reasoning.Client implements it.
type Reasoner interface {
	Recommend(ctx context.Context, req model.DecisionRequest, tuning model.TuningConfig, history []model.DecisionRecord) (model.ParsedRecommendation, error)
	Provider() string
}

// Orchestrator coordinates a decide call.
type Orchestrator struct {
	audit        storage.AuditLog
	tuning       storage.TuningStore
	reasoner     Reasoner
	historyLimit int
	logger       *slog.Logger
	now          func() time.Time

	tracer    trace.Tracer
	decisions metric.Int64Counter
	latency   metric.Float64Histogram
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistoryLimit sets how many recent records are fed to the reasoner.
// Values outside [0, model.MaxHistoryLimit] are clamped.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		o.historyLimit = min(max(n, 0), model.MaxHistoryLimit)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(audit storage.AuditLog, tuning storage.TuningStore, reasoner Reasoner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		audit:        audit,
		tuning:       tuning,
		reasoner:     reasoner,
		historyLimit: model.MaxHistoryLimit,
		logger:       slog.New(slog.DiscardHandler),
		now:          time.Now,
		tracer:       telemetry.Tracer("kairo/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}

	meter := telemetry.Meter("kairo/orchestrator")
	o.decisions, _ = meter.Int64Counter("kairo.decide.count",
		metric.WithDescription("Decide calls by result"))
	o.latency, _ = meter.Float64Histogram("kairo.reasoning.duration",
		metric.WithDescription("Reasoning provider latency"),
		metric.WithUnit("s"))
	return o
}

// Decide runs the pipeline for req. Config and history failures degrade to
// defaults and are reported in Processing; every other failure is returned
// as *Error and nothing is recorded unless the audit append succeeded.
func (o *Orchestrator) Decide(ctx context.Context, req model.DecisionRequest) (model.EnrichedDecision, error) {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "kairo.decide", trace.WithAttributes(
		attribute.String("kairo.module", req.Module),
		attribute.String("kairo.mode", string(req.Mode)),
	))
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return o.fail(ctx, span, &Error{Kind: KindInvalidInput, Stage: StageReceived, Err: err})
	}

	tuning, history, proc := o.load(ctx, req.Module)
	span.SetAttributes(
		attribute.Bool("kairo.config_loaded", proc.ConfigLoaded),
		attribute.Bool("kairo.history_loaded", proc.HistoryLoaded),
	)

	reasonStart := time.Now()
	rec, err := o.reasoner.Recommend(ctx, req, tuning, history)
	o.latency.Record(ctx, time.Since(reasonStart).Seconds(),
		metric.WithAttributes(attribute.String("provider", o.reasoner.Provider())))
	if err != nil {
		return o.fail(ctx, span, &Error{Kind: KindReasoningFailed, Stage: StageReasoned, Err: err})
	}

	verdict := gate.Evaluate(rec, tuning, req.Mode)
	span.SetAttributes(
		attribute.Bool("kairo.should_execute", verdict.ShouldExecute),
		attribute.Float64("kairo.confidence", rec.Confidence),
	)

	// Stored timestamps keep microseconds; the response must match them.
	now := o.now().UTC().Truncate(time.Microsecond)
	id, err := o.audit.Append(ctx, model.DecisionRecord{
		Timestamp:  now,
		ActionType: model.ActionPlaybookRecommendation,
		Actor:      model.ActorSystem,
		PlaybookID: rec.PlaybookID,
		Confidence: auditConfidence(rec.Confidence),
		Outcome:    model.OutcomePending,
		Context:    auditContext(req, rec, verdict),
	})
	if err != nil {
		return o.fail(ctx, span, &Error{Kind: KindAuditWriteFailed, Stage: StageAudited, Err: err})
	}

	proc.Temperature = tuning.Temperature()
	proc.Provider = o.reasoner.Provider()
	proc.DurationMs = o.now().Sub(start).Milliseconds()

	o.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", "ok"),
		attribute.String("mode", string(req.Mode)),
		attribute.Bool("should_execute", verdict.ShouldExecute),
	))
	o.logger.Info("decision recorded",
		"decision_id", id,
		"module", req.Module,
		"mode", req.Mode,
		"recommendation", rec.Recommendation,
		"confidence", rec.Confidence,
		"should_execute", verdict.ShouldExecute,
		"applied_threshold", verdict.AppliedThreshold,
		"config_loaded", proc.ConfigLoaded,
		"history_loaded", proc.HistoryLoaded)

	return model.EnrichedDecision{
		DecisionID:           id,
		ParsedRecommendation: rec,
		Mode:                 req.Mode,
		ShouldExecute:        verdict.ShouldExecute,
		AppliedThreshold:     verdict.AppliedThreshold,
		Tuning:               tuning,
		Processing:           proc,
		Timestamp:            now,
	}, nil
}

// load reads tuning and history concurrently. Neither can fail the call.
func (o *Orchestrator) load(ctx context.Context, module string) (model.TuningConfig, []model.DecisionRecord, model.Processing) {
	var (
		g       errgroup.Group
		tuning  = model.DefaultTuning()
		history []model.DecisionRecord
		proc    model.Processing
	)

	g.Go(func() error {
		cfg, err := o.tuning.ReadTuning(ctx)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			o.logger.Warn("decide: using default tuning",
				"kind", KindConfigInvalid, "stage", StageConfigLoaded, "module", module, "error", err)
			return nil
		}
		tuning, proc.ConfigLoaded = cfg, true
		return nil
	})

	g.Go(func() error {
		if o.historyLimit == 0 {
			proc.HistoryLoaded = true
			return nil
		}
		recs, err := o.audit.ListRecent(ctx, o.historyLimit)
		if err != nil {
			o.logger.Warn("decide: continuing without history",
				"kind", KindHistoryUnavailable, "stage", StageHistoryLoaded, "module", module, "error", err)
			return nil
		}
		if len(recs) > o.historyLimit {
			recs = recs[:o.historyLimit]
		}
		history, proc.HistoryLoaded = recs, true
		return nil
	})

	_ = g.Wait()
	proc.HistoryCount = len(history)
	return tuning, history, proc
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, err *Error) (model.EnrichedDecision, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Kind))
	span.SetAttributes(attribute.String("kairo.failed_stage", string(err.Stage)))
	o.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", string(err.Kind))))
	o.logger.Warn("decide failed", "kind", err.Kind, "stage", err.Stage, "error", err.Err)
	return model.EnrichedDecision{}, err
}

// auditConfidence maps the unclamped provider confidence into the range a
// stored record must satisfy. The response still carries the raw value.
func auditConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// auditContext snapshots the inputs and verdict of a decision.
func auditContext(req model.DecisionRequest, rec model.ParsedRecommendation, verdict gate.Result) map[string]any {
	ctx := map[string]any{
		"module":            req.Module,
		"context":           req.Context,
		"mode":              string(req.Mode),
		"recommendation":    rec.Recommendation,
		"reason":            rec.Reason,
		"urgency":           string(rec.Urgency),
		"should_execute":    verdict.ShouldExecute,
		"applied_threshold": verdict.AppliedThreshold,
	}
	if len(req.Metrics) > 0 {
		ctx["metrics"] = json.RawMessage(req.Metrics)
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		ctx["reported_confidence"] = rec.Confidence
	}
	return ctx
}
