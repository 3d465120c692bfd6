// Package tuner recomputes the tuning config from the audit trail.
//
// A retune reads the most recent window of decision records, measures how
// often executed playbooks had a positive impact, and nudges aggressiveness
// and the confidence threshold one bounded step toward the targets implied by
// that success rate. Only one retune runs at a time: a semaphore guards the
// process and the store's retune lease guards everything sharing the store.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/kairo-hq/kairo/internal/integrity"
	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/storage"
	"github.com/kairo-hq/kairo/internal/telemetry"
)

// DefaultWindow is the number of recent records a retune considers.
const DefaultWindow = 100

var (
	// ErrRetuneInProgress is returned when another retune holds the lock.
	ErrRetuneInProgress = errors.New("tuner: retune already in progress")
	// ErrHistoryUnavailable wraps a failure to read the audit window.
	ErrHistoryUnavailable = errors.New("tuner: audit history unavailable")
	// ErrTuningWriteFailed wraps a failure to persist the new config. The
	// previous config is left in place.
	ErrTuningWriteFailed = errors.New("tuner: tuning write failed")
)

// Tuner runs retunes against a pair of stores.
type Tuner struct {
	audit    storage.AuditLog
	store    storage.TuningStore
	window   int
	classify ImpactClassifier
	logger   *slog.Logger
	now      func() time.Time
	sem      *semaphore.Weighted

	tracer         trace.Tracer
	retunes        metric.Int64Counter
	thresholdGauge metric.Float64Gauge
	aggrGauge      metric.Float64Gauge
	successGauge   metric.Float64Gauge
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithWindow sets how many recent records a retune reads.
func WithWindow(n int) Option {
	return func(t *Tuner) {
		if n > 0 {
			t.window = min(n, storage.MaxListLimit)
		}
	}
}

// WithImpactClassifier replaces DefaultImpactClassifier.
func WithImpactClassifier(c ImpactClassifier) Option {
	return func(t *Tuner) {
		if c != nil {
			t.classify = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tuner) { t.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tuner) { t.now = now }
}

// New creates a Tuner.
func New(audit storage.AuditLog, store storage.TuningStore, opts ...Option) *Tuner {
	t := &Tuner{
		audit:    audit,
		store:    store,
		window:   DefaultWindow,
		classify: DefaultImpactClassifier,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		sem:      semaphore.NewWeighted(1),
		tracer:   telemetry.Tracer("kairo/tuner"),
	}
	for _, opt := range opts {
		opt(t)
	}

	meter := telemetry.Meter("kairo/tuner")
	t.retunes, _ = meter.Int64Counter("kairo.retune.count",
		metric.WithDescription("Retune attempts by result"))
	t.thresholdGauge, _ = meter.Float64Gauge("kairo.tuning.confidence_threshold")
	t.aggrGauge, _ = meter.Float64Gauge("kairo.tuning.aggressiveness")
	t.successGauge, _ = meter.Float64Gauge("kairo.tuning.success_rate")
	return t
}

// Retune recomputes and stores the tuning config. A call made while another
// retune is running, in this process or any other sharing the store, fails
// fast with ErrRetuneInProgress.
func (t *Tuner) Retune(ctx context.Context) (model.TuningConfig, error) {
	if !t.sem.TryAcquire(1) {
		t.retunes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "in_progress")))
		return model.TuningConfig{}, ErrRetuneInProgress
	}
	defer t.sem.Release(1)

	ctx, span := t.tracer.Start(ctx, "kairo.retune", trace.WithAttributes(attribute.Int("kairo.window", t.window)))
	defer span.End()

	// Stores shared between processes also hold a lease, so a CLI retune
	// cannot interleave with a server's scheduled one.
	if lease, ok := t.store.(storage.RetuneLease); ok {
		release, acquired, err := lease.AcquireRetuneLease(ctx)
		if err != nil {
			return t.fail(ctx, span, "lease_failed", fmt.Errorf("%w: %w", ErrTuningWriteFailed, err))
		}
		if !acquired {
			t.retunes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "in_progress")))
			span.SetAttributes(attribute.Bool("kairo.lease_held_elsewhere", true))
			return model.TuningConfig{}, ErrRetuneInProgress
		}
		defer release()
	}

	window, err := t.audit.ListRecent(ctx, t.window)
	if err != nil {
		return t.fail(ctx, span, "history_unavailable", fmt.Errorf("%w: %w", ErrHistoryUnavailable, err))
	}

	current, err := t.store.ReadTuning(ctx)
	if err == nil {
		err = current.Validate()
	}
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.logger.Warn("retune: stored tuning unusable, starting from defaults", "error", err)
		}
		current = model.DefaultTuning()
	}

	stats := Measure(window, t.classify)
	next := Step(current, stats.SuccessRate, t.now())

	if err := t.store.WriteTuning(ctx, next); err != nil {
		return t.fail(ctx, span, "tuning_write_failed", fmt.Errorf("%w: %w", ErrTuningWriteFailed, err))
	}

	span.SetAttributes(
		attribute.Int("kairo.chains", stats.Chains),
		attribute.Int("kairo.skipped", stats.Skipped),
		attribute.Int("kairo.orphaned", stats.Orphaned),
		attribute.Float64("kairo.success_rate", next.SuccessRate),
	)
	t.retunes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	t.thresholdGauge.Record(ctx, next.ConfidenceThreshold)
	t.aggrGauge.Record(ctx, next.Aggressiveness)
	t.successGauge.Record(ctx, next.SuccessRate)
	t.logger.Info("retune complete",
		"records", len(window),
		"chains", stats.Chains,
		"successful", stats.Successful,
		"skipped", stats.Skipped,
		"orphaned", stats.Orphaned,
		"success_rate", next.SuccessRate,
		"aggressiveness", next.Aggressiveness,
		"confidence_threshold", next.ConfidenceThreshold,
		"window_digest", integrity.Digest(window))
	return next, nil
}

func (t *Tuner) fail(ctx context.Context, span trace.Span, result string, err error) (model.TuningConfig, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, result)
	t.retunes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	t.logger.Error("retune failed", "error", err)
	return model.TuningConfig{}, err
}

// Run retunes every interval until ctx is done. A non-positive interval
// disables the schedule.
func (t *Tuner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures are logged by Retune; the next tick tries again.
			_, _ = t.Retune(ctx)
		}
	}
}
