// Package kairo is the public API for embedding the Kairo decision
// orchestrator.
//
// Callers construct an App with New and run it until their context ends:
//
//	app, err := kairo.New(kairo.WithVersion(version))
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, never the other way around. Public
// types (Decision, Tuning, CompletionRequest) carry no internal imports; the
// conversion helpers live here because this file sees both sides.
package kairo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/kairo-hq/kairo/api"
	"github.com/kairo-hq/kairo/internal/config"
	"github.com/kairo-hq/kairo/internal/mcp"
	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/orchestrator"
	"github.com/kairo-hq/kairo/internal/ratelimit"
	"github.com/kairo-hq/kairo/internal/reasoning"
	"github.com/kairo-hq/kairo/internal/server"
	"github.com/kairo-hq/kairo/internal/storage"
	"github.com/kairo-hq/kairo/internal/telemetry"
	"github.com/kairo-hq/kairo/internal/tuner"
	"github.com/kairo-hq/kairo/migrations"
)

const shutdownTimeout = 15 * time.Second

// App is the Kairo server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        storage.Store
	orch         *orchestrator.Orchestrator
	tuner        *tuner.Tuner
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, opens the store, picks a reasoning provider and
// wires every subsystem. It starts no goroutines and accepts no connections;
// call Run for that.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kairo starting", "version", version, "port", cfg.Port, "store", cfg.Store)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Store:       cfg.Store,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	var completer reasoning.Completer
	if o.completer != nil {
		completer = completerAdapter{o.completer}
	} else {
		completer, err = reasoning.NewCompleter(ctx, reasoning.ProviderConfig{
			Provider:     cfg.ReasoningProvider,
			OpenAIAPIKey: cfg.OpenAIAPIKey,
			OpenAIModel:  cfg.OpenAIModel,
			OllamaURL:    cfg.OllamaURL,
			OllamaModel:  cfg.OllamaModel,
			GeminiAPIKey: cfg.GeminiAPIKey,
			GeminiModel:  cfg.GeminiModel,
		}, logger)
		if err != nil {
			store.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, err
		}
	}
	reasoner := reasoning.NewClient(completer, cfg.ReasoningTimeout, cfg.ReasoningMaxTokens, logger)

	orch := orchestrator.New(store, store, reasoner,
		orchestrator.WithHistoryLimit(cfg.HistoryLimit),
		orchestrator.WithLogger(logger),
	)

	tunerOpts := []tuner.Option{tuner.WithWindow(cfg.TuningWindow), tuner.WithLogger(logger)}
	if o.impactClassifier != nil {
		tunerOpts = append(tunerOpts, tuner.WithImpactClassifier(tuner.ImpactClassifier(o.impactClassifier)))
	}
	tn := tuner.New(store, store, tunerOpts...)

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	mcpSrv := mcp.New(store, orch, tn, logger, version)

	srv := server.New(server.ServerConfig{
		Store:               store,
		Decider:             orch,
		Retuner:             tn,
		Logger:              logger,
		Limiter:             limiter,
		Broker:              server.NewBroker(logger),
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		Provider:            reasoner.Provider(),
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		orch:         orch,
		tuner:        tn,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Store {
	case "postgres":
		db, err := storage.NewPostgres(ctx, cfg.DatabaseURL, migrations.Postgres(), logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		db.RegisterPoolMetrics()
		return db, nil
	default:
		db, err := storage.OpenSQLite(ctx, cfg.SQLitePath, migrations.SQLite(), logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return db, nil
	}
}

// Handler returns the root HTTP handler, for embedding and tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server and the retune schedule, then blocks until ctx
// is cancelled or the server fails. Shutdown runs on return either way.
func (a *App) Run(ctx context.Context) error {
	tunerCtx, stopTuner := context.WithCancel(ctx)
	tunerDone := make(chan struct{})
	go func() {
		defer close(tunerDone)
		a.tuner.Run(tunerCtx, a.cfg.TuningInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("http server failed", "error", runErr)
	}

	stopTuner()
	<-tunerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown drains in-flight HTTP requests, then closes the limiter, the
// store and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kairo shutting down")

	var errs []error
	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
		errs = append(errs, err)
	}
	a.Close()

	a.logger.Info("kairo stopped")
	return errors.Join(errs...)
}

// Close releases the store, limiter and telemetry without touching the HTTP
// server. Use it for one-shot commands that never call Run.
func (a *App) Close() {
	if err := a.limiter.Close(); err != nil {
		a.logger.Warn("rate limiter close", "error", err)
	}
	a.store.Close(context.Background())
	if err := a.otelShutdown(context.Background()); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
}

// Retune recomputes the tuning config from the audit trail once.
func (a *App) Retune(ctx context.Context) (Tuning, error) {
	cfg, err := a.tuner.Retune(ctx)
	if err != nil {
		return Tuning{}, err
	}
	return toPublicTuning(cfg), nil
}

// Recent returns up to limit audit records, newest first.
func (a *App) Recent(ctx context.Context, limit int) ([]Decision, error) {
	recs, err := a.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Decision, 0, len(recs))
	for _, r := range recs {
		out = append(out, toPublicDecision(r))
	}
	return out, nil
}

// CurrentTuning returns the stored tuning config, or the defaults when none
// is stored or the stored one is unusable.
func (a *App) CurrentTuning(ctx context.Context) (Tuning, error) {
	cfg, err := a.store.ReadTuning(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrMalformed):
		return toPublicTuning(model.DefaultTuning()), nil
	case err != nil:
		return Tuning{}, err
	}
	if cfg.Validate() != nil {
		return toPublicTuning(model.DefaultTuning()), nil
	}
	return toPublicTuning(cfg), nil
}

// Version reports the version the App was built with.
func (a *App) Version() string {
	return a.version
}

// ── Adapters ───────────────────────────────────────────────────────────────

// completerAdapter lets a public Completer satisfy reasoning.Completer.
type completerAdapter struct {
	c Completer
}

func (a completerAdapter) Complete(ctx context.Context, req reasoning.CompletionRequest) (string, error) {
	return a.c.Complete(ctx, CompletionRequest{
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
}

func (a completerAdapter) Name() string { return a.c.Name() }

func toPublicDecision(r model.DecisionRecord) Decision {
	return Decision{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		ActionType: r.ActionType,
		Actor:      r.Actor,
		PlaybookID: r.PlaybookID,
		Confidence: r.Confidence,
		Outcome:    string(r.Outcome),
		Impact:     r.Impact,
		Context:    r.Context,
		ParentID:   r.ParentID,
	}
}

func toPublicTuning(c model.TuningConfig) Tuning {
	return Tuning{
		ConfidenceThreshold: c.ConfidenceThreshold,
		Aggressiveness:      c.Aggressiveness,
		SuccessRate:         c.SuccessRate,
		LastTuned:           c.LastTuned,
	}
}
