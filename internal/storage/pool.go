package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/telemetry"
)

// Postgres is the server storage backend, backed by a pgxpool.Pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects a pool to dsn, pings it, and applies migrationsFS.
func NewPostgres(ctx context.Context, dsn string, migrationsFS fs.FS, logger *slog.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	db := &Postgres{pool: pool, logger: logger}
	if err := db.RunMigrations(ctx, migrationsFS); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// Pool returns the underlying connection pool for tests and tooling.
func (db *Postgres) Pool() *pgxpool.Pool {
	return db.pool
}

// Name identifies the backend in health output.
func (db *Postgres) Name() string {
	return "postgres"
}

// Ping checks connectivity to the database.
func (db *Postgres) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *Postgres) Close(_ context.Context) {
	db.pool.Close()
}

// RegisterPoolMetrics exposes pool saturation as OTEL observable gauges.
// Call after telemetry.Init so the global meter provider is in place.
func (db *Postgres) RegisterPoolMetrics() {
	meter := telemetry.Meter("kairo/storage")
	acquired, _ := meter.Int64ObservableGauge("kairo.db.pool.acquired_conns",
		metric.WithDescription("Connections currently checked out of the pool"))
	idle, _ := meter.Int64ObservableGauge("kairo.db.pool.idle_conns",
		metric.WithDescription("Idle connections held by the pool"))
	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := db.pool.Stat()
		o.ObserveInt64(acquired, int64(stat.AcquiredConns()))
		o.ObserveInt64(idle, int64(stat.IdleConns()))
		return nil
	}, acquired, idle)
	if err != nil {
		db.logger.Warn("storage: register pool metrics", "error", err)
	}
}

// RunMigrations executes unapplied SQL migration files from the provided filesystem in order.
// It tracks applied migrations in a schema_migrations table to ensure each file runs at most once.
func (db *Postgres) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	rows, err := db.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	pending, err := pendingMigrations(migrationsFS, applied)
	if err != nil {
		return err
	}
	for _, m := range pending {
		db.logger.Info("running migration", "backend", "postgres", "file", m.name)
		if _, err := db.pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("storage: execute migration %s: %w", m.name, err)
		}
		if _, err := db.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, m.name,
		); err != nil {
			return fmt.Errorf("storage: record migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Append inserts rec at the end of the log and returns its id.
func (db *Postgres) Append(ctx context.Context, rec model.DecisionRecord) (string, error) {
	rec, ctxJSON, err := prepareRecord(rec)
	if err != nil {
		return "", err
	}
	err = WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO decision_records (
			     id, recorded_at, action_type, actor, playbook_id,
			     confidence, outcome, impact, context, parent_id
			 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`,
			rec.ID, rec.Timestamp, rec.ActionType, rec.Actor, rec.PlaybookID,
			rec.Confidence, string(rec.Outcome), rec.Impact, string(ctxJSON), rec.ParentID,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("storage: append decision record: %w", err)
	}
	return rec.ID, nil
}

// ListRecent returns up to limit decodable records, newest first.
func (db *Postgres) ListRecent(ctx context.Context, limit int) ([]model.DecisionRecord, error) {
	return collectRecent(ctx, limit, db.logger, db.page)
}

func (db *Postgres) page(ctx context.Context, before int64, n int) ([]recordRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT seq, id, recorded_at, action_type, actor, playbook_id,
		        confidence, outcome, impact, context::text, parent_id
		 FROM decision_records
		 WHERE seq < $1
		 ORDER BY seq DESC
		 LIMIT $2`, before, n,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list decision records: %w", err)
	}
	defer rows.Close()

	var out []recordRow
	for rows.Next() {
		var (
			r          recordRow
			recordedAt time.Time
			ctxText    string
		)
		if err := rows.Scan(
			&r.seq, &r.id, &recordedAt, &r.actionType, &r.actor, &r.playbookID,
			&r.confidence, &r.outcome, &r.impact, &ctxText, &r.parentID,
		); err != nil {
			return nil, fmt.Errorf("storage: scan decision record: %w", err)
		}
		r.recordedAt = formatTimestamp(recordedAt)
		r.contextJSON = []byte(ctxText)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list decision records: %w", err)
	}
	return out, nil
}

// ReadTuning returns the stored tuning config.
func (db *Postgres) ReadTuning(ctx context.Context) (model.TuningConfig, error) {
	var (
		r         tuningRow
		lastTuned *time.Time
	)
	err := db.pool.QueryRow(ctx,
		`SELECT confidence_threshold, aggressiveness, success_rate, last_tuned
		 FROM tuning_config WHERE id = 1`,
	).Scan(&r.threshold, &r.aggressiveness, &r.successRate, &lastTuned)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TuningConfig{}, ErrNotFound
	}
	if err != nil {
		return model.TuningConfig{}, fmt.Errorf("storage: read tuning: %w", err)
	}
	if lastTuned != nil {
		r.lastTuned = sql.NullString{String: formatTimestamp(*lastTuned), Valid: true}
	}
	return r.decode()
}

// WriteTuning replaces the stored config inside one transaction, so
// concurrent readers observe either the previous row or the new one.
func (db *Postgres) WriteTuning(ctx context.Context, cfg model.TuningConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("storage: write tuning: %w", err)
	}
	err := WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				`INSERT INTO tuning_config (id, confidence_threshold, aggressiveness, success_rate, last_tuned)
				 VALUES (1, $1, $2, $3, $4)
				 ON CONFLICT (id) DO UPDATE SET
				     confidence_threshold = EXCLUDED.confidence_threshold,
				     aggressiveness = EXCLUDED.aggressiveness,
				     success_rate = EXCLUDED.success_rate,
				     last_tuned = EXCLUDED.last_tuned`,
				cfg.ConfidenceThreshold, cfg.Aggressiveness, cfg.SuccessRate, cfg.LastTuned.UTC(),
			)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("storage: write tuning: %w", err)
	}
	return nil
}

// retuneLockKey is the advisory lock id guarding retunes.
const retuneLockKey int64 = 0x6b6169726f

// AcquireRetuneLease takes a session-level advisory lock on a dedicated
// connection. The lock dies with the session, so a crashed holder never
// blocks later retunes.
func (db *Postgres) AcquireRetuneLease(ctx context.Context) (func(), bool, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("storage: acquire retune lease: %w", err)
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, retuneLockKey).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("storage: acquire retune lease: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}
	release := func() {
		ctx := context.Background()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, retuneLockKey); err != nil {
			// Closing the session drops the lock; the pooled conn must not keep it.
			db.logger.Warn("storage: release retune lease", "error", err)
			_ = conn.Hijack().Close(ctx)
			return
		}
		conn.Release()
	}
	return release, true, nil
}
