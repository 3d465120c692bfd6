package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/kairo-hq/kairo/internal/model"
)

// SQLite is the embedded storage backend. Writes are serialized through a
// single connection; WAL journaling lets readers proceed alongside them.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrationsFS. Use ":memory:" only in tests that never reopen the store.
func OpenSQLite(ctx context.Context, path string, migrationsFS fs.FS, logger *slog.Logger) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("storage: create sqlite dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}

	s := &SQLite{db: db, logger: logger}
	if err := s.RunMigrations(ctx, migrationsFS); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle for tests and maintenance tooling.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Name identifies the backend in health output.
func (s *SQLite) Name() string {
	return "sqlite"
}

// Ping checks connectivity to the database.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLite) Close(_ context.Context) {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("storage: close sqlite", "error", err)
	}
}

// RunMigrations executes unapplied SQL migration files in order.
func (s *SQLite) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("storage: load applied migrations: %w", err)
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}

	pending, err := pendingMigrations(migrationsFS, applied)
	if err != nil {
		return err
	}
	for _, m := range pending {
		s.logger.Info("running migration", "backend", "sqlite", "file", m.name)
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("storage: execute migration %s: %w", m.name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)`, m.name,
		); err != nil {
			return fmt.Errorf("storage: record migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Append inserts rec at the end of the log and returns its id.
func (s *SQLite) Append(ctx context.Context, rec model.DecisionRecord) (string, error) {
	rec, ctxJSON, err := prepareRecord(rec)
	if err != nil {
		return "", err
	}
	err = WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO decision_records (
			     id, recorded_at, action_type, actor, playbook_id,
			     confidence, outcome, impact, context_json, parent_id
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, formatTimestamp(rec.Timestamp), rec.ActionType, rec.Actor, stringPtrArg(rec.PlaybookID),
			rec.Confidence, string(rec.Outcome), stringPtrArg(rec.Impact), string(ctxJSON), stringPtrArg(rec.ParentID),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("storage: append decision record: %w", err)
	}
	return rec.ID, nil
}

// ListRecent returns up to limit decodable records, newest first.
func (s *SQLite) ListRecent(ctx context.Context, limit int) ([]model.DecisionRecord, error) {
	return collectRecent(ctx, limit, s.logger, s.page)
}

func (s *SQLite) page(ctx context.Context, before int64, n int) ([]recordRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, recorded_at, action_type, actor, playbook_id,
		        confidence, outcome, impact, context_json, parent_id
		 FROM decision_records
		 WHERE seq < ?
		 ORDER BY seq DESC
		 LIMIT ?`, before, n,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list decision records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// SQLite columns are dynamically typed, so everything except seq is
	// scanned loosely and checked in decode. A row holding the wrong types
	// must be skipped, not abort the listing.
	var out []recordRow
	for rows.Next() {
		var (
			r                                 recordRow
			id, recordedAt, actionType, actor sql.NullString
			outcome, ctxText                  sql.NullString
			confidence                        any
		)
		if err := rows.Scan(
			&r.seq, &id, &recordedAt, &actionType, &actor, &r.playbookID,
			&confidence, &outcome, &r.impact, &ctxText, &r.parentID,
		); err != nil {
			return nil, fmt.Errorf("storage: scan decision record: %w", err)
		}
		r.id, r.recordedAt, r.actionType, r.actor = id.String, recordedAt.String, actionType.String, actor.String
		r.outcome = outcome.String
		r.contextJSON = []byte(ctxText.String)
		r.confidence = looseFloat(confidence)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list decision records: %w", err)
	}
	return out, nil
}

// ReadTuning returns the stored tuning config.
func (s *SQLite) ReadTuning(ctx context.Context) (model.TuningConfig, error) {
	var r tuningRow
	err := s.db.QueryRowContext(ctx,
		`SELECT confidence_threshold, aggressiveness, success_rate, last_tuned
		 FROM tuning_config WHERE id = 1`,
	).Scan(&r.threshold, &r.aggressiveness, &r.successRate, &r.lastTuned)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TuningConfig{}, ErrNotFound
	}
	if err != nil {
		return model.TuningConfig{}, fmt.Errorf("storage: read tuning: %w", err)
	}
	return r.decode()
}

// WriteTuning replaces the stored config with a single upsert statement, so
// concurrent readers observe either the previous row or the new one.
func (s *SQLite) WriteTuning(ctx context.Context, cfg model.TuningConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("storage: write tuning: %w", err)
	}
	err := WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tuning_config (id, confidence_threshold, aggressiveness, success_rate, last_tuned)
			 VALUES (1, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			     confidence_threshold = excluded.confidence_threshold,
			     aggressiveness = excluded.aggressiveness,
			     success_rate = excluded.success_rate,
			     last_tuned = excluded.last_tuned`,
			cfg.ConfidenceThreshold, cfg.Aggressiveness, cfg.SuccessRate, formatTimestamp(cfg.LastTuned),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: write tuning: %w", err)
	}
	return nil
}

// retuneLeaseTTL bounds how long a crashed holder can block retunes.
const retuneLeaseTTL = 5 * time.Minute

// AcquireRetuneLease claims the single lease row with one upsert that only
// overwrites an expired lease, so two processes on the same file cannot
// both succeed.
func (s *SQLite) AcquireRetuneLease(ctx context.Context) (func(), bool, error) {
	holder := uuid.NewString()
	now := time.Now()
	var claimed int64
	err := WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO retune_lease (id, holder, expires_at) VALUES (1, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			     holder = excluded.holder,
			     expires_at = excluded.expires_at
			 WHERE retune_lease.expires_at <= ?`,
			holder, now.Add(retuneLeaseTTL).UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return err
		}
		claimed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("storage: acquire retune lease: %w", err)
	}
	if claimed == 0 {
		return nil, false, nil
	}
	release := func() {
		if _, err := s.db.ExecContext(context.Background(),
			`DELETE FROM retune_lease WHERE id = 1 AND holder = ?`, holder,
		); err != nil {
			s.logger.Warn("storage: release retune lease", "error", err)
		}
	}
	return release, true, nil
}
