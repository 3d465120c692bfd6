// Package storage persists the decision audit trail and the current tuning
// config.
//
// Two backends implement the same contracts: SQLite (modernc.org/sqlite,
// embedded, the default) and PostgreSQL (pgxpool). Both keep decision records
// in a single append-only table ordered by an autoincrement sequence, so
// concurrent writers can never clobber each other, and keep the tuning
// config in a single-row table replaced by one atomic upsert.
package storage

import (
	"context"

	"github.com/kairo-hq/kairo/internal/model"
)

// AuditLog is the append-only decision trail.
type AuditLog interface {
	// Append validates and stores rec, assigning an id when rec.ID is empty.
	// Returns the stored id.
	Append(ctx context.Context, rec model.DecisionRecord) (string, error)

	// ListRecent returns up to limit records, newest first. Rows that cannot
	// be decoded into a valid record are skipped, never returned as errors.
	ListRecent(ctx context.Context, limit int) ([]model.DecisionRecord, error)
}

// TuningStore holds the single current tuning config.
type TuningStore interface {
	// ReadTuning returns the stored config, ErrNotFound when none was ever
	// written, or ErrMalformed when the stored row is incomplete.
	ReadTuning(ctx context.Context) (model.TuningConfig, error)

	// WriteTuning atomically replaces the stored config.
	WriteTuning(ctx context.Context, cfg model.TuningConfig) error
}

// RetuneLease serializes retunes across every process sharing one store.
type RetuneLease interface {
	// AcquireRetuneLease takes the lease without waiting. acquired is false
	// when another holder has it. When acquired, release must be called
	// exactly once.
	AcquireRetuneLease(ctx context.Context) (release func(), acquired bool, err error)
}

// Store is a complete storage backend.
type Store interface {
	AuditLog
	TuningStore
	RetuneLease
	Ping(ctx context.Context) error
	Close(ctx context.Context)
	Name() string
}

// List limits for ListRecent.
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
