package storage

import (
	"context"
	"log/slog"
	"math"

	"github.com/kairo-hq/kairo/internal/model"
)

// pageFunc returns up to n raw rows with seq < before, ordered by seq descending.
type pageFunc func(ctx context.Context, before int64, n int) ([]recordRow, error)

// collectRecent pages backwards through the append sequence until limit
// decodable records are collected or the log is exhausted. Malformed rows
// are logged and skipped, so a corrupt entry never shortens the window:
// the result is what the log would return with that row removed.
func collectRecent(ctx context.Context, limit int, logger *slog.Logger, page pageFunc) ([]model.DecisionRecord, error) {
	limit = clampLimit(limit)
	out := make([]model.DecisionRecord, 0, limit)
	before := int64(math.MaxInt64)

	for len(out) < limit {
		want := limit - len(out)
		rows, err := page(ctx, before, want)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			before = row.seq
			rec, err := row.decode()
			if err != nil {
				logger.Warn("storage: skipping malformed decision record", "seq", row.seq, "error", err)
				continue
			}
			out = append(out, rec)
		}
		if len(rows) < want {
			break
		}
	}
	return out, nil
}
