package tuner

import (
	"math"
	"strings"
	"time"

	"github.com/kairo-hq/kairo/internal/model"
)

// Step bounds and targets.
const (
	StepSize     = 0.05
	MinThreshold = 0.05
	MaxThreshold = 1.0
	// The threshold target moves from 0.95 at 0% success to 0.75 at 100%.
	thresholdAtZero = 0.95
	thresholdSpan   = 0.2
)

// ImpactClassifier reports whether an executed playbook's impact counts as
// a success.
type ImpactClassifier func(impact string) bool

var negativeImpacts = map[string]bool{
	"negative":   true,
	"failed":     true,
	"failure":    true,
	"harmful":    true,
	"regression": true,
	"worse":      true,
}

// DefaultImpactClassifier accepts any non-empty impact that is not one of a
// small set of negative verdicts (case-insensitive).
func DefaultImpactClassifier(impact string) bool {
	v := strings.ToLower(strings.TrimSpace(impact))
	return v != "" && !negativeImpacts[v]
}

// Stats summarizes one audit window.
type Stats struct {
	Chains      int
	Successful  int
	Skipped     int // records failing validation
	Orphaned    int // records whose chain root is not in the window
	SuccessRate float64
}

// Measure groups the window into decision chains and computes the fraction
// of chains whose latest outcome is executed with a positive impact. A chain
// is a record without a parent plus every record whose parent links lead
// back to it, however many hops. Records whose links leave the window are
// not counted: the window only judges decisions it contains. Records that
// fail validation are skipped. An empty window yields the neutral default
// rate.
func Measure(window []model.DecisionRecord, classify ImpactClassifier) Stats {
	if classify == nil {
		classify = DefaultImpactClassifier
	}

	var (
		stats Stats
		valid = make([]model.DecisionRecord, 0, len(window))
		byID  = make(map[string]model.DecisionRecord, len(window))
	)
	for _, rec := range window {
		if err := rec.Validate(); err != nil || rec.ID == "" {
			stats.Skipped++
			continue
		}
		byID[rec.ID] = rec
		valid = append(valid, rec)
	}

	latest := make(map[string]model.DecisionRecord)
	var order []string
	for _, rec := range valid {
		root, ok := rootOf(rec, byID)
		if !ok {
			stats.Orphaned++
			continue
		}
		cur, seen := latest[root]
		if !seen {
			order = append(order, root)
			latest[root] = rec
			continue
		}
		if supersedes(rec, cur) {
			latest[root] = rec
		}
	}

	stats.Chains = len(order)
	for _, root := range order {
		rec := latest[root]
		if rec.Outcome != model.OutcomeExecuted {
			continue
		}
		impact := ""
		if rec.Impact != nil {
			impact = *rec.Impact
		}
		if classify(impact) {
			stats.Successful++
		}
	}

	if stats.Chains == 0 {
		stats.SuccessRate = model.DefaultSuccessRate
	} else {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Chains)
	}
	return stats
}

// rootOf follows parent links through byID to the record that starts the
// chain. It reports false when a link points outside the window or the
// links form a cycle.
func rootOf(rec model.DecisionRecord, byID map[string]model.DecisionRecord) (string, bool) {
	for range len(byID) + 1 {
		parent, linked := rec.Parent()
		if !linked {
			return rec.ID, true
		}
		next, ok := byID[parent]
		if !ok {
			return "", false
		}
		rec = next
	}
	return "", false
}

// supersedes reports whether a should replace b as its chain's latest
// state. Terminal outcomes beat pending ones, so a chain never moves back
// to pending; otherwise the later timestamp wins.
func supersedes(a, b model.DecisionRecord) bool {
	if a.Outcome.Terminal() != b.Outcome.Terminal() {
		return a.Outcome.Terminal()
	}
	return a.Timestamp.After(b.Timestamp)
}

// Step moves current one bounded step toward the targets implied by
// successRate. Aggressiveness targets successRate itself; the threshold
// targets 0.95 - 0.2*successRate. Both moves are monotonic in successRate
// and the results are clamped to their valid ranges.
func Step(current model.TuningConfig, successRate float64, now time.Time) model.TuningConfig {
	rate := clamp(successRate, 0, 1)
	return model.TuningConfig{
		ConfidenceThreshold: clamp(approach(current.ConfidenceThreshold, thresholdAtZero-thresholdSpan*rate, StepSize), MinThreshold, MaxThreshold),
		Aggressiveness:      clamp(approach(current.Aggressiveness, rate, StepSize), 0, 1),
		SuccessRate:         rate,
		LastTuned:           now.UTC(),
	}
}

// approach moves from toward target by at most step.
func approach(from, target, step float64) float64 {
	if math.IsNaN(from) {
		return target
	}
	d := target - from
	switch {
	case d > step:
		return from + step
	case d < -step:
		return from - step
	default:
		return target
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
