// Package gate decides whether a recommendation may run without a human.
//
// The applied threshold depends only on the mode: the tuned
// confidence_threshold is carried alongside as metadata and never changes
// the verdict. Confidence is compared as given, so values above 1 always
// pass and values below 0 always fail.
package gate

import "github.com/kairo-hq/kairo/internal/model"

// Mode thresholds.
const (
	AutoThreshold   = 0.85
	ManualThreshold = 0.95
)

// Result is the verdict of Evaluate.
type Result struct {
	ShouldExecute    bool    `json:"should_execute"`
	AppliedThreshold float64 `json:"applied_threshold"`
}

// Threshold returns the fixed threshold for mode. Unknown modes get the
// manual threshold.
func Threshold(mode model.Mode) float64 {
	if mode == model.ModeAuto {
		return AutoThreshold
	}
	return ManualThreshold
}

// Evaluate is pure: identical inputs always give identical results.
func Evaluate(rec model.ParsedRecommendation, _ model.TuningConfig, mode model.Mode) Result {
	threshold := Threshold(mode)
	return Result{
		ShouldExecute:    rec.Recommends() && rec.Confidence >= threshold,
		AppliedThreshold: threshold,
	}
}
