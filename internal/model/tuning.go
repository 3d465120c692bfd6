package model

import (
	"fmt"
	"math"
	"time"
)

// Defaults substituted whenever the stored tuning config is missing or invalid.
const (
	DefaultConfidenceThreshold = 0.85
	DefaultAggressiveness      = 0.7
	DefaultSuccessRate         = 0.5
)

// TuningConfig is the current snapshot of gate parameters. Written only by
// the self-tuner; read on every decide call.
type TuningConfig struct {
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	Aggressiveness      float64   `json:"aggressiveness"`
	SuccessRate         float64   `json:"success_rate"`
	LastTuned           time.Time `json:"last_tuned"`
}

// DefaultTuning returns the hardcoded fallback config. LastTuned is zero
// because the defaults were never computed from history.
func DefaultTuning() TuningConfig {
	return TuningConfig{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		Aggressiveness:      DefaultAggressiveness,
		SuccessRate:         DefaultSuccessRate,
	}
}

// Validate reports whether every field is present and within range.
func (c TuningConfig) Validate() error {
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within (0, 1], got %v", c.ConfidenceThreshold)
	}
	if math.IsNaN(c.Aggressiveness) || c.Aggressiveness < 0 || c.Aggressiveness > 1 {
		return fmt.Errorf("aggressiveness must be within [0, 1], got %v", c.Aggressiveness)
	}
	if math.IsNaN(c.SuccessRate) || c.SuccessRate < 0 || c.SuccessRate > 1 {
		return fmt.Errorf("success_rate must be within [0, 1], got %v", c.SuccessRate)
	}
	if c.LastTuned.IsZero() {
		return fmt.Errorf("last_tuned is required")
	}
	return nil
}

// Temperature is the exploration scalar sent with each reasoning request.
func (c TuningConfig) Temperature() float64 {
	return c.Aggressiveness * 0.3
}

// Guidance renders the tuning state as advice embedded in the reasoning prompt.
func (c TuningConfig) Guidance() string {
	switch {
	case c.SuccessRate > 0.8:
		return "Recent playbook executions have mostly succeeded: be more aggressive in recommending execution."
	case c.SuccessRate < 0.6:
		return "Recent playbook executions have often failed: be conservative and only recommend execution when clearly warranted."
	default:
		return "Recent playbook executions are mixed: take a balanced approach."
	}
}
