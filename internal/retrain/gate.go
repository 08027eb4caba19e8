package retrain

import (
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
)

// Reason explains a gate decision
type Reason string

const (
	ReasonForced              Reason = "forced"
	ReasonCriticalHealth      Reason = "critical_health"
	ReasonConditionsMet       Reason = "conditions_met"
	ReasonTooSoon             Reason = "too_soon"
	ReasonInsufficientSamples Reason = "insufficient_samples"
)

// GateConfig holds the time and sample thresholds
type GateConfig struct {
	Interval      time.Duration
	MinNewSamples int
}

// DefaultGateConfig returns a 7 day interval and 100 new samples
func DefaultGateConfig() GateConfig {
	return GateConfig{Interval: 7 * 24 * time.Hour, MinNewSamples: 100}
}

// Decision is the outcome of evaluating the gate
type Decision struct {
	Retrain    bool                    `json:"retrain"`
	Reason     Reason                  `json:"reason"`
	Elapsed    time.Duration           `json:"elapsed"`
	NewSamples int                     `json:"newSamples"`
	Health     monitoring.HealthStatus `json:"health"`
	Forced     bool                    `json:"forced"`
	FirstRun   bool                    `json:"firstRun"`
}

// Gate decides whether the conditions for retraining hold
type Gate struct {
	config GateConfig
}

// NewGate creates a gate
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate applies the gate. Force and critical health bypass both the time
// and sample gates. A nil state means no attempt has completed, which
// satisfies the time gate.
func (g *Gate) Evaluate(now time.Time, state *State, newSamples int, health monitoring.HealthStatus, force bool) Decision {
	d := Decision{
		NewSamples: newSamples,
		Health:     health,
		Forced:     force,
		FirstRun:   state == nil,
	}
	if state != nil {
		d.Elapsed = now.Sub(state.Time())
	}

	switch {
	case force:
		d.Retrain, d.Reason = true, ReasonForced
	case health == monitoring.HealthCritical:
		d.Retrain, d.Reason = true, ReasonCriticalHealth
	case state != nil && d.Elapsed < g.config.Interval:
		d.Reason = ReasonTooSoon
	case newSamples < g.config.MinNewSamples:
		d.Reason = ReasonInsufficientSamples
	default:
		d.Retrain, d.Reason = true, ReasonConditionsMet
	}
	return d
}
