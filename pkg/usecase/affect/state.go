// Package affect maintains the per-conversation somatic state machine.
//
// The state is deliberately sticky: one calm message must not flip a PANIC
// conversation back to baseline, and one tense message must not flip a calm
// one. Recovery happens only through the explicit regulation transition.
package affect

import "github.com/veranda-app/veranda/pkg/model"

// RegulationThreshold is the arousal level below which a PANIC
// conversation is considered to have settled.
const RegulationThreshold = 0.4

// Next applies one triage verdict to the current state and returns the new
// state. Pure function; persistence is the caller's concern.
func Next(current model.MentalState, verdict *model.TriageVerdict) model.MentalState {
	if !current.Valid() {
		current = model.StateIdle
	}
	if verdict == nil {
		return current
	}

	if current == model.StatePanic && verdict.Arousal < RegulationThreshold {
		return model.StateRegulated
	}

	if verdict.Somatic.Valid() && verdict.Somatic != model.StateIdle {
		return verdict.Somatic
	}

	return current
}
