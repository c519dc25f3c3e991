package model

// Risk is the triage verdict for an inbound message.
type Risk string

const (
	RiskHigh   Risk = "HIGH"
	RiskMedium Risk = "MEDIUM"
	RiskLow    Risk = "LOW"
	RiskSafe   Risk = "SAFE"
)

// Valid reports whether r is a known risk level.
func (r Risk) Valid() bool {
	switch r {
	case RiskHigh, RiskMedium, RiskLow, RiskSafe:
		return true
	}
	return false
}

// TriageVerdict is the per-message risk/affect judgment. It is transient:
// computed once per inbound message, consumed by the state machine and the
// orchestrator, never persisted.
type TriageVerdict struct {
	Risk    Risk
	Valence float64 // [-1, 1]
	Arousal float64 // [0, 1]
	Emotion string
	Somatic MentalState
}
