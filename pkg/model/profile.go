package model

import "time"

// ChatMode selects how the companion behaves for a turn.
type ChatMode string

const (
	ModeTalking   ChatMode = "talking"
	ModeListening ChatMode = "listening"
)

// Profile is the owner-level context consumed by the orchestrator. It is
// owned by the account subsystem; this core only reads it, except for
// CoreMemory which the memory-directive path may replace via
// UpdateCoreMemoryField.
type Profile struct {
	OwnerID        OwnerID
	DisplayName    string
	CoreMemory     string // rolling long-form context summary
	Persona        string
	TopicBlacklist []string
	UpdatedAt      time.Time
}
