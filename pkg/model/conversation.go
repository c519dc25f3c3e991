package model

import (
	"time"

	"github.com/google/uuid"
)

type ConversationID string

// NewConversationID generates a new unique ConversationID
func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation. Immutable once appended.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// MentalState is the per-conversation affect state. It is sticky: it
// persists across turns and is only mutated through the affect package.
type MentalState string

const (
	StateIdle      MentalState = "IDLE"
	StateFreeze    MentalState = "FREEZE"
	StatePanic     MentalState = "PANIC"
	StateRegulated MentalState = "REGULATED"
)

// Valid reports whether s is one of the four known states.
func (s MentalState) Valid() bool {
	switch s {
	case StateIdle, StateFreeze, StatePanic, StateRegulated:
		return true
	}
	return false
}

// Conversation is an ordered sequence of turns owned by exactly one user.
type Conversation struct {
	ID          ConversationID
	OwnerID     OwnerID
	Title       string
	Turns       []Turn `firestore:"-"`
	MentalState MentalState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const defaultTitle = "Tâm sự mới"

// NewConversation creates a conversation for the given owner. The title is
// derived from the first message so the session list is browsable.
func NewConversation(ownerID OwnerID, firstMessage string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:          NewConversationID(),
		OwnerID:     ownerID,
		Title:       TitleFromMessage(firstMessage),
		MentalState: StateIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

const maxTitleRunes = 40

// TitleFromMessage derives a session title from the opening message.
func TitleFromMessage(message string) string {
	runes := []rune(message)
	if len(runes) == 0 {
		return defaultTitle
	}
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes]) + "…"
	}
	return string(runes)
}
