package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/veranda-app/veranda/pkg/model"
)

var (
	ErrConversationNotFound = goerr.New("conversation not found")
	ErrProfileNotFound      = goerr.New("profile not found")
	ErrMemoryNotFound       = goerr.New("memory not found")
)

// Repository defines the collaborator stores consumed by the turn
// pipeline: conversations with their turn log and affect state, owner
// profiles, and long-term memory records.
//
// Every owner-scoped read and delete takes the OwnerID explicitly; an
// implementation must never return or remove another owner's data.
type Repository interface {
	// PutConversation saves conversation metadata (not its turns)
	PutConversation(ctx context.Context, conv *model.Conversation) error

	// GetConversation retrieves a conversation without its turn log
	GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error)

	// ListConversations retrieves an owner's conversations, most recently
	// updated first
	ListConversations(ctx context.Context, ownerID model.OwnerID) ([]*model.Conversation, error)

	// RenameConversation updates the title of an owner's conversation
	RenameConversation(ctx context.Context, ownerID model.OwnerID, id model.ConversationID, title string) error

	// DeleteConversation removes an owner's conversation and its turns
	DeleteConversation(ctx context.Context, ownerID model.OwnerID, id model.ConversationID) error

	// AppendTurn appends a turn and advances the conversation's UpdatedAt
	AppendTurn(ctx context.Context, id model.ConversationID, turn model.Turn) error

	// GetRecentTurns retrieves the n most recent turns in chronological order
	GetRecentTurns(ctx context.Context, id model.ConversationID, n int) ([]model.Turn, error)

	// GetState retrieves the conversation's affect state
	GetState(ctx context.Context, id model.ConversationID) (model.MentalState, error)

	// SetState updates the conversation's affect state
	SetState(ctx context.Context, id model.ConversationID, state model.MentalState) error

	// GetProfile retrieves the owner's profile
	GetProfile(ctx context.Context, ownerID model.OwnerID) (*model.Profile, error)

	// PutProfile saves the owner's profile
	PutProfile(ctx context.Context, profile *model.Profile) error

	// UpdateCoreMemoryField replaces the profile's rolling context summary
	UpdateCoreMemoryField(ctx context.Context, ownerID model.OwnerID, newFacts string) error

	// PutMemory saves a memory record
	PutMemory(ctx context.Context, record *model.MemoryRecord) error

	// ListMemories retrieves all memory records of one owner, newest first
	ListMemories(ctx context.Context, ownerID model.OwnerID) ([]*model.MemoryRecord, error)

	// DeleteMemory removes an owner's memory record
	DeleteMemory(ctx context.Context, ownerID model.OwnerID, id model.MemoryID) error

	// Close releases the underlying store
	Close() error
}
