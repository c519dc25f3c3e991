package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/veranda-app/veranda/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collConversations = "conversations"
	collTurns         = "turns"
	collProfiles      = "profiles"
	collMemories      = "memories"
)

// firestoreRepo implements Repository using Firestore. Turns live in a
// subcollection of their conversation so the metadata document stays small.
type firestoreRepo struct {
	client *firestore.Client
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseName string) (Repository, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client")
	}

	return &firestoreRepo{client: client}, nil
}

func (r *firestoreRepo) Close() error {
	return r.client.Close()
}

type conversationDoc struct {
	OwnerID     string
	Title       string
	MentalState string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type turnDoc struct {
	Role      string
	Content   string
	Timestamp time.Time
}

type profileDoc struct {
	DisplayName    string
	CoreMemory     string
	Persona        string
	TopicBlacklist []string
	UpdatedAt      time.Time
}

type memoryDoc struct {
	OwnerID      string
	Text         string
	Embedding    firestore.Vector32
	ModelVersion string
	CreatedAt    time.Time
}

func (r *firestoreRepo) convRef(id model.ConversationID) *firestore.DocumentRef {
	return r.client.Collection(collConversations).Doc(string(id))
}

func (r *firestoreRepo) PutConversation(ctx context.Context, conv *model.Conversation) error {
	doc := &conversationDoc{
		OwnerID:     string(conv.OwnerID),
		Title:       conv.Title,
		MentalState: string(conv.MentalState),
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   conv.UpdatedAt,
	}
	if _, err := r.convRef(conv.ID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put conversation", goerr.V("id", conv.ID))
	}
	return nil
}

func (r *firestoreRepo) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	snap, err := r.convRef(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrConversationNotFound, "no such document", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V("id", id))
	}

	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode conversation", goerr.V("id", id))
	}

	return &model.Conversation{
		ID:          id,
		OwnerID:     model.OwnerID(doc.OwnerID),
		Title:       doc.Title,
		MentalState: model.MentalState(doc.MentalState),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

func (r *firestoreRepo) ListConversations(ctx context.Context, ownerID model.OwnerID) ([]*model.Conversation, error) {
	iter := r.client.Collection(collConversations).
		Where("OwnerID", "==", string(ownerID)).
		OrderBy("UpdatedAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var convs []*model.Conversation
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list conversations")
		}

		var doc conversationDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode conversation", goerr.V("id", snap.Ref.ID))
		}
		convs = append(convs, &model.Conversation{
			ID:          model.ConversationID(snap.Ref.ID),
			OwnerID:     model.OwnerID(doc.OwnerID),
			Title:       doc.Title,
			MentalState: model.MentalState(doc.MentalState),
			CreatedAt:   doc.CreatedAt,
			UpdatedAt:   doc.UpdatedAt,
		})
	}

	return convs, nil
}

// checkOwner verifies the conversation exists and belongs to ownerID.
// A conversation owned by someone else is reported as not found.
func (r *firestoreRepo) checkOwner(ctx context.Context, ownerID model.OwnerID, id model.ConversationID) error {
	conv, err := r.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv.OwnerID != ownerID {
		return goerr.Wrap(ErrConversationNotFound, "owner mismatch", goerr.V("id", id))
	}
	return nil
}

func (r *firestoreRepo) RenameConversation(ctx context.Context, ownerID model.OwnerID, id model.ConversationID, title string) error {
	if err := r.checkOwner(ctx, ownerID, id); err != nil {
		return err
	}
	_, err := r.convRef(id).Update(ctx, []firestore.Update{
		{Path: "Title", Value: title},
	})
	if err != nil {
		return goerr.Wrap(err, "failed to rename conversation", goerr.V("id", id))
	}
	return nil
}

func (r *firestoreRepo) DeleteConversation(ctx context.Context, ownerID model.OwnerID, id model.ConversationID) error {
	if err := r.checkOwner(ctx, ownerID, id); err != nil {
		return err
	}

	// Subcollection documents are not deleted with their parent.
	iter := r.convRef(id).Collection(collTurns).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to iterate turns", goerr.V("id", id))
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return goerr.Wrap(err, "failed to delete turn", goerr.V("id", id))
		}
	}

	if _, err := r.convRef(id).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete conversation", goerr.V("id", id))
	}
	return nil
}

// AppendTurn creates the turn document and advances the conversation's
// UpdatedAt in one transaction: the turn log and the metadata document
// must never disagree.
func (r *firestoreRepo) AppendTurn(ctx context.Context, id model.ConversationID, turn model.Turn) error {
	doc := &turnDoc{
		Role:      string(turn.Role),
		Content:   turn.Content,
		Timestamp: turn.Timestamp,
	}

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		turnRef := r.convRef(id).Collection(collTurns).NewDoc()
		if err := tx.Create(turnRef, doc); err != nil {
			return err
		}
		return tx.Update(r.convRef(id), []firestore.Update{
			{Path: "UpdatedAt", Value: turn.Timestamp},
		})
	})
	if err != nil {
		return goerr.Wrap(err, "failed to append turn", goerr.V("id", id))
	}
	return nil
}

func (r *firestoreRepo) GetRecentTurns(ctx context.Context, id model.ConversationID, n int) ([]model.Turn, error) {
	iter := r.convRef(id).Collection(collTurns).
		OrderBy("Timestamp", firestore.Desc).
		Limit(n).
		Documents(ctx)
	defer iter.Stop()

	var turns []model.Turn
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get recent turns", goerr.V("id", id))
		}

		var doc turnDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode turn", goerr.V("id", id))
		}
		turns = append(turns, model.Turn{
			Role:      model.Role(doc.Role),
			Content:   doc.Content,
			Timestamp: doc.Timestamp,
		})
	}

	// Gathered newest first; callers expect chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (r *firestoreRepo) GetState(ctx context.Context, id model.ConversationID) (model.MentalState, error) {
	conv, err := r.GetConversation(ctx, id)
	if err != nil {
		return "", err
	}
	return conv.MentalState, nil
}

func (r *firestoreRepo) SetState(ctx context.Context, id model.ConversationID, state model.MentalState) error {
	_, err := r.convRef(id).Update(ctx, []firestore.Update{
		{Path: "MentalState", Value: string(state)},
	})
	if err != nil {
		return goerr.Wrap(err, "failed to set state", goerr.V("id", id), goerr.V("state", state))
	}
	return nil
}

func (r *firestoreRepo) GetProfile(ctx context.Context, ownerID model.OwnerID) (*model.Profile, error) {
	snap, err := r.client.Collection(collProfiles).Doc(string(ownerID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrProfileNotFound, "no such document", goerr.V("owner_id", ownerID))
		}
		return nil, goerr.Wrap(err, "failed to get profile", goerr.V("owner_id", ownerID))
	}

	var doc profileDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode profile", goerr.V("owner_id", ownerID))
	}

	return &model.Profile{
		OwnerID:        ownerID,
		DisplayName:    doc.DisplayName,
		CoreMemory:     doc.CoreMemory,
		Persona:        doc.Persona,
		TopicBlacklist: doc.TopicBlacklist,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}

func (r *firestoreRepo) PutProfile(ctx context.Context, profile *model.Profile) error {
	doc := &profileDoc{
		DisplayName:    profile.DisplayName,
		CoreMemory:     profile.CoreMemory,
		Persona:        profile.Persona,
		TopicBlacklist: profile.TopicBlacklist,
		UpdatedAt:      profile.UpdatedAt,
	}
	if _, err := r.client.Collection(collProfiles).Doc(string(profile.OwnerID)).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put profile", goerr.V("owner_id", profile.OwnerID))
	}
	return nil
}

func (r *firestoreRepo) UpdateCoreMemoryField(ctx context.Context, ownerID model.OwnerID, newFacts string) error {
	_, err := r.client.Collection(collProfiles).Doc(string(ownerID)).Update(ctx, []firestore.Update{
		{Path: "CoreMemory", Value: newFacts},
		{Path: "UpdatedAt", Value: time.Now()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(ErrProfileNotFound, "no such document", goerr.V("owner_id", ownerID))
		}
		return goerr.Wrap(err, "failed to update core memory", goerr.V("owner_id", ownerID))
	}
	return nil
}

func (r *firestoreRepo) PutMemory(ctx context.Context, record *model.MemoryRecord) error {
	doc := &memoryDoc{
		OwnerID:      string(record.OwnerID),
		Text:         record.Text,
		Embedding:    firestore.Vector32(record.Embedding),
		ModelVersion: record.ModelVersion,
		CreatedAt:    record.CreatedAt,
	}
	if _, err := r.client.Collection(collMemories).Doc(string(record.ID)).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put memory", goerr.V("id", record.ID))
	}
	return nil
}

func (r *firestoreRepo) ListMemories(ctx context.Context, ownerID model.OwnerID) ([]*model.MemoryRecord, error) {
	iter := r.client.Collection(collMemories).
		Where("OwnerID", "==", string(ownerID)).
		OrderBy("CreatedAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var records []*model.MemoryRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list memories", goerr.V("owner_id", ownerID))
		}

		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory", goerr.V("id", snap.Ref.ID))
		}
		records = append(records, &model.MemoryRecord{
			ID:           model.MemoryID(snap.Ref.ID),
			OwnerID:      ownerID,
			Text:         doc.Text,
			Embedding:    []float32(doc.Embedding),
			ModelVersion: doc.ModelVersion,
			CreatedAt:    doc.CreatedAt,
		})
	}

	return records, nil
}

func (r *firestoreRepo) DeleteMemory(ctx context.Context, ownerID model.OwnerID, id model.MemoryID) error {
	ref := r.client.Collection(collMemories).Doc(string(id))
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(ErrMemoryNotFound, "no such document", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to get memory", goerr.V("id", id))
	}

	var doc memoryDoc
	if err := snap.DataTo(&doc); err != nil {
		return goerr.Wrap(err, "failed to decode memory", goerr.V("id", id))
	}
	if doc.OwnerID != string(ownerID) {
		return goerr.Wrap(ErrMemoryNotFound, "owner mismatch", goerr.V("id", id))
	}

	if _, err := ref.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete memory", goerr.V("id", id))
	}
	return nil
}
