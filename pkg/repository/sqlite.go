package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/veranda-app/veranda/pkg/model"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    mental_state TEXT NOT NULL DEFAULT 'IDLE',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, updated_at);

CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, timestamp);

CREATE TABLE IF NOT EXISTS profiles (
    owner_id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    core_memory TEXT NOT NULL DEFAULT '',
    persona TEXT NOT NULL DEFAULT '',
    topic_blacklist TEXT NOT NULL DEFAULT '[]',
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding TEXT NOT NULL,
    model_version TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id, created_at);
`

// sqliteRepo implements Repository on a local SQLite database. It exists
// for self-hosted deployments and tests; the production path is Firestore.
// Embeddings are stored as JSON arrays, decoded on read and scored in
// process.
type sqliteRepo struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite repository at dbPath.
// Use ":memory:" for an ephemeral store.
func NewSQLite(dbPath string) (Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", dbPath))
	}

	// One connection keeps :memory: databases coherent and sidesteps
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to initialize sqlite schema")
	}

	return &sqliteRepo{db: db}, nil
}

func (r *sqliteRepo) Close() error {
	return r.db.Close()
}

func (r *sqliteRepo) PutConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, title, mental_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title,
			mental_state = excluded.mental_state, updated_at = excluded.updated_at`,
		string(conv.ID), string(conv.OwnerID), conv.Title, string(conv.MentalState),
		conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return goerr.Wrap(err, "failed to put conversation", goerr.V("id", conv.ID))
	}
	return nil
}

func (r *sqliteRepo) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT owner_id, title, mental_state, created_at, updated_at
		FROM conversations WHERE id = ?`, string(id))

	conv := &model.Conversation{ID: id}
	var ownerID, state string
	if err := row.Scan(&ownerID, &conv.Title, &state, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(ErrConversationNotFound, "no such row", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V("id", id))
	}
	conv.OwnerID = model.OwnerID(ownerID)
	conv.MentalState = model.MentalState(state)
	return conv, nil
}

func (r *sqliteRepo) ListConversations(ctx context.Context, ownerID model.OwnerID) ([]*model.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, mental_state, created_at, updated_at
		FROM conversations WHERE owner_id = ? ORDER BY updated_at DESC`, string(ownerID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		conv := &model.Conversation{OwnerID: ownerID}
		var id, state string
		if err := rows.Scan(&id, &conv.Title, &state, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan conversation")
		}
		conv.ID = model.ConversationID(id)
		conv.MentalState = model.MentalState(state)
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (r *sqliteRepo) RenameConversation(ctx context.Context, ownerID model.OwnerID, id model.ConversationID, title string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET title = ? WHERE id = ? AND owner_id = ?`,
		title, string(id), string(ownerID))
	if err != nil {
		return goerr.Wrap(err, "failed to rename conversation", goerr.V("id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(ErrConversationNotFound, "no matching row", goerr.V("id", id))
	}
	return nil
}

func (r *sqliteRepo) DeleteConversation(ctx context.Context, ownerID model.OwnerID, id model.ConversationID) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE id = ? AND owner_id = ?`,
		string(id), string(ownerID))
	if err != nil {
		return goerr.Wrap(err, "failed to delete conversation", goerr.V("id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(ErrConversationNotFound, "no matching row", goerr.V("id", id))
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, string(id)); err != nil {
		return goerr.Wrap(err, "failed to delete turns", goerr.V("id", id))
	}
	return nil
}

// AppendTurn inserts the turn and advances the conversation's UpdatedAt
// in one transaction: the turn log and the metadata row must never
// disagree.
func (r *sqliteRepo) AppendTurn(ctx context.Context, id model.ConversationID, turn model.Turn) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction", goerr.V("id", id))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		string(id), string(turn.Role), turn.Content, turn.Timestamp); err != nil {
		return goerr.Wrap(err, "failed to append turn", goerr.V("id", id))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?`,
		turn.Timestamp, string(id)); err != nil {
		return goerr.Wrap(err, "failed to advance conversation", goerr.V("id", id))
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit turn", goerr.V("id", id))
	}
	return nil
}

func (r *sqliteRepo) GetRecentTurns(ctx context.Context, id model.ConversationID, n int) ([]model.Turn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT role, content, timestamp FROM turns
		WHERE conversation_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		string(id), n)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get recent turns", goerr.V("id", id))
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var turn model.Turn
		var role string
		if err := rows.Scan(&role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, goerr.Wrap(err, "failed to scan turn")
		}
		turn.Role = model.Role(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate turns")
	}

	// Gathered newest first; callers expect chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (r *sqliteRepo) GetState(ctx context.Context, id model.ConversationID) (model.MentalState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT mental_state FROM conversations WHERE id = ?`, string(id))
	var state string
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", goerr.Wrap(ErrConversationNotFound, "no such row", goerr.V("id", id))
		}
		return "", goerr.Wrap(err, "failed to get state", goerr.V("id", id))
	}
	return model.MentalState(state), nil
}

func (r *sqliteRepo) SetState(ctx context.Context, id model.ConversationID, state model.MentalState) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET mental_state = ? WHERE id = ?`,
		string(state), string(id))
	if err != nil {
		return goerr.Wrap(err, "failed to set state", goerr.V("id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(ErrConversationNotFound, "no matching row", goerr.V("id", id))
	}
	return nil
}

func (r *sqliteRepo) GetProfile(ctx context.Context, ownerID model.OwnerID) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT display_name, core_memory, persona, topic_blacklist, updated_at
		FROM profiles WHERE owner_id = ?`, string(ownerID))

	profile := &model.Profile{OwnerID: ownerID}
	var blacklistJSON string
	if err := row.Scan(&profile.DisplayName, &profile.CoreMemory, &profile.Persona, &blacklistJSON, &profile.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(ErrProfileNotFound, "no such row", goerr.V("owner_id", ownerID))
		}
		return nil, goerr.Wrap(err, "failed to get profile", goerr.V("owner_id", ownerID))
	}
	if err := json.Unmarshal([]byte(blacklistJSON), &profile.TopicBlacklist); err != nil {
		return nil, goerr.Wrap(err, "failed to decode topic blacklist", goerr.V("owner_id", ownerID))
	}
	return profile, nil
}

func (r *sqliteRepo) PutProfile(ctx context.Context, profile *model.Profile) error {
	blacklist := profile.TopicBlacklist
	if blacklist == nil {
		blacklist = []string{}
	}
	blacklistJSON, err := json.Marshal(blacklist)
	if err != nil {
		return goerr.Wrap(err, "failed to encode topic blacklist")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO profiles (owner_id, display_name, core_memory, persona, topic_blacklist, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET display_name = excluded.display_name,
			core_memory = excluded.core_memory, persona = excluded.persona,
			topic_blacklist = excluded.topic_blacklist, updated_at = excluded.updated_at`,
		string(profile.OwnerID), profile.DisplayName, profile.CoreMemory,
		profile.Persona, string(blacklistJSON), profile.UpdatedAt)
	if err != nil {
		return goerr.Wrap(err, "failed to put profile", goerr.V("owner_id", profile.OwnerID))
	}
	return nil
}

func (r *sqliteRepo) UpdateCoreMemoryField(ctx context.Context, ownerID model.OwnerID, newFacts string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE profiles SET core_memory = ?, updated_at = ? WHERE owner_id = ?`,
		newFacts, time.Now(), string(ownerID))
	if err != nil {
		return goerr.Wrap(err, "failed to update core memory", goerr.V("owner_id", ownerID))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(ErrProfileNotFound, "no matching row", goerr.V("owner_id", ownerID))
	}
	return nil
}

func (r *sqliteRepo) PutMemory(ctx context.Context, record *model.MemoryRecord) error {
	embeddingJSON, err := json.Marshal(record.Embedding)
	if err != nil {
		return goerr.Wrap(err, "failed to encode embedding")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO memories (id, owner_id, text, embedding, model_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(record.ID), string(record.OwnerID), record.Text,
		string(embeddingJSON), record.ModelVersion, record.CreatedAt)
	if err != nil {
		return goerr.Wrap(err, "failed to put memory", goerr.V("id", record.ID))
	}
	return nil
}

func (r *sqliteRepo) ListMemories(ctx context.Context, ownerID model.OwnerID) ([]*model.MemoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, embedding, model_version, created_at
		FROM memories WHERE owner_id = ? ORDER BY created_at DESC`, string(ownerID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories", goerr.V("owner_id", ownerID))
	}
	defer rows.Close()

	var records []*model.MemoryRecord
	for rows.Next() {
		record := &model.MemoryRecord{OwnerID: ownerID}
		var id, embeddingJSON string
		if err := rows.Scan(&id, &record.Text, &embeddingJSON, &record.ModelVersion, &record.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory")
		}
		record.ID = model.MemoryID(id)
		if err := json.Unmarshal([]byte(embeddingJSON), &record.Embedding); err != nil {
			return nil, goerr.Wrap(err, "failed to decode embedding", goerr.V("id", id))
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *sqliteRepo) DeleteMemory(ctx context.Context, ownerID model.OwnerID, id model.MemoryID) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM memories WHERE id = ? AND owner_id = ?`,
		string(id), string(ownerID))
	if err != nil {
		return goerr.Wrap(err, "failed to delete memory", goerr.V("id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(ErrMemoryNotFound, "no matching row", goerr.V("id", id))
	}
	return nil
}
