// Package memory implements the long-term semantic memory store: write-once
// records embedded at save time and retrieved by cosine similarity.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/veranda-app/veranda/pkg/model"
	"github.com/veranda-app/veranda/pkg/repository"
	"github.com/veranda-app/veranda/pkg/utils/logging"
)

const (
	// DefaultThreshold filters out records that are merely the least
	// dissimilar in a small corpus; below it a match is considered noise.
	DefaultThreshold = 0.3

	// DefaultTopK is the number of memories injected into model context.
	DefaultTopK = 3
)

// Embedder turns text into a fixed-length dense vector.
type Embedder interface {
	Embedding(ctx context.Context, text string) ([]float32, error)
	EmbeddingModel() string
}

// Scored pairs a retrieved record with its similarity to the query.
type Scored struct {
	Record *model.MemoryRecord
	Score  float64
}

// Service owns memory writes and similarity queries. Retrieval is an O(n)
// scan over the owner's records; fine for a per-owner corpus of up to a
// few thousand records, and anything beyond that needs an ANN index.
type Service struct {
	repo      repository.Repository
	embedder  Embedder
	threshold float64
	topK      int
}

type Option func(*Service)

// WithThreshold overrides the minimum similarity for a record to be returned.
func WithThreshold(threshold float64) Option {
	return func(s *Service) {
		s.threshold = threshold
	}
}

// WithTopK overrides the default result count for Query.
func WithTopK(k int) Option {
	return func(s *Service) {
		s.topK = k
	}
}

// New creates a memory service over the given repository and embedder.
func New(repo repository.Repository, embedder Embedder, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		embedder:  embedder,
		threshold: DefaultThreshold,
		topK:      DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write embeds text and persists it as a new record for the owner.
func (s *Service) Write(ctx context.Context, ownerID model.OwnerID, text string) (*model.MemoryRecord, error) {
	embedding, err := s.embedder.Embedding(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed memory text")
	}

	record := &model.MemoryRecord{
		ID:           model.NewMemoryID(),
		OwnerID:      ownerID,
		Text:         text,
		Embedding:    embedding,
		ModelVersion: s.embedder.EmbeddingModel(),
		CreatedAt:    time.Now(),
	}

	if err := s.repo.PutMemory(ctx, record); err != nil {
		return nil, goerr.Wrap(err, "failed to persist memory record")
	}

	logging.From(ctx).Debug("memory record written",
		"owner_id", record.OwnerID, "memory_id", record.ID)
	return record, nil
}

// Query embeds the query text and returns the owner's top-k records with
// similarity at or above the threshold, best first. Records embedded by a
// different model version are skipped, never scored.
func (s *Service) Query(ctx context.Context, ownerID model.OwnerID, text string, k int) ([]Scored, error) {
	if k <= 0 {
		k = s.topK
	}

	queryVec, err := s.embedder.Embedding(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query text")
	}

	records, err := s.repo.ListMemories(ctx, ownerID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories", goerr.V("owner_id", ownerID))
	}

	modelVersion := s.embedder.EmbeddingModel()
	scored := make([]Scored, 0, len(records))
	for _, record := range records {
		if record.ModelVersion != modelVersion {
			logging.From(ctx).Warn("skipping memory with mismatched embedding model",
				"memory_id", record.ID, "record_model", record.ModelVersion, "query_model", modelVersion)
			continue
		}
		score := Cosine(queryVec, record.Embedding)
		if score < s.threshold {
			continue
		}
		scored = append(scored, Scored{Record: record, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// List returns all of the owner's records, newest first, with embeddings
// stripped: callers list memory text, they never need the raw vectors.
func (s *Service) List(ctx context.Context, ownerID model.OwnerID) ([]*model.MemoryRecord, error) {
	records, err := s.repo.ListMemories(ctx, ownerID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories", goerr.V("owner_id", ownerID))
	}

	stripped := make([]*model.MemoryRecord, 0, len(records))
	for _, record := range records {
		clone := *record
		clone.Embedding = nil
		stripped = append(stripped, &clone)
	}
	return stripped, nil
}

// Forget permanently removes one of the owner's records.
func (s *Service) Forget(ctx context.Context, ownerID model.OwnerID, id model.MemoryID) error {
	if err := s.repo.DeleteMemory(ctx, ownerID, id); err != nil {
		return goerr.Wrap(err, "failed to delete memory", goerr.V("memory_id", id))
	}

	logging.From(ctx).Info("memory record forgotten", "owner_id", ownerID, "memory_id", id)
	return nil
}
