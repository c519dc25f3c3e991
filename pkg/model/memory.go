package model

import (
	"time"

	"github.com/google/uuid"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

type OwnerID string

// MemoryRecord is a long-term memory fact for one owner. Records are
// write-once and delete-allowed; they are never mutated in place.
//
// ModelVersion names the embedding model that produced Embedding. Query
// vectors from a different model must never be scored against this record,
// or similarity is meaningless.
type MemoryRecord struct {
	ID           MemoryID
	OwnerID      OwnerID
	Text         string
	Embedding    []float32
	ModelVersion string
	CreatedAt    time.Time
}
