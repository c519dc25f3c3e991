package adapter

import (
	"context"
	"time"
)

// Timeouts for external model calls. A hung backend must never block a
// turn past these bounds; expiry feeds the same fallback paths as any
// other transport error.
const (
	TimeoutGenerate = 45 * time.Second
	TimeoutClassify = 15 * time.Second
	TimeoutEmbed    = 10 * time.Second
)

// Message is one turn of chat history passed to a generation backend.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// GenerateRequest is a backend-neutral generation request.
type GenerateRequest struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Generator is a single generation backend in the fallback chain.
// Implementations are interchangeable: the orchestrator attempts them in
// order and uses exactly one successful response.
type Generator interface {
	// Name returns the backend identifier for logging and configuration.
	Name() string

	// Reply sends the request and returns the generated text. Any failure
	// is a transport error from the chain's point of view.
	Reply(ctx context.Context, req *GenerateRequest) (string, error)
}
