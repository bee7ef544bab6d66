package core

import (
	"context"

	"github.com/google/uuid"
)

// Index is the similarity search collaborator. Search returns at most k
// records ordered by relevance (best first) and an empty slice, not an
// error, when nothing matches.
type Index interface {
	Search(ctx context.Context, query string, k int) ([]ScoredRecord, error)
}

// Embedder turns texts into dense vectors for similarity search. The
// returned slice is index-aligned with texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NewID returns a random identifier used for invocations.
func NewID() string { return uuid.NewString() }
