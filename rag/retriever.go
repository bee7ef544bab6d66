package rag

import (
	"context"
	"fmt"

	"github.com/hupe1980/reviewrag/core"
)

// DefaultK is the number of records retrieved per question.
const DefaultK = 3

// Retriever bounds a similarity index lookup to a fixed k.
type Retriever struct {
	index core.Index
	k     int
}

// NewRetriever returns a Retriever fetching at most k records per query.
func NewRetriever(index core.Index, k int) (*Retriever, error) {
	if index == nil {
		return nil, fmt.Errorf("rag: retriever requires an index")
	}
	if k < 1 {
		return nil, fmt.Errorf("rag: k must be at least 1, got %d", k)
	}
	return &Retriever{index: index, k: k}, nil
}

// K returns the configured result bound.
func (r *Retriever) K() int { return r.k }

// RetrieveScored returns at most k records in the index's ranking order,
// highest relevance first. No matches yield an empty, non-nil slice. Index
// failures are returned as *core.RetrievalError.
func (r *Retriever) RetrieveScored(ctx context.Context, query string) ([]core.ScoredRecord, error) {
	hits, err := r.index.Search(ctx, query, r.k)
	if err != nil {
		return nil, &core.RetrievalError{Query: query, Err: err}
	}
	if len(hits) > r.k {
		hits = hits[:r.k]
	}
	out := make([]core.ScoredRecord, len(hits))
	copy(out, hits)
	return out, nil
}

// Retrieve is RetrieveScored without scores.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]core.Record, error) {
	hits, err := r.RetrieveScored(ctx, query)
	if err != nil {
		return nil, err
	}
	return core.Records(hits), nil
}
