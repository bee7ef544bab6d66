// Package memory provides an in-process similarity index over normalized
// review records. Vectors come from a core.Embedder and ranking is cosine
// similarity.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/reviewrag/core"
)

// Options configures the in-memory index.
type Options struct {
	// BatchSize is the number of records embedded per Embed call.
	BatchSize int
	// Concurrency bounds the number of in-flight Embed calls during Add.
	Concurrency int
	// MinScore drops hits scoring at or below it. The default of zero
	// treats unrelated records as no match.
	MinScore float64
}

type entry struct {
	record core.Record
	vector []float32
}

// Index is a naive process-local similarity index. Search is a linear scan.
//
// Concurrency: protected by RWMutex.
type Index struct {
	embedder core.Embedder
	opts     Options

	mu      sync.RWMutex
	entries []entry
	byID    map[string]int
}

// New creates an empty index that embeds with the given embedder.
func New(embedder core.Embedder, optFns ...func(o *Options)) *Index {
	opts := Options{
		BatchSize:   64,
		Concurrency: 4,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Index{
		embedder: embedder,
		opts:     opts,
		byID:     make(map[string]int),
	}
}

// Add embeds and stores records. Records whose ID is already present are
// replaced in place, so re-adding a normalized corpus is idempotent.
func (ix *Index) Add(ctx context.Context, records ...core.Record) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	vectors := make([][]float32, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)
	for start := 0; start < len(records); start += ix.opts.BatchSize {
		end := min(start+ix.opts.BatchSize, len(records))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, r := range records[start:end] {
				texts = append(texts, embeddingText(r))
			}
			vecs, err := ix.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embed batch %d-%d: expected %d vectors, got %d", start, end, len(texts), len(vecs))
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, r := range records {
		e := entry{record: r.Clone(), vector: vectors[i]}
		if pos, ok := ix.byID[r.ID]; ok && r.ID != "" {
			ix.entries[pos] = e
			continue
		}
		if r.ID != "" {
			ix.byID[r.ID] = len(ix.entries)
		}
		ix.entries = append(ix.entries, e)
	}
	return nil
}

// Search returns up to k records ranked by cosine similarity, highest first.
// Ties keep insertion order. An empty index yields an empty result.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]core.ScoredRecord, error) {
	if k <= 0 {
		return []core.ScoredRecord{}, nil
	}

	ix.mu.RLock()
	empty := len(ix.entries) == 0
	ix.mu.RUnlock()
	if empty {
		return []core.ScoredRecord{}, nil
	}

	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}
	qv := vecs[0]

	ix.mu.RLock()
	results := make([]core.ScoredRecord, 0, len(ix.entries))
	for _, e := range ix.entries {
		score := cosine(qv, e.vector)
		if score <= ix.opts.MinScore {
			continue
		}
		results = append(results, core.ScoredRecord{Record: e.record.Clone(), Score: score})
	}
	ix.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Clear removes all records.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = nil
	ix.byID = make(map[string]int)
}

// embeddingText is what gets embedded for a record: title then content.
func embeddingText(r core.Record) string {
	if title := r.Title(); title != "" {
		return title + "\n" + r.Content
	}
	return r.Content
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
