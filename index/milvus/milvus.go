// Package milvus provides a core.Index backed by a Milvus collection. Each
// record is stored with its review text, title, JSON-encoded metadata and
// an embedding produced by a core.Embedder.
package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	client "github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/logging"
)

const (
	// DefaultCollection is used when Options.Collection is empty.
	DefaultCollection = "reviewrag_reviews"

	fieldID        = "id"
	fieldEmbedding = "embedding"
	fieldContent   = "content"
	fieldTitle     = "title"
	fieldMetadata  = "metadata"
)

var outputFields = []string{fieldID, fieldContent, fieldTitle, fieldMetadata}

// Options configures the Milvus index.
type Options struct {
	Collection string
	// Dimensions is the embedding width. Required for collection creation.
	Dimensions int
	// MinScore drops hits whose cosine score is at or below it.
	MinScore float64
	Logger   logging.Logger
}

// Index implements core.Index over a Milvus collection.
type Index struct {
	backend  Backend
	embedder core.Embedder
	opts     Options

	mu    sync.Mutex
	ready bool
}

// New creates a Milvus index. The collection is created lazily on first use.
func New(backend Backend, embedder core.Embedder, optFns ...func(o *Options)) *Index {
	opts := Options{
		Collection: DefaultCollection,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Index{backend: backend, embedder: embedder, opts: opts}
}

// EnsureCollection creates and loads the collection if needed.
func (ix *Index) EnsureCollection(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.ready {
		return nil
	}
	if ix.opts.Dimensions <= 0 {
		return fmt.Errorf("milvus: embedding dimensions must be positive, got %d", ix.opts.Dimensions)
	}

	exists, err := ix.backend.HasCollection(ctx, ix.opts.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		ix.opts.Logger.Info("creating milvus collection", "collection", ix.opts.Collection, "dimensions", ix.opts.Dimensions)
		indexOpts := []client.CreateIndexOption{
			client.NewCreateIndexOption(ix.opts.Collection, fieldEmbedding, index.NewHNSWIndex(entity.COSINE, 16, 128)),
		}
		if err := ix.backend.CreateCollection(ctx, schema(ix.opts.Collection, ix.opts.Dimensions), indexOpts...); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	if err := ix.backend.LoadCollection(ctx, ix.opts.Collection); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	ix.ready = true
	return nil
}

// Add embeds records and upserts them by ID.
func (ix *Index) Add(ctx context.Context, records ...core.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ix.EnsureCollection(ctx); err != nil {
		return err
	}

	texts := make([]string, len(records))
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if r.ID == "" {
			return fmt.Errorf("record %d: missing id", i)
		}
		texts[i] = r.Title() + "\n" + r.Content
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed records: %w", err)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("embed records: expected %d vectors, got %d", len(records), len(vectors))
	}

	opt, err := createUpsert(ix.opts.Collection, ix.opts.Dimensions, records, vectors)
	if err != nil {
		return err
	}
	if err := ix.backend.Upsert(ctx, opt); err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}
	ix.opts.Logger.Debug("upserted records", "collection", ix.opts.Collection, "count", len(records))
	return nil
}

// Search returns up to k records nearest to the query, highest score first.
// A missing collection yields an empty result.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]core.ScoredRecord, error) {
	if k <= 0 {
		return []core.ScoredRecord{}, nil
	}

	exists, err := ix.backend.HasCollection(ctx, ix.opts.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		ix.opts.Logger.Warn("collection does not exist, returning empty results", "collection", ix.opts.Collection)
		return []core.ScoredRecord{}, nil
	}

	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}

	opt := client.NewSearchOption(ix.opts.Collection, k, []entity.Vector{entity.FloatVector(vecs[0])})
	opt.WithANNSField(fieldEmbedding)
	opt.WithOutputFields(outputFields...)

	sets, err := ix.backend.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	hits, err := convertResultSet(sets)
	if err != nil {
		return nil, fmt.Errorf("failed to convert result set: %w", err)
	}

	out := make([]core.ScoredRecord, 0, len(hits))
	for _, h := range hits {
		if h.Score <= ix.opts.MinScore {
			continue
		}
		out = append(out, h)
	}
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

// Close releases the underlying client.
func (ix *Index) Close(ctx context.Context) error {
	return ix.backend.Close(ctx)
}

func schema(collection string, dimensions int) *entity.Schema {
	return &entity.Schema{
		CollectionName: collection,
		Description:    "product review records",
		AutoID:         false,
		Fields: []*entity.Field{
			entity.NewField().
				WithName(fieldID).
				WithDataType(entity.FieldTypeVarChar).
				WithIsPrimaryKey(true).
				WithMaxLength(64),
			entity.NewField().
				WithName(fieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(dimensions)),
			entity.NewField().
				WithName(fieldContent).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(65535),
			entity.NewField().
				WithName(fieldTitle).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(1024),
			entity.NewField().
				WithName(fieldMetadata).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(65535),
		},
	}
}

func createUpsert(collection string, dimensions int, records []core.Record, vectors [][]float32) (client.UpsertOption, error) {
	ids := make([]string, 0, len(records))
	contents := make([]string, 0, len(records))
	titles := make([]string, 0, len(records))
	metadata := make([]string, 0, len(records))
	for i, r := range records {
		if len(vectors[i]) != dimensions {
			return nil, fmt.Errorf("record %s: vector has %d dimensions, want %d", r.ID, len(vectors[i]), dimensions)
		}
		md, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("record %s: encode metadata: %w", r.ID, err)
		}
		ids = append(ids, r.ID)
		contents = append(contents, r.Content)
		titles = append(titles, r.Title())
		metadata = append(metadata, string(md))
	}
	opt := client.NewColumnBasedInsertOption(collection).
		WithVarcharColumn(fieldID, ids).
		WithFloatVectorColumn(fieldEmbedding, dimensions, vectors).
		WithVarcharColumn(fieldContent, contents).
		WithVarcharColumn(fieldTitle, titles).
		WithVarcharColumn(fieldMetadata, metadata)
	return opt, nil
}

func convertResultSet(sets []client.ResultSet) ([]core.ScoredRecord, error) {
	if len(sets) == 0 {
		return []core.ScoredRecord{}, nil
	}
	set := sets[0]
	if set.Err != nil {
		return nil, set.Err
	}

	n := set.ResultCount
	docs := make([]core.ScoredRecord, n)
	for i := range docs {
		docs[i].Record.Metadata = map[string]string{}
		if i < len(set.Scores) {
			docs[i].Score = float64(set.Scores[i])
		}
	}

	for _, field := range outputFields {
		col := set.GetColumn(field)
		if col == nil {
			continue
		}
		for i := 0; i < col.Len() && i < n; i++ {
			val, err := col.GetAsString(i)
			if err != nil {
				return nil, err
			}
			switch field {
			case fieldID:
				docs[i].Record.ID = val
			case fieldContent:
				docs[i].Record.Content = val
			case fieldTitle:
				docs[i].Record.Metadata[core.TitleKey] = val
			case fieldMetadata:
				if val == "" {
					continue
				}
				md := map[string]string{}
				if err := json.Unmarshal([]byte(val), &md); err != nil {
					return nil, fmt.Errorf("decode metadata of row %d: %w", i, err)
				}
				for k, v := range md {
					docs[i].Record.Metadata[k] = v
				}
			}
		}
	}
	return docs, nil
}
