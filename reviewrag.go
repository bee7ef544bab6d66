// Package reviewrag provides a high-level façade over the conversational
// review assistant: a session-aware chain that rewrites follow-up questions,
// retrieves product reviews and answers from them. Most applications
// interact with this package by:
//  1. Building an Assistant from a config.Config via Build(), or wiring one
//     by hand with New() around a model and an index
//  2. Loading review data with LoadFile() or Ingest()
//  3. Calling Ask() per user question with a stable session id
//
// All defaults are safe for local development and testing; production
// deployments typically supply a hosted model, a vector database and a
// structured logger.
package reviewrag

import (
	"context"
	"errors"
	"fmt"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"

	"github.com/hupe1980/reviewrag/config"
	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/embedding/hashing"
	ollamaembed "github.com/hupe1980/reviewrag/embedding/ollama"
	openaiembed "github.com/hupe1980/reviewrag/embedding/openai"
	"github.com/hupe1980/reviewrag/index/memory"
	"github.com/hupe1980/reviewrag/index/milvus"
	"github.com/hupe1980/reviewrag/ingest"
	"github.com/hupe1980/reviewrag/logging"
	"github.com/hupe1980/reviewrag/model"
	"github.com/hupe1980/reviewrag/model/anthropic"
	"github.com/hupe1980/reviewrag/model/ollama"
	"github.com/hupe1980/reviewrag/model/openai"
	"github.com/hupe1980/reviewrag/rag"
	"github.com/hupe1980/reviewrag/session"
	"github.com/hupe1980/reviewrag/telemetry"
)

// WritableIndex is a similarity index that records can be loaded into.
type WritableIndex interface {
	core.Index
	Add(ctx context.Context, records ...core.Record) error
}

// Options configures an Assistant.
type Options struct {
	// Chain options applied on top of the defaults.
	ChainOptions []func(o *rag.ChainOptions)
	// Normalizer options used by LoadFile.
	IngestOptions []func(o *ingest.Options)
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
	// Closers run on Close in reverse order.
	Closers []func(context.Context) error
}

// Assistant is the high-level façade aggregating the chain, its index and
// the resources to release on shutdown.
type Assistant struct {
	opts  Options
	chain *rag.Chain
	index WritableIndex
}

// New wires an Assistant around a model and a writable index.
func New(m model.Model, index WritableIndex, optFns ...func(o *Options)) (*Assistant, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if index == nil {
		return nil, errors.New("reviewrag: index is required")
	}

	chainOpts := append([]func(o *rag.ChainOptions){func(o *rag.ChainOptions) { o.Logger = opts.Logger }}, opts.ChainOptions...)
	chain, err := rag.NewChain(m, index, chainOpts...)
	if err != nil {
		return nil, err
	}
	return &Assistant{opts: opts, chain: chain, index: index}, nil
}

// Ask answers question within the session's conversation.
func (a *Assistant) Ask(ctx context.Context, sessionID, question string) (*rag.Answer, error) {
	return a.chain.Ask(ctx, sessionID, question)
}

// History returns the session's transcript.
func (a *Assistant) History(sessionID string) ([]core.Turn, error) {
	return a.chain.History(sessionID)
}

// Reset forgets the session's conversation.
func (a *Assistant) Reset(sessionID string) error { return a.chain.Reset(sessionID) }

// Logger returns the logger the assistant was built with.
func (a *Assistant) Logger() logging.Logger { return a.opts.Logger }

// Chain exposes the underlying orchestrator.
func (a *Assistant) Chain() *rag.Chain { return a.chain }

// Ingest adds normalized records to the index.
func (a *Assistant) Ingest(ctx context.Context, records ...core.Record) error {
	if err := a.index.Add(ctx, records...); err != nil {
		return fmt.Errorf("index records: %w", err)
	}
	a.opts.Logger.Info("records indexed", "count", len(records))
	return nil
}

// LoadFile normalizes a .csv or .parquet review file and indexes it.
// It returns the number of records indexed.
func (a *Assistant) LoadFile(ctx context.Context, path string) (int, error) {
	ingestOpts := append([]func(o *ingest.Options){func(o *ingest.Options) { o.Logger = a.opts.Logger }}, a.opts.IngestOptions...)
	records, err := ingest.LoadFile(path, ingest.NewNormalizer(ingestOpts...))
	if err != nil {
		return 0, err
	}
	if err := a.Ingest(ctx, records...); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Close releases the session store and every registered resource.
func (a *Assistant) Close(ctx context.Context) error {
	errs := []error{a.chain.Store().Close()}
	for i := len(a.opts.Closers) - 1; i >= 0; i-- {
		errs = append(errs, a.opts.Closers[i](ctx))
	}
	return errors.Join(errs...)
}

// Build assembles an Assistant from process configuration: logger, tracing,
// model, embedder, index and session store. When cfg.Data.Path is set the
// file is loaded before Build returns.
func Build(ctx context.Context, cfg *config.Config) (*Assistant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closeLogger := NewLogger(cfg.Log)
	closers := []func(context.Context) error{closeLogger}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](ctx)
		}
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, func(o *telemetry.Options) {
		o.ServiceName = cfg.Telemetry.ServiceName
		o.Insecure = cfg.Telemetry.Insecure
		o.Logger = logger
	})
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, shutdownTracing)

	m, err := NewModel(cfg.Model)
	if err != nil {
		cleanup()
		return nil, err
	}

	embedder, dims, err := NewEmbedder(cfg.Embedding, cfg.Model.BaseURL)
	if err != nil {
		cleanup()
		return nil, err
	}

	index, closeIndex, err := NewIndex(ctx, cfg.Index, cfg.Retrieval, embedder, dims, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, closeIndex)

	a, err := New(m, index, func(o *Options) {
		o.Logger = logger
		o.Closers = closers
		o.ChainOptions = []func(o *rag.ChainOptions){func(o *rag.ChainOptions) {
			o.K = cfg.Retrieval.K
			o.TokenBudget = cfg.History.TokenBudget
			o.MaxConcurrent = cfg.Model.MaxConcurrent
			o.Store = NewSessionStore(cfg.Session, logger)
			o.Verifier = rag.OverlapVerifier{}
		}}
		o.IngestOptions = []func(o *ingest.Options){func(o *ingest.Options) {
			o.TitleColumn = cfg.Data.TitleColumn
			o.ReviewColumn = cfg.Data.ReviewColumn
			if cfg.Data.SkipInvalid {
				o.Policy = ingest.Skip
			}
		}}
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	if cfg.Data.Path != "" {
		n, err := a.LoadFile(ctx, cfg.Data.Path)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("load %s: %w", cfg.Data.Path, err)
		}
		logger.Info("review data loaded", "path", cfg.Data.Path, "records", n)
	}
	return a, nil
}

// NewLogger builds the process logger. A configured file switches to
// rotating JSON output through zap; the returned func flushes it.
func NewLogger(cfg config.LogConfig) (logging.Logger, func(context.Context) error) {
	level, _ := logging.ParseLevel(cfg.Level)
	if cfg.File != "" {
		z := logging.NewZapAdapter(logging.NewRotatingZap(cfg.File, level, logging.DefaultRotationConfig()))
		return z, func(context.Context) error {
			_ = z.Sync()
			return nil
		}
	}
	l := logging.NewLogger(&logging.LoggerConfig{
		Level:       level,
		Format:      cfg.Format,
		Output:      os.Stderr,
		CustomAttrs: map[string]any{"service": "reviewrag"},
	})
	return l, func(context.Context) error { return nil }
}

// NewModel returns the configured language model.
func NewModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil
	case "ollama":
		m, err := ollama.NewModel(cfg.BaseURL, func(o *ollama.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			o.NumPredict = int(cfg.MaxTokens)
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	case "mock":
		return model.NewMockModel("mock", "mock"), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// NewEmbedder returns the configured embedder and its vector dimensions.
// Ollama embeddings reuse the model base URL.
func NewEmbedder(cfg config.EmbeddingConfig, ollamaURL string) (core.Embedder, int, error) {
	switch cfg.Provider {
	case "hashing":
		e := hashing.New(func(o *hashing.Options) {
			if cfg.Dimensions > 0 {
				o.Dimensions = cfg.Dimensions
			}
		})
		return e, e.Dimensions(), nil
	case "openai":
		e := openaiembed.New(func(o *openaiembed.Options) {
			if cfg.Model != "" {
				o.Model = openaisdk.EmbeddingModel(cfg.Model)
			}
			o.Dimensions = int64(cfg.Dimensions)
		})
		return e, cfg.Dimensions, nil
	case "ollama":
		c, err := ollama.NewClient(ollamaURL)
		if err != nil {
			return nil, 0, err
		}
		e := ollamaembed.New(c, func(o *ollamaembed.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
		})
		return e, cfg.Dimensions, nil
	default:
		return nil, 0, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewIndex returns the configured similarity index and its release func.
func NewIndex(ctx context.Context, cfg config.IndexConfig, rc config.RetrievalConfig, embedder core.Embedder, dims int, logger logging.Logger) (WritableIndex, func(context.Context) error, error) {
	switch cfg.Backend {
	case "memory":
		ix := memory.New(embedder, func(o *memory.Options) { o.MinScore = rc.MinScore })
		return ix, func(context.Context) error { return nil }, nil
	case "milvus":
		backend, err := milvus.Connect(ctx, cfg.Milvus.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("connect milvus: %w", err)
		}
		ix := milvus.New(backend, embedder, func(o *milvus.Options) {
			o.Collection = cfg.Milvus.Collection
			o.Dimensions = dims
			o.MinScore = rc.MinScore
			o.Logger = logger
		})
		return ix, ix.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

// NewSessionStore returns an expiring store when a TTL is configured and a
// (possibly capacity-bounded) in-memory store otherwise.
func NewSessionStore(cfg config.SessionConfig, logger logging.Logger) core.SessionStore {
	onEvict := func(id string) { logger.Debug("session evicted", "session_id", id) }
	if cfg.TTL > 0 {
		return session.NewTTLStore(func(o *session.TTLOptions) {
			o.TTL = cfg.TTL
			if cfg.CleanupInterval > 0 {
				o.CleanupInterval = cfg.CleanupInterval
			}
			o.OnEvict = onEvict
		})
	}
	return session.NewInMemoryStore(func(o *session.Options) {
		o.Capacity = cfg.Capacity
		o.OnEvict = onEvict
	})
}
