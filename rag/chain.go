package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/logging"
	"github.com/hupe1980/reviewrag/model"
	"github.com/hupe1980/reviewrag/session"
)

const tracerName = "github.com/hupe1980/reviewrag/rag"

// Answer is the result of one Ask.
type Answer struct {
	Text               string        `json:"answer"`
	Evidence           []core.Record `json:"evidence"`
	StandaloneQuestion string        `json:"standalone_question"`
	InvocationID       string        `json:"invocation_id"`
	Grounding          *Grounding    `json:"grounding,omitempty"`
}

// ChainOptions configures a Chain.
type ChainOptions struct {
	// K bounds the evidence set. Defaults to DefaultK.
	K int
	// Store owns the session transcripts. Defaults to an unbounded
	// session.InMemoryStore.
	Store core.SessionStore
	// RewriteModel overrides the model used for rewriting.
	RewriteModel model.Model
	// RewriteDirective and AnswerDirective override the default prompts.
	RewriteDirective Directive
	AnswerDirective  Directive
	NoEvidenceAnswer string
	// TokenBudget limits history passed to the model (0 = unlimited).
	TokenBudget int
	// MaxConcurrent bounds asks running at once across all sessions
	// (0 = unlimited).
	MaxConcurrent int
	// Verifier optionally scores answer grounding.
	Verifier Verifier
	Logger   logging.Logger
	Tracer   trace.Tracer
}

// Chain is the session-aware orchestrator: rewrite, retrieve, synthesize,
// then persist the exchange.
type Chain struct {
	store       core.SessionStore
	rewriter    *Rewriter
	retriever   *Retriever
	synthesizer *Synthesizer
	window      *HistoryWindow
	locks       *core.SessionLocks
	limiter     *core.Limiter
	verifier    Verifier
	modelName   string
	logger      logging.Logger
	tracer      trace.Tracer
}

// NewChain wires the pipeline around a model and a similarity index.
// Directives are validated here, so a Chain never fails on prompt assembly.
func NewChain(m model.Model, index core.Index, optFns ...func(o *ChainOptions)) (*Chain, error) {
	if m == nil {
		return nil, errors.New("rag: chain requires a model")
	}
	opts := ChainOptions{
		K:                DefaultK,
		RewriteDirective: DefaultRewriteDirective(),
		AnswerDirective:  DefaultAnswerDirective(),
		NoEvidenceAnswer: DefaultNoEvidenceAnswer,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	rewriteModel := opts.RewriteModel
	if rewriteModel == nil {
		rewriteModel = m
	}

	rewriter, err := NewRewriter(rewriteModel, func(o *RewriterOptions) { o.Directive = opts.RewriteDirective })
	if err != nil {
		return nil, fmt.Errorf("rewrite directive: %w", err)
	}
	retriever, err := NewRetriever(index, opts.K)
	if err != nil {
		return nil, err
	}
	synthesizer, err := NewSynthesizer(m, func(o *SynthesizerOptions) {
		o.Directive = opts.AnswerDirective
		o.NoEvidenceAnswer = opts.NoEvidenceAnswer
	})
	if err != nil {
		return nil, fmt.Errorf("answer directive: %w", err)
	}
	window, err := NewHistoryWindow(opts.TokenBudget)
	if err != nil {
		return nil, err
	}

	return &Chain{
		store:       opts.Store,
		rewriter:    rewriter,
		retriever:   retriever,
		synthesizer: synthesizer,
		window:      window,
		locks:       core.NewSessionLocks(),
		limiter:     core.NewLimiter(opts.MaxConcurrent),
		verifier:    opts.Verifier,
		modelName:   m.Info().Name,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
	}, nil
}

// Store returns the session store backing the chain.
func (c *Chain) Store() core.SessionStore { return c.store }

// Ask answers question within sessionID's conversation.
//
// The session's lock is held for the whole pipeline, so concurrent asks on
// one session are applied one after another, even when the store evicts the
// session meanwhile. Reset takes the same lock and never races an exchange.
// The user and assistant turns are appended together only after synthesis
// succeeds; any stage failure leaves the transcript unchanged. If the
// session was evicted while the pipeline ran, the exchange starts a fresh
// transcript. The stored user turn keeps the raw question, the rewritten one
// is used for retrieval and synthesis only.
func (c *Chain) Ask(ctx context.Context, sessionID, question string) (*Answer, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, core.ErrInvalidSession
	}
	if strings.TrimSpace(question) == "" {
		return nil, core.ErrEmptyQuestion
	}

	invocationID := core.NewID()
	log := c.scopedLogger(sessionID, invocationID)

	ctx, span := c.tracer.Start(ctx, "rag.ask", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("invocation.id", invocationID),
	))
	defer span.End()

	unlock, err := c.locks.Lock(ctx, sessionID)
	if err != nil {
		log.Warn("waiting for the session aborted", "error", err.Error())
		return nil, fail(span, err)
	}
	defer unlock()

	done, err := c.limiter.Acquire(ctx)
	if err != nil {
		log.Warn("waiting for a free slot aborted", "error", err.Error())
		return nil, fail(span, err)
	}
	defer done()

	transcript, err := c.store.Get(sessionID)
	if err != nil {
		log.Error("loading session failed", "error", err.Error())
		return nil, fail(span, err)
	}

	history := c.window.Apply(transcript.Turns())
	log.Info("ask started", "history_turns", len(history))

	standalone, err := c.rewrite(ctx, log, history, question)
	if err != nil {
		return nil, fail(span, err)
	}

	evidence, err := c.retrieve(ctx, log, standalone)
	if err != nil {
		return nil, fail(span, err)
	}

	text, err := c.synthesize(ctx, log, evidence, standalone, history)
	if err != nil {
		return nil, fail(span, err)
	}

	answer := &Answer{
		Text:               text,
		Evidence:           evidence,
		StandaloneQuestion: standalone,
		InvocationID:       invocationID,
	}
	if c.verifier != nil && len(evidence) > 0 {
		answer.Grounding = c.verify(ctx, log, text, evidence)
	}

	if err := c.store.Append(sessionID, core.NewUserTurn(question), core.NewAssistantTurn(text)); err != nil {
		log.Error("persisting exchange failed", "error", err.Error())
		return nil, fail(span, err)
	}

	span.SetAttributes(attribute.Int("evidence.count", len(evidence)))
	log.Info("ask completed", "evidence", len(evidence))
	return answer, nil
}

// History returns a copy of the session's transcript. Unknown sessions are
// reported with core.ErrSessionNotFound and are not created.
func (c *Chain) History(sessionID string) ([]core.Turn, error) {
	t, err := c.store.Lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return t.Turns(), nil
}

// Reset forgets the session's conversation. It waits for an exchange in
// flight on the session to finish first.
func (c *Chain) Reset(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return core.ErrInvalidSession
	}
	unlock, err := c.locks.Lock(context.Background(), sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	return c.store.Delete(sessionID)
}

func (c *Chain) rewrite(ctx context.Context, log logging.Logger, history []core.Turn, question string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "rag.rewrite")
	defer span.End()

	start := time.Now()
	standalone, err := c.rewriter.Rewrite(ctx, history, question)
	if hasConversation(history) {
		logModelCall(log, string(core.StageRewrite), c.modelName, time.Since(start), err)
	}
	if err != nil {
		return "", fail(span, err)
	}
	span.SetAttributes(attribute.String("question.standalone", standalone))
	return standalone, nil
}

func (c *Chain) retrieve(ctx context.Context, log logging.Logger, query string) ([]core.Record, error) {
	ctx, span := c.tracer.Start(ctx, "rag.retrieve", trace.WithAttributes(attribute.Int("retrieval.k", c.retriever.K())))
	defer span.End()

	start := time.Now()
	evidence, err := c.retriever.Retrieve(ctx, query)
	if rl, ok := log.(*logging.RAGLogger); ok {
		rl.LogRetrieval(query, c.retriever.K(), len(evidence), time.Since(start), err)
	} else if err != nil {
		log.Error("retrieval failed", "query", query, "error", err.Error())
	}
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("retrieval.hits", len(evidence)))
	return evidence, nil
}

func (c *Chain) synthesize(ctx context.Context, log logging.Logger, evidence []core.Record, question string, history []core.Turn) (string, error) {
	ctx, span := c.tracer.Start(ctx, "rag.synthesize")
	defer span.End()

	if len(evidence) == 0 {
		log.Info("no evidence found, returning fallback answer")
	}
	start := time.Now()
	text, err := c.synthesizer.Synthesize(ctx, evidence, question, history)
	if len(evidence) > 0 {
		logModelCall(log, string(core.StageSynthesize), c.modelName, time.Since(start), err)
	}
	if err != nil {
		return "", fail(span, err)
	}
	return text, nil
}

func (c *Chain) verify(ctx context.Context, log logging.Logger, text string, evidence []core.Record) *Grounding {
	ctx, span := c.tracer.Start(ctx, "rag.verify")
	defer span.End()

	g, err := c.verifier.Verify(ctx, text, evidence)
	if err != nil {
		log.Warn("grounding verification failed", "error", err.Error())
		span.RecordError(err)
		return nil
	}
	span.SetAttributes(attribute.Float64("grounding.score", g.Score), attribute.Bool("grounding.supported", g.Supported))
	if !g.Supported {
		log.Warn("answer weakly grounded in evidence", "score", g.Score)
	}
	return &g
}

func (c *Chain) scopedLogger(sessionID, invocationID string) logging.Logger {
	if rl, ok := c.logger.(*logging.RAGLogger); ok {
		return rl.WithComponent("chain").WithSession(sessionID, invocationID)
	}
	return c.logger
}

func logModelCall(log logging.Logger, stage, modelName string, dur time.Duration, err error) {
	if rl, ok := log.(*logging.RAGLogger); ok {
		rl.LogModelCall(stage, modelName, dur, err == nil, err)
		return
	}
	if err != nil {
		log.Error("model call failed", "stage", stage, "model", modelName, "error", err.Error())
		return
	}
	log.Debug("model call completed", "stage", stage, "model", modelName, "duration", dur)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
