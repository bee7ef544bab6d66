package rag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/index/memory"
	"github.com/hupe1980/reviewrag/internal/testutil"
	"github.com/hupe1980/reviewrag/logging"
	"github.com/hupe1980/reviewrag/model"
	"github.com/hupe1980/reviewrag/session"
)

var vocabulary = testutil.KeywordEmbedder{"x200", "phone", "battery", "camera", "blender", "acme"}

func reviewIndex(t *testing.T) *memory.Index {
	t.Helper()
	ix := memory.New(vocabulary)
	records := []core.Record{
		testutil.NewRecordBuilder().ID("x200-battery").Title("X200 Phone").Review("Battery lasts two days.").Build(),
		testutil.NewRecordBuilder().ID("x200-camera-1").Title("X200 Phone").Review("The camera is sharp in daylight.").Build(),
		testutil.NewRecordBuilder().ID("x200-camera-2").Title("X200 Phone").Review("Great camera at night too.").Build(),
		testutil.NewRecordBuilder().ID("acme-camera").Title("Acme Camera").Review("Nice camera for the price.").Build(),
		testutil.NewRecordBuilder().ID("acme-blender").Title("Acme Blender").Review("Crushes ice easily.").Build(),
	}
	require.NoError(t, ix.Add(context.Background(), records...))
	return ix
}

// reviewBot rewrites known follow-ups and answers by echoing the question
// it was asked.
func reviewBot(rewrites map[string]string) testutil.Reply {
	return testutil.RouteByInstruction("standalone",
		func(req model.Request) (string, error) {
			if out, ok := rewrites[req.Input]; ok {
				return out, nil
			}
			return req.Input, nil
		},
		func(req model.Request) (string, error) {
			return "A: " + req.Input, nil
		},
	)
}

func TestChain_ProductQuestionAndFollowUp(t *testing.T) {
	m := testutil.NewScriptedModel(reviewBot(map[string]string{
		"What about the camera?": "What about the camera on the X200 phone?",
	}))
	chain, err := NewChain(m, reviewIndex(t))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := chain.Ask(ctx, "s1", "Is the X200 battery good?")
	require.NoError(t, err)
	assert.NotEmpty(t, first.Text)
	assert.Equal(t, "Is the X200 battery good?", first.StandaloneQuestion)
	require.NotEmpty(t, first.Evidence)
	assert.LessOrEqual(t, len(first.Evidence), DefaultK)
	assert.Equal(t, "x200-battery", first.Evidence[0].ID)
	assert.Equal(t, 1, m.Calls(), "first question needs no rewrite")

	second, err := chain.Ask(ctx, "s1", "What about the camera?")
	require.NoError(t, err)
	assert.Equal(t, "What about the camera on the X200 phone?", second.StandaloneQuestion)
	require.Len(t, second.Evidence, 3)
	for _, r := range second.Evidence[:2] {
		assert.Equal(t, "X200 Phone", r.Title())
		assert.Contains(t, r.Content, "camera")
	}
	for _, r := range second.Evidence {
		assert.NotEqual(t, "acme-camera", r.ID)
	}

	reqs := m.Requests()
	require.Len(t, reqs, 3)
	rewriteReq := reqs[1]
	assert.Contains(t, rewriteReq.Instructions, "standalone")
	require.Len(t, rewriteReq.History, 2)
	assert.Equal(t, "Is the X200 battery good?", rewriteReq.History[0].Text)

	answerReq := reqs[2]
	assert.Contains(t, answerReq.Instructions, "The camera is sharp in daylight.")
	assert.Equal(t, "What about the camera on the X200 phone?", answerReq.Input)

	history, err := chain.History("s1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "What about the camera?", history[2].Text, "raw question is stored")
	assert.Equal(t, second.Text, history[3].Text)
}

func TestChain_RawFollowUpWouldDrift(t *testing.T) {
	// Without rewriting the follow-up ranks the other product first,
	// which is why the rewrite stage exists.
	hits, err := reviewIndex(t).Search(context.Background(), "What about the camera?", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "acme-camera", hits[0].Record.ID)
}

func TestChain_FreshSessionAndIsolation(t *testing.T) {
	m := testutil.NewScriptedModel(reviewBot(nil))
	store := session.NewInMemoryStore()
	chain, err := NewChain(m, reviewIndex(t), func(o *ChainOptions) { o.Store = store })
	require.NoError(t, err)
	ctx := context.Background()

	_, err = chain.History("s1")
	require.ErrorIs(t, err, core.ErrSessionNotFound)
	assert.Equal(t, 0, store.Len(), "reading history does not create a session")

	_, err = chain.Ask(ctx, "s1", "Is the X200 battery good?")
	require.NoError(t, err)
	_, err = chain.Ask(ctx, "s2", "Does the Acme blender crush ice?")
	require.NoError(t, err)

	s1, _ := chain.History("s1")
	s2, _ := chain.History("s2")
	require.Len(t, s1, 2)
	require.Len(t, s2, 2)
	assert.Equal(t, "Is the X200 battery good?", s1[0].Text)
	assert.Equal(t, "Does the Acme blender crush ice?", s2[0].Text)

	// s2's question is its first, so no rewrite was issued with s1's history.
	for _, req := range m.Requests() {
		for _, turn := range req.History {
			assert.NotContains(t, turn.Text, "blender")
		}
	}
}

func TestChain_TranscriptAlternates(t *testing.T) {
	chain, err := NewChain(testutil.NewScriptedModel(reviewBot(nil)), reviewIndex(t))
	require.NoError(t, err)

	const n = 5
	for i := 0; i < n; i++ {
		_, err := chain.Ask(context.Background(), "s1", fmt.Sprintf("X200 battery question %d", i))
		require.NoError(t, err)
	}

	turns, err := chain.History("s1")
	require.NoError(t, err)
	require.Len(t, turns, 2*n)
	for i, turn := range turns {
		if i%2 == 0 {
			assert.Equal(t, core.RoleUser, turn.Role)
			assert.Equal(t, fmt.Sprintf("X200 battery question %d", i/2), turn.Text)
		} else {
			assert.Equal(t, core.RoleAssistant, turn.Role)
		}
	}
}

func TestChain_NoEvidenceFallback(t *testing.T) {
	m := testutil.NewScriptedModel(reviewBot(nil))
	chain, err := NewChain(m, reviewIndex(t))
	require.NoError(t, err)

	ans, err := chain.Ask(context.Background(), "s1", "How fast is the submarine?")
	require.NoError(t, err)
	assert.Empty(t, ans.Evidence)
	assert.NotNil(t, ans.Evidence)
	assert.Equal(t, DefaultNoEvidenceAnswer, ans.Text)
	assert.Equal(t, 0, m.Calls())

	turns, _ := chain.History("s1")
	assert.Len(t, turns, 2)
}

func TestChain_FailuresLeaveTranscriptUnchanged(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("provider unavailable")

	var failRewrite, failAnswer bool
	m := testutil.NewScriptedModel(testutil.RouteByInstruction("standalone",
		func(req model.Request) (string, error) {
			if failRewrite {
				return "", boom
			}
			return req.Input, nil
		},
		func(req model.Request) (string, error) {
			if failAnswer {
				return "", boom
			}
			return "fine", nil
		},
	))

	failingIndex := &sliceIndex{}
	good := reviewIndex(t)

	tests := []struct {
		name  string
		setup func()
		index core.Index
		check func(t *testing.T, err error)
	}{
		{
			name:  "rewrite",
			setup: func() { failRewrite, failAnswer = true, false },
			index: good,
			check: func(t *testing.T, err error) {
				var gErr *core.GenerationError
				require.ErrorAs(t, err, &gErr)
				assert.Equal(t, core.StageRewrite, gErr.Stage)
			},
		},
		{
			name:  "synthesize",
			setup: func() { failRewrite, failAnswer = false, true },
			index: good,
			check: func(t *testing.T, err error) {
				var gErr *core.GenerationError
				require.ErrorAs(t, err, &gErr)
				assert.Equal(t, core.StageSynthesize, gErr.Stage)
				assert.ErrorIs(t, err, boom)
			},
		},
		{
			name:  "retrieve",
			setup: func() { failRewrite, failAnswer = false, false; failingIndex.err = boom },
			index: failingIndex,
			check: func(t *testing.T, err error) {
				assert.True(t, core.IsRetrievalError(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failRewrite, failAnswer = false, false
			store := session.NewInMemoryStore()
			require.NoError(t, store.Append("s1", core.NewUserTurn("Is the X200 battery good?"), core.NewAssistantTurn("Yes.")))

			chain, err := NewChain(m, tt.index, func(o *ChainOptions) { o.Store = store })
			require.NoError(t, err)

			tt.setup()
			_, err = chain.Ask(ctx, "s1", "What about the camera?")
			require.Error(t, err)
			tt.check(t, err)

			turns, _ := chain.History("s1")
			assert.Len(t, turns, 2)
		})
	}
}

func TestChain_InvalidInput(t *testing.T) {
	m := testutil.NewScriptedModel(reviewBot(nil))
	store := session.NewInMemoryStore()
	chain, err := NewChain(m, reviewIndex(t), func(o *ChainOptions) { o.Store = store })
	require.NoError(t, err)

	_, err = chain.Ask(context.Background(), "  ", "Is the X200 battery good?")
	assert.ErrorIs(t, err, core.ErrInvalidSession)

	_, err = chain.Ask(context.Background(), "s1", " \n")
	assert.ErrorIs(t, err, core.ErrEmptyQuestion)

	assert.Equal(t, 0, m.Calls())
	assert.Equal(t, 0, store.Len())
}

func TestChain_ConcurrentAsksOnOneSession(t *testing.T) {
	chain, err := NewChain(testutil.NewScriptedModel(reviewBot(nil)), reviewIndex(t))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := chain.Ask(context.Background(), "shared", fmt.Sprintf("X200 battery question %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	turns, err := chain.History("shared")
	require.NoError(t, err)
	require.Len(t, turns, 2*n)

	seen := map[string]bool{}
	for i := 0; i < len(turns); i += 2 {
		require.Equal(t, core.RoleUser, turns[i].Role)
		require.Equal(t, core.RoleAssistant, turns[i+1].Role)
		// Rewrites echo the question, so each answer quotes its own question.
		assert.Equal(t, "A: "+turns[i].Text, turns[i+1].Text)
		seen[turns[i].Text] = true
	}
	assert.Len(t, seen, n)
}

func TestChain_ResetAndHistory(t *testing.T) {
	chain, err := NewChain(testutil.NewScriptedModel(reviewBot(nil)), reviewIndex(t))
	require.NoError(t, err)

	_, err = chain.Ask(context.Background(), "s1", "Is the X200 battery good?")
	require.NoError(t, err)

	turns, err := chain.History("s1")
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	require.NoError(t, chain.Reset("s1"))
	_, err = chain.History("s1")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	assert.ErrorIs(t, chain.Reset("unknown"), core.ErrSessionNotFound)
	assert.ErrorIs(t, chain.Reset(""), core.ErrInvalidSession)
}

func TestChain_TokenBudgetLimitsModelHistory(t *testing.T) {
	m := testutil.NewScriptedModel(reviewBot(nil))
	store := session.NewInMemoryStore()
	require.NoError(t, store.Append("s1",
		core.NewUserTurn(strings.Repeat("long forgotten question ", 40)),
		core.NewAssistantTurn(strings.Repeat("long forgotten answer ", 40)),
		core.NewUserTurn("Is the X200 battery good?"),
		core.NewAssistantTurn("Yes, two days."),
	))
	chain, err := NewChain(m, reviewIndex(t), func(o *ChainOptions) {
		o.Store = store
		o.TokenBudget = 50
	})
	require.NoError(t, err)

	_, err = chain.Ask(context.Background(), "s1", "What about the camera?")
	require.NoError(t, err)

	for _, req := range m.Requests() {
		assert.Len(t, req.History, 2)
	}
	turns, _ := chain.History("s1")
	assert.Len(t, turns, 6, "stored transcript is never trimmed")
}

func TestChain_Grounding(t *testing.T) {
	m := testutil.NewScriptedModel(testutil.RouteByInstruction("standalone",
		func(req model.Request) (string, error) { return req.Input, nil },
		func(model.Request) (string, error) { return "The battery lasts two days.", nil },
	))
	chain, err := NewChain(m, reviewIndex(t), func(o *ChainOptions) { o.Verifier = OverlapVerifier{} })
	require.NoError(t, err)

	ans, err := chain.Ask(context.Background(), "s1", "Is the X200 battery good?")
	require.NoError(t, err)
	require.NotNil(t, ans.Grounding)
	assert.True(t, ans.Grounding.Supported)
}

func TestChain_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	chain, err := NewChain(testutil.NewScriptedModel(reviewBot(nil)), reviewIndex(t), func(o *ChainOptions) {
		o.Tracer = tp.Tracer("test")
	})
	require.NoError(t, err)

	_, err = chain.Ask(context.Background(), "s1", "Is the X200 battery good?")
	require.NoError(t, err)

	spans := sr.Ended()
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[s.Name()] = s
	}
	require.Contains(t, byName, "rag.ask")
	root := byName["rag.ask"]
	for _, name := range []string{"rag.rewrite", "rag.retrieve", "rag.synthesize"} {
		require.Contains(t, byName, name)
		assert.Equal(t, root.SpanContext().SpanID(), byName[name].Parent().SpanID())
	}

	_, err = chain.Ask(context.Background(), "", "q")
	require.Error(t, err)
	assert.Len(t, sr.Ended(), len(spans), "validation errors start no span")

	failing, err := NewChain(testutil.NewScriptedModel(reviewBot(nil)), &sliceIndex{err: errors.New("down")}, func(o *ChainOptions) {
		o.Tracer = tp.Tracer("test")
	})
	require.NoError(t, err)
	_, err = failing.Ask(context.Background(), "s1", "Is the X200 battery good?")
	require.Error(t, err)

	last := sr.Ended()[len(sr.Ended())-1]
	assert.Equal(t, "rag.ask", last.Name())
	assert.Equal(t, codes.Error, last.Status().Code)
}

func TestChain_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})

	chain, err := NewChain(testutil.NewScriptedModel(reviewBot(nil)), reviewIndex(t), func(o *ChainOptions) { o.Logger = logger })
	require.NoError(t, err)

	_, err = chain.Ask(context.Background(), "session-42", "Is the X200 battery good?")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "ask completed")
	assert.Contains(t, out, "session-42")
}

type mockIndex struct{ mock.Mock }

func (m *mockIndex) Search(ctx context.Context, query string, k int) ([]core.ScoredRecord, error) {
	args := m.Called(ctx, query, k)
	hits, _ := args.Get(0).([]core.ScoredRecord)
	return hits, args.Error(1)
}

func TestChain_RetrievesWithStandaloneQuestion(t *testing.T) {
	idx := new(mockIndex)
	camera := core.ScoredRecord{Record: testutil.NewRecordBuilder().Title("X200 Phone").Review("Sharp camera.").Build(), Score: 0.9}
	idx.On("Search", mock.Anything, "Is the X200 battery good?", 2).Return([]core.ScoredRecord{camera}, nil).Once()
	idx.On("Search", mock.Anything, "What about the camera on the X200 phone?", 2).Return([]core.ScoredRecord{camera}, nil).Once()

	m := testutil.NewScriptedModel(reviewBot(map[string]string{
		"What about the camera?": "What about the camera on the X200 phone?",
	}))
	chain, err := NewChain(m, idx, func(o *ChainOptions) { o.K = 2 })
	require.NoError(t, err)

	_, err = chain.Ask(context.Background(), "s1", "Is the X200 battery good?")
	require.NoError(t, err)
	ans, err := chain.Ask(context.Background(), "s1", "What about the camera?")
	require.NoError(t, err)
	assert.Equal(t, []core.Record{camera.Record}, ans.Evidence)

	idx.AssertExpectations(t)
}

func TestNewChain_RejectsBadConfiguration(t *testing.T) {
	m := testutil.NewScriptedModel(reviewBot(nil))
	ix := reviewIndex(t)

	_, err := NewChain(nil, ix)
	assert.Error(t, err)

	_, err = NewChain(m, ix, func(o *ChainOptions) { o.K = 0 })
	assert.Error(t, err)

	_, err = NewChain(m, ix, func(o *ChainOptions) {
		o.AnswerDirective = Directive{SystemInstruction: "Answer {{.input}}", UserInputKey: "input"}
	})
	assert.Error(t, err)

	_, err = NewChain(m, ix, func(o *ChainOptions) {
		o.RewriteDirective = Directive{SystemInstruction: "{{.context}}", UserInputKey: "input"}
	})
	assert.Error(t, err)
}

func TestChain_MaxConcurrent(t *testing.T) {
	entered := make(chan struct{}, 2)
	unblock := make(chan struct{})
	m := testutil.NewScriptedModel(func(req model.Request) (string, error) {
		entered <- struct{}{}
		<-unblock
		return "ok", nil
	})
	chain, err := NewChain(m, reviewIndex(t), func(o *ChainOptions) { o.MaxConcurrent = 1 })
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := chain.Ask(context.Background(), "s1", "Is the X200 battery good?")
		errCh <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = chain.Ask(ctx, "s2", "Is the X200 battery good?")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(unblock)
	require.NoError(t, <-errCh)
	_, err = chain.History("s2")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

// gatedAnswers answers immediately on rewrites and blocks answer calls
// until unblock is closed, tracking how many run at once.
type gatedAnswers struct {
	entered chan struct{}
	unblock chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func newGatedAnswers() *gatedAnswers {
	return &gatedAnswers{entered: make(chan struct{}, 8), unblock: make(chan struct{})}
}

func (g *gatedAnswers) model() *testutil.ScriptedModel {
	return testutil.NewScriptedModel(testutil.RouteByInstruction("standalone",
		func(req model.Request) (string, error) { return req.Input, nil },
		func(req model.Request) (string, error) {
			n := g.active.Add(1)
			defer g.active.Add(-1)
			for {
				p := g.peak.Load()
				if n <= p || g.peak.CompareAndSwap(p, n) {
					break
				}
			}
			g.entered <- struct{}{}
			<-g.unblock
			return "A: " + req.Input, nil
		},
	))
}

func TestChain_EvictionDuringAskKeepsSessionSerialized(t *testing.T) {
	gate := newGatedAnswers()
	store := session.NewInMemoryStore(func(o *session.Options) { o.Capacity = 1 })
	chain, err := NewChain(gate.model(), reviewIndex(t), func(o *ChainOptions) { o.Store = store })
	require.NoError(t, err)
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() {
		_, err := chain.Ask(ctx, "s1", "Is the X200 battery good?")
		errs <- err
	}()
	<-gate.entered

	_, err = store.Get("other")
	require.NoError(t, err)
	_, err = store.Lookup("s1")
	require.ErrorIs(t, err, core.ErrSessionNotFound, "s1 should have been evicted")

	go func() {
		_, err := chain.Ask(ctx, "s1", "And the X200 camera?")
		errs <- err
	}()
	select {
	case <-gate.entered:
		t.Fatal("second exchange on s1 ran while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.unblock)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, int32(1), gate.peak.Load())

	turns, err := chain.History("s1")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "Is the X200 battery good?", turns[0].Text)
	assert.Equal(t, "And the X200 camera?", turns[2].Text)
}

func TestChain_ResetWaitsForAskInFlight(t *testing.T) {
	gate := newGatedAnswers()
	chain, err := NewChain(gate.model(), reviewIndex(t))
	require.NoError(t, err)

	askErr := make(chan error, 1)
	go func() {
		_, err := chain.Ask(context.Background(), "s1", "Is the X200 battery good?")
		askErr <- err
	}()
	<-gate.entered

	resetErr := make(chan error, 1)
	go func() { resetErr <- chain.Reset("s1") }()
	select {
	case err := <-resetErr:
		t.Fatalf("reset returned while an ask was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.unblock)
	require.NoError(t, <-askErr)
	require.NoError(t, <-resetErr)

	_, err = chain.History("s1")
	assert.ErrorIs(t, err, core.ErrSessionNotFound, "reset session must not come back")
}
