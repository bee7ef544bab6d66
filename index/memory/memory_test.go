package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/embedding/hashing"
)

// Interface compliance (compile-time assertion)
var _ core.Index = (*Index)(nil)

func review(id, title, content string) core.Record {
	return core.Record{ID: id, Content: content, Metadata: map[string]string{core.TitleKey: title}}
}

func corpus() []core.Record {
	return []core.Record{
		review("1", "X200 Phone", "Battery easily lasts two days."),
		review("2", "X200 Phone", "The battery drains slowly, great battery life."),
		review("3", "X200 Phone", "Camera photos are sharp in daylight."),
		review("4", "Z9 Blender", "Loud motor but crushes ice."),
		review("5", "Acme Camera", "Camera autofocus is slow."),
	}
}

func TestIndex_SearchRanksRelevantFirst(t *testing.T) {
	ix := New(hashing.New(), func(o *Options) { o.BatchSize = 2 })
	require.NoError(t, ix.Add(context.Background(), corpus()...))
	assert.Equal(t, 5, ix.Len())

	hits, err := ix.Search(context.Background(), "X200 battery", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.LessOrEqual(t, len(hits), 3)
	assert.Equal(t, "X200 Phone", hits[0].Record.Title())
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestIndex_SearchBoundsK(t *testing.T) {
	ix := New(hashing.New())
	require.NoError(t, ix.Add(context.Background(), corpus()...))

	for k := 1; k <= 6; k++ {
		hits, err := ix.Search(context.Background(), "camera battery x200 phone blender", k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(hits), k)
	}

	hits, err := ix.Search(context.Background(), "x200", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_NoMatches(t *testing.T) {
	ix := New(hashing.New())
	hits, err := ix.Search(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)

	kw := New(keywordEmbedder{"x200", "battery", "camera", "blender"})
	require.NoError(t, kw.Add(context.Background(), corpus()...))
	hits, err = kw.Search(context.Background(), "submarine", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = kw.Search(context.Background(), "blender", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Z9 Blender", hits[0].Record.Title())
}

// keywordEmbedder sets one dimension per keyword present in the text.
type keywordEmbedder []string

func (k keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, len(k))
		for j, word := range k {
			if strings.Contains(strings.ToLower(text), word) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func TestIndex_AddReplacesByID(t *testing.T) {
	ix := New(hashing.New())
	require.NoError(t, ix.Add(context.Background(), corpus()...))
	require.NoError(t, ix.Add(context.Background(), corpus()...))
	assert.Equal(t, 5, ix.Len())

	ix.Clear()
	assert.Equal(t, 0, ix.Len())
}

func TestIndex_AddRejectsInvalidRecord(t *testing.T) {
	ix := New(hashing.New())
	err := ix.Add(context.Background(), review("1", "", "text"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMalformedInput)
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, f.err }

func TestIndex_EmbedFailure(t *testing.T) {
	boom := errors.New("boom")
	ix := New(failingEmbedder{err: boom})
	err := ix.Add(context.Background(), corpus()...)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, ix.Len())
}

func TestIndex_ResultsAreCopies(t *testing.T) {
	ix := New(hashing.New())
	require.NoError(t, ix.Add(context.Background(), corpus()...))

	hits, err := ix.Search(context.Background(), "x200 camera phone", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	hits[0].Record.Metadata[core.TitleKey] = "changed"

	again, err := ix.Search(context.Background(), "x200 camera phone", 1)
	require.NoError(t, err)
	assert.Equal(t, "X200 Phone", again[0].Record.Title())
}

func TestIndex_ConcurrentAccess(t *testing.T) {
	ix := New(hashing.New())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := review(fmt.Sprintf("id-%d", i), "X200 Phone", fmt.Sprintf("review number %d", i))
			if err := ix.Add(context.Background(), r); err != nil {
				t.Errorf("add: %v", err)
			}
			if _, err := ix.Search(context.Background(), "x200 review", 3); err != nil {
				t.Errorf("search: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, ix.Len())
}
