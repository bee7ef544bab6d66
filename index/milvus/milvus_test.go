package milvus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	client "github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/embedding/hashing"
)

// Interface compliance (compile-time assertion)
var _ core.Index = (*Index)(nil)

type fakeBackend struct {
	mu         sync.Mutex
	exists     bool
	created    *entity.Schema
	loads      int
	upserts    int
	searches   int
	results    []client.ResultSet
	searchErr  error
	hasErr     error
	closeCalls int
}

func (f *fakeBackend) HasCollection(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, f.hasErr
}

func (f *fakeBackend) CreateCollection(_ context.Context, schema *entity.Schema, _ ...client.CreateIndexOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = schema
	f.exists = true
	return nil
}

func (f *fakeBackend) LoadCollection(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return nil
}

func (f *fakeBackend) Upsert(context.Context, client.UpsertOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	return nil
}

func (f *fakeBackend) Search(context.Context, client.SearchOption) ([]client.ResultSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	return f.results, f.searchErr
}

func (f *fakeBackend) Close(context.Context) error {
	f.closeCalls++
	return nil
}

func resultSet(ids, contents, titles, metadata []string, scores []float32) client.ResultSet {
	return client.ResultSet{
		ResultCount: len(ids),
		Scores:      scores,
		Fields: []column.Column{
			column.NewColumnVarChar(fieldID, ids),
			column.NewColumnVarChar(fieldContent, contents),
			column.NewColumnVarChar(fieldTitle, titles),
			column.NewColumnVarChar(fieldMetadata, metadata),
		},
	}
}

func review(id, title, content string) core.Record {
	return core.Record{ID: id, Content: content, Metadata: map[string]string{core.TitleKey: title}}
}

func newIndex(b Backend) *Index {
	return New(b, hashing.New(func(o *hashing.Options) { o.Dimensions = 8 }), func(o *Options) { o.Dimensions = 8 })
}

func TestIndex_EnsureCollectionCreatesOnce(t *testing.T) {
	b := &fakeBackend{}
	ix := newIndex(b)

	require.NoError(t, ix.EnsureCollection(context.Background()))
	require.NoError(t, ix.EnsureCollection(context.Background()))

	require.NotNil(t, b.created)
	assert.Equal(t, DefaultCollection, b.created.CollectionName)
	assert.Len(t, b.created.Fields, 5)
	assert.Equal(t, 1, b.loads)
}

func TestIndex_EnsureCollectionRequiresDimensions(t *testing.T) {
	ix := New(&fakeBackend{}, hashing.New())
	require.Error(t, ix.EnsureCollection(context.Background()))
}

func TestIndex_Add(t *testing.T) {
	b := &fakeBackend{}
	ix := newIndex(b)

	err := ix.Add(context.Background(),
		review("1", "X200 Phone", "Battery lasts."),
		review("2", "X200 Phone", "Camera is sharp."),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, b.upserts)

	err = ix.Add(context.Background(), review("", "X200 Phone", "no id"))
	require.Error(t, err)

	err = ix.Add(context.Background(), review("3", "", "no title"))
	require.ErrorIs(t, err, core.ErrMalformedInput)
	assert.Equal(t, 1, b.upserts)
}

func TestIndex_SearchMissingCollection(t *testing.T) {
	b := &fakeBackend{}
	hits, err := newIndex(b).Search(context.Background(), "x200", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 0, b.searches)
}

func TestIndex_Search(t *testing.T) {
	b := &fakeBackend{
		exists: true,
		results: []client.ResultSet{resultSet(
			[]string{"1", "2", "3"},
			[]string{"Battery lasts.", "Great battery.", "Unrelated."},
			[]string{"X200 Phone", "X200 Phone", "Z9 Blender"},
			[]string{`{"product_name":"X200 Phone","source":"csv"}`, "", `{"product_name":"Z9 Blender"}`},
			[]float32{0.9, 0.7, 0},
		)},
	}
	ix := newIndex(b)

	hits, err := ix.Search(context.Background(), "x200 battery", 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "1", hits[0].Record.ID)
	assert.Equal(t, "X200 Phone", hits[0].Record.Title())
	assert.Equal(t, "csv", hits[0].Record.Metadata["source"])
	assert.InDelta(t, 0.9, hits[0].Score, 1e-6)
	assert.Equal(t, "Great battery.", hits[1].Record.Content)

	hits, err = ix.Search(context.Background(), "x200 battery", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndex_SearchError(t *testing.T) {
	boom := errors.New("unavailable")
	b := &fakeBackend{exists: true, searchErr: boom}
	_, err := newIndex(b).Search(context.Background(), "x200", 3)
	require.ErrorIs(t, err, boom)

	b = &fakeBackend{hasErr: boom}
	_, err = newIndex(b).Search(context.Background(), "x200", 3)
	require.ErrorIs(t, err, boom)
}

func TestConvertResultSet_Empty(t *testing.T) {
	hits, err := convertResultSet(nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = convertResultSet([]client.ResultSet{resultSet(
		[]string{"1"}, []string{"c"}, []string{"t"}, []string{"{not json"}, []float32{1},
	)})
	require.Error(t, err)
}

func TestCreateUpsert_DimensionMismatch(t *testing.T) {
	_, err := createUpsert("c", 4, []core.Record{review("1", "t", "c")}, [][]float32{{1, 2}})
	require.Error(t, err)
}

func TestIndex_Close(t *testing.T) {
	b := &fakeBackend{}
	require.NoError(t, newIndex(b).Close(context.Background()))
	assert.Equal(t, 1, b.closeCalls)
}
