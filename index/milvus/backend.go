package milvus

import (
	"context"

	"github.com/milvus-io/milvus/client/v2/entity"
	client "github.com/milvus-io/milvus/client/v2/milvusclient"
)

// Backend is the subset of the Milvus client used by Index.
type Backend interface {
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, indexOpts ...client.CreateIndexOption) error
	LoadCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, opt client.UpsertOption) error
	Search(ctx context.Context, opt client.SearchOption) ([]client.ResultSet, error)
	Close(ctx context.Context) error
}

// Connect dials a Milvus server and returns a Backend over it.
func Connect(ctx context.Context, address string) (Backend, error) {
	c, err := client.New(ctx, &client.ClientConfig{Address: address})
	if err != nil {
		return nil, err
	}
	return NewBackend(c), nil
}

// NewBackend adapts an existing Milvus client.
func NewBackend(c *client.Client) Backend {
	return &clientBackend{client: c}
}

type clientBackend struct {
	client *client.Client
}

func (b *clientBackend) HasCollection(ctx context.Context, name string) (bool, error) {
	return b.client.HasCollection(ctx, client.NewHasCollectionOption(name))
}

func (b *clientBackend) CreateCollection(ctx context.Context, schema *entity.Schema, indexOpts ...client.CreateIndexOption) error {
	return b.client.CreateCollection(ctx,
		client.NewCreateCollectionOption(schema.CollectionName, schema).WithIndexOptions(indexOpts...))
}

func (b *clientBackend) LoadCollection(ctx context.Context, name string) error {
	task, err := b.client.LoadCollection(ctx, client.NewLoadCollectionOption(name))
	if err != nil {
		return err
	}
	return task.Await(ctx)
}

func (b *clientBackend) Upsert(ctx context.Context, opt client.UpsertOption) error {
	_, err := b.client.Upsert(ctx, opt)
	return err
}

func (b *clientBackend) Search(ctx context.Context, opt client.SearchOption) ([]client.ResultSet, error) {
	return b.client.Search(ctx, opt)
}

func (b *clientBackend) Close(ctx context.Context) error {
	return b.client.Close(ctx)
}
