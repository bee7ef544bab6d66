// Package ollama provides an embedder backed by a local Ollama server.
package ollama

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"
)

// Options configures the Ollama embedder.
type Options struct {
	Model string
}

// Embedder calls the Ollama embed endpoint.
type Embedder struct {
	client *api.Client
	opts   Options
}

// New creates an embedder from an existing api client.
func New(client *api.Client, optFns ...func(o *Options)) *Embedder {
	opts := Options{Model: "nomic-embed-text"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Embedder{client: client, opts: opts}
}

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.opts.Model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed error: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d vectors, got %d", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}
