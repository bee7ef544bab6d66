// Package ollama provides a model wrapper for a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/model"
	"github.com/ollama/ollama/api"
)

// Options configures the Ollama model adapter.
type Options struct {
	Model       string
	Temperature float64
	// NumPredict caps the number of generated tokens. Zero leaves the server default.
	NumPredict int
}

// Model wraps the Ollama chat endpoint behind the generic model.Model interface.
type Model struct {
	client *api.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       "llama3.2",
		Temperature: 0.5,
	}
}

// NewModel creates a model talking to the Ollama server at baseURL. An empty
// baseURL resolves the server from OLLAMA_HOST.
func NewModel(baseURL string, optFns ...func(o *Options)) (*Model, error) {
	client, err := NewClient(baseURL)
	if err != nil {
		return nil, err
	}
	return NewModelFromClient(client, optFns...), nil
}

// NewModelFromClient creates a new Ollama model from an existing client.
func NewModelFromClient(client *api.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// NewClient builds an api client for baseURL, falling back to the environment.
func NewClient(baseURL string) (*api.Client, error) {
	if baseURL == "" {
		return api.ClientFromEnvironment()
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url %q: %w", baseURL, err)
	}
	return api.NewClient(u, http.DefaultClient), nil
}

// Generate implements unified streaming / non-streaming generation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := req.Stream
		options := map[string]any{"temperature": m.opts.Temperature}
		if m.opts.NumPredict > 0 {
			options["num_predict"] = m.opts.NumPredict
		}

		chatReq := &api.ChatRequest{
			Model:    m.opts.Model,
			Messages: buildMessages(req),
			Stream:   &stream,
			Options:  options,
		}

		err := m.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if !resp.Done {
				if resp.Message.Content != "" {
					if !model.Send(ctx, out, model.Response{Partial: true, Text: resp.Message.Content}) {
						return ctx.Err()
					}
				}
				return nil
			}

			final := model.Response{
				Partial:      false,
				Text:         resp.Message.Content,
				FinishReason: resp.DoneReason,
				Usage: &model.TokenUsage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
				},
			}
			// Streaming finals carry an empty message; partials hold the text.
			if stream && final.Text == "" {
				return nil
			}
			if !model.Send(ctx, out, final) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			errCh <- fmt.Errorf("ollama chat error: %w", err)
		}
	}()

	return out, errCh
}

func buildMessages(req model.Request) []api.Message {
	conv := req.Conversation()
	messages := make([]api.Message, 0, len(conv)+1)
	if req.Instructions != "" {
		messages = append(messages, api.Message{Role: string(core.RoleSystem), Content: req.Instructions})
	}
	for _, t := range conv {
		messages = append(messages, api.Message{Role: string(t.Role), Content: t.Text})
	}
	return messages
}

// Info returns metadata describing this Ollama model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:              m.opts.Model,
		Provider:          "ollama",
		SupportsStreaming: true,
	}
}
