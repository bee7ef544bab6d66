package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/reviewrag/core"
)

// ErrEmptyCompletion is returned by Complete when the model produced no text.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Request captures the normalized model input produced by the pipeline.
type Request struct {
	Instructions string      `json:"instructions"` // System directive
	History      []core.Turn `json:"history"`      // Prior conversation, oldest first
	Input        string      `json:"input"`        // The new user text
	Stream       bool        `json:"stream,omitempty"`
}

// Conversation returns the conversational history followed by the user
// input as a final user turn. System turns are dropped.
func (r Request) Conversation() []core.Turn {
	out := make([]core.Turn, 0, len(r.History)+1)
	for _, t := range r.History {
		if t.IsConversational() && t.Text != "" {
			out = append(out, t)
		}
	}
	if r.Input != "" {
		out = append(out, core.Turn{Role: core.RoleUser, Text: r.Input})
	}
	return out
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name              string `json:"name"`
	Provider          string `json:"provider"` // "openai", "anthropic", "ollama", "mock"
	SupportsStreaming bool   `json:"supports_streaming"`
}

// Model is the minimal interface required by the pipeline to drive generation.
// The response channel is closed when generation ends; the error channel
// carries at most one terminal error.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Complete drains a Generate call into a single string. The final
// non-partial response wins; if a provider only emitted partials, they are
// concatenated. Errors are returned as produced by the provider.
func Complete(ctx context.Context, m Model, req Request) (string, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final    string
		gotFinal bool
		partial  strings.Builder
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				partial.WriteString(resp.Text)
				continue
			}
			final = resp.Text
			gotFinal = true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", err
			}
		}
	}

	if !gotFinal {
		final = partial.String()
	}
	if strings.TrimSpace(final) == "" {
		return "", ErrEmptyCompletion
	}
	return final, nil
}

// Send delivers r on out unless ctx is done first. Producers stop as soon
// as it returns false, since the consumer may have gone away.
func Send(ctx context.Context, out chan<- Response, r Response) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses are keyed by the request input; unknown inputs get an echo.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	err       error
	requests  []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:              name,
			Provider:          provider,
			SupportsStreaming: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input.
func (m *MockModel) AddResponse(input, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[input] = response
}

// FailWith makes every subsequent Generate call fail with err (nil clears it).
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns a copy of every request received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	full, known := m.responses[req.Input]
	failure := m.err
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if failure != nil {
			errCh <- failure
			return
		}
		if req.Input == "" {
			errCh <- fmt.Errorf("no input provided")
			return
		}
		if !known {
			full = fmt.Sprintf("Mock response to: %s", req.Input)
		}
		if req.Stream {
			for _, r := range full {
				if !Send(ctx, respCh, Response{Partial: true, Text: string(r)}) {
					errCh <- ctx.Err()
					return
				}
			}
		}
		if !Send(ctx, respCh, Response{Partial: false, Text: full, FinishReason: "stop"}) {
			errCh <- ctx.Err()
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
