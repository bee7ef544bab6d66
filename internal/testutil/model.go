package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/hupe1980/reviewrag/model"
)

// Reply computes a scripted completion for a request.
type Reply func(req model.Request) (string, error)

// ScriptedModel is a model.Model whose completions are computed by a Reply
// function. It records every request it receives.
type ScriptedModel struct {
	mu       sync.Mutex
	reply    Reply
	requests []model.Request
}

// NewScriptedModel creates a model answering with reply.
func NewScriptedModel(reply Reply) *ScriptedModel {
	return &ScriptedModel{reply: reply}
}

// RouteByInstruction dispatches rewrite and answer calls by a marker in the
// system instruction: requests whose instructions contain marker go to
// onMarker, all others to otherwise.
func RouteByInstruction(marker string, onMarker, otherwise Reply) Reply {
	return func(req model.Request) (string, error) {
		if strings.Contains(req.Instructions, marker) {
			return onMarker(req)
		}
		return otherwise(req)
	}
}

// Generate implements model.Model.
func (m *ScriptedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	reply := m.reply
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		text, err := reply(req)
		if err != nil {
			errCh <- err
			return
		}
		model.Send(ctx, out, model.Response{Text: text, FinishReason: "stop"})
	}()
	return out, errCh
}

// Info implements model.Model.
func (m *ScriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "mock"}
}

// Requests returns a copy of all received requests.
func (m *ScriptedModel) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns the number of received requests.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
