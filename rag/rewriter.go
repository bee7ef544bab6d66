package rag

import (
	"context"
	"strings"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/model"
)

// RewriterOptions configures a Rewriter.
type RewriterOptions struct {
	Directive Directive
}

// Rewriter folds conversation history into a standalone question.
type Rewriter struct {
	model     model.Model
	directive *compiledDirective
}

// NewRewriter validates the directive and returns a Rewriter. The rewrite
// directive cannot reference the evidence context.
func NewRewriter(m model.Model, optFns ...func(o *RewriterOptions)) (*Rewriter, error) {
	opts := RewriterOptions{Directive: DefaultRewriteDirective()}
	for _, fn := range optFns {
		fn(&opts)
	}
	d, err := opts.Directive.compile(false)
	if err != nil {
		return nil, err
	}
	if d.fields[ContextKey] {
		return nil, errContextInRewrite
	}
	return &Rewriter{model: m, directive: d}, nil
}

// Rewrite returns a context-independent version of question. With no
// conversational history the question is returned unchanged and the model
// is not called. Model failures and empty completions are returned as
// *core.GenerationError; the rewriter never falls back to the raw question.
func (r *Rewriter) Rewrite(ctx context.Context, history []core.Turn, question string) (string, error) {
	if !hasConversation(history) {
		return question, nil
	}

	req, err := r.directive.request(history, question, "")
	if err != nil {
		return "", &core.GenerationError{Stage: core.StageRewrite, Err: err}
	}

	out, err := model.Complete(ctx, r.model, req)
	if err != nil {
		return "", &core.GenerationError{Stage: core.StageRewrite, Err: err}
	}
	return strings.TrimSpace(out), nil
}

func hasConversation(history []core.Turn) bool {
	for _, t := range history {
		if t.IsConversational() && strings.TrimSpace(t.Text) != "" {
			return true
		}
	}
	return false
}
