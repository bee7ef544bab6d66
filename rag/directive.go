package rag

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/internal/util"
	"github.com/hupe1980/reviewrag/model"
)

const (
	// ContextKey names the rendered evidence inside an answer directive.
	ContextKey = "context"
	// DefaultHistoryPlaceholder names the conversation history.
	DefaultHistoryPlaceholder = "chat_history"
	// DefaultUserInputKey names the user's text.
	DefaultUserInputKey = "input"
)

// DefaultRewriteInstruction is the system instruction used to turn a
// follow-up into a standalone question.
const DefaultRewriteInstruction = "Given the chat history and user question, rewrite it as a standalone question. " +
	"Do not answer it. Reply with the rewritten question only."

// DefaultAnswerInstruction grounds answers in retrieved reviews.
const DefaultAnswerInstruction = "You're an e-commerce bot answering product-related queries using reviews and titles. " +
	"Stick to context. Be concise and helpful. " +
	"If the context does not contain the answer, say that the reviews do not cover it instead of guessing.\n\n" +
	"CONTEXT:\n{{.context}}\n\n" +
	"QUESTION: {{.input}}"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Directive is the structured system prompt of one model call.
//
// SystemInstruction is a text/template. It may reference only ContextKey,
// UserInputKey and HistoryPlaceholder. When it references the history
// placeholder the history is rendered inline as text; otherwise prior turns
// are sent as chat messages. An empty HistoryPlaceholder withholds history
// from the model entirely. The user text is always sent as the final user
// message.
type Directive struct {
	SystemInstruction  string
	HistoryPlaceholder string
	UserInputKey       string
}

// DefaultRewriteDirective returns the standalone-question directive.
func DefaultRewriteDirective() Directive {
	return Directive{
		SystemInstruction:  DefaultRewriteInstruction,
		HistoryPlaceholder: DefaultHistoryPlaceholder,
		UserInputKey:       DefaultUserInputKey,
	}
}

// DefaultAnswerDirective returns the grounded answer directive.
func DefaultAnswerDirective() Directive {
	return Directive{
		SystemInstruction:  DefaultAnswerInstruction,
		HistoryPlaceholder: DefaultHistoryPlaceholder,
		UserInputKey:       DefaultUserInputKey,
	}
}

// Validate checks the directive fields and the names its template references.
func (d Directive) Validate() error {
	_, err := d.compile(false)
	return err
}

type compiledDirective struct {
	Directive
	tmpl          *template.Template
	fields        map[string]bool
	inlineHistory bool
}

func (d Directive) compile(requireContext bool) (*compiledDirective, error) {
	if strings.TrimSpace(d.SystemInstruction) == "" {
		return nil, &util.ValidationError{Field: "SystemInstruction", Message: "must not be empty"}
	}
	if !identifier.MatchString(d.UserInputKey) {
		return nil, &util.ValidationError{Field: "UserInputKey", Value: d.UserInputKey, Message: "must be an identifier"}
	}
	if d.UserInputKey == ContextKey {
		return nil, &util.ValidationError{Field: "UserInputKey", Value: d.UserInputKey, Message: "collides with " + ContextKey}
	}
	if d.HistoryPlaceholder != "" {
		if !identifier.MatchString(d.HistoryPlaceholder) {
			return nil, &util.ValidationError{Field: "HistoryPlaceholder", Value: d.HistoryPlaceholder, Message: "must be an identifier"}
		}
		if d.HistoryPlaceholder == ContextKey || d.HistoryPlaceholder == d.UserInputKey {
			return nil, &util.ValidationError{Field: "HistoryPlaceholder", Value: d.HistoryPlaceholder, Message: "collides with another directive field"}
		}
	}

	tmpl, err := util.ParseTemplate("directive", d.SystemInstruction)
	if err != nil {
		return nil, &util.ValidationError{Field: "SystemInstruction", Message: err.Error()}
	}

	allowed := map[string]bool{ContextKey: true, d.UserInputKey: true}
	if d.HistoryPlaceholder != "" {
		allowed[d.HistoryPlaceholder] = true
	}
	fields := map[string]bool{}
	for _, name := range util.TemplateFields(tmpl) {
		if !allowed[name] {
			return nil, &util.ValidationError{Field: "SystemInstruction", Value: name, Message: fmt.Sprintf("references unknown field %q", name)}
		}
		fields[name] = true
	}
	if requireContext && !fields[ContextKey] {
		return nil, &util.ValidationError{Field: "SystemInstruction", Message: "must reference {{." + ContextKey + "}}"}
	}

	return &compiledDirective{
		Directive:     d,
		tmpl:          tmpl,
		fields:        fields,
		inlineHistory: d.HistoryPlaceholder != "" && fields[d.HistoryPlaceholder],
	}, nil
}

// request renders the directive into a model request.
func (c *compiledDirective) request(history []core.Turn, input, evidence string) (model.Request, error) {
	state := map[string]any{
		ContextKey:     evidence,
		c.UserInputKey: input,
	}
	if c.HistoryPlaceholder != "" {
		state[c.HistoryPlaceholder] = formatHistory(history)
	}

	instructions, err := util.Execute(c.tmpl, state)
	if err != nil {
		return model.Request{}, fmt.Errorf("render directive: %w", err)
	}

	req := model.Request{Instructions: instructions, Input: input}
	if c.HistoryPlaceholder != "" && !c.inlineHistory {
		req.History = history
	}
	return req, nil
}

func formatHistory(turns []core.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		if !t.IsConversational() {
			continue
		}
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Text)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
