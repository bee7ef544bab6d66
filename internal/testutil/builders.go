package testutil

import (
	"fmt"

	"github.com/hupe1980/reviewrag/core"
)

// RecordBuilder provides a fluent helper for constructing review records.
// Example:
//
//	rec := NewRecordBuilder().Title("X200 Phone").Review("Great battery").Build()
type RecordBuilder struct {
	id       string
	content  string
	metadata map[string]string
}

// NewRecordBuilder creates a builder with an empty record.
func NewRecordBuilder() *RecordBuilder {
	return &RecordBuilder{metadata: map[string]string{}}
}

// ID sets the record id (chainable).
func (b *RecordBuilder) ID(id string) *RecordBuilder { b.id = id; return b }

// Title sets the title metadata (chainable).
func (b *RecordBuilder) Title(t string) *RecordBuilder { b.metadata[core.TitleKey] = t; return b }

// Review sets the review text (chainable).
func (b *RecordBuilder) Review(text string) *RecordBuilder { b.content = text; return b }

// Meta adds an arbitrary metadata entry (chainable).
func (b *RecordBuilder) Meta(k, v string) *RecordBuilder { b.metadata[k] = v; return b }

// Build returns the record. A missing id is derived from title and review.
func (b *RecordBuilder) Build() core.Record {
	id := b.id
	if id == "" {
		id = fmt.Sprintf("%s|%s", b.metadata[core.TitleKey], b.content)
	}
	md := make(map[string]string, len(b.metadata))
	for k, v := range b.metadata {
		md[k] = v
	}
	return core.Record{ID: id, Content: b.content, Metadata: md}
}

// Reviews builds one record per review text for the given title.
func Reviews(title string, texts ...string) []core.Record {
	out := make([]core.Record, len(texts))
	for i, t := range texts {
		out[i] = NewRecordBuilder().Title(title).Review(t).Build()
	}
	return out
}

// TranscriptBuilder builds a core.Transcript from alternating exchanges.
type TranscriptBuilder struct {
	id    string
	turns []core.Turn
}

// NewTranscriptBuilder creates a builder for session id.
func NewTranscriptBuilder(id string) *TranscriptBuilder { return &TranscriptBuilder{id: id} }

// Exchange appends a user question and its assistant answer (chainable).
func (b *TranscriptBuilder) Exchange(question, answer string) *TranscriptBuilder {
	b.turns = append(b.turns, core.NewUserTurn(question), core.NewAssistantTurn(answer))
	return b
}

// User appends a lone user turn (chainable).
func (b *TranscriptBuilder) User(text string) *TranscriptBuilder {
	b.turns = append(b.turns, core.NewUserTurn(text))
	return b
}

// Turns returns the accumulated turns.
func (b *TranscriptBuilder) Turns() []core.Turn {
	out := make([]core.Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Build returns a transcript containing the accumulated turns.
func (b *TranscriptBuilder) Build() *core.Transcript {
	t := core.NewTranscript(b.id)
	t.Append(b.turns...)
	return t
}
