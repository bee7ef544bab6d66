package rag

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/model"
)

// DefaultNoEvidenceAnswer is returned when retrieval found nothing.
const DefaultNoEvidenceAnswer = "I couldn't find any product reviews that answer that question."

// SynthesizerOptions configures a Synthesizer.
type SynthesizerOptions struct {
	Directive Directive
	// NoEvidenceAnswer is returned without calling the model when the
	// evidence set is empty.
	NoEvidenceAnswer string
}

// Synthesizer answers a question from retrieved records.
type Synthesizer struct {
	model            model.Model
	directive        *compiledDirective
	noEvidenceAnswer string
}

// NewSynthesizer validates the directive and returns a Synthesizer. The
// answer directive must reference the evidence context.
func NewSynthesizer(m model.Model, optFns ...func(o *SynthesizerOptions)) (*Synthesizer, error) {
	opts := SynthesizerOptions{
		Directive:        DefaultAnswerDirective(),
		NoEvidenceAnswer: DefaultNoEvidenceAnswer,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if strings.TrimSpace(opts.NoEvidenceAnswer) == "" {
		opts.NoEvidenceAnswer = DefaultNoEvidenceAnswer
	}
	d, err := opts.Directive.compile(true)
	if err != nil {
		return nil, err
	}
	return &Synthesizer{model: m, directive: d, noEvidenceAnswer: opts.NoEvidenceAnswer}, nil
}

// Synthesize answers question using only evidence as grounding, conditioned
// on history for continuity. Empty evidence yields the no-evidence answer
// and never an error. Model failures are returned as *core.GenerationError.
func (s *Synthesizer) Synthesize(ctx context.Context, evidence []core.Record, question string, history []core.Turn) (string, error) {
	if len(evidence) == 0 {
		return s.noEvidenceAnswer, nil
	}

	req, err := s.directive.request(history, question, FormatEvidence(evidence))
	if err != nil {
		return "", &core.GenerationError{Stage: core.StageSynthesize, Err: err}
	}

	out, err := model.Complete(ctx, s.model, req)
	if err != nil {
		return "", &core.GenerationError{Stage: core.StageSynthesize, Err: err}
	}
	return strings.TrimSpace(out), nil
}

// FormatEvidence renders records in retrieval order. Each block carries the
// title, remaining metadata sorted by key, then the review text.
func FormatEvidence(records []core.Record) string {
	blocks := make([]string, 0, len(records))
	for i, r := range records {
		var sb strings.Builder
		sb.WriteString("[" + strconv.Itoa(i+1) + "] ")
		sb.WriteString(core.TitleKey + ": " + r.Title() + "\n")

		keys := make([]string, 0, len(r.Metadata))
		for k := range r.Metadata {
			if k != core.TitleKey {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(k + ": " + r.Metadata[k] + "\n")
		}
		sb.WriteString("review: " + r.Content)
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n")
}
