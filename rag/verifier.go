package rag

import (
	"context"
	"strings"
	"unicode"

	"github.com/hupe1980/reviewrag/core"
)

// Grounding is the outcome of checking an answer against its evidence.
type Grounding struct {
	// Score is the share of the answer's content words found in the evidence.
	Score float64 `json:"score"`
	// Supported reports Score >= the verifier threshold.
	Supported bool `json:"supported"`
	// Unsupported lists answer words missing from the evidence.
	Unsupported []string `json:"unsupported,omitempty"`
}

// Verifier checks a synthesized answer against the evidence it was given.
// Verification is advisory: it never alters or blocks the answer.
type Verifier interface {
	Verify(ctx context.Context, answer string, evidence []core.Record) (Grounding, error)
}

// OverlapVerifier scores lexical overlap between answer and evidence.
type OverlapVerifier struct {
	// Threshold is the minimal score counted as supported. Defaults to 0.5.
	Threshold float64
	// MinWordLength ignores shorter words. Defaults to 4.
	MinWordLength int
}

// Verify implements Verifier.
func (v OverlapVerifier) Verify(ctx context.Context, answer string, evidence []core.Record) (Grounding, error) {
	if err := ctx.Err(); err != nil {
		return Grounding{}, err
	}
	threshold := v.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}
	minLen := v.MinWordLength
	if minLen <= 0 {
		minLen = 4
	}

	known := map[string]struct{}{}
	for _, r := range evidence {
		for _, w := range words(r.Content + " " + r.Title()) {
			known[w] = struct{}{}
		}
	}

	var (
		total       int
		hits        int
		unsupported []string
		seen        = map[string]struct{}{}
	)
	for _, w := range words(answer) {
		if len([]rune(w)) < minLen {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		total++
		if _, ok := known[w]; ok {
			hits++
			continue
		}
		unsupported = append(unsupported, w)
	}

	if total == 0 {
		return Grounding{Score: 1, Supported: true}, nil
	}
	score := float64(hits) / float64(total)
	return Grounding{Score: score, Supported: score >= threshold, Unsupported: unsupported}, nil
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
