package testutil

import (
	"context"
	"strings"
	"unicode"
)

// KeywordEmbedder is a deterministic embedder with one dimension per
// vocabulary word, set when the word occurs in the text. Texts without any
// vocabulary word embed to the zero vector and therefore match nothing.
type KeywordEmbedder []string

// Embed implements core.Embedder.
func (k KeywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		words := map[string]bool{}
		for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			words[w] = true
		}
		v := make([]float32, len(k))
		for j, kw := range k {
			if words[kw] {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}
