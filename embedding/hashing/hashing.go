// Package hashing provides a deterministic, dependency-free embedder that
// hashes lowercase word tokens into a fixed-size vector. It needs no network
// and is the default for local runs and tests.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is used when Options.Dimensions is not positive.
const DefaultDimensions = 256

// Options configures the hashing embedder.
type Options struct {
	Dimensions int
	// Stopwords are ignored during tokenization.
	Stopwords map[string]struct{}
}

// Embedder maps text to L2-normalized bag-of-words vectors.
type Embedder struct {
	opts Options
}

// New creates a hashing embedder.
func New(optFns ...func(o *Options)) *Embedder {
	opts := Options{
		Dimensions: DefaultDimensions,
		Stopwords:  defaultStopwords(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = DefaultDimensions
	}
	return &Embedder{opts: opts}
}

// Dimensions returns the vector width.
func (e *Embedder) Dimensions() int { return e.opts.Dimensions }

// Embed returns one vector per input text. Equal texts yield equal vectors.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *Embedder) embed(text string) []float32 {
	vec := make([]float32, e.opts.Dimensions)
	for _, tok := range Tokenize(text) {
		if _, skip := e.opts.Stopwords[tok]; skip {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % uint32(e.opts.Dimensions))
		// One hash bit picks the sign to spread collisions.
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "and", "are", "about", "as", "at", "be", "but", "by", "does", "do",
		"for", "from", "good", "how", "i", "in", "is", "it", "its", "me", "my", "of",
		"on", "or", "so", "that", "the", "this", "to", "was", "what", "which", "with",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
