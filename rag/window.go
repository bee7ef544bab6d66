package rag

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/hupe1980/reviewrag/core"
)

// HistoryWindow trims the history handed to the model to a token budget.
// The stored transcript is never modified.
type HistoryWindow struct {
	budget int
	codec  tokenizer.Codec
}

// NewHistoryWindow returns a window keeping at most budget cl100k_base
// tokens of history. A budget of zero or less keeps everything.
func NewHistoryWindow(budget int) (*HistoryWindow, error) {
	if budget <= 0 {
		return &HistoryWindow{}, nil
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &HistoryWindow{budget: budget, codec: codec}, nil
}

// Budget returns the configured token budget (0 = unlimited).
func (w *HistoryWindow) Budget() int { return w.budget }

// Apply returns the most recent turns fitting the budget, oldest first. The
// window never starts with an assistant turn whose question was cut.
func (w *HistoryWindow) Apply(turns []core.Turn) []core.Turn {
	if w == nil || w.budget <= 0 || len(turns) == 0 {
		return turns
	}

	used := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		n := w.count(turns[i].Text)
		if used+n > w.budget {
			break
		}
		used += n
		start = i
	}
	for start < len(turns) && turns[start].Role == core.RoleAssistant {
		start++
	}

	out := make([]core.Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}

// count returns the token count of a turn, including a small per-message
// overhead for the role marker.
func (w *HistoryWindow) count(text string) int {
	ids, _, err := w.codec.Encode(text)
	if err != nil {
		return len(text)/4 + 4
	}
	return len(ids) + 4
}
