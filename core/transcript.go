package core

import (
	"sync"
	"time"
)

// Transcript is the ordered conversation history of one session. It is safe
// for concurrent access.
//
// Contract:
//   - Append is atomic: all turns passed in one call land contiguously
//   - Turns returns a defensive copy in chronological order
type Transcript struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	turns []Turn
	mu    sync.RWMutex
}

// NewTranscript creates an empty transcript for the given session id.
func NewTranscript(id string) *Transcript {
	now := time.Now()
	return &Transcript{ID: id, Created: now, Updated: now, turns: []Turn{}}
}

// Append adds turns to the end of the transcript updating the Updated timestamp.
func (t *Transcript) Append(turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turns...)
	t.Updated = time.Now()
}

// Turns returns a copy of the full turn slice.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of stored turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// LastUpdated returns the time of the latest append (or creation).
func (t *Transcript) LastUpdated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Updated
}

// SessionStore owns all transcripts and maps session ids to them.
//
// Get lazily creates an empty transcript when none exists. The first and
// subsequent calls for the same id return the same *Transcript until the
// entry is deleted or evicted. Lookup never creates and reports unknown ids
// with ErrSessionNotFound. Transcripts of different ids never share state.
type SessionStore interface {
	Get(sessionID string) (*Transcript, error)
	Lookup(sessionID string) (*Transcript, error)
	Append(sessionID string, turns ...Turn) error
	Delete(sessionID string) error
	Len() int
	Close() error
}
