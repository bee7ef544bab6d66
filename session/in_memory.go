package session

import (
	"container/list"
	"strings"
	"sync"

	"github.com/hupe1980/reviewrag/core"
)

// Options configures an InMemoryStore.
type Options struct {
	// Capacity bounds the number of live sessions. When exceeded the least
	// recently used session is evicted. Zero means unbounded.
	Capacity int
	// OnEvict is called (outside the store lock) with each evicted session id.
	OnEvict func(sessionID string)
}

type lruEntry struct {
	id         string
	transcript *core.Transcript
}

// InMemoryStore is a volatile SessionStore storing transcripts in a process
// local map. It is safe for concurrent access. Transcripts are handed out by
// reference so appends are visible to every holder.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*list.Element
	order    *list.List // front = most recently used
	opts     Options
	closed   bool
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity < 0 {
		opts.Capacity = 0
	}
	return &InMemoryStore{
		sessions: make(map[string]*list.Element),
		order:    list.New(),
		opts:     opts,
	}
}

// Get returns the transcript for sessionID, creating an empty one lazily.
func (s *InMemoryStore) Get(sessionID string) (*core.Transcript, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, core.ErrInvalidSession
	}

	// Unbounded stores never reorder, so a read lock is enough on hits.
	if s.opts.Capacity == 0 {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return nil, ErrStoreClosed
		}
		if el, ok := s.sessions[sessionID]; ok {
			s.mu.RUnlock()
			return el.Value.(*lruEntry).transcript, nil
		}
		s.mu.RUnlock()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	t, evicted := s.getOrCreateLocked(sessionID)
	s.mu.Unlock()

	s.notifyEvicted(evicted)
	return t, nil
}

// Lookup returns the transcript for sessionID without creating one. A hit
// counts as use for eviction order.
func (s *InMemoryStore) Lookup(sessionID string) (*core.Transcript, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, core.ErrInvalidSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	el, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	s.order.MoveToFront(el)
	return el.Value.(*lruEntry).transcript, nil
}

// Append adds turns to the end of the session's transcript, creating the
// transcript if needed. All turns of one call land contiguously.
func (s *InMemoryStore) Append(sessionID string, turns ...core.Turn) error {
	t, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	t.Append(turns...)
	return nil
}

// Delete removes the session. Holders of the old transcript keep it, but
// the next Get creates a fresh one.
func (s *InMemoryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	el, ok := s.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}
	s.order.Remove(el)
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of live sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close drops all sessions. Further calls fail with ErrStoreClosed.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sessions = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

// getOrCreateLocked returns the transcript for id, creating it and evicting
// beyond capacity; caller must hold the write lock.
func (s *InMemoryStore) getOrCreateLocked(id string) (*core.Transcript, []string) {
	if el, ok := s.sessions[id]; ok {
		s.order.MoveToFront(el)
		return el.Value.(*lruEntry).transcript, nil
	}

	t := core.NewTranscript(id)
	s.sessions[id] = s.order.PushFront(&lruEntry{id: id, transcript: t})

	var evicted []string
	for s.opts.Capacity > 0 && s.order.Len() > s.opts.Capacity {
		oldest := s.order.Back()
		entry := oldest.Value.(*lruEntry)
		s.order.Remove(oldest)
		delete(s.sessions, entry.id)
		evicted = append(evicted, entry.id)
	}
	return t, evicted
}

func (s *InMemoryStore) notifyEvicted(ids []string) {
	if s.opts.OnEvict == nil {
		return
	}
	for _, id := range ids {
		s.opts.OnEvict(id)
	}
}
