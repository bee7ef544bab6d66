package session

import (
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/hupe1980/reviewrag/core"
)

// TTLOptions configures a TTLStore.
type TTLOptions struct {
	// TTL is the idle time after which a session expires. Every Get or
	// Append restarts it. Zero or negative disables expiry.
	TTL time.Duration
	// CleanupInterval is how often expired sessions are purged.
	CleanupInterval time.Duration
	// OnEvict is called with the id of each expired or deleted session. It
	// must not call back into the store.
	OnEvict func(sessionID string)
}

// TTLStore is a SessionStore whose sessions expire after a period of
// inactivity.
type TTLStore struct {
	mu     sync.Mutex
	cache  *cache.Cache
	closed bool
}

// NewTTLStore constructs a store with sliding expiry.
func NewTTLStore(optFns ...func(o *TTLOptions)) *TTLStore {
	opts := TTLOptions{
		TTL:             30 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := opts.CleanupInterval
	if ttl == cache.NoExpiration {
		cleanup = 0
	}

	c := cache.New(ttl, cleanup)
	if opts.OnEvict != nil {
		onEvict := opts.OnEvict
		c.OnEvicted(func(key string, _ interface{}) { onEvict(key) })
	}
	return &TTLStore{cache: c}
}

// Get returns the transcript for sessionID, creating an empty one lazily,
// and restarts its expiry.
func (s *TTLStore) Get(sessionID string) (*core.Transcript, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, core.ErrInvalidSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	if v, ok := s.cache.Get(sessionID); ok {
		t := v.(*core.Transcript)
		s.cache.Set(sessionID, t, cache.DefaultExpiration)
		return t, nil
	}

	t := core.NewTranscript(sessionID)
	s.cache.Set(sessionID, t, cache.DefaultExpiration)
	return t, nil
}

// Lookup returns the transcript for sessionID without creating one and
// restarts its expiry on a hit.
func (s *TTLStore) Lookup(sessionID string) (*core.Transcript, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, core.ErrInvalidSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	v, ok := s.cache.Get(sessionID)
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	t := v.(*core.Transcript)
	s.cache.Set(sessionID, t, cache.DefaultExpiration)
	return t, nil
}

// Append adds turns to the session's transcript, creating it if needed.
func (s *TTLStore) Append(sessionID string, turns ...core.Turn) error {
	t, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	t.Append(turns...)
	return nil
}

// Delete removes the session.
func (s *TTLStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.cache.Get(sessionID); !ok {
		return core.ErrSessionNotFound
	}
	s.cache.Delete(sessionID)
	return nil
}

// Len returns the number of cached sessions. Expired sessions count until
// the next cleanup pass.
func (s *TTLStore) Len() int {
	return s.cache.ItemCount()
}

// Close drops all sessions. Further calls fail with ErrStoreClosed.
func (s *TTLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cache.Flush()
	return nil
}
