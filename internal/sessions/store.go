// Package sessions holds live conversation sessions for the management surface and
// reclaims the ones nobody closes.
package sessions

import (
	"errors"
	"sort"
	"sync"
	"time"

	"guidedconv/agent/internal/realtime"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

const DefaultIdleTTL = time.Hour

type Entry struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Session   *realtime.Session `json:"-"`
}

// Store is the session registry. Delete and Expired both remove the entry, so an
// entry is handed to exactly one of them: an explicitly deleted session is never
// reaped.
type Store interface {
	Put(e *Entry) error
	Get(id string) (*Entry, error)
	Delete(id string) (*Entry, error)
	// Touch pushes the expiry of id one TTL into the future.
	Touch(id string) error
	// Expired removes and returns every entry whose deadline is at or before now.
	Expired(now time.Time) []*Entry
	List() []*Entry
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &MemoryStore{entries: make(map[string]*Entry), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) TTL() time.Duration { return s.ttl }

func (s *MemoryStore) Put(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; ok {
		return ErrExists
	}
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.ExpiresAt = now.Add(s.ttl)
	s.entries[e.ID] = e
	gaugeSessions.Inc()
	return nil
}

func (s *MemoryStore) Get(id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Delete(id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, id)
	gaugeSessions.Dec()
	return e, nil
}

func (s *MemoryStore) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.ExpiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) Expired(now time.Time) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Entry
	for id, e := range s.entries {
		if !e.ExpiresAt.After(now) {
			out = append(out, e)
			delete(s.entries, id)
			gaugeSessions.Dec()
		}
	}
	return out
}

// List returns the entries ordered by creation time.
func (s *MemoryStore) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
