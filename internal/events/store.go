// Package events keeps the per-session audit log: lifecycle and conversation events
// in the order they happened.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxPerSession bounds each session's log. Older events are dropped first and a
// single truncation marker is appended.
const MaxPerSession = 200

const TypeTruncated = "events_truncated"

type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type Store struct {
	mu     sync.RWMutex
	bySess map[string][]Event
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{bySess: make(map[string][]Event), now: time.Now}
}

func (s *Store) Append(sessionID, typ string, payload map[string]any) Event {
	evt := Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      typ,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.bySess[sessionID], evt)
	if l := len(log); l > MaxPerSession {
		dropped := 0
		kept := make([]Event, 0, l)
		for _, e := range log {
			if e.Type == TypeTruncated {
				if n, ok := e.Payload["dropped"].(int); ok {
					dropped += n
				}
				continue
			}
			kept = append(kept, e)
		}
		// keep room for the marker so the total stays at MaxPerSession
		keep := MaxPerSession - 1
		if len(kept) > keep {
			dropped += len(kept) - keep
			kept = kept[len(kept)-keep:]
		}
		log = append([]Event(nil), kept...)
		log = append(log, Event{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Type:      TypeTruncated,
			Timestamp: evt.Timestamp,
			Payload:   map[string]any{"dropped": dropped, "kept": keep},
		})
	}
	s.bySess[sessionID] = log
	return evt
}

func (s *Store) List(sessionID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// return a shallow copy to avoid external mutation
	src := s.bySess[sessionID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

func (s *Store) Has(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bySess[sessionID]
	return ok
}

// Forget drops the log of a session.
func (s *Store) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.bySess, sessionID)
	s.mu.Unlock()
}

// SessionLog binds the store to one session so it can be handed to a session as
// its audit recorder.
type SessionLog struct {
	store     *Store
	sessionID string
}

func (s *Store) For(sessionID string) SessionLog {
	return SessionLog{store: s, sessionID: sessionID}
}

func (l SessionLog) Record(kind string, data map[string]any) {
	l.store.Append(l.sessionID, kind, data)
}
