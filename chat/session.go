package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Golenspade/terre-agent/gateway"
)

// Store hands out sessions by id.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Identity: an empty id creates a fresh session with a generated id;
//   a known id returns the same *Session on every call.
type Store interface {
	GetOrCreate(id string) *Session
	Len() int
}

// Session is one conversation's history. The orchestrator holds mu for
// a whole turn, so turns against one session id are serialized; the
// history helpers assume the caller holds mu.
type Session struct {
	ID string

	mu       sync.Mutex
	messages []gateway.Message
	touched  time.Time
}

func (s *Session) append(msgs ...gateway.Message) {
	s.messages = append(s.messages, msgs...)
}

// repin strips any system entries, keeps the most recent n-1 of the
// rest, and re-pins the system prompt at index 0.
func (s *Session) repin(system string, n int) {
	rest := s.messages[:0]
	for _, m := range s.messages {
		if m.Role != "system" {
			rest = append(rest, m)
		}
	}
	if keep := n - 1; len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}
	out := make([]gateway.Message, 0, len(rest)+1)
	out = append(out, gateway.Message{Role: "system", Content: system})
	out = append(out, rest...)
	s.messages = out
}

// window returns a copy of the history for one generation.
func (s *Session) window() []gateway.Message {
	out := make([]gateway.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// History returns a snapshot of the session's messages.
func (s *Session) History() []gateway.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window()
}

// MemoryStore keeps sessions in a process-local map. With a positive
// TTL, sessions idle longer than the TTL are evicted on the next
// access.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates a MemoryStore. A zero ttl disables eviction.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl > 0 {
		s.sweepLocked()
	}
	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			sess.touched = s.now()
			return sess
		}
	} else {
		id = uuid.NewString()
	}
	sess := &Session{ID: id, touched: s.now()}
	s.sessions[id] = sess
	return sess
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) sweepLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.touched.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
