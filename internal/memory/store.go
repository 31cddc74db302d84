// Package memory holds the in-process conversation state: bounded per-chat
// turn history and the per-day message log used for evening recaps.
package memory

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// ring is a fixed-capacity FIFO of turns.
type ring struct {
	buf   []Turn
	start int
	n     int
}

func (r *ring) push(t Turn) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = t
		r.n++
		return
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []Turn {
	out := make([]Turn, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Store maps a conversation key to its last N turns. All methods are safe for
// concurrent use. Eviction is by insertion order only.
type Store struct {
	limit int
	now   func() time.Time

	mu    sync.Mutex
	rings map[string]*ring

	lockMu   sync.Mutex
	keyLocks map[string]*sync.Mutex
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1
	}
	return &Store{
		limit:    limit,
		now:      time.Now,
		rings:    make(map[string]*ring),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) Limit() int {
	return s.limit
}

func (s *Store) Append(key string, role Role, text string) {
	s.AppendTurn(key, Turn{Role: role, Text: text, Timestamp: s.now()})
}

func (s *Store) AppendTurn(key string, t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[key]
	if !ok {
		r = &ring{buf: make([]Turn, s.limit)}
		s.rings[key] = r
	}
	r.push(t)
}

// Read returns a copy of the key's turns, oldest first.
func (s *Store) Read(key string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[key]
	if !ok {
		return nil
	}
	return r.items()
}

func (s *Store) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rings[key]; ok {
		return r.n
	}
	return 0
}

// Lock serializes a read-modify-append sequence on one key. Other keys are
// not blocked. The returned func releases the lock.
func (s *Store) Lock(key string) (unlock func()) {
	s.lockMu.Lock()
	mu, ok := s.keyLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.keyLocks[key] = mu
	}
	s.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
