package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Default store bounds.
const (
	DefaultMaxSessions = 10000
	DefaultTTL         = 24 * time.Hour
)

// entry pairs a session with the lock that serializes work on it. refs
// counts the Do calls holding or waiting for the lock; guarded by Store.mu.
type entry struct {
	mu      sync.Mutex
	session *Session
	refs    int
}

// Store holds sessions in memory. Least recently used sessions are evicted
// beyond the size bound and idle sessions expire after the TTL; nothing is
// persisted. A session in use is never split: while any Do call holds it,
// later calls for the same id get the same entry even if the cache has
// evicted it meanwhile.
type Store struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, *entry]
	active map[string]*entry
}

// NewStore returns a store bounded to maxSessions entries that expire after
// ttl. Non-positive arguments select the defaults.
func NewStore(maxSessions int, ttl time.Duration) *Store {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		cache:  expirable.NewLRU[string, *entry](maxSessions, nil, ttl),
		active: make(map[string]*entry),
	}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.New().String()
}

// Do runs fn with exclusive access to the session identified by id,
// creating it empty on first use. Calls for the same id run one at a time;
// different ids do not block each other.
func (s *Store) Do(id string, fn func(*Session) error) error {
	e := s.acquire(id)
	defer s.release(id, e)

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}

func (s *Store) acquire(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[id]
	if !ok {
		if e, ok = s.cache.Get(id); !ok {
			e = &entry{session: New(id)}
		}
		s.active[id] = e
	}
	e.refs++
	// Refresh the expiry on use, reinstating the entry if it was evicted.
	s.cache.Add(id, e)
	return e
}

func (s *Store) release(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(s.active, id)
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
