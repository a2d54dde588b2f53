package session

import (
	"sync"
	"time"

	"github.com/moneymentor/mentor/pkg/domain"
)

// lockEntry holds the per-session mutex and its reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// cacheEntry holds the cached record and its last access time, used by the
// idle-eviction sweep.
type cacheEntry struct {
	session    *domain.Session
	lastAccess time.Time
}

// Cache is the process-local, authoritative copy of every active session.
//
// Map surgery happens under one short global mutex; mutations to a given ID
// are serialized by a per-ID lock entry that is garbage collected via
// reference counting, so unrelated sessions never contend with each other.
// Every record that crosses the Cache boundary is deep-copied: callers can
// never alias cache-owned state.
type Cache struct {
	mu      sync.Mutex
	locks   map[string]*lockEntry
	entries map[string]*cacheEntry

	now func() time.Time // Injectable for eviction tests
}

// NewCache creates an empty session cache.
func NewCache() *Cache {
	return &Cache{
		locks:   make(map[string]*lockEntry),
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after
// unlocking.
func (c *Cache) acquire(sessionID string) *lockEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		c.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (c *Cache) release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.locks[sessionID]
	if !exists {
		return // Should not happen if paired correctly
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(c.locks, sessionID)
	}
}

// WithLock executes fn while holding the exclusive lock for the session ID.
// It serializes read-modify-write cycles on the same ID without blocking
// operations on other IDs.
func (c *Cache) WithLock(sessionID string, fn func() error) error {
	entry := c.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		c.release(sessionID)
	}()

	return fn()
}

// Get returns a copy of the cached session, if present. It never touches the
// durable store and never waits on another session's mutation.
func (c *Cache) Get(sessionID string) (*domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	entry.lastAccess = c.now()
	return entry.session.Clone(), true
}

// Put inserts or replaces the full record. Used when populating from the
// durable store or materializing a fresh record.
func (c *Cache) Put(sessionID string, session *domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[sessionID] = &cacheEntry{
		session:    session.Clone(),
		lastAccess: c.now(),
	}
}

// PutIfAbsent inserts the record only if the ID is not already cached.
// Reports whether the insert happened.
func (c *Cache) PutIfAbsent(sessionID string, session *domain.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[sessionID]; exists {
		return false
	}
	c.entries[sessionID] = &cacheEntry{
		session:    session.Clone(),
		lastAccess: c.now(),
	}
	return true
}

// MutateInPlace applies fn to the stored record under the per-ID lock, so two
// concurrent mutations never race to read-modify-write the same field.
// Returns a copy of the post-mutation record, or false if the ID is absent.
//
// The mutation is copy-on-write: fn runs against a private copy, which is
// swapped in under the global mutex once fn returns. Records handed out by
// Get are therefore never written to after they become visible.
func (c *Cache) MutateInPlace(sessionID string, fn func(*domain.Session)) (*domain.Session, bool) {
	var out *domain.Session
	_ = c.WithLock(sessionID, func() error {
		c.mu.Lock()
		entry, ok := c.entries[sessionID]
		if !ok {
			c.mu.Unlock()
			return nil
		}
		next := entry.session.Clone()
		c.mu.Unlock()

		fn(next)

		c.mu.Lock()
		// The entry may have been removed while fn ran; a removed session
		// must stay removed.
		if entry, ok := c.entries[sessionID]; ok {
			entry.session = next
			entry.lastAccess = c.now()
			out = next.Clone()
		}
		c.mu.Unlock()
		return nil
	})
	if out == nil {
		return nil, false
	}
	return out, true
}

// Remove evicts the session from the cache.
func (c *Cache) Remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// IDs returns the IDs of all cached sessions.
func (c *Cache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns copies of every cached session.
func (c *Cache) Snapshot() []*domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*domain.Session, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry.session.Clone())
	}
	return out
}

// idleIDs returns the IDs of sessions not accessed since the cutoff.
func (c *Cache) idleIDs(cutoff time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for id, entry := range c.entries {
		if entry.lastAccess.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
