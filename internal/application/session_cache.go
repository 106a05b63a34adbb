package application

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultSessionTTL  = 10 * time.Minute
	defaultSessionSize = 1024
)

// SessionCache remembers origins that recently presented valid credentials.
// Entries expire after ttl of inactivity and the oldest entries are evicted
// once size is reached.
type SessionCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items *expirable.LRU[string, sessionEntry]
}

type sessionEntry struct {
	username string
	lastSeen time.Time
}

// NewSessionCache builds a cache. Non-positive ttl or size select the defaults.
func NewSessionCache(ttl time.Duration, size int, now func() time.Time) *SessionCache {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if size <= 0 {
		size = defaultSessionSize
	}
	if now == nil {
		now = time.Now
	}
	// The LRU expires entries on wall time; validity is decided against now.
	return &SessionCache{
		ttl:   ttl,
		now:   now,
		items: expirable.NewLRU[string, sessionEntry](size, nil, ttl),
	}
}

// Touch reports whether origin holds a live session. A live session is
// refreshed and its username returned.
func (c *SessionCache) Touch(origin string) (string, bool) {
	if c == nil || origin == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items.Get(origin)
	if !ok {
		return "", false
	}
	now := c.now()
	if now.Sub(entry.lastSeen) > c.ttl {
		c.items.Remove(origin)
		return "", false
	}
	entry.lastSeen = now
	c.items.Add(origin, entry)
	return entry.username, true
}

// Remember records a freshly authenticated origin.
func (c *SessionCache) Remember(origin, username string) {
	if c == nil || origin == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Add(origin, sessionEntry{username: username, lastSeen: c.now()})
}

// Forget drops origin from the cache.
func (c *SessionCache) Forget(origin string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Remove(origin)
}

// Len returns the number of cached origins, including ones not yet reclaimed.
func (c *SessionCache) Len() int {
	if c == nil {
		return 0
	}
	return c.items.Len()
}
