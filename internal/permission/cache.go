package permission

import (
	"slices"
	"sync"
)

// Status describes how far the cache got with the current session's set.
type Status int

const (
	// StatusEmpty means nothing has been loaded since the last clear.
	StatusEmpty Status = iota
	// StatusLoading means a load is in flight.
	StatusLoading
	// StatusLoaded means the cache holds the set of the latest load or Set.
	StatusLoaded
	// StatusFailed means the latest load failed; the previous contents stay.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	default:
		return "empty"
	}
}

// Listener receives the cache contents after every change. It runs on the
// goroutine that changed the cache and must not mutate the cache.
type Listener func(set *RoleSet)

// Cache holds at most one RoleSet. Every change is pushed synchronously to
// all subscribers before the mutating call returns.
type Cache struct {
	// publishMu serialises change+notify so subscribers observe changes in
	// the order they were applied.
	publishMu sync.Mutex

	mu     sync.RWMutex
	set    *RoleSet
	status Status
	seq    uint64

	subsMu    sync.Mutex
	subs      map[int]Listener
	nextSubID int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{subs: make(map[int]Listener)}
}

// Get returns the cached set or nil. The returned value must be treated as
// read-only.
func (c *Cache) Get() *RoleSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

// Status returns the load status.
func (c *Cache) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Set replaces the cache with set. Any load still in flight is superseded.
func (c *Cache) Set(set *RoleSet) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	stored := set.Clone()
	c.mu.Lock()
	c.seq++
	c.set = stored
	if stored == nil {
		c.status = StatusEmpty
	} else {
		c.status = StatusLoaded
	}
	c.mu.Unlock()
	c.publish(stored)
}

// Clear empties the cache and supersedes any load in flight.
func (c *Cache) Clear() {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	c.seq++
	c.set = nil
	c.status = StatusEmpty
	c.mu.Unlock()
	c.publish(nil)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (c *Cache) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	c.subsMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = fn
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
		})
	}
}

// begin issues a ticket for a new load and marks the cache as loading.
func (c *Cache) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.status = StatusLoading
	return c.seq
}

// commit stores set if ticket is still the latest one. Stale responses are
// dropped and reported as false.
func (c *Cache) commit(ticket uint64, set *RoleSet) bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	stored := set.Clone()
	c.mu.Lock()
	if ticket != c.seq {
		c.mu.Unlock()
		return false
	}
	c.set = stored
	c.status = StatusLoaded
	c.mu.Unlock()
	c.publish(stored)
	return true
}

// fail records a failed load for ticket, leaving the contents untouched.
func (c *Cache) fail(ticket uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ticket != c.seq {
		return false
	}
	c.status = StatusFailed
	return true
}

func (c *Cache) publish(set *RoleSet) {
	c.subsMu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.subs[id])
	}
	c.subsMu.Unlock()

	for _, fn := range listeners {
		fn(set)
	}
}
