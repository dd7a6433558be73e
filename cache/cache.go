// Package cache keeps recent runs in memory so the API can report on them.
package cache

import (
	"sync"
	"time"

	"github.com/use-agent/affsync/models"
)

// entry holds a run with the time it was last stored.
type entry struct {
	run       *models.RunResponse
	updatedAt time.Time
}

// Runs is a bounded in-memory store of run states keyed by run ID.
// It is safe for concurrent use.
type Runs struct {
	mu         sync.RWMutex
	store      map[string]*entry
	latest     string
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Runs store holding at most maxEntries runs for ttl.
// A background goroutine evicts expired runs until Stop is called.
func New(maxEntries int, ttl time.Duration) *Runs {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	c := &Runs{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		done:       make(chan struct{}),
	}

	go c.cleanupLoop()
	return c
}

// Put stores a copy of run, replacing any earlier state with the same ID.
// When full, the least recently updated run is evicted.
func (c *Runs) Put(run *models.RunResponse) {
	cp := *run
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.store[run.ID]; !ok && len(c.store) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.store[run.ID] = &entry{run: &cp, updatedAt: c.now()}
	if c.latest == "" || c.latest == run.ID || !c.startedBefore(run, c.latest) {
		c.latest = run.ID
	}
}

// startedBefore reports whether run started before the stored run id.
func (c *Runs) startedBefore(run *models.RunResponse, id string) bool {
	e, ok := c.store[id]
	if !ok {
		return false
	}
	return run.StartedAt.Before(e.run.StartedAt)
}

// Get returns a copy of the run with id.
func (c *Runs) Get(id string) (*models.RunResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(id)
}

// Latest returns the most recently started run.
func (c *Runs) Latest() (*models.RunResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == "" {
		return nil, false
	}
	return c.getLocked(c.latest)
}

// Len returns the number of stored runs.
func (c *Runs) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

func (c *Runs) getLocked(id string) (*models.RunResponse, bool) {
	e, ok := c.store[id]
	if !ok || c.now().Sub(e.updatedAt) > c.ttl {
		return nil, false
	}
	cp := *e.run
	return &cp, true
}

func (c *Runs) evictOldestLocked() {
	var (
		oldest   string
		oldestAt time.Time
	)
	for k, e := range c.store {
		if oldest == "" || e.updatedAt.Before(oldestAt) {
			oldest, oldestAt = k, e.updatedAt
		}
	}
	if oldest != "" {
		delete(c.store, oldest)
		if oldest == c.latest {
			c.latest = ""
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (c *Runs) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// cleanupLoop evicts expired runs every 5 minutes.
func (c *Runs) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Runs) evictExpired() {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.updatedAt.Before(cutoff) {
			delete(c.store, k)
			if k == c.latest {
				c.latest = ""
			}
		}
	}
}
