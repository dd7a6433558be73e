package session

import (
	"sort"
	"sync"
	"time"
)

// endpointEntry records when an endpoint last connected.
type endpointEntry struct {
	lastOK    time.Time
	expiresAt time.Time
}

// EndpointMemory remembers which browser endpoints connected recently so a
// reconnect tries them before the ones that have been failing.
// Entries expire after the configured TTL and are cleaned up periodically.
type EndpointMemory struct {
	store sync.Map // endpoint (string) -> *endpointEntry
	ttl   time.Duration
	now   func() time.Time
	done  chan struct{}
	once  sync.Once
}

// NewEndpointMemory creates an EndpointMemory with the given TTL and starts
// a background goroutine that prunes expired entries every hour.
func NewEndpointMemory(ttl time.Duration) *EndpointMemory {
	m := &EndpointMemory{
		ttl:  ttl,
		now:  time.Now,
		done: make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Remember records a successful connection to endpoint.
func (m *EndpointMemory) Remember(endpoint string) {
	now := m.now()
	m.store.Store(endpoint, &endpointEntry{lastOK: now, expiresAt: now.Add(m.ttl)})
}

// Forget drops endpoint, e.g. after it refused a connection.
func (m *EndpointMemory) Forget(endpoint string) {
	m.store.Delete(endpoint)
}

// Order returns endpoints with the remembered ones first, most recent
// success first. Unremembered endpoints keep their configured order.
func (m *EndpointMemory) Order(endpoints []string) []string {
	now := m.now()
	lastOK := make(map[string]time.Time, len(endpoints))
	for _, ep := range endpoints {
		if val, ok := m.store.Load(ep); ok {
			entry := val.(*endpointEntry)
			if now.After(entry.expiresAt) {
				m.store.Delete(ep)
				continue
			}
			lastOK[ep] = entry.lastOK
		}
	}

	out := append([]string(nil), endpoints...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, iok := lastOK[out[i]]
		tj, jok := lastOK[out[j]]
		switch {
		case iok && jok:
			return ti.After(tj)
		default:
			return iok && !jok
		}
	})
	return out
}

// Stop terminates the background cleanup goroutine.
func (m *EndpointMemory) Stop() {
	m.once.Do(func() { close(m.done) })
}

// cleanupLoop runs every hour, deleting expired entries.
func (m *EndpointMemory) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := m.now()
			m.store.Range(func(key, value any) bool {
				if now.After(value.(*endpointEntry).expiresAt) {
					m.store.Delete(key)
				}
				return true
			})
		}
	}
}
