// Package locallock provides best-effort in-process deduplication of jobs.
//
// The lock is advisory only: correctness under concurrent workers comes from
// the store's transactions and unique indexes. This just keeps one process
// from burning two goroutines on the same (group, job) at once.
package locallock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lockKey struct {
	groupID uuid.UUID
	jobName string
}

type lockEntry struct {
	token     uint64
	expiresAt time.Time
}

// Manager holds the process-local lock map with a safety TTL so a crashed
// handler cannot wedge a key forever.
type Manager struct {
	mu      sync.Mutex
	locks   map[lockKey]lockEntry
	ttl     time.Duration
	nextTok uint64
	now     func() time.Time
}

// NewManager creates a lock manager with the given safety TTL.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		locks: make(map[lockKey]lockEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// TryAcquire attempts to take the lock for (groupID, jobName). On success it
// returns a release func and true; on contention it returns nil and false.
func (m *Manager) TryAcquire(groupID uuid.UUID, jobName string) (release func(), ok bool) {
	key := lockKey{groupID: groupID, jobName: jobName}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, held := m.locks[key]; held && e.expiresAt.After(now) {
		return nil, false
	}

	m.nextTok++
	token := m.nextTok
	m.locks[key] = lockEntry{token: token, expiresAt: now.Add(m.ttl)}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Only the acquiring holder may release; a TTL-expired re-acquire
		// owns a newer token.
		if e, held := m.locks[key]; held && e.token == token {
			delete(m.locks, key)
		}
	}, true
}

// Reap drops expired entries. Returns how many were removed.
func (m *Manager) Reap() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.locks {
		if !e.expiresAt.After(now) {
			delete(m.locks, k)
			n++
		}
	}
	return n
}

// Run reaps expired locks periodically until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Held returns the number of live locks. Test helper.
func (m *Manager) Held() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.locks {
		if e.expiresAt.After(now) {
			n++
		}
	}
	return n
}
