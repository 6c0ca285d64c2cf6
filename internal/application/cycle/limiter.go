package cycle

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// groupLimiters hands out one token bucket per group so a large debit loop
// cannot burst the gateway. Buckets are created lazily and never evicted;
// the set of concurrently active groups is small.
type groupLimiters struct {
	mu    sync.Mutex
	m     map[uuid.UUID]*rate.Limiter
	limit rate.Limit
	burst int
}

func newGroupLimiters(perSecond int) *groupLimiters {
	if perSecond <= 0 {
		perSecond = 10
	}
	return &groupLimiters{
		m:     make(map[uuid.UUID]*rate.Limiter),
		limit: rate.Limit(perSecond),
		burst: perSecond,
	}
}

func (l *groupLimiters) get(groupID uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.m[groupID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.m[groupID] = lim
	}
	return lim
}
