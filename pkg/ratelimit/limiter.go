// Package ratelimit throttles write endpoints per tenant and client. Redis
// backs the counters so limits hold across API replicas; an in-memory
// limiter covers single-node runs and Redis outages.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(key string, limit int) Decision
}

// ClientKey builds the counter key for one client hitting one route. The
// tenant comes first so per-tenant usage can be inspected with a prefix
// scan.
func ClientKey(tenant, route, clientIP string) string {
	return strings.Join([]string{tenant, route, clientIP}, ":")
}

type MemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	items  map[string]bucket
}

type bucket struct {
	count   int
	resetAt time.Time
}

func NewMemory(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		window: window,
		items:  make(map[string]bucket),
	}
}

func (l *MemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(now)
	curr, ok := l.items[key]
	if !ok || now.After(curr.resetAt) {
		curr = bucket{resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr
	remaining := limit - curr.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    curr.count <= limit,
		Count:      curr.count,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    curr.resetAt,
		RetryAfter: curr.resetAt.Sub(now),
	}
}

func (l *MemoryLimiter) evict(now time.Time) {
	for k, v := range l.items {
		if now.After(v.resetAt) {
			delete(l.items, k)
		}
	}
}
