package room

import (
	"sync"
	"time"
)

// IssueRateLimiter bounds how many grants one client token can request per
// window. Every grant names a fresh room, so unbounded issuance is unbounded
// room creation.
type IssueRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

func NewIssueRateLimiter(limit int, interval time.Duration) *IssueRateLimiter {
	return &IssueRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *IssueRateLimiter) Allow(clientToken string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[clientToken]

	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[clientToken] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[clientToken] = fresh

	return true
}
