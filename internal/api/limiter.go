package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 30 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// phoneLimiter keeps one token bucket per phone number.
type phoneLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	entries map[string]*limiterEntry
	now     func() time.Time
}

// newPhoneLimiter allows perMinute requests per phone with the given burst.
// A non-positive perMinute disables limiting.
func newPhoneLimiter(perMinute float64, burst int) *phoneLimiter {
	l := &phoneLimiter{
		every:   rate.Inf,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
	if perMinute > 0 {
		l.every = rate.Limit(perMinute / 60)
	}
	if l.burst <= 0 {
		l.burst = 1
	}
	return l
}

func (l *phoneLimiter) Allow(phone string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdle {
			delete(l.entries, k)
		}
	}

	e, ok := l.entries[phone]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.entries[phone] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
