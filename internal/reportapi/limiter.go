package reportapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL  = 10 * time.Minute
	limiterPruneLen = 4096
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// reporterLimiter rate limits reports per reporter id.
type reporterLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

// newReporterLimiter allows perMinute reports per reporter with the given
// burst. perMinute <= 0 disables limiting.
func newReporterLimiter(perMinute float64, burst int, now func() time.Time) *reporterLimiter {
	if perMinute <= 0 {
		return &reporterLimiter{limit: rate.Inf}
	}
	if burst < 1 {
		burst = 1
	}
	return &reporterLimiter{
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		now:     now,
		entries: make(map[string]*limiterEntry),
	}
}

func (l *reporterLimiter) allow(reporterID string) bool {
	if l.limit == rate.Inf {
		return true
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[reporterID]
	if !ok {
		if len(l.entries) >= limiterPruneLen {
			l.prune(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[reporterID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// prune drops reporters idle for longer than limiterIdleTTL. Caller holds mu.
func (l *reporterLimiter) prune(now time.Time) {
	for id, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.entries, id)
		}
	}
}

func (l *reporterLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
