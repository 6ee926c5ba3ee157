// Package ratelimit implements sliding-window request limiting keyed by
// route class and principal. A request is admitted when fewer than the
// class limit of admissions happened in the trailing window; admission and
// the timestamp append are a single atomic step per key.
package ratelimit

import (
	"sync"
	"time"
)

// Class names the route classes with independent limits.
const (
	ClassGenerate = "generate"
	ClassAdmin    = "admin"
	ClassRead     = "read"
)

// Limit is one class's sliding-window policy.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits returns the built-in per-class policy table.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		ClassGenerate: {Requests: 60, Window: time.Minute},
		ClassAdmin:    {Requests: 20, Window: time.Minute},
		ClassRead:     {Requests: 240, Window: time.Minute},
	}
}

// window holds the admission timestamps for one (class, principal) key.
type window struct {
	mu       sync.Mutex
	stamps   []time.Time
	lastUsed time.Time
}

// Limiter tracks sliding windows for every (class, principal) pair.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	limits  map[string]Limit

	now func() time.Time
}

// NewLimiter creates a limiter with the given per-class policy table.
func NewLimiter(limits map[string]Limit) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		limits:  limits,
		now:     time.Now,
	}
}

// Allow admits or rejects one request for the principal on the route class.
// Classes without a policy are unlimited. An admitted request is recorded;
// a rejected one leaves the window untouched.
func (l *Limiter) Allow(class, principal string) bool {
	limit, ok := l.limitFor(class)
	if !ok || limit.Requests <= 0 {
		return true
	}

	w := l.windowFor(class + "\x00" + principal)
	now := l.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastUsed = now
	w.trim(now.Add(-limit.Window))
	if len(w.stamps) >= limit.Requests {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Remaining reports how many admissions are left in the current window.
func (l *Limiter) Remaining(class, principal string) int {
	limit, ok := l.limitFor(class)
	if !ok || limit.Requests <= 0 {
		return -1 // unlimited
	}

	l.mu.RLock()
	w := l.windows[class+"\x00"+principal]
	l.mu.RUnlock()
	if w == nil {
		return limit.Requests
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim(l.now().Add(-limit.Window))
	if n := limit.Requests - len(w.stamps); n > 0 {
		return n
	}
	return 0
}

// SetLimits replaces the policy table. Existing windows keep their history;
// the new limit applies on the next Allow.
func (l *Limiter) SetLimits(limits map[string]Limit) {
	l.mu.Lock()
	l.limits = limits
	l.mu.Unlock()
}

// EvictStale removes windows idle since before cutoff.
// Phase 1: RLock to snapshot stale keys. Phase 2: Lock to delete them.
func (l *Limiter) EvictStale(cutoff time.Time) int {
	l.mu.RLock()
	var staleKeys []string
	for k, w := range l.windows {
		w.mu.Lock()
		stale := w.lastUsed.Before(cutoff)
		w.mu.Unlock()
		if stale {
			staleKeys = append(staleKeys, k)
		}
	}
	l.mu.RUnlock()

	if len(staleKeys) == 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for _, k := range staleKeys {
		w, ok := l.windows[k]
		if !ok {
			continue
		}
		w.mu.Lock()
		stale := w.lastUsed.Before(cutoff)
		w.mu.Unlock()
		if stale {
			delete(l.windows, k)
			evicted++
		}
	}
	return evicted
}

func (l *Limiter) limitFor(class string) (Limit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	limit, ok := l.limits[class]
	return limit, ok
}

func (l *Limiter) windowFor(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[key]; ok {
		return w
	}
	w = &window{}
	l.windows[key] = w
	return w
}

// trim drops timestamps older than the window start. Caller holds w.mu.
func (w *window) trim(start time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(start) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
