package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle runs a function at most once per interval. The first call
// always runs; later calls inside the window are dropped silently.
type Throttle struct {
	s rate.Sometimes
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{s: rate.Sometimes{Interval: interval}}
}

func (t *Throttle) Do(fn func()) {
	t.s.Do(fn)
}

// ThrottleSet keys independent throttles by identity, so one session's
// cool-down never suppresses another's.
type ThrottleSet struct {
	mu       sync.Mutex
	interval time.Duration
	byKey    map[IdentityKey]*Throttle
}

func NewThrottleSet(interval time.Duration) *ThrottleSet {
	return &ThrottleSet{interval: interval, byKey: make(map[IdentityKey]*Throttle)}
}

func (ts *ThrottleSet) Do(key IdentityKey, fn func()) {
	ts.mu.Lock()
	t, ok := ts.byKey[key]
	if !ok {
		t = NewThrottle(ts.interval)
		ts.byKey[key] = t
	}
	ts.mu.Unlock()
	t.Do(fn)
}

// Forget drops key's throttle state, for session deletion.
func (ts *ThrottleSet) Forget(key IdentityKey) {
	ts.mu.Lock()
	delete(ts.byKey, key)
	ts.mu.Unlock()
}
