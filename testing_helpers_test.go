package cachette

import (
	"sync"
	"testing"
	"time"
)

// fakeNow replaces the package's overridable `now` var with a controllable
// clock for deterministic TTL/lock-expiry tests, restoring the real clock
// when the returned func is called.
func fakeNow(t *testing.T) func() {
	t.Helper()
	var mu sync.Mutex
	cur := time.Now()
	real := now
	now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	fakeNowAdvance = func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(d)
	}
	return func() {
		now = real
		fakeNowAdvance = nil
	}
}

var fakeNowAdvance func(time.Duration)

func advanceFakeNow(d time.Duration) {
	if fakeNowAdvance == nil {
		panic("advanceFakeNow called without fakeNow installed")
	}
	fakeNowAdvance(d)
}
