package cachette

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultLocalMaxItems = 5000
	defaultLocalMaxAge   = 30 * time.Minute
	localLockPollEvery   = 10 * time.Millisecond
	localLockMaxWait     = 2 * time.Second
)

type localEntry struct {
	value     any
	expiresAt time.Time // zero value means "never expires"
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LocalTier is the bounded in-process LRU-with-TTL tier (SPEC_FULL.md §4.2).
// Capacity is fixed at construction; eviction is least-recently-used once
// the bound is reached. None of its operations propagate infrastructure
// errors — there is no infrastructure, only memory.
type LocalTier struct {
	mu      sync.Mutex
	entries *lru.Cache[string, localEntry]
	events  *emitter

	// defaultMaxAge is the fallback TTL applied by Set when called with
	// ttl <= 0 (SPEC_FULL.md §4.2 "capacity and default max age are
	// configured at construction"). Zero disables the fallback: such a
	// Set call stores a never-expiring entry, as before this field existed.
	defaultMaxAge time.Duration

	lockMu sync.Mutex
	locks  map[string]time.Time // lock name -> expiresAt (zero = never)
}

// NewLocalTier constructs a local tier with the given item-count capacity
// and default max age. maxItems <= 0 falls back to defaultLocalMaxItems.
// maxAge <= 0 means Set's ttl <= 0 stores a never-expiring entry (no
// fallback); callers wanting the spec's documented 30-minute default
// should pass defaultLocalMaxAge or route through LoadConfig/New.
func NewLocalTier(maxItems int, maxAge time.Duration, events *emitter) *LocalTier {
	if maxItems <= 0 {
		maxItems = defaultLocalMaxItems
	}
	if events == nil {
		events = newEmitter()
	}
	c, err := lru.New[string, localEntry](maxItems)
	if err != nil {
		// Only returns an error for size <= 0, already guarded above.
		panic(fmt.Sprintf("cachette: local tier construction: %v", err))
	}
	return &LocalTier{
		entries:       c,
		events:        events,
		defaultMaxAge: maxAge,
		locks:         make(map[string]time.Time),
	}
}

var _ Tier = (*LocalTier)(nil)

// Get implements Tier.
func (t *LocalTier) Get(_ context.Context, key string) (any, error) {
	t.mu.Lock()
	e, ok := t.entries.Get(key)
	if ok && e.expired(now()) {
		t.entries.Remove(key)
		ok = false
	}
	t.mu.Unlock()
	if !ok {
		return Absent, nil
	}
	t.events.emit(eventGet, key, e.value)
	return e.value, nil
}

// Set implements Tier. ttl <= 0 falls back to the tier's configured
// defaultMaxAge; if that is also <= 0, the entry never expires. Storing the
// absence sentinel is rejected: it warns and returns false.
func (t *LocalTier) Set(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if IsAbsent(value) {
		t.events.emit(eventWarn, "cachette: refusing to store the absence sentinel", key)
		return false, nil
	}
	if ttl <= 0 {
		ttl = t.defaultMaxAge
	}
	e := localEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now().Add(ttl)
	}
	t.mu.Lock()
	t.entries.Add(key, e)
	t.mu.Unlock()
	t.events.emit(eventSet, key, value)
	return true, nil
}

// GetTTL implements Tier.
func (t *LocalTier) GetTTL(_ context.Context, key string) (TTLStatus, error) {
	t.mu.Lock()
	e, ok := t.entries.Get(key)
	expired := ok && e.expired(now())
	t.mu.Unlock()
	if !ok || expired {
		return ttlStatusNoSuchEntry(), nil
	}
	if e.expiresAt.IsZero() {
		return ttlStatusNonExpiring(), nil
	}
	remaining := e.expiresAt.Sub(now())
	if remaining < 0 {
		remaining = 0
	}
	return ttlStatusRemaining(remaining), nil
}

// Delete implements Tier.
func (t *LocalTier) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	t.entries.Remove(key)
	t.mu.Unlock()
	t.events.emit(eventDel, key, nil)
	return nil
}

// Clear implements Tier.
func (t *LocalTier) Clear(_ context.Context) error {
	t.mu.Lock()
	t.entries.Purge()
	t.mu.Unlock()
	return nil
}

// ClearMemory implements Tier. Identical to Clear for this tier.
func (t *LocalTier) ClearMemory(ctx context.Context) error {
	return t.Clear(ctx)
}

// ItemCount implements Tier.
func (t *LocalTier) ItemCount(_ context.Context) (int64, error) {
	t.mu.Lock()
	n := t.entries.Len()
	t.mu.Unlock()
	return int64(n), nil
}

// IsLockingSupported implements Tier. The local tier supports advisory,
// process-scoped locking.
func (t *LocalTier) IsLockingSupported() bool { return true }

// Lock implements Tier. retry is ignored: local locking always polls until
// the bounded wait elapses, there being no distinct "no-retry" mode locally.
func (t *LocalTier) Lock(ctx context.Context, name string, ttl time.Duration, _ bool) (*LockHandle, error) {
	deadline := now().Add(localLockMaxWait)
	ticker := time.NewTicker(localLockPollEvery)
	defer ticker.Stop()

	for {
		if t.tryAcquire(name, ttl) {
			return &LockHandle{name: name, local: true}, nil
		}
		if now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *LocalTier) tryAcquire(name string, ttl time.Duration) bool {
	t.lockMu.Lock()
	defer t.lockMu.Unlock()
	t.purgeStaleLocksLocked()
	if _, held := t.locks[name]; held {
		return false
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now().Add(ttl)
	}
	t.locks[name] = expiresAt
	return true
}

// purgeStaleLocksLocked removes expired lock placeholders. Callers must
// hold lockMu.
func (t *LocalTier) purgeStaleLocksLocked() {
	n := now()
	for name, expiresAt := range t.locks {
		if !expiresAt.IsZero() && !n.Before(expiresAt) {
			delete(t.locks, name)
		}
	}
}

// Unlock implements Tier. Releasing an already-expired handle is a no-op.
func (t *LocalTier) Unlock(_ context.Context, handle *LockHandle) error {
	if handle == nil || !handle.local {
		return ErrUnsupportedOperation
	}
	t.lockMu.Lock()
	delete(t.locks, handle.name)
	t.lockMu.Unlock()
	return nil
}

// HasLock implements Tier: scans all live lock names for a prefix match.
// Acceptable only because this tier's lock table is small and local
// (SPEC_FULL.md §4.2).
func (t *LocalTier) HasLock(_ context.Context, prefix string) (bool, error) {
	t.lockMu.Lock()
	defer t.lockMu.Unlock()
	t.purgeStaleLocksLocked()
	for name := range t.locks {
		if strings.HasPrefix(name, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// WaitForReplication implements Tier. There is nothing to replicate to for
// a purely local tier, so it succeeds trivially.
func (t *LocalTier) WaitForReplication(_ context.Context, replicas int, _ time.Duration) (int, error) {
	return replicas, nil
}

// now is overridable in tests.
var now = time.Now
