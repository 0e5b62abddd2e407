package cachette

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Coordinator is the heart of the system (SPEC_FULL.md §4.5): it guarantees
// at-most-one concurrent compute per key for a single process, using
// golang.org/x/sync/singleflight.Group as the in-flight table (the same
// primitive the teacher's cache.go uses for its own per-pod coalescing),
// optionally upgraded to an at-most-one-across-all-processes guarantee via
// a distributed lock with a second cache check inside the critical
// section.
type Coordinator struct {
	tier  Tier
	group singleflight.Group
}

// NewCoordinator binds a single-flight coordinator to a tier.
func NewCoordinator(tier Tier) *Coordinator {
	return &Coordinator{tier: tier}
}

// ComputeFunc produces the origin value for a cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

// GetOrFetchOptions configures a single GetOrFetch call (SPEC_FULL.md §4.5).
type GetOrFetchOptions struct {
	// LockTTL, when > 0 and the tier supports locking, acquires a
	// distributed lock named "lock__{key}" held for this long around the
	// fetch.
	LockTTL time.Duration

	// ShouldCacheError decides whether an error from Compute becomes a
	// cache entry. nil means "never cache errors".
	ShouldCacheError func(error) bool

	// CacheErrors, when true, makes this call re-throw a previously cached
	// error instead of treating it as absent (SPEC_FULL.md §4.5 step 1).
	CacheErrors bool
}

func lockNameFor(key string) string {
	return "lock__" + key
}

// GetOrFetch implements the algorithm in SPEC_FULL.md §4.5:
//  1. Read-through: a hit (value or cached error, per opts.CacheErrors)
//     returns immediately.
//  2. In-flight attach: concurrent callers for the same key share one
//     settlement.
//  3. Fetch path: optional distributed lock, a second cache check inside
//     the critical section, then Compute, then store (value or error, per
//     policy), always releasing the in-flight slot and the lock.
func (c *Coordinator) GetOrFetch(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc, opts GetOrFetchOptions) (any, error) {
	if v, cachedErr, found, err := c.readThrough(ctx, key, opts); err != nil {
		return nil, err
	} else if found {
		if cachedErr != nil {
			return nil, cachedErr
		}
		return v, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		return c.fetch(ctx, key, ttl, compute, opts)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// readThrough performs the plain cache read (step 1). found is true when a
// value or a cache-worthy error was present.
func (c *Coordinator) readThrough(ctx context.Context, key string, opts GetOrFetchOptions) (value any, cachedErr error, found bool, err error) {
	v, err := c.tier.Get(ctx, key)
	if err != nil {
		return nil, nil, false, err
	}
	if IsAbsent(v) {
		return nil, nil, false, nil
	}
	if ce, ok := v.(*CachedError); ok {
		if opts.CacheErrors {
			return nil, ce, true, nil
		}
		// Mixing an error-caching invocation and a plain invocation on the
		// same key: the plain caller treats a cached error as a miss.
		return nil, nil, false, nil
	}
	return v, nil, true, nil
}

// fetch runs the guaranteed-release block (step 3): optional lock
// acquisition, second-check, Compute, store, and cleanup.
func (c *Coordinator) fetch(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc, opts GetOrFetchOptions) (any, error) {
	var handle *LockHandle
	if opts.LockTTL > 0 && c.tier.IsLockingSupported() {
		h, err := c.tier.Lock(ctx, lockNameFor(key), opts.LockTTL, true)
		if err != nil {
			return nil, fmt.Errorf("cachette: getOrFetch lock acquisition: %w", err)
		}
		handle = h
		defer func() {
			if uerr := c.tier.Unlock(context.WithoutCancel(ctx), handle); uerr != nil {
				// Best-effort: the lock will simply expire on its own TTL.
				_ = uerr
			}
		}()

		// Second-check: another process may have populated the cache
		// while we waited for the lock.
		if v, cachedErr, found, err := c.readThrough(ctx, key, opts); err != nil {
			return nil, err
		} else if found {
			if cachedErr != nil {
				return nil, cachedErr
			}
			return v, nil
		}
	}

	value, computeErr := compute(ctx)
	if computeErr != nil {
		if opts.ShouldCacheError != nil && opts.ShouldCacheError(computeErr) {
			cacheErr := toCachedError(computeErr)
			if _, err := c.tier.Set(ctx, key, cacheErr, ttl); err != nil {
				return nil, err
			}
		}
		return nil, computeErr
	}

	if !IsAbsent(value) {
		if _, err := c.tier.Set(ctx, key, value, ttl); err != nil {
			return nil, err
		}
	}
	return value, nil
}

func toCachedError(err error) *CachedError {
	if ce, ok := err.(*CachedError); ok {
		return ce
	}
	return &CachedError{Message: err.Error(), Props: copyableProperties(err)}
}
