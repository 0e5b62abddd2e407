package cachette

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCoordinator_ConcurrentCallsCoalesce launches 100 concurrent
// GetOrFetch("key", ...) calls against an empty cache; all must observe the
// computed value, and Compute must run exactly once.
func TestCoordinator_ConcurrentCallsCoalesce(t *testing.T) {
	coord := NewCoordinator(NewLocalTier(100, 0, nil))
	var invocations int64

	compute := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&invocations, 1)
		time.Sleep(20 * time.Millisecond)
		return "newvalue", nil
	}

	const n = 100
	results := make([]any, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := coord.GetOrFetch(context.Background(), "key", 10*time.Second, compute, GetOrFetchOptions{})
			results[i] = v
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "newvalue", results[i])
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&invocations))
}

// TestCoordinator_TwoKeysCoalesceIndependently interleaves 100 concurrent
// calls across two distinct keys; each key's compute must run exactly once,
// and calls split roughly evenly between the two keys.
func TestCoordinator_TwoKeysCoalesceIndependently(t *testing.T) {
	coord := NewCoordinator(NewLocalTier(100, 0, nil))
	var invocationsA, invocationsB int64

	computeFor := func(key string, counter *int64) ComputeFunc {
		return func(ctx context.Context) (any, error) {
			atomic.AddInt64(counter, 1)
			time.Sleep(20 * time.Millisecond)
			return key + "-value", nil
		}
	}

	const n = 100
	var wg sync.WaitGroup
	var countA, countB int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				atomic.AddInt64(&countA, 1)
				v, err := coord.GetOrFetch(context.Background(), "a", 10*time.Second, computeFor("a", &invocationsA), GetOrFetchOptions{})
				assert.NoError(t, err)
				assert.Equal(t, "a-value", v)
			} else {
				atomic.AddInt64(&countB, 1)
				v, err := coord.GetOrFetch(context.Background(), "b", 10*time.Second, computeFor("b", &invocationsB), GetOrFetchOptions{})
				assert.NoError(t, err)
				assert.Equal(t, "b-value", v)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&invocationsA))
	assert.Equal(t, int64(1), atomic.LoadInt64(&invocationsB))
	assert.Equal(t, int64(50), countA)
	assert.Equal(t, int64(50), countB)
}

// TestCoordinator_ErrorsAreNotCachedByDefault issues two sequential calls
// whose Compute always errors; with no ShouldCacheError policy, each call
// must invoke Compute again and see its own distinct error.
func TestCoordinator_ErrorsAreNotCachedByDefault(t *testing.T) {
	coord := NewCoordinator(NewLocalTier(100, 0, nil))
	var invocations int64

	compute := func(ctx context.Context) (any, error) {
		n := atomic.AddInt64(&invocations, 1)
		return nil, fmt.Errorf("nope %d", n)
	}

	_, err1 := coord.GetOrFetch(context.Background(), "key", 10*time.Second, compute, GetOrFetchOptions{})
	_, err2 := coord.GetOrFetch(context.Background(), "key", 10*time.Second, compute, GetOrFetchOptions{})

	require.Error(t, err1)
	require.Error(t, err2)
	assert.NotEqual(t, err1.Error(), err2.Error())
	assert.Equal(t, int64(2), atomic.LoadInt64(&invocations))
}

type retryableError struct {
	msg       string
	Retryable bool
}

func (e *retryableError) Error() string { return e.msg }

// TestCoordinator_ErrorCachingReusesCachedError enables error caching: the
// first call's error is stored, and a second call for the same key returns
// the cached error without invoking Compute again, preserving custom
// metadata.
func TestCoordinator_ErrorCachingReusesCachedError(t *testing.T) {
	coord := NewCoordinator(NewLocalTier(100, 0, nil))
	var invocations int64

	compute := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&invocations, 1)
		return nil, &retryableError{msg: "boom", Retryable: true}
	}

	opts := GetOrFetchOptions{
		CacheErrors:      true,
		ShouldCacheError: func(error) bool { return true },
	}

	_, err1 := coord.GetOrFetch(context.Background(), "key", 10*time.Second, compute, opts)
	_, err2 := coord.GetOrFetch(context.Background(), "key", 10*time.Second, compute, opts)

	require.Error(t, err1)
	require.Error(t, err2)
	assert.Equal(t, int64(1), atomic.LoadInt64(&invocations))

	ce, ok := err2.(*CachedError)
	require.True(t, ok)
	assert.Equal(t, "boom", ce.Message)
	assert.Equal(t, true, ce.Props["retryable"])
}

// populateOnLockTier wraps a Tier so that acquiring a lock simulates another
// process having won the race and already populated the key, letting a test
// drive fetch's post-lock second-check without real cross-process concurrency.
type populateOnLockTier struct {
	Tier
	key   string
	value any
	ttl   time.Duration
}

func (p *populateOnLockTier) Lock(ctx context.Context, name string, ttl time.Duration, retry bool) (*LockHandle, error) {
	handle, err := p.Tier.Lock(ctx, name, ttl, retry)
	if err != nil {
		return nil, err
	}
	if _, err := p.Tier.Set(ctx, p.key, p.value, p.ttl); err != nil {
		return nil, err
	}
	return handle, nil
}

// TestCoordinator_DistributedLockSecondCheck verifies that when a value
// appears in the cache only after the distributed lock is acquired
// (simulating a second process that won the race and populated it first),
// fetch's post-lock second-check returns that value without invoking
// Compute, exercising singleflight.go's second-check branch rather than the
// earlier read-through in GetOrFetch.
func TestCoordinator_DistributedLockSecondCheck(t *testing.T) {
	tier := &populateOnLockTier{
		Tier:  NewLocalTier(100, 0, nil),
		key:   "key",
		value: "already-there",
		ttl:   time.Minute,
	}
	coord := NewCoordinator(tier)
	var invocations int64

	compute := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&invocations, 1)
		return "newvalue", nil
	}

	v, err := coord.GetOrFetch(context.Background(), "key", time.Minute, compute, GetOrFetchOptions{LockTTL: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "already-there", v, "the post-lock second-check picks up the value written during lock acquisition")
	assert.Equal(t, int64(0), atomic.LoadInt64(&invocations))
}
