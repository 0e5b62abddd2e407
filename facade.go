package cachette

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultMaxKeyLength = 1000

// Facade is the computation-caching façade (SPEC_FULL.md §4.6): it binds a
// computation function to a deterministic cache key and delegates to a
// Coordinator. SPEC_FULL.md §9 notes that method-decoration is an optional
// ergonomic skin and that a builder returning a cached callable is an
// acceptable re-architecture for a language with no annotation idiom; Bind
// is that builder.
type Facade struct {
	tier         Tier
	coordinator  *Coordinator
	maxKeyLength int
}

// NewFacade binds a façade to a tier. maxKeyLength <= 0 falls back to
// defaultMaxKeyLength. UNITO_CACHE_MAX_KEY_LENGTH is not read here:
// LoadConfig reads it into Config.MaxKeyLength, which callers pass in.
func NewFacade(tier Tier, maxKeyLength int) *Facade {
	if maxKeyLength <= 0 {
		maxKeyLength = defaultMaxKeyLength
	}
	return &Facade{
		tier:         tier,
		coordinator:  NewCoordinator(tier),
		maxKeyLength: maxKeyLength,
	}
}

// CachedFunc is a computation bound to a cache policy by Bind. Args are
// used to build the cache key deterministically (see BuildKey) and passed
// through to compute on a miss.
type CachedFunc struct {
	facade           *Facade
	name             string
	ttl              time.Duration
	lockTTL          time.Duration
	shouldCacheError func(error) bool
	compute          func(ctx context.Context, args []any) (any, error)
}

// Bind binds name+compute to a cache policy. lockTTL <= 0 disables
// distributed locking around the fetch.
func (f *Facade) Bind(name string, ttl, lockTTL time.Duration, shouldCacheError func(error) bool, compute func(ctx context.Context, args []any) (any, error)) *CachedFunc {
	return &CachedFunc{
		facade:           f,
		name:             name,
		ttl:              ttl,
		lockTTL:          lockTTL,
		shouldCacheError: shouldCacheError,
		compute:          compute,
	}
}

// Call invokes the bound computation through the single-flight coordinator,
// caching errors only if this call's policy allows it.
func (c *CachedFunc) Call(ctx context.Context, args ...any) (any, error) {
	key, err := c.facade.buildKey(c.name, args)
	if err != nil {
		return nil, err
	}
	opts := GetOrFetchOptions{
		LockTTL:          c.lockTTL,
		ShouldCacheError: c.shouldCacheError,
	}
	return c.facade.coordinator.GetOrFetch(ctx, key, c.ttl, func(ctx context.Context) (any, error) {
		return c.compute(ctx, args)
	}, opts)
}

// Uncached bypasses the cache entirely, invoking compute directly
// (SPEC_FULL.md §4.6 "uncached").
func (c *CachedFunc) Uncached(ctx context.Context, args ...any) (any, error) {
	return c.compute(ctx, args)
}

// ErrorCaching returns a sibling invocation whose read path re-throws a
// previously cached error rather than treating it as a miss
// (SPEC_FULL.md §4.6 "errorCaching").
func (c *CachedFunc) ErrorCaching(ctx context.Context, args ...any) (any, error) {
	key, err := c.facade.buildKey(c.name, args)
	if err != nil {
		return nil, err
	}
	opts := GetOrFetchOptions{
		LockTTL:          c.lockTTL,
		ShouldCacheError: c.shouldCacheError,
		CacheErrors:      true,
	}
	return c.facade.coordinator.GetOrFetch(ctx, key, c.ttl, func(ctx context.Context) (any, error) {
		return c.compute(ctx, args)
	}, opts)
}

// ClearCached deletes the cached entry for name+args.
func (c *CachedFunc) ClearCached(ctx context.Context, args ...any) error {
	key, err := c.facade.buildKey(c.name, args)
	if err != nil {
		return err
	}
	return c.facade.tier.Delete(ctx, key)
}

// PeekCached reads the cache without invoking compute on a miss.
func (c *CachedFunc) PeekCached(ctx context.Context, args ...any) (any, error) {
	key, err := c.facade.buildKey(c.name, args)
	if err != nil {
		return nil, err
	}
	return c.facade.tier.Get(ctx, key)
}

// WaitForReplication delegates to the underlying tier.
func (c *CachedFunc) WaitForReplication(ctx context.Context, replicas int, timeout time.Duration) (int, error) {
	return c.facade.tier.WaitForReplication(ctx, replicas, timeout)
}

// buildKey builds a deterministic, order-insensitive cache key from name
// and args (SPEC_FULL.md §4.6 "buildKey contract"). Chosen resolutions of
// the open questions in SPEC_FULL.md §9:
//   - null and the absence sentinel are rendered as literal tokens ("null",
//     "undefined") rather than filtered out (the "recent behavior").
//   - class-like arguments (arbitrary structs/pointers outside the
//     KeyedMap/ValueSet/map/slice/scalar value model) are rejected with
//     ErrClassInstance (the stricter "newer" policy).
func (f *Facade) buildKey(name string, args []any) (string, error) {
	if err := detectCycle(args); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		token, err := buildKeyToken(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, token)
	}
	key := strings.Join(parts, "-")
	if len(key) > f.maxKeyLength {
		return "", ErrKeyTooLong
	}
	return key, nil
}

func detectCycle(v any) error {
	if _, err := json.Marshal(v); err != nil {
		return ErrCircularArgument
	}
	return nil
}

func buildKeyToken(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	if IsAbsent(v) {
		return "undefined", nil
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case KeyedMap:
		return buildRecordToken(val)
	case map[string]any:
		return buildRecordToken(val)
	case ValueSet:
		return buildSequenceToken(val)
	case []any:
		return buildSequenceToken(val)
	default:
		// The stricter (newer) policy: only plain scalars, records, and
		// sequences may shape a cache key. Anything else — a struct,
		// pointer, func, or other "class instance" — is rejected to avoid
		// pathological keys (SPEC_FULL.md §9).
		return "", ErrClassInstance
	}
}

// buildRecordToken renders a record-shaped argument: entries sorted by
// property name, each as "name-value", nested recursively.
func buildRecordToken(m map[string]any) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		valToken, err := buildKeyToken(m[k])
		if err != nil {
			return "", err
		}
		entries = append(entries, k+"-"+valToken)
	}
	return strings.Join(entries, "-"), nil
}

// buildSequenceToken renders a sequence argument: entries rendered
// recursively, then sorted and joined, yielding order-insensitive equality
// (documented per-call-site choice per SPEC_FULL.md §4.6).
func buildSequenceToken(items []any) (string, error) {
	tokens := make([]string, 0, len(items))
	for _, item := range items {
		tok, err := buildKeyToken(item)
		if err != nil {
			return "", err
		}
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return strings.Join(tokens, "-"), nil
}
