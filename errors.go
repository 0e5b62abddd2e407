package cachette

import "errors"

// Error taxonomy (see SPEC_FULL.md §7). Transport failures never reach a
// caller of Get/Set/GetTTL — they are logged as warnings and degrade to the
// absence sentinel / false. Lock and façade-validation errors propagate.
var (
	// ErrLockTimeout is returned by the local tier's lock() when the bounded
	// wait (default 2s) elapses before the lock name becomes free.
	ErrLockTimeout = errors.New("cachette: lock wait timed out")

	// ErrLockHeld names the case of a lock already owned by another holder.
	// No tier in this package returns it: a failed non-retrying
	// RemoteTier.Lock returns the underlying redsync error wrapped with the
	// lock name.
	ErrLockHeld = errors.New("cachette: lock is held by another caller")

	// ErrNotLocked is returned by RemoteTier.Extend when the handle no longer
	// owns the lock (already released, or the TTL expired and was reclaimed).
	// RemoteTier.Unlock treats it as success and returns nil.
	ErrNotLocked = errors.New("cachette: handle does not hold the lock")

	// ErrUnsupportedOperation is returned by lock/unlock/hasLock on a tier
	// that reports IsLockingSupported() == false (the write-through tier).
	ErrUnsupportedOperation = errors.New("cachette: operation not supported by this tier")

	// ErrInvalidURL is returned by New when CACHE_URL begins with redis:// or
	// rediss:// but cannot be parsed as a Redis URL. A URL with any other
	// scheme is not an error: New falls back to the local tier.
	ErrInvalidURL = errors.New("cachette: CACHE_URL is not a valid redis:// or rediss:// URL")

	// ErrKeyTooLong is returned by the façade's buildKey when the rendered
	// key exceeds the configured maximum (default 1000 bytes).
	ErrKeyTooLong = errors.New("cachette: cache key exceeds maximum length")

	// ErrCircularArgument is returned by buildKey when an argument contains
	// a cycle (detected by a trial JSON encode).
	ErrCircularArgument = errors.New("cachette: circular argument cannot be used to build a cache key")

	// ErrUnsupportedValue is returned by encode() for values that cannot be
	// represented, namely the absence sentinel itself.
	ErrUnsupportedValue = errors.New("cachette: value cannot be encoded")

	// ErrClassInstance is returned by buildKey, which always applies the
	// stricter (newer) policy, when an argument is a disallowed class-like
	// value.
	ErrClassInstance = errors.New("cachette: class-instance arguments are not allowed in cache keys")
)
