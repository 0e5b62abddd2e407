package cachette

import (
	"context"
	"time"
)

// Tier is the uniform contract every store layer implements: the local LRU,
// the remote Redis store, and their write-through composition
// (SPEC_FULL.md §2, GLOSSARY "Tier"). Every operation may suspend
// (SPEC_FULL.md §5).
type Tier interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	GetTTL(ctx context.Context, key string) (TTLStatus, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	ClearMemory(ctx context.Context) error
	ItemCount(ctx context.Context) (int64, error)

	IsLockingSupported() bool
	Lock(ctx context.Context, name string, ttl time.Duration, retry bool) (*LockHandle, error)
	Unlock(ctx context.Context, handle *LockHandle) error
	HasLock(ctx context.Context, prefix string) (bool, error)

	WaitForReplication(ctx context.Context, replicas int, timeout time.Duration) (int, error)
}

// LockHandle is the opaque token returned by a successful Lock call,
// required to Unlock or Extend (SPEC_FULL.md §3 "Lock").
type LockHandle struct {
	name  string
	local bool

	// redisUnlock/redisExtend back a distributed lock handle; nil for a local one.
	redisUnlock func(ctx context.Context) error
	redisExtend func(ctx context.Context) error
}

// Name returns the lock name the handle was acquired for.
func (h *LockHandle) Name() string { return h.name }
