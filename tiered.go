package cachette

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// metrics holds the write-through tier's per-period hit/miss counters
// (SPEC_FULL.md §3 "Metrics counters"). Reset on each reporting tick.
type metrics struct {
	enabled      atomic.Bool
	localHits    atomic.Int64
	remoteHits   atomic.Int64
	doubleMisses atomic.Int64
}

func (m *metrics) snapshotAndReset() (local, remote, doubleMiss int64) {
	return m.localHits.Swap(0), m.remoteHits.Swap(0), m.doubleMisses.Swap(0)
}

// TieredTier composes a local tier (read-through cache) with a remote tier,
// keeping local TTLs aligned to the remote's remaining TTL
// (SPEC_FULL.md §4.4). Locking is not supported here — callers needing
// locking must use the bare RemoteTier.
type TieredTier struct {
	local  *LocalTier
	remote *RemoteTier
	events *emitter
	stats  *metrics
	prom   *promMetrics

	stopMetrics chan struct{}
}

// NewTieredTier composes local and remote into a single write-through tier.
// If metricsPeriod > 0, a background timer reports and resets hit/miss
// counters at that interval (SPEC_FULL.md §4.4, §6
// CACHETTE_METRICS_PERIOD_MINUTES).
func NewTieredTier(local *LocalTier, remote *RemoteTier, metricsPeriod time.Duration, events *emitter) *TieredTier {
	if events == nil {
		events = newEmitter()
	}
	t := &TieredTier{
		local:  local,
		remote: remote,
		events: events,
		stats:  &metrics{},
	}
	if metricsPeriod > 0 {
		t.stats.enabled.Store(true)
		t.stopMetrics = make(chan struct{})
		go t.reportMetricsPeriodically(metricsPeriod)
	}
	return t
}

var _ Tier = (*TieredTier)(nil)

// Close stops the metrics reporting goroutine, if one is running.
func (t *TieredTier) Close() {
	if t.stopMetrics != nil {
		close(t.stopMetrics)
	}
}

func (t *TieredTier) reportMetricsPeriodically(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopMetrics:
			return
		case <-ticker.C:
			local, remote, doubleMiss := t.stats.snapshotAndReset()
			t.events.emit(eventInfo, fmt.Sprintf(
				"cachette metrics: localHits=%d remoteHits=%d doubleMisses=%d",
				local, remote, doubleMiss), nil)
		}
	}
}

// Get implements Tier. A local hit returns immediately. Otherwise the
// remote value and its remaining TTL are fetched concurrently; on a remote
// hit, the value is promoted into local with the remote's remaining TTL
// (passed through as a time.Duration). A double miss returns Absent.
func (t *TieredTier) Get(ctx context.Context, key string) (any, error) {
	started := now()
	if v, err := t.local.Get(ctx, key); err != nil {
		return nil, err
	} else if !IsAbsent(v) {
		t.stats.localHits.Add(1)
		t.observeHit("local", started)
		return v, nil
	}

	var value any
	var ttlStatus TTLStatus
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := t.remote.Get(gctx, key)
		value = v
		return err
	})
	g.Go(func() error {
		s, err := t.remote.GetTTL(gctx, key)
		ttlStatus = s
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if IsAbsent(value) {
		t.stats.doubleMisses.Add(1)
		t.observeHit("miss", started)
		return Absent, nil
	}
	t.stats.remoteHits.Add(1)
	t.observeHit("remote", started)

	localTTL := time.Duration(0)
	if !ttlStatus.NonExpiring() && !ttlStatus.NoSuchEntry() {
		localTTL = ttlStatus.Remaining()
	}
	if _, err := t.local.Set(ctx, key, value, localTTL); err != nil {
		t.events.emit(eventWarn, "cachette: local promotion failed", err)
	}
	return value, nil
}

// Set implements Tier: writes both tiers with the same TTL. Returns true
// iff both writes succeed.
func (t *TieredTier) Set(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	localOK, err := t.local.Set(ctx, key, value, ttl)
	if err != nil {
		return false, err
	}
	remoteOK, err := t.remote.Set(ctx, key, value, ttl)
	if err != nil {
		return false, err
	}
	return localOK && remoteOK, nil
}

// GetTTL implements Tier. A live local entry's TTL is returned first;
// otherwise it reads through the reader side (remote), per SPEC_FULL.md
// §9's resolution of the "writer vs reader" open question.
func (t *TieredTier) GetTTL(ctx context.Context, key string) (TTLStatus, error) {
	if s, err := t.local.GetTTL(ctx, key); err == nil && !s.NoSuchEntry() {
		return s, nil
	}
	return t.remote.GetTTL(ctx, key)
}

// Delete implements Tier: deletes from both tiers and emits a del event.
func (t *TieredTier) Delete(ctx context.Context, key string) error {
	t.events.emit(eventDel, key, nil)
	if err := t.local.Delete(ctx, key); err != nil {
		return err
	}
	return t.remote.Delete(ctx, key)
}

// Clear implements Tier: clears both tiers.
func (t *TieredTier) Clear(ctx context.Context) error {
	if err := t.local.Clear(ctx); err != nil {
		return err
	}
	return t.remote.Clear(ctx)
}

// ClearMemory implements Tier: clears local state on both tiers. For the
// remote tier this is a no-op, since it holds no in-process cache itself.
func (t *TieredTier) ClearMemory(ctx context.Context) error {
	if err := t.local.ClearMemory(ctx); err != nil {
		return err
	}
	return t.remote.ClearMemory(ctx)
}

// ItemCount implements Tier: the sum of both tiers' counts. This is
// documented, not deduplicated: a key present in both tiers is counted
// twice (SPEC_FULL.md §9).
func (t *TieredTier) ItemCount(ctx context.Context) (int64, error) {
	localCount, err := t.local.ItemCount(ctx)
	if err != nil {
		return 0, err
	}
	remoteCount, err := t.remote.ItemCount(ctx)
	if err != nil {
		return 0, err
	}
	return localCount + remoteCount, nil
}

// IsLockingSupported implements Tier: always false. Callers needing
// locking must use the bare RemoteTier.
func (t *TieredTier) IsLockingSupported() bool { return false }

func (t *TieredTier) Lock(context.Context, string, time.Duration, bool) (*LockHandle, error) {
	return nil, ErrUnsupportedOperation
}

func (t *TieredTier) Unlock(context.Context, *LockHandle) error {
	return ErrUnsupportedOperation
}

func (t *TieredTier) HasLock(context.Context, string) (bool, error) {
	return false, ErrUnsupportedOperation
}

// WaitForReplication implements Tier by delegating to the remote writer.
func (t *TieredTier) WaitForReplication(ctx context.Context, replicas int, timeout time.Duration) (int, error) {
	return t.remote.WaitForReplication(ctx, replicas, timeout)
}
