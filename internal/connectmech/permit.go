// Package connectmech implements the two connect strategies the
// retry/wake controller drives: a native TCP+Postgres connect
// (grounded on github.com/jackc/pgx/v5/pgconn, the wire-codec
// collaborator this module treats as external) and an HTTP/2 tunnel to
// a local sub-proxy (golang.org/x/net/http2). Both are gated by a
// per-host concurrency permit.
package connectmech

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// PermitLimiter hands out at most perHost simultaneous outbound connect
// attempts to any one host. Reads (Acquire) happen on every connect
// attempt; writes (a brand new host appearing) are rare, so the host
// map is an immutable snapshot behind atomic.Value with a serialized
// write path — the same lock-free-read shape as the teacher's
// router.Router, repurposed from tenant configuration to per-host
// semaphores.
type PermitLimiter struct {
	writeMu  sync.Mutex
	snapshot atomic.Value // map[string]*semaphore.Weighted
	perHost  int64
}

// NewPermitLimiter constructs a limiter allowing perHost concurrent
// attempts to any single host.
func NewPermitLimiter(perHost int64) *PermitLimiter {
	l := &PermitLimiter{perHost: perHost}
	l.snapshot.Store(map[string]*semaphore.Weighted{})
	return l
}

func (l *PermitLimiter) load() map[string]*semaphore.Weighted {
	return l.snapshot.Load().(map[string]*semaphore.Weighted)
}

func (l *PermitLimiter) semaphoreFor(host string) *semaphore.Weighted {
	if sem, ok := l.load()[host]; ok {
		return sem
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	// re-check: another writer may have added it while we waited.
	if sem, ok := l.load()[host]; ok {
		return sem
	}

	cloned := make(map[string]*semaphore.Weighted, len(l.load())+1)
	for k, v := range l.load() {
		cloned[k] = v
	}
	sem := semaphore.NewWeighted(l.perHost)
	cloned[host] = sem
	l.snapshot.Store(cloned)
	return sem
}

// Permit is a leased slot under the per-host limit. It is released
// automatically the first time Release or ReleaseResult is called;
// later calls are no-ops.
type Permit struct {
	sem      *semaphore.Weighted
	released int32
}

// Acquire blocks until a slot for host is free or ctx is done.
func (l *PermitLimiter) Acquire(ctx context.Context, host string) (*Permit, error) {
	sem := l.semaphoreFor(host)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Permit{sem: sem}, nil
}

// Release gives back the slot without recording an outcome.
func (p *Permit) Release() {
	if atomic.CompareAndSwapInt32(&p.released, 0, 1) {
		p.sem.Release(1)
	}
}

// ReleaseResult releases the slot and records whether the guarded
// connect attempt succeeded (err == nil). No adaptive policy consumes
// this today; it exists so one is a one-line addition later, matching
// the "release-with-outcome" wrapper spec.md's Permit describes.
func (p *Permit) ReleaseResult(err error) {
	p.Release()
}
