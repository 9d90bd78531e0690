// Package computepool is the connection-pool façade: keyed lookup and
// insertion into the pools the dispatch core maintains. The binary
// constructs two, native Postgres and HTTP/2 local-proxy tunnel; there
// is no pool for an in-process local Postgres.
// Generalized from the teacher's internal/pool.TenantPool/Manager —
// same sync.Cond-adjacent idle/active bookkeeping and idle-reaping
// ticker — but keyed by domain.ConnInfo instead of tenant id, and
// generic over the connection payload instead of hard-coding a single
// driver type.
package computepool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outpostdb/outpost/internal/domain"
)

// Stats mirrors the teacher's pool.Stats shape, generalized per key.
type Stats struct {
	Idle   int
	Active int
	Total  int
}

type bucket[C Closer] struct {
	idle   []*PooledEntry[C]
	active int
}

// Pool holds every ConnInfo-keyed bucket of entries for one payload
// type. The zero value is not usable; construct with New.
type Pool[C Closer] struct {
	mu          sync.Mutex
	buckets     map[domain.ConnInfo]*bucket[C]
	idleTimeout time.Duration
	reapStop    chan struct{}
	reapOnce    sync.Once
}

// New constructs an empty pool. idleTimeout of zero disables idle
// reaping by elapsed time (liveness reaping via Pinger still runs).
func New[C Closer](idleTimeout time.Duration, reapInterval time.Duration) *Pool[C] {
	p := &Pool[C]{
		buckets:     make(map[domain.ConnInfo]*bucket[C]),
		idleTimeout: idleTimeout,
		reapStop:    make(chan struct{}),
	}
	if reapInterval > 0 {
		go p.reapLoop(reapInterval)
	}
	return p
}

// Get returns an idle entry matching key, wrapped for exclusive use by
// the caller, or ok=false if none is available. Entries whose Pinger
// reports them dead are closed and skipped rather than handed out —
// the same liveness check evictDead runs on its ticker, but applied
// eagerly so a caller between reap ticks never receives a connection
// that has already failed. Ownership of the returned entry transfers
// to the caller; it must call CheckedOut.Release exactly once.
func (p *Pool[C]) Get(key domain.ConnInfo) (co *CheckedOut[C], ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, exists := p.buckets[key]
	if !exists {
		return nil, false
	}
	for len(b.idle) > 0 {
		n := len(b.idle)
		e := b.idle[n-1]
		b.idle = b.idle[:n-1]

		if pinger, ok := any(e.Conn).(Pinger); ok {
			if err := pinger.Ping(); err != nil {
				_ = e.Conn.Close()
				continue
			}
		}

		b.active++
		e.lastUsed = time.Now()
		return &CheckedOut[C]{entry: e, pool: p}, true
	}
	return nil, false
}

// Install registers a freshly connected payload with the pool as a
// checked-out (active) entry and returns the caller's CheckedOut
// wrapper for it — this is the Go equivalent of the teacher's
// poll_client/poll_http2_client: the connect mechanism calls Install
// right after a successful connect attempt. The entry joins key's idle
// set, and becomes available to a later Get, only once the caller
// releases it with Release(true).
func (p *Pool[C]) Install(key domain.ConnInfo, conn C, aux domain.MetricsAuxInfo) *CheckedOut[C] {
	e := newEntry(key, conn, aux)

	p.mu.Lock()
	b := p.bucketFor(key)
	b.active++
	p.mu.Unlock()

	return &CheckedOut[C]{entry: e, pool: p}
}

func (p *Pool[C]) bucketFor(key domain.ConnInfo) *bucket[C] {
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket[C]{}
		p.buckets[key] = b
	}
	return b
}

func (p *Pool[C]) checkin(e *PooledEntry[C], reusable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[e.key]
	if !ok {
		// bucket vanished (Close drained it); nothing to return to.
		reusable = false
	} else {
		b.active--
	}

	if !reusable {
		_ = e.Conn.Close()
		return
	}
	b.idle = append(b.idle, e)
}

// Stats reports the current counts for key.
func (p *Pool[C]) Stats(key domain.ConnInfo) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[key]
	if !ok {
		return Stats{}
	}
	return Stats{Idle: len(b.idle), Active: b.active, Total: len(b.idle) + b.active}
}

// AggregateStats sums Stats across every key currently in the pool,
// for a process-wide view (the admin API's pool-stats endpoint) rather
// than the per-key detail Stats gives a connect mechanism.
func (p *Pool[C]) AggregateStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total Stats
	for _, b := range p.buckets {
		total.Idle += len(b.idle)
		total.Active += b.active
	}
	total.Total = total.Idle + total.Active
	return total
}

// Close closes every idle entry and stops the reaper. Entries still
// checked out at Close time are closed by their owning session when
// they release them (checkin finds no bucket and discards).
func (p *Pool[C]) Close() {
	p.reapOnce.Do(func() { close(p.reapStop) })

	p.mu.Lock()
	defer p.mu.Unlock()
	for key, b := range p.buckets {
		for _, e := range b.idle {
			_ = e.Conn.Close()
		}
		delete(p.buckets, key)
	}
}

func (p *Pool[C]) reapLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.reapStop:
			return
		case <-t.C:
			p.evictDead()
		}
	}
}

// evictDead evicts idle entries that are either past idleTimeout or
// whose Pinger reports a dead connection — the liveness half of the
// invariant that a pool never yields an entry whose connection has
// already failed.
func (p *Pool[C]) evictDead() {
	now := time.Now()
	p.mu.Lock()
	var dead []*PooledEntry[C]
	for _, b := range p.buckets {
		kept := b.idle[:0]
		for _, e := range b.idle {
			expired := p.idleTimeout > 0 && now.Sub(e.lastUsed) > p.idleTimeout
			unhealthy := false
			if pinger, ok := any(e.Conn).(Pinger); ok {
				if err := pinger.Ping(); err != nil {
					unhealthy = true
				}
			}
			if expired || unhealthy {
				dead = append(dead, e)
				continue
			}
			kept = append(kept, e)
		}
		b.idle = kept
	}
	p.mu.Unlock()

	for _, e := range dead {
		_ = e.Conn.Close()
	}
}

// CheckedOut is the exclusive handle a session holds on a pooled entry
// between Get/Install and Release.
type CheckedOut[C Closer] struct {
	entry *PooledEntry[C]
	pool  *Pool[C]
}

// Conn returns the underlying connection payload.
func (co *CheckedOut[C]) Conn() C { return co.entry.Conn }

// ConnID returns the entry's UUIDv4 identity.
func (co *CheckedOut[C]) ConnID() uuid.UUID { return co.entry.ConnID }

// Aux returns the telemetry blob attached at Install time.
func (co *CheckedOut[C]) Aux() domain.MetricsAuxInfo { return co.entry.Aux }

// Release returns the entry to its pool's idle set if reusable is
// true, or closes it and discards it otherwise. Must be called exactly
// once; this is the Go stand-in for "dropped in a reusable state."
func (co *CheckedOut[C]) Release(reusable bool) {
	co.pool.checkin(co.entry, reusable)
}
