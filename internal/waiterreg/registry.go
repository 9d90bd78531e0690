// Package waiterreg implements the console-redirect rendezvous: a
// session id is registered before the client is told about it, and the
// control plane's out-of-band callback delivers the resolved
// DatabaseInfo by notifying the same id. Modeled on the teacher's
// pool.Manager (sharded-map-of-mutexes, double-checked insert) but the
// value held per key is a one-shot channel instead of a connection
// pool.
package waiterreg

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/outpostdb/outpost/internal/domain"
)

// ErrCollision is returned by Register when the session id is already
// occupied by a pending waiter.
var ErrCollision = errors.New("waiterreg: session id already registered")

// ErrCancelled is returned by Wait when its ctx is done before the
// waiter was notified; the slot is removed at the same time.
var ErrCancelled = errors.New("waiterreg: waiter cancelled")

const shardCount = 16

type shard struct {
	mu   sync.Mutex
	m    map[domain.SessionID]chan result
}

type result struct {
	info domain.DatabaseInfo
	err  error
}

// Registry is the shared, process-wide waiter table. Zero value is not
// usable; construct with New.
type Registry struct {
	shards [shardCount]*shard
}

// New constructs an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{m: make(map[domain.SessionID]chan result)}
	}
	return r
}

func (r *Registry) shardFor(id domain.SessionID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

// Waiter is a single-consumer handle that resolves to the DatabaseInfo
// delivered by Notify, or fails with the error passed to NotifyError,
// or with ErrCancelled if the ctx given to Wait is done first.
type Waiter struct {
	id domain.SessionID
	ch chan result
	r  *Registry
}

// Register inserts a pending slot for id. Returns ErrCollision if id is
// already present — the caller is expected to mint a new id and retry,
// per spec: registration collisions are transient.
func (r *Registry) Register(id domain.SessionID) (*Waiter, error) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[id]; exists {
		return nil, ErrCollision
	}
	ch := make(chan result, 1)
	s.m[id] = ch
	return &Waiter{id: id, ch: ch, r: r}, nil
}

// Notify completes the slot for id with info, waking its consumer.
// Returns false if no such id is registered (unknown or already
// consumed).
func (r *Registry) Notify(id domain.SessionID, info domain.DatabaseInfo) bool {
	return r.complete(id, result{info: info})
}

// NotifyError completes the slot for id with an error instead of a
// successful resolution (e.g. the control plane itself rejected the
// rendezvous).
func (r *Registry) NotifyError(id domain.SessionID, err error) bool {
	return r.complete(id, result{err: err})
}

func (r *Registry) complete(id domain.SessionID, res result) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	ch, ok := s.m[id]
	if ok {
		delete(s.m, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}

// cancel removes the slot for id without delivering a result, used when
// a waiter is abandoned (its consumer stopped waiting) before a
// callback arrived.
func (r *Registry) cancel(id domain.SessionID) {
	s := r.shardFor(id)
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

// Wait blocks until Notify/NotifyError is called for this waiter's id,
// ctx is cancelled, or the deadline in ctx elapses. On ctx cancellation
// the slot is removed so a late callback silently finds nothing.
func (w *Waiter) Wait(ctx context.Context) (domain.DatabaseInfo, error) {
	select {
	case res := <-w.ch:
		if res.err != nil {
			return domain.DatabaseInfo{}, res.err
		}
		return res.info, nil
	case <-ctx.Done():
		w.r.cancel(w.id)
		return domain.DatabaseInfo{}, ErrCancelled
	}
}
