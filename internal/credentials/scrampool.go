package credentials

import "context"

// ScramPool is the Go stand-in for spec.md's thread_pool config option:
// a small, fixed-size worker pool the CPU-bound PBKDF2 derivation runs
// on, off whatever goroutine is driving the client's connection, the
// same "dedicated computation pool" role described in spec §5.
type ScramPool struct {
	jobs chan func()
	done chan struct{}
}

// NewScramPool starts workers goroutines draining a shared job queue.
func NewScramPool(workers, queueDepth int) *ScramPool {
	p := &ScramPool{
		jobs: make(chan func(), queueDepth),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *ScramPool) worker() {
	for job := range p.jobs {
		job()
	}
}

// Submit enqueues fn, blocking until there is room or ctx is done.
func (p *ScramPool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.jobs <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work. In-flight and already-queued jobs
// still run to completion.
func (p *ScramPool) Close() {
	close(p.jobs)
}
