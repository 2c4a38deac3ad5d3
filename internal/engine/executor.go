package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Pool.Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Executor runs submitted task runners. Submit may block until the executor
// has room; it gives up when ctx is done.
type Executor interface {
	Submit(ctx context.Context, fn func()) error
}

// SyncExecutor runs each function on the caller's goroutine.
type SyncExecutor struct{}

func (SyncExecutor) Submit(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}

// Pool runs functions on a fixed number of goroutines. Submit blocks while
// the queue is full, until ctx is done or the pool is closed.
type Pool struct {
	mu        sync.RWMutex
	closed    bool
	tasks     chan func()
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool starts workers goroutines sharing a queue of queueSize pending
// functions.
func NewPool(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		tasks: make(chan func(), queueSize),
		quit:  make(chan struct{}),
	}
	p.wg.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
	}
}

func (p *Pool) Submit(ctx context.Context, fn func()) error {
	if fn == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- fn:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and releases blocked Submit calls. Queued
// functions still run.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.quit) })
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
}

// Wait blocks until every worker has exited. Call Close first.
func (p *Pool) Wait() {
	p.wg.Wait()
}
