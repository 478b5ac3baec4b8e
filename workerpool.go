package tcc

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// workerPool runs asynchronous termination work on a bounded number of
// goroutines.  Submissions beyond the bound are refused rather than queued.
type workerPool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	lock   sync.Mutex
	closed bool
}

func newWorkerPool(size int) *workerPool {
	return &workerPool{
		sem: semaphore.NewWeighted(int64(size)),
	}
}

// Submit runs fn on a new goroutine.  fn receives a context detached from
// the cancellation of ctx, since the caller will have returned long before
// the work completes.
func (p *workerPool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return ErrClosed
	}
	if !p.sem.TryAcquire(1) {
		p.lock.Unlock()
		return ErrWorkerPoolSaturated
	}
	p.wg.Add(1)
	p.lock.Unlock()

	workCtx := context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn(workCtx)
	}()
	return nil
}

// Wait blocks until all submitted work has finished.
func (p *workerPool) Wait() {
	p.wg.Wait()
}

// Close refuses further submissions and waits for running work.
func (p *workerPool) Close() {
	p.lock.Lock()
	p.closed = true
	p.lock.Unlock()

	p.wg.Wait()
}
