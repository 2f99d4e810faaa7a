// Package worker provides a bounded pool of goroutines shared by render passes.
package worker

import (
	"context"
	"sync"
)

// Job is a unit of work. Run receives the pool's context, which is cancelled
// when the pool shuts down; callers needing per-submission cancellation close
// over their own context.
type Job struct {
	// ID is an optional identifier, useful for logging.
	ID string
	// Run executes the unit of work.
	Run func(ctx context.Context)
}

// Pool processes jobs with a fixed number of worker goroutines. One pool is
// created per engine and shared across render passes; per-pass deadlines are
// carried by the submitted jobs, not the pool.
type Pool struct {
	workers int
	jobs    chan Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
}

// NewPool creates a pool with the given number of workers and queue buffer.
// Workers start immediately.
func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers: workers,
		jobs:    make(chan Job, queueSize),
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job.Run(p.ctx)
		}
	}
}

// Submit queues a job. It blocks while the queue is full and returns the
// context error if ctx or the pool is cancelled first.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// Close stops accepting jobs and waits for running workers to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
	})
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// QueueLen returns the number of queued jobs.
func (p *Pool) QueueLen() int {
	return len(p.jobs)
}
