package service

import (
	"context"
	"sync"
)

// WorkerPool runs submitted tasks on their own goroutines, at most `size` at
// a time. Submit never blocks; tasks beyond the limit wait for a free slot.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool. A non-positive size means one slot.
func NewWorkerPool(parent context.Context, size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(parent)
	return &WorkerPool{ctx: ctx, cancel: cancel, slots: make(chan struct{}, size)}
}

// Submit schedules task. The context handed to the task is cancelled by
// Stop; tasks not yet started when that happens are skipped and skipped
// (when non-nil) runs in their place, before Stop returns.
func (wp *WorkerPool) Submit(task func(ctx context.Context), skipped func()) {
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		select {
		case wp.slots <- struct{}{}:
		case <-wp.ctx.Done():
			wp.skip(skipped)
			return
		}
		defer func() { <-wp.slots }()
		if wp.ctx.Err() != nil {
			wp.skip(skipped)
			return
		}
		task(wp.ctx)
	}()
}

func (wp *WorkerPool) skip(skipped func()) {
	if skipped != nil {
		skipped()
	}
}

// Wait blocks until every submitted task has returned.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Stop cancels the pool context and waits for running tasks to return.
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
}
