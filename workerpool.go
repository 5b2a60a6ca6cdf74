// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"sync"
	"sync/atomic"
)

// WorkerPool is a fixed-size pool of goroutines draining a bounded FIFO of
// nullary tasks (C4). It is the only place handler code runs: the I/O
// loops (Reactor, Connection) never execute user code directly, per the
// concurrency model in spec §5.
//
// Modeled on the czrpc original's thread_pool: init_thread_num starts the
// workers, add_task enqueues, stop() drains and joins exactly once.
type WorkerPool struct {
	tasks    chan func()
	stopOnce sync.Once
	stopped  atomic.Bool
	wg       sync.WaitGroup
	pending  atomic.Int64
}

// NewWorkerPool starts numWorkers goroutines draining a queue with room for
// queueSize pending tasks before Submit blocks.
func NewWorkerPool(numWorkers, queueSize int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &WorkerPool{
		tasks: make(chan func(), queueSize),
	}
	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.run()
	}
	return p
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.pending.Add(-1)
		task()
	}
}

// Submit enqueues a task for execution on some worker goroutine. It is a
// hard error to submit after Stop.
func (p *WorkerPool) Submit(task func()) error {
	if p.stopped.Load() {
		return ErrPoolStopped
	}
	p.pending.Add(1)
	p.tasks <- task
	return nil
}

// Pending reports the number of tasks queued but not yet started,
// mirroring the czrpc original's thread_pool::size().
func (p *WorkerPool) Pending() int64 {
	return p.pending.Load()
}

// Stop is idempotent. It stops accepting new work, drains whatever is
// already queued, and joins every worker goroutine before returning.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.tasks)
	})
	p.wg.Wait()
}
