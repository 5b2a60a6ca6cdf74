// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import "sync/atomic"

// Reactor is one I/O loop (C5). Every Connection is pinned to exactly one
// Reactor for its lifetime; server-side work aimed at that connection
// (broker fan-out, a router's reply) is posted onto the reactor through
// Connection.Send instead of writing from the caller's goroutine. Because a
// single goroutine drains the post queue, everything it runs is naturally
// serialised: no per-connection lock is needed for header parsing or for
// the head of the write queue, matching the affinity model in spec §5.
//
// This is the Go-idiomatic reading of the source's "N event loops, one
// thread each": a bare OS thread per loop isn't needed on a goroutine
// runtime, so each Reactor is a single goroutine draining a channel rather
// than an epoll/kqueue wrapper.
type Reactor struct {
	id   int
	post chan func()
	done chan struct{}
}

func newReactor(id, queueSize int) *Reactor {
	if queueSize < 1 {
		queueSize = 1
	}
	r := &Reactor{
		id:   id,
		post: make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Reactor) run() {
	for {
		select {
		case fn := <-r.post:
			fn()
		case <-r.done:
			// Drain whatever was already queued before this loop's
			// connections finish tearing down, then exit.
			for {
				select {
				case fn := <-r.post:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post schedules fn to run on this reactor's goroutine. Safe to call from
// any goroutine. A Post after Stop is dropped silently: by then every
// connection pinned to this loop has already been asked to disconnect.
func (r *Reactor) Post(fn func()) {
	select {
	case r.post <- fn:
	case <-r.done:
	}
}

func (r *Reactor) stop() {
	close(r.done)
}

// ReactorPool is a fixed set of Reactors. New connections are handed out in
// round-robin order so that writes for a given connection always originate
// from the same goroutine (C5).
type ReactorPool struct {
	reactors []*Reactor
	next     atomic.Uint64
}

// NewReactorPool starts n reactors, each with a post-queue of the given
// depth. n is clamped to at least 1.
func NewReactorPool(n, queueSize int) *ReactorPool {
	if n < 1 {
		n = 1
	}
	p := &ReactorPool{reactors: make([]*Reactor, n)}
	for i := 0; i < n; i++ {
		p.reactors[i] = newReactor(i, queueSize)
	}
	return p
}

// Next returns the reactor a newly accepted connection should be pinned to.
func (p *ReactorPool) Next() *Reactor {
	idx := p.next.Add(1) % uint64(len(p.reactors))
	return p.reactors[idx]
}

// Size returns the number of reactors in the pool.
func (p *ReactorPool) Size() int {
	return len(p.reactors)
}

// Stop tells every reactor to drain and exit. It does not wait for the
// goroutines to observe it; callers that need that guarantee coordinate it
// through connection shutdown instead (Server.Stop does).
func (p *ReactorPool) Stop() {
	for _, r := range p.reactors {
		r.stop()
	}
}
