/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"github.com/sourcegraph/conc"
)

// helperJob pairs blocking work (run on a helper goroutine) with a
// completion callback (run on the reactor loop with the work's result).
type helperJob struct {
	work     func() any
	complete func(any)
}

// HelperPool runs work that must not block the event loop: DNS resolution,
// ident lookups, certificate checks. Workers own no references into the
// live graph; results cross back over the reactor's inbox, so completion
// callbacks run on the loop goroutine like any other handler.
type HelperPool struct {
	workers int
	jobs    chan helperJob
	wg      *conc.WaitGroup
	reactor *Reactor
}

// NewHelperPool sizes the pool; workers defaults to 4 when zero.
func NewHelperPool(workers int) *HelperPool {
	if workers <= 0 {
		workers = 4
	}
	return &HelperPool{
		workers: workers,
		jobs:    make(chan helperJob, 64),
		wg:      conc.NewWaitGroup(),
	}
}

// Start launches the workers, binding results back to the given reactor.
func (p *HelperPool) Start(reactor *Reactor) {
	p.reactor = reactor
	for i := 0; i < p.workers; i++ {
		p.wg.Go(p.run)
	}
}

func (p *HelperPool) run() {
	for job := range p.jobs {
		result := job.work()
		if job.complete != nil {
			p.reactor.Post(func() { job.complete(result) })
		}
	}
}

// Submit queues blocking work for a helper; complete runs later on the
// loop goroutine with the result. If the pool is saturated the work runs
// inline on the caller.
func (p *HelperPool) Submit(work func() any, complete func(any)) {
	job := helperJob{work: work, complete: complete}
	select {
	case p.jobs <- job:
	default:
		result := work()
		if complete != nil {
			p.reactor.Post(func() { complete(result) })
		}
	}
}

// Post runs fn on the reactor loop with no helper-side work, used to hand
// objects created on other goroutines (accepted sockets) to the loop.
func (p *HelperPool) Post(fn func()) {
	p.reactor.Post(fn)
}

// Stop closes the job queue and waits for the workers to drain.
func (p *HelperPool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
