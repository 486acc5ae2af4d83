/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"container/heap"
	"sync"
	"time"
)

// TimerFunc is invoked by the TimerWheel when a timer's deadline elapses.
// Returning a non-zero duration reschedules the timer that many nanoseconds
// from now (a repeating timer); returning 0 lets it expire.
type TimerFunc func(now time.Time) (again time.Duration)

type timerEntry struct {
	deadline time.Time
	fn       TimerFunc
	index    int
	canceled bool
}

// timerHeap is a container/heap min-heap ordered by deadline, generalizing
// the single *time.Timer the connection heartbeat used to own into one
// shared wheel that serves every deadline in the process (ping timeouts,
// invite expiry, snotice flush, registration timeout).
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimerWheel is a thread-safe min-heap of pending deadlines. The Reactor
// calls NextDeadline to compute its poll timeout, and Fire once per tick to
// run anything due.
type TimerWheel struct {
	mu sync.Mutex
	h  timerHeap
}

// NewTimerWheel constructs an empty TimerWheel.
func NewTimerWheel() *TimerWheel {
	return &TimerWheel{}
}

// TimerHandle lets a caller cancel a scheduled timer before it fires.
type TimerHandle struct {
	entry *timerEntry
	wheel *TimerWheel
}

// Cancel prevents the timer from firing. A no-op if it has already fired.
func (h TimerHandle) Cancel() {
	h.wheel.mu.Lock()
	defer h.wheel.mu.Unlock()
	h.entry.canceled = true
}

// Schedule registers fn to run at now+after, returning a handle that can
// cancel it.
func (w *TimerWheel) Schedule(after time.Duration, fn TimerFunc) TimerHandle {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := &timerEntry{deadline: time.Now().Add(after), fn: fn}
	heap.Push(&w.h, e)
	return TimerHandle{entry: e, wheel: w}
}

// NextDeadline returns the duration until the next pending timer fires, or
// the provided max if the wheel is empty or the next deadline is further
// out than max. The Reactor uses this as its poll timeout so it wakes in
// time to service the timer even with no I/O activity.
func (w *TimerWheel) NextDeadline(max time.Duration) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.h) == 0 {
		return max
	}
	d := time.Until(w.h[0].deadline)
	if d < 0 {
		return 0
	}
	if d > max {
		return max
	}
	return d
}

// Fire runs every timer whose deadline has elapsed as of now, rescheduling
// repeaters. Called once per reactor tick, after I/O dispatch.
func (w *TimerWheel) Fire(now time.Time) {
	var due []*timerEntry

	w.mu.Lock()
	for len(w.h) > 0 && !w.h[0].deadline.After(now) {
		e := heap.Pop(&w.h).(*timerEntry)
		if !e.canceled {
			due = append(due, e)
		}
	}
	w.mu.Unlock()

	for _, e := range due {
		if again := e.fn(now); again > 0 {
			w.mu.Lock()
			e.deadline = now.Add(again)
			e.canceled = false
			heap.Push(&w.h, e)
			w.mu.Unlock()
		}
	}
}

// Len reports the number of pending timers, for diagnostics/metrics.
func (w *TimerWheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.h)
}
