/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import "sync"

// Cullable is implemented by any object whose destruction must be deferred
// to the end of the current reactor tick instead of happening inline. Cull
// runs the object's teardown and returns any additional objects it cast
// adrift as a result (e.g. the Channels a culled User leaves empty),
// which the CullList folds back into the same sweep.
type Cullable interface {
	// Cull finalizes the object and reports any further objects that should
	// also be culled this sweep. It must be idempotent: a second call after
	// the object is already culled is a no-op that returns nil.
	Cull() []Cullable
}

// CullList accumulates objects scheduled for destruction during a reactor
// tick and applies them once, in the order they were scheduled, feeding back
// any objects a Cull() call casts adrift so they're finalized in the same
// sweep.
type CullList struct {
	mu    sync.Mutex
	items []Cullable
	seen  map[Cullable]bool

	// onSweep, when set, observes each Apply that destroyed at least one
	// object, with the count destroyed.
	onSweep func(destroyed int)
}

// OnSweep installs an observer for instrumentation.
func (cl *CullList) OnSweep(fn func(destroyed int)) {
	cl.onSweep = fn
}

// NewCullList constructs an empty CullList.
func NewCullList() *CullList {
	return &CullList{seen: make(map[Cullable]bool)}
}

// AddItem schedules item for destruction. Scheduling the same item twice
// before Apply runs is a no-op.
func (cl *CullList) AddItem(item Cullable) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.seen[item] {
		return
	}
	cl.seen[item] = true
	cl.items = append(cl.items, item)
}

// Pending reports how many items are currently scheduled.
func (cl *CullList) Pending() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.items)
}

// Apply finalizes every scheduled item, folding back any objects each Cull()
// call casts adrift so they're processed in the same sweep. It drains to a
// fixed point: Apply returns once a pass schedules nothing new.
func (cl *CullList) Apply() {
	destroyed := 0
	for {
		cl.mu.Lock()
		if len(cl.items) == 0 {
			// drop the dedup set so destroyed objects don't stay pinned
			cl.seen = make(map[Cullable]bool)
			cl.mu.Unlock()
			if destroyed > 0 && cl.onSweep != nil {
				cl.onSweep(destroyed)
			}
			return
		}
		batch := cl.items
		cl.items = nil
		cl.mu.Unlock()

		for _, item := range batch {
			destroyed++
			for _, adrift := range item.Cull() {
				cl.AddItem(adrift)
			}
		}
	}
}
