/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ReadyEvent reports which directions a registered descriptor is ready in.
// Peeked carries any bytes a polling backend had to consume from the socket
// just to detect readability (the portable backend's 1-byte Read trick);
// epoll never populates it since epoll_wait doesn't touch the data stream.
type ReadyEvent struct {
	Fd       int
	Readable bool
	Writable bool
	Peeked   []byte
}

// Multiplexer is the I/O readiness abstraction the Reactor drives. Two
// backends implement it: epollMultiplexer (Linux) and portableMultiplexer
// (every platform, a goroutine-per-descriptor bridge that only ever
// reports readiness - it never touches connection state, so the
// single-thread-mutates-the-graph invariant holds regardless of which
// backend is active).
type Multiplexer interface {
	// Register begins watching conn under the given logical id (assigned by
	// the Reactor, not necessarily the OS file descriptor - the epoll
	// backend recovers the real fd from conn itself via SyscallConn).
	Register(id int, conn net.Conn, writable bool) error
	Modify(id int, writable bool) error
	Unregister(id int) error
	Wait(timeout time.Duration) ([]ReadyEvent, error)
	Close() error
}

// Reactor is the single-goroutine event loop owning every live connection,
// the shared TimerWheel, and the CullList. Exactly one goroutine ever
// mutates User/Channel state; everything else communicates with the loop
// through Post.
type Reactor struct {
	mux    Multiplexer
	timers *TimerWheel
	cull   *CullList
	log    *logrus.Entry

	conns map[int]*Conn

	// inbox carries closures posted from helper goroutines (DNS results,
	// accepted sockets) onto the loop; drained once per tick so only this
	// goroutine ever touches connection or user state.
	inboxMu sync.Mutex
	inbox   []func()

	// cursor supports round-robin fairness across the ready set when more
	// connections are ready than the per-tick line budget allows servicing
	// in full.
	cursor int

	onNewMessage func(c *Conn, msg *Message)
	onClosed     func(c *Conn)
}

// NewReactor constructs a Reactor around the given Multiplexer backend.
func NewReactor(mux Multiplexer, log *logrus.Entry) *Reactor {
	return &Reactor{
		mux:    mux,
		timers: NewTimerWheel(),
		cull:   NewCullList(),
		log:    log,
		conns:  make(map[int]*Conn),
	}
}

// Timers exposes the reactor's TimerWheel so other components (registration
// FSM idle discipline, snotice coalescing, invite expiry) can schedule onto
// the same shared wheel rather than spinning up their own timers.
func (r *Reactor) Timers() *TimerWheel { return r.timers }

// Cull exposes the reactor's CullList so any component can schedule an
// object for end-of-tick destruction.
func (r *Reactor) Cull() *CullList { return r.cull }

// OnMessage installs the callback invoked for every complete line read off
// a connection, once parsed into a Message.
func (r *Reactor) OnMessage(fn func(c *Conn, msg *Message)) { r.onNewMessage = fn }

// OnClosed installs the callback invoked once a connection is fully torn
// down and removed from the multiplexer.
func (r *Reactor) OnClosed(fn func(c *Conn)) { r.onClosed = fn }

// Post schedules fn to run on the loop goroutine at the start of the next
// tick. Safe to call from any goroutine; this is the only door into the
// live graph from outside the loop.
func (r *Reactor) Post(fn func()) {
	r.inboxMu.Lock()
	r.inbox = append(r.inbox, fn)
	r.inboxMu.Unlock()
}

func (r *Reactor) drainInbox() {
	r.inboxMu.Lock()
	pending := r.inbox
	r.inbox = nil
	r.inboxMu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// Add registers a new connection with the reactor, starting in
// read-only-watch mode.
func (r *Reactor) Add(c *Conn) error {
	if err := r.mux.Register(c.fd, c.raw, false); err != nil {
		return err
	}
	r.conns[c.fd] = c
	return nil
}

// Remove unregisters and drops a connection, notifying onClosed.
func (r *Reactor) Remove(c *Conn) {
	_ = r.mux.Unregister(c.fd)
	delete(r.conns, c.fd)
	c.Close()
	if r.onClosed != nil {
		r.onClosed(c)
	}
}

// Run drives the event loop until ctx is canceled. Each tick: poll ->
// drain inbox -> read/dispatch/drain sockets -> fire timers -> apply the
// cull list.
func (r *Reactor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timeout := r.timers.NextDeadline(defaultTickTimeout)
		events, err := r.mux.Wait(timeout)
		if err != nil {
			return err
		}

		r.drainInbox()

		r.dispatchTick(events)

		r.timers.Fire(time.Now())

		r.cull.Apply()
	}
}

// dispatchTick services one round of ready events with round-robin fairness:
// starting from r.cursor, each ready connection gets read and dispatched up
// to its per-tick line budget before moving to the next.
func (r *Reactor) dispatchTick(events []ReadyEvent) {
	if len(events) == 0 {
		return
	}

	start := r.cursor % len(events)
	for i := 0; i < len(events); i++ {
		ev := events[(start+i)%len(events)]
		c, ok := r.conns[ev.Fd]
		if !ok {
			continue
		}

		if ev.Writable {
			if err := c.OnWritable(); err != nil {
				r.Remove(c)
				continue
			}
		}

		if ev.Readable {
			if len(ev.Peeked) > 0 {
				c.PushPrefetch(ev.Peeked)
			}
			lines, rerr := c.OnReadable()
			for _, line := range lines {
				r.dispatchLine(c, line)
			}
			if rerr != nil {
				r.Remove(c)
				continue
			}
		}

		writable := c.HasPendingWrites()
		_ = r.mux.Modify(c.fd, writable)
	}
	r.cursor++
}

func (r *Reactor) dispatchLine(c *Conn, line string) {
	// registered clients get penalty-based deferral downstream; only a
	// still-registering connection's excess is droppable outright
	if (c.User == nil || !c.User.Registered()) && !c.Allow() {
		return
	}
	msg, err := Parse(line)
	if err != nil {
		r.log.WithError(err).Debug("dropping malformed line")
		return
	}
	if r.onNewMessage != nil {
		r.onNewMessage(c, msg)
	}
	MessagePool.Recycle(msg)
}
