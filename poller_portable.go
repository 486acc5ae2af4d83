/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"net"
	"sync"
	"time"
)

// portableMultiplexer is the level-triggered, platform-independent fallback
// backend. Since the standard library exposes no cross-platform way
// to ask "is this net.Conn readable" without reading from it, each
// registered connection gets one goroutine blocked in a 1-byte Read call;
// that goroutine's only job is to report readiness (and hand back the byte
// it had to consume to detect it) onto a shared channel the Reactor drains
// in Wait. The goroutine never touches User/Channel state, preserving the
// single-thread-mutates-the-graph invariant.
type portableMultiplexer struct {
	mu      sync.Mutex
	entries map[int]*pollEntry
	ready   chan readySignal
}

type pollEntry struct {
	conn     net.Conn
	writable bool
	stop     chan struct{}

	// resume is the drain-complete handshake: after emitting a readiness
	// signal the watcher parks here and does not touch the socket again
	// until the Reactor, having finished its own read for the tick, calls
	// Modify. The socket therefore always has exactly one reader.
	resume chan struct{}
}

type readySignal struct {
	id       int
	peeked   byte
	hasPeek  bool
	readErr  error
	writable bool
}

// newPortableMultiplexer constructs the fallback backend.
func newPortableMultiplexer() *portableMultiplexer {
	return &portableMultiplexer{
		entries: make(map[int]*pollEntry),
		ready:   make(chan readySignal, 256),
	}
}

func (p *portableMultiplexer) Register(id int, conn net.Conn, writable bool) error {
	p.mu.Lock()
	entry := &pollEntry{
		conn:     conn,
		writable: writable,
		stop:     make(chan struct{}),
		resume:   make(chan struct{}, 1),
	}
	p.entries[id] = entry
	p.mu.Unlock()

	go p.watch(id, entry)
	return nil
}

// watch blocks reading a single byte at a time, forwarding readiness
// signals. The peeked byte is stashed on the Conn by the Reactor before it
// reads, so no data is lost; after signaling, the watcher parks until the
// Reactor reports the drain complete via Modify, so the two never read the
// socket concurrently and arrival order is preserved.
func (p *portableMultiplexer) watch(id int, entry *pollEntry) {
	buf := make([]byte, 1)
	for {
		select {
		case <-entry.stop:
			return
		default:
		}

		_ = entry.conn.SetReadDeadline(time.Now().Add(defaultTickTimeout))
		n, err := entry.conn.Read(buf)

		select {
		case <-entry.stop:
			return
		default:
		}

		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			p.ready <- readySignal{id: id, readErr: err}
			return
		}
		if n > 0 {
			p.ready <- readySignal{id: id, peeked: buf[0], hasPeek: true}
			select {
			case <-entry.resume:
			case <-entry.stop:
				return
			}
		}
	}
}

// Modify updates write interest. The Reactor calls it after servicing a
// connection each tick, which doubles as the drain-complete signal that
// lets a parked watcher resume reading.
func (p *portableMultiplexer) Modify(id int, writable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[id]; ok {
		entry.writable = writable
		select {
		case entry.resume <- struct{}{}:
		default:
		}
	}
	return nil
}

func (p *portableMultiplexer) Unregister(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[id]; ok {
		close(entry.stop)
		delete(p.entries, id)
	}
	return nil
}

func (p *portableMultiplexer) Wait(timeout time.Duration) ([]ReadyEvent, error) {
	var events []ReadyEvent

	select {
	case sig := <-p.ready:
		events = append(events, p.toEvent(sig))
	case <-time.After(timeout):
		return nil, nil
	}

	for {
		select {
		case sig := <-p.ready:
			events = append(events, p.toEvent(sig))
		default:
			p.mu.Lock()
			for id, entry := range p.entries {
				if entry.writable {
					events = append(events, ReadyEvent{Fd: id, Writable: true})
				}
			}
			p.mu.Unlock()
			return events, nil
		}
	}
}

func (p *portableMultiplexer) toEvent(sig readySignal) ReadyEvent {
	ev := ReadyEvent{Fd: sig.id, Readable: true}
	if sig.hasPeek {
		ev.Peeked = []byte{sig.peeked}
	}
	return ev
}

func (p *portableMultiplexer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.entries {
		close(entry.stop)
	}
	p.entries = nil
	return nil
}
