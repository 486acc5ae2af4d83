/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"bytes"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// Conn is one client connection's socket and buffer state. It owns no
// goroutines: OnReadable/OnWritable are called from the single event-loop
// goroutine, so none of Conn's own state needs a mutex - only that one
// goroutine ever touches it.
type Conn struct {
	fd      int
	raw     net.Conn
	hooks   ioHookChain
	limiter *rate.Limiter

	recv    []byte
	pending []byte // bytes read but not yet split into a complete line

	sendq SendQueue

	User *User

	cookie       string
	lastPingSent time.Time
	lastInbound  time.Time

	// registration prerequisite flags; the FSM advances to fully
	// registered only once every one of these has settled
	nickChosen   bool
	userSent     bool
	dnsDone      bool
	identDone    bool
	capVersion   int
	capExchange  bool // a CAP LS/REQ is in flight; registration holds until CAP END
	passAccepted bool

	// flood penalty accounting
	penalty      time.Duration
	lastBleed    time.Time
	deferred     []*Message
	drainPending bool

	overflowed bool
	closing    bool
}

// Describe renders a short operator-facing description of the connection
// for snotices and log lines.
func (c *Conn) Describe() string {
	if c.User != nil && c.User.Nick() != "" {
		return c.User.Mask()
	}
	if c.raw != nil {
		return c.raw.RemoteAddr().String()
	}
	return "unknown connection"
}

// NewConn wraps raw (already passed through any IOHooks) into a Conn ready
// for registration with the Reactor.
func NewConn(fd int, raw net.Conn) *Conn {
	return &Conn{
		fd:      fd,
		raw:     raw,
		recv:    make([]byte, 4096),
		limiter: rate.NewLimiter(rate.Limit(floodRefillPerSec), floodBucketSize),
	}
}

// QueueLine renders a raw string onto the connection's send queue as its
// own chunk. For multi-recipient sends, prefer building one chunk via
// newChunk and calling QueueChunk on each recipient instead, so the bytes
// are shared across recipients.
func (c *Conn) QueueLine(line string) {
	c.QueueChunk(newChunk([]byte(line)))
}

// QueueChunk retains and appends an already-built chunk to the send queue.
func (c *Conn) QueueChunk(ch *chunk) {
	if c.closing {
		return
	}
	c.sendq.Push(ch)
	if c.sendq.Bytes() >= sendQHardLimit {
		c.closing = true
	}
}

// SendQBytes reports current outbound backlog, for backpressure/metrics.
func (c *Conn) SendQBytes() int {
	return c.sendq.Bytes()
}

// OverSoftLimit reports whether the connection's outbound backlog has
// crossed the soft backpressure threshold (callers may start dropping
// non-critical traffic, e.g. away-notify, to this connection).
func (c *Conn) OverSoftLimit() bool {
	return c.sendq.Bytes() >= sendQSoftLimit
}

// Allow consults the per-connection flood token bucket.
func (c *Conn) Allow() bool {
	return c.limiter.Allow()
}

// PushPrefetch prepends bytes a polling backend had to consume from the
// socket while probing for readability, so they're parsed ahead of whatever
// the next Read returns.
func (c *Conn) PushPrefetch(b []byte) {
	c.pending = append(c.pending, b...)
}

// OnReadable is invoked by the Reactor when the socket has data available.
// It reads once, appends to any partial line left over from the previous
// call, and returns every complete line found (without trailing CRLF),
// enforcing the per-tick line budget for fairness across connections.
// The read carries a short deadline of its own: a readiness signal may
// represent bytes already handed over as a prefetch, in which case the
// socket has nothing further and the read must not stall the loop. A
// deadline expiry is not an error, just an empty read.
func (c *Conn) OnReadable() (lines []string, err error) {
	_ = c.raw.SetReadDeadline(time.Now().Add(readGraceWindow))
	n, rerr := c.raw.Read(c.recv)
	if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
		rerr = nil
	}
	if n > 0 {
		c.pending = append(c.pending, c.recv[:n]...)
		c.lastInbound = time.Now()
	}

	for len(lines) < maxLinesPerConnPerTick {
		idx := bytes.IndexByte(c.pending, '\n')
		if idx < 0 {
			break
		}
		end := idx
		if end > 0 && c.pending[end-1] == '\r' {
			end--
		}
		line := c.pending[:end]
		if len(line) > MaxMsgLength+MaxTagsLength {
			line = line[:MaxMsgLength+MaxTagsLength]
		}
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
		c.pending = c.pending[idx+1:]
	}

	if len(c.pending) > MaxMsgLength+MaxTagsLength {
		return lines, ErrDataTooLong
	}

	return lines, rerr
}

// OnWritable is invoked by the Reactor when the socket is ready to accept
// more data. It writes as much of the front of the send queue as the
// kernel will take without blocking.
func (c *Conn) OnWritable() error {
	for !c.sendq.Empty() {
		buf, ok := c.sendq.Front()
		if !ok {
			return nil
		}
		n, err := c.raw.Write(buf)
		if n > 0 {
			c.sendq.Advance(n)
		}
		if err != nil {
			return err
		}
		if n < len(buf) {
			// short write on a non-blocking socket; wait for the next
			// writable notification instead of spinning.
			return nil
		}
	}
	return nil
}

// HasPendingWrites reports whether the Reactor should keep watching this
// connection for writability.
func (c *Conn) HasPendingWrites() bool {
	return !c.sendq.Empty()
}

// Close marks the connection for teardown; the Reactor removes it from the
// multiplexer and schedules its User (if registered) for culling.
func (c *Conn) Close() {
	if c.closing {
		return
	}
	c.closing = true
	c.sendq.Drain()
	if c.raw != nil {
		_ = c.raw.Close()
	}
}
