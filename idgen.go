/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"crypto/rand"
	"encoding/base32"
	"sync"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
const idSuffixLen = 6

// IDGenerator produces short, process-unique identifiers of the form
// "<SID><base36 odometer>", e.g. "42Q000001". It never hands out a live id
// twice: ids released back via Release are kept on a free-list and reused
// before the odometer advances, so a long-lived network doesn't need an
// unbounded id space.
type IDGenerator struct {
	mu       sync.Mutex
	sid      string
	counter  uint64
	freelist []string
}

// NewIDGenerator constructs a generator that prefixes every id with sid
// (the server's 3-character SID, e.g. "42Q").
func NewIDGenerator(sid string) *IDGenerator {
	return &IDGenerator{sid: sid}
}

// Next returns a new unique id, preferring a released id from the free-list
// before advancing the odometer.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n := len(g.freelist); n > 0 {
		id := g.freelist[n-1]
		g.freelist = g.freelist[:n-1]
		return id
	}

	g.counter++
	return g.sid + encodeOdometer(g.counter, idSuffixLen)
}

// Release returns id to the free-list so it can be reused. Callers must not
// call Release until the object holding id has left the uid index
// (Server.UnregisterUser releases right after removing it).
func (g *IDGenerator) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.freelist = append(g.freelist, id)
}

func encodeOdometer(n uint64, width int) string {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = idAlphabet[n%36]
		n /= 36
	}
	return string(buf)
}

// NewSID derives a 3-character SID from random bytes. Collisions across a
// real network would be resolved at link time; this implementation has no
// link layer here, so it's used purely to seed a local IDGenerator.
func NewSID() string {
	var b [2]byte
	_, _ = rand.Read(b[:])
	n := uint64(b[0])<<8 | uint64(b[1])
	return string([]byte{
		idAlphabet[1+n%9], // leading digit 1-9, SIDs conventionally don't start with 0
		idAlphabet[(n/9)%36],
		idAlphabet[(n/9/36)%36],
	})
}

// NewCookie returns a random, URL-safe registration cookie used by the
// idle-ping discipline to correlate PING/PONG pairs.
func NewCookie() string {
	var raw [9]byte
	_, _ = rand.Read(raw[:])
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:])
}
