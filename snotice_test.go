/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snoticeSubscriber(t *testing.T, server *Server, nick string, topics ...byte) *Conn {
	t.Helper()
	conn := registerClient(t, server, nick, "host")
	conn.User.SetPerm(UPermNetOp)
	var mask uint32
	for _, topic := range topics {
		mask |= snoBit(topic)
	}
	conn.User.SetSnomask(mask)
	return conn
}

func TestSnoticeDeliveredToSubscribedOpers(t *testing.T) {
	server := newTestServer(t)
	watcher := snoticeSubscriber(t, server, "watcher", SnoOper)
	deaf := snoticeSubscriber(t, server, "deaf", SnoFlood)

	server.Snotices().Note(SnoOper, "something operish happened")

	assert.Contains(t, strings.Join(queuedLines(watcher), "\n"), "something operish happened")
	assert.Empty(t, queuedLines(deaf), "unsubscribed topic must not be delivered")
}

func TestSnoticeCoalescesRepeats(t *testing.T) {
	server := newTestServer(t)
	watcher := snoticeSubscriber(t, server, "watcher", SnoFlood)

	server.Snotices().Note(SnoFlood, "repeated line")
	server.Snotices().Note(SnoFlood, "repeated line")
	server.Snotices().Note(SnoFlood, "repeated line")
	server.Snotices().Note(SnoFlood, "a different line")

	lines := queuedLines(watcher)
	joined := strings.Join(lines, "\n")

	assert.Equal(t, 3, len(lines), "one original, one repeat summary, one new")
	assert.Contains(t, joined, "repeated line")
	assert.Contains(t, joined, "(last message repeated 2 times)")
	assert.Contains(t, joined, "a different line")
}

func TestSnoticePeriodicFlush(t *testing.T) {
	server := newTestServer(t)
	watcher := snoticeSubscriber(t, server, "watcher", SnoFlood)

	server.Snotices().Note(SnoFlood, "spam")
	server.Snotices().Note(SnoFlood, "spam")
	queuedLines(watcher)

	server.Snotices().FlushAll()

	lines := strings.Join(queuedLines(watcher), "\n")
	assert.Contains(t, lines, "(last message repeated 1 times)")

	// after a flush the same text is treated as fresh again
	server.Snotices().Note(SnoFlood, "spam")
	require.Contains(t, strings.Join(queuedLines(watcher), "\n"), "spam")
}

func TestSnoBitLayout(t *testing.T) {
	assert.Equal(t, uint32(1), snoBit('a'))
	assert.Equal(t, uint32(1)<<25, snoBit('z'))
	assert.Equal(t, uint32(1)<<26, snoBit('A'))
	assert.Zero(t, snoBit('!'))
}
