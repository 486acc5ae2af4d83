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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyBuilderSingleLine(t *testing.T) {
	server := newTestServer(t)
	conn := registerClient(t, server, "alice", "host")

	builder := NewReplyBuilder(server, conn, ReplyNames)
	builder.Prefix("=", "#room")
	builder.Add("@alice")
	builder.Add("+bob")
	builder.Flush()

	lines := queuedLines(conn)
	require.Len(t, lines, 1)
	assert.Equal(t, ":irc.test 353 alice = #room :@alice +bob", lines[0])
}

func TestReplyBuilderSplitsAtByteCap(t *testing.T) {
	server := newTestServer(t)
	conn := registerClient(t, server, "alice", "host")

	builder := NewReplyBuilder(server, conn, ReplyNames)
	builder.Prefix("=", "#room")
	entry := strings.Repeat("x", 60)
	for i := 0; i < 20; i++ {
		builder.Add(entry)
	}
	builder.Flush()

	lines := queuedLines(conn)
	require.Greater(t, len(lines), 1, "20 long entries cannot fit one line")
	for _, line := range lines {
		assert.LessOrEqual(t, len(line)+2, MaxMsgLength)
		assert.True(t, strings.HasPrefix(line, ":irc.test 353 alice = #room :"),
			"every continuation re-emits the fixed prefix, got: %s", line)
	}
}

func TestReplyBuilderEmptyListStillTerminates(t *testing.T) {
	server := newTestServer(t)
	conn := registerClient(t, server, "alice", "host")

	builder := NewReplyBuilder(server, conn, ReplyNames)
	builder.Prefix("#empty")
	builder.TerminateWith(ReplyEndOfNames, "End of NAMES list")
	builder.Flush()

	lines := queuedLines(conn)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], " 366 alice #empty :End of NAMES list")
}

func TestReplyBuilderTrailingTerminatorForm(t *testing.T) {
	server := newTestServer(t)
	conn := registerClient(t, server, "alice", "host")

	builder := NewReplyBuilder(server, conn, ReplyISupport)
	builder.Terminate("are supported by this server")
	builder.Add("NICKLEN=16")
	builder.Add("CHANLEN=16")
	builder.Flush()

	lines := queuedLines(conn)
	require.Len(t, lines, 1)
	assert.Equal(t, ":irc.test 005 alice NICKLEN=16 CHANLEN=16 :are supported by this server", lines[0])
}

func TestChannelTSMerge(t *testing.T) {
	ch := NewChannel("#ts")
	original := ch.CreatedAt()
	_, _ = ApplyChannelModes(nil, ch, []ModeChange{{Letter: 'n', Adding: true}})

	// a higher remote TS loses outright
	ch.MergeTS(original.Add(time.Hour), CModeInviteOnly)
	assert.Equal(t, original, ch.CreatedAt())
	assert.True(t, ch.HasMode(CModeNoExternal))
	assert.False(t, ch.HasMode(CModeInviteOnly))

	// an equal TS merges modes
	ch.MergeTS(original, CModeInviteOnly)
	assert.True(t, ch.HasMode(CModeNoExternal))
	assert.True(t, ch.HasMode(CModeInviteOnly))

	// a lower TS wins and replaces modes
	older := original.Add(-time.Hour)
	ch.MergeTS(older, CModeSecret)
	assert.Equal(t, older, ch.CreatedAt())
	assert.True(t, ch.HasMode(CModeSecret))
	assert.False(t, ch.HasMode(CModeNoExternal))
}
