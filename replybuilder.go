/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"github.com/hollowbright/ircd/shared/stringutils"
)

// ReplyBuilder accumulates entries for a list-style reply (names, ISUPPORT,
// whois channels, CAP lists) and flushes them as one or more messages, each
// within the line byte cap, re-emitting the fixed leading parameters on
// every continuation line. The splitting itself is ChunkJoinStrings over
// the entry list with a budget of whatever the fixed portion leaves free.
type ReplyBuilder struct {
	server *Server
	conn   *Conn

	code    uint16
	command string
	prefix  []string

	entries   []string
	endCode   uint16
	endText   string
	optOutEnd bool
}

// NewReplyBuilder constructs a builder for a numeric list reply. Pass
// ReplyNone and set a command with Prefix for non-numeric list replies
// (CAP LS).
func NewReplyBuilder(server *Server, conn *Conn, code uint16) *ReplyBuilder {
	return &ReplyBuilder{server: server, conn: conn, code: code}
}

// Prefix sets the fixed parameters re-emitted at the start of every line.
// When the builder was constructed with ReplyNone, the first argument is
// taken as the message command instead of a parameter.
func (b *ReplyBuilder) Prefix(args ...string) *ReplyBuilder {
	if b.code == ReplyNone && len(args) > 0 {
		b.command = args[0]
		args = args[1:]
	}
	b.prefix = append(b.prefix, args...)
	return b
}

// TerminateWith arranges for a final numeric to be sent by Flush, emitted
// unconditionally even when no entries were added.
func (b *ReplyBuilder) TerminateWith(code uint16, text string) *ReplyBuilder {
	b.endCode = code
	b.endText = text
	return b
}

// Terminate sets the trailing text appended to every flushed line (the
// ISUPPORT form, where each line ends "are supported by this server").
func (b *ReplyBuilder) Terminate(text string) *ReplyBuilder {
	b.endText = text
	b.optOutEnd = true
	return b
}

// Add appends one entry to the pending list.
func (b *ReplyBuilder) Add(entry string) {
	b.entries = append(b.entries, entry)
}

// nick returns the reply target for the leading parameter.
func (b *ReplyBuilder) nick() string {
	if b.conn.User != nil && b.conn.User.Nick() != "" {
		return b.conn.User.Nick()
	}
	return "*"
}

// entryBudget computes how many bytes of each line remain for entries once
// the source, command, target nick, fixed parameters, terminator text, and
// CRLF are accounted for.
func (b *ReplyBuilder) entryBudget() int {
	n := MaxMsgLength - 2

	n -= 1 + len(b.server.Name()) + 1 // ":server "
	if b.code != ReplyNone {
		n -= 3 + 1 + len(b.nick()) // "NNN nick"
	} else {
		// command-form callers carry the reply target in the prefix
		n -= len(b.command)
	}
	for _, p := range b.prefix {
		n -= 1 + len(p)
	}
	n -= 2 // " :" ahead of either the entries or the terminator text
	if b.optOutEnd && b.endText != "" {
		// entries ride in the params, terminator in the trailing
		n -= 1 + len(b.endText)
	}

	if n < 1 {
		n = 1
	}
	return n
}

// Flush emits the accumulated entries as as many lines as the byte cap
// requires, then the terminating numeric if one was configured with
// TerminateWith. The terminator is sent even when the list was empty.
func (b *ReplyBuilder) Flush() {
	if len(b.entries) > 0 {
		chunks := stringutils.ChunkJoinStrings(b.entryBudget(), " ", b.entries...)
		for _, chunk := range chunks {
			if chunk == "" {
				continue
			}
			b.emitLine(chunk)
		}
		b.entries = b.entries[:0]
	}

	if b.endCode != ReplyNone {
		b.conn.ReplyNumeric(b.server, b.endCode, append(append([]string{}, b.prefix...), b.endText)...)
	}
}

// emitLine renders one line carrying a pre-joined chunk of entries.
func (b *ReplyBuilder) emitLine(chunk string) {
	msg := MessagePool.New()
	defer MessagePool.Recycle(msg)
	msg.Source = b.server.Name()

	if b.code != ReplyNone {
		msg.Code = b.code
		msg.Params = append(msg.Params, b.nick())
	} else {
		msg.Command = b.command
	}

	msg.Params = append(msg.Params, b.prefix...)

	if b.optOutEnd && b.endText != "" {
		msg.Params = append(msg.Params, chunk)
		msg.Trailing = b.endText
	} else {
		msg.Trailing = chunk
	}

	b.conn.QueueLine(msg.Render())
}
