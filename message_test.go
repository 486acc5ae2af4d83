/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_RenderNumeric(t *testing.T) {
	msg := &Message{
		Source:   "irc.example.net",
		Code:     ReplyWelcome,
		Params:   []string{"nick"},
		Trailing: "Welcome to the network",
	}
	assert.Equal(t, ":irc.example.net 001 nick :Welcome to the network\r\n", msg.Render())
}

func TestMessage_RenderWithTags(t *testing.T) {
	msg := &Message{
		Command: CmdPrivMsg,
		Params:  []string{"#chan"},
		Trailing: "hi",
	}
	msg.SetTag("time", "2023-01-01T00:00:00.000Z")
	rendered := msg.Render()
	assert.Contains(t, rendered, "@time=2023-01-01T00:00:00.000Z ")
	assert.Contains(t, rendered, "PRIVMSG #chan :hi")
}

func TestMessage_EscapeTagValue(t *testing.T) {
	msg := &Message{Command: CmdPing}
	msg.SetTag("note", "a;b c\\d")
	rendered := msg.Render()
	assert.Contains(t, rendered, `note=a\:b\sc\\d`)
}

func TestMessage_Scrub(t *testing.T) {
	msg := &Message{
		Source:   "x",
		Command:  "Y",
		Code:     1,
		Params:   []string{"a", "b"},
		Trailing: "t",
	}
	msg.SetTag("k", "v")
	msg.Scrub()
	assert.Empty(t, msg.Source)
	assert.Empty(t, msg.Command)
	assert.Zero(t, msg.Code)
	assert.Empty(t, msg.Params)
	assert.Empty(t, msg.Trailing)
	assert.False(t, msg.HasTag("k"))
}

func TestMessagePool_Recycle(t *testing.T) {
	msg := MessagePool.New()
	msg.Command = CmdPing
	MessagePool.Recycle(msg)
	again := MessagePool.New()
	assert.Empty(t, again.Command)
}
