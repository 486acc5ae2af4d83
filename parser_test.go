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
	"github.com/stretchr/testify/require"
)

func TestParse_Basic(t *testing.T) {
	msg, err := Parse("PRIVMSG #chan :hello there")
	require.NoError(t, err)
	assert.Equal(t, "PRIVMSG", msg.Command)
	assert.Equal(t, []string{"#chan"}, msg.Params)
	assert.Equal(t, "hello there", msg.Trailing)
	MessagePool.Recycle(msg)
}

func TestParse_WithSource(t *testing.T) {
	msg, err := Parse(":nick!user@host PRIVMSG #chan :hi")
	require.NoError(t, err)
	assert.Equal(t, "nick!user@host", msg.Source)
	assert.Equal(t, "PRIVMSG", msg.Command)
	MessagePool.Recycle(msg)
}

func TestParse_WithTags(t *testing.T) {
	msg, err := Parse("@id=123;time=2023-01-01T00:00:00.000Z PRIVMSG #chan :hi")
	require.NoError(t, err)
	v, ok := msg.Tag("id")
	assert.True(t, ok)
	assert.Equal(t, "123", v)
	v, ok = msg.Tag("time")
	assert.True(t, ok)
	assert.Equal(t, "2023-01-01T00:00:00.000Z", v)
	MessagePool.Recycle(msg)
}

func TestParse_TagEscapeRoundTrip(t *testing.T) {
	msg, err := Parse(`@note=hello\sworld\:\\done PING`)
	require.NoError(t, err)
	v, ok := msg.Tag("note")
	require.True(t, ok)
	assert.Equal(t, `hello world;\done`, v)
	MessagePool.Recycle(msg)
}

func TestParse_UnknownEscapeDropsBackslash(t *testing.T) {
	msg, err := Parse(`@x=a\qb PING`)
	require.NoError(t, err)
	v, _ := msg.Tag("x")
	assert.Equal(t, "aqb", v)
	MessagePool.Recycle(msg)
}

func TestParse_Numeric(t *testing.T) {
	msg, err := Parse(":irc.example.net 001 nick :Welcome")
	require.NoError(t, err)
	assert.Equal(t, uint16(1), msg.Code)
	assert.Empty(t, msg.Command)
	MessagePool.Recycle(msg)
}

func TestParse_EmptyTrailingLegal(t *testing.T) {
	msg, err := Parse("TOPIC #chan :")
	require.NoError(t, err)
	assert.Equal(t, "", msg.Trailing)
	assert.Equal(t, []string{"#chan"}, msg.Params)
	MessagePool.Recycle(msg)
}

func TestParse_NoParams(t *testing.T) {
	msg, err := Parse("PING")
	require.NoError(t, err)
	assert.Equal(t, "PING", msg.Command)
	assert.Empty(t, msg.Params)
	MessagePool.Recycle(msg)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("")
	assert.Equal(t, ErrNotEnoughData, err)

	_, err = Parse("   ")
	assert.Equal(t, ErrWhitespace, err)

	_, err = Parse(":onlysource")
	assert.Equal(t, ErrMissingParams, err)
}

func TestParse_TooManyParams(t *testing.T) {
	line := "PRIVMSG"
	for i := 0; i < MaxMsgParams+1; i++ {
		line += " p"
	}
	_, err := Parse(line)
	assert.Equal(t, ErrTooManyParams, err)
}

func TestParse_RenderRoundTrip(t *testing.T) {
	msg, err := Parse(":nick!user@host PRIVMSG #chan :hello world")
	require.NoError(t, err)
	rendered := msg.Render()
	assert.Equal(t, ":nick!user@host PRIVMSG #chan :hello world\r\n", rendered)
	MessagePool.Recycle(msg)
}
