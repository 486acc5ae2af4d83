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

func newTestUser(nick string) *User {
	u := NewUser("TEST"+nick, nil)
	u.nick = nick
	u.name = "user"
	u.host = "host.example.com"
	return u
}

func TestChannel_FirstJoinerGetsOp(t *testing.T) {
	ch := NewChannel("#test")
	u := newTestUser("alice")

	m, err := ch.Join(u, "")
	require.NoError(t, err)
	assert.True(t, m.Rank().AtLeast(RankOp))
}

func TestChannel_BanDeniesJoin(t *testing.T) {
	ch := NewChannel("#test")
	u := newTestUser("bob")
	ch.bans = append(ch.bans, NewBanMask("*!*@host.example.com", "oper"))

	_, err := ch.Join(u, "")
	assert.Equal(t, ErrBannedFromChan, err)
}

func TestChannel_ExceptOverridesBan(t *testing.T) {
	ch := NewChannel("#test")
	u := newTestUser("bob")
	ch.bans = append(ch.bans, NewBanMask("*!*@host.example.com", "oper"))
	ch.excepts = append(ch.excepts, NewBanMask("*!*@host.example.com", "oper"))

	_, err := ch.Join(u, "")
	assert.NoError(t, err)
}

func TestChannel_InviteOnlyRequiresInvite(t *testing.T) {
	ch := NewChannel("#test")
	ch.cmodes |= CModeInviteOnly
	u := newTestUser("carol")

	_, err := ch.Join(u, "")
	assert.Equal(t, ErrInviteOnlyChan, err)

	ch.Invite("carol", pingInterval)
	_, err = ch.Join(u, "")
	assert.NoError(t, err)
}

func TestChannel_KeyMismatch(t *testing.T) {
	ch := NewChannel("#test")
	ch.key = "secret"
	u := newTestUser("dave")

	_, err := ch.Join(u, "wrong")
	assert.Equal(t, ErrBadChannelKey, err)

	_, err = ch.Join(u, "secret")
	assert.NoError(t, err)
}

func TestChannel_LimitEnforced(t *testing.T) {
	ch := NewChannel("#test")
	ch.limit = 1
	u1 := newTestUser("eve")
	u2 := newTestUser("mallory")

	_, err := ch.Join(u1, "")
	require.NoError(t, err)

	_, err = ch.Join(u2, "")
	assert.Equal(t, ErrChannelIsFull, err)
}

func TestChannel_PartEmptiesChannel(t *testing.T) {
	ch := NewChannel("#test")
	u := newTestUser("frank")
	_, err := ch.Join(u, "")
	require.NoError(t, err)

	empty, err := ch.Part(u)
	require.NoError(t, err)
	assert.True(t, empty)
	assert.Equal(t, 0, ch.MemberCount())
	assert.Empty(t, u.Channels())
}

func TestChannel_DoubleJoinRejected(t *testing.T) {
	ch := NewChannel("#test")
	u := newTestUser("gina")
	_, err := ch.Join(u, "")
	require.NoError(t, err)
	_, err = ch.Join(u, "")
	assert.Equal(t, ErrAlreadyOnChan, err)
}

func TestValidChannelName(t *testing.T) {
	assert.True(t, validChannelName("#general"))
	assert.True(t, validChannelName("&local"))
	assert.False(t, validChannelName("general"))
	assert.False(t, validChannelName("#has space"))
	assert.False(t, validChannelName("#"))
}
