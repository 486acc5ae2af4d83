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

func TestCasefoldMapping(t *testing.T) {
	cases := map[string]string{
		"Alice":    "alice",
		"[Dude]":   "{dude}",
		"back\\up": "back|up",
		"tilde~":   "tilde^",
		"plain":    "plain",
	}
	for in, want := range cases {
		assert.Equal(t, want, casefold(in))
	}
}

func TestCasefoldIdempotent(t *testing.T) {
	for _, s := range []string{"Alice", "[\\]^", "MiXeD123", "~~~"} {
		once := casefold(s)
		assert.Equal(t, once, casefold(once))
	}
}

func TestUserMaskPrefersVHost(t *testing.T) {
	u := newTestUser("alice")
	assert.Equal(t, "alice!user@host.example.com", u.Mask())

	u.SetVHost("cloak.hidden")
	assert.Equal(t, "alice!user@cloak.hidden", u.Mask())
	assert.Equal(t, "cloak.hidden", u.Host())
}

func TestMembershipSymmetry(t *testing.T) {
	ch := NewChannel("#sym")
	u := newTestUser("alice")

	m, err := ch.Join(u, "")
	require.NoError(t, err)

	got, onChan := ch.MembershipOf(u)
	assert.True(t, onChan)
	assert.Same(t, m, got)

	got, onUser := u.MembershipOn(ch)
	assert.True(t, onUser)
	assert.Same(t, m, got)

	_, _ = ch.Part(u)
	_, onChan = ch.MembershipOf(u)
	_, onUser = u.MembershipOn(ch)
	assert.False(t, onChan)
	assert.False(t, onUser)
}

func TestUserCullSeversAllMemberships(t *testing.T) {
	u := newTestUser("alice")
	other := newTestUser("bob")

	ch1 := NewChannel("#one")
	ch2 := NewChannel("#two")
	_, _ = ch1.Join(u, "")
	_, _ = ch2.Join(u, "")
	_, _ = ch2.Join(other, "")

	adrift := u.Cull()

	// #one emptied and is cast adrift; #two still has bob
	require.Len(t, adrift, 1)
	assert.Same(t, ch1, adrift[0])
	assert.Zero(t, ch1.MemberCount())
	assert.Equal(t, 1, ch2.MemberCount())
	assert.Empty(t, u.Channels())
}

func TestUserCullIdempotent(t *testing.T) {
	u := newTestUser("alice")
	ch := NewChannel("#once")
	_, _ = ch.Join(u, "")

	first := u.Cull()
	second := u.Cull()
	assert.Len(t, first, 1)
	assert.Nil(t, second)
}

func TestValidNickBoundary(t *testing.T) {
	exact := strings.Repeat("a", MaxNickLength)
	assert.True(t, validNick(exact))
	assert.False(t, validNick(exact+"a"))
	assert.False(t, validNick(""))
	assert.False(t, validNick("1starts-with-digit"))
	assert.False(t, validNick("-starts-with-dash"))
	assert.True(t, validNick("[oddball]`^"))
	assert.False(t, validNick("has space"))
}

func TestUserModeSelfSet(t *testing.T) {
	u := newTestUser("alice")
	require.NoError(t, SetUserMode(UModeWhoisInfo, u, u))
	assert.True(t, u.HasUMode(UModeWhoisInfo))
	assert.ErrorIs(t, SetUserMode(UModeWhoisInfo, u, u), ErrModeAlreadySet)
	require.NoError(t, UnsetUserMode(UModeWhoisInfo, u, u))
	assert.False(t, u.HasUMode(UModeWhoisInfo))
}
