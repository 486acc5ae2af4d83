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

func testChannelWithOps(t *testing.T, nicks ...string) (*Channel, []*User) {
	t.Helper()
	ch := NewChannel("#room")
	users := make([]*User, 0, len(nicks))
	for _, nick := range nicks {
		u := NewUser("42Q"+nick, nil)
		u.SetNick(nick)
		u.SetIdent(nick)
		u.SetHost("host")
		_, err := ch.Join(u, "")
		require.NoError(t, err)
		users = append(users, u)
	}
	return ch, users
}

func TestParseModeChangesConsumesParamsInOrder(t *testing.T) {
	changes := ParseModeChanges(ModeTargetChannel, "+ov-b", []string{"bob", "carol", "badmask!*@*"})

	require.Len(t, changes, 3)
	assert.Equal(t, ModeChange{Letter: 'o', Adding: true, Param: "bob"}, changes[0])
	assert.Equal(t, ModeChange{Letter: 'v', Adding: true, Param: "carol"}, changes[1])
	assert.Equal(t, ModeChange{Letter: 'b', Adding: false, Param: "badmask!*@*"}, changes[2])
}

func TestParseModeChangesParamOnSetOnly(t *testing.T) {
	changes := ParseModeChanges(ModeTargetChannel, "+k-k", []string{"sekrit"})

	require.Len(t, changes, 2)
	assert.Equal(t, "sekrit", changes[0].Param)
	assert.Empty(t, changes[1].Param, "unsetting a key consumes no parameter")
}

func TestApplyChannelModesBatch(t *testing.T) {
	ch, users := testChannelWithOps(t, "alice", "bob", "carol")
	alice := users[0]

	changes := ParseModeChanges(ModeTargetChannel, "+ov-b", []string{"bob", "carol", "badmask!*@*"})
	accepted, diags := ApplyChannelModes(alice, ch, changes)

	require.Len(t, accepted, 2, "the +o and +v should apply")
	assert.Equal(t, byte('o'), accepted[0].Letter)
	assert.Equal(t, byte('v'), accepted[1].Letter)

	require.Len(t, diags, 1, "-b on a mask not in the list is diagnosed")
	assert.Equal(t, uint16(ReplyBadMask), diags[0].Numeric)

	bob, _ := ch.MembershipOf(users[1])
	carol, _ := ch.MembershipOf(users[2])
	assert.True(t, bob.Rank()&RankOp != 0)
	assert.True(t, carol.Rank()&RankVoice != 0)
}

func TestApplyChannelModesDuplicateFlagCollapses(t *testing.T) {
	ch, users := testChannelWithOps(t, "alice")

	changes := ParseModeChanges(ModeTargetChannel, "+n+n", nil)
	accepted, diags := ApplyChannelModes(users[0], ch, changes)

	assert.Len(t, accepted, 1)
	assert.Empty(t, diags)
	assert.True(t, ch.HasMode(CModeNoExternal))
}

func TestApplyChannelModesPermissionDenied(t *testing.T) {
	ch, users := testChannelWithOps(t, "alice", "mallory")
	mallory := users[1] // not an op; only the founder got +o

	accepted, diags := ApplyChannelModes(mallory, ch, []ModeChange{{Letter: 'i', Adding: true}})

	assert.Empty(t, accepted)
	require.Len(t, diags, 1)
	assert.Equal(t, uint16(ReplyChanOpPrivsNeeded), diags[0].Numeric)
	assert.False(t, ch.HasMode(CModeInviteOnly))
}

func TestApplyChannelModesServerBypassesPermissions(t *testing.T) {
	ch, _ := testChannelWithOps(t, "alice")

	accepted, diags := ApplyChannelModes(nil, ch, []ModeChange{{Letter: 'i', Adding: true}})

	assert.Len(t, accepted, 1)
	assert.Empty(t, diags)
	assert.True(t, ch.HasMode(CModeInviteOnly))
}

func TestApplyChannelModesParamRequired(t *testing.T) {
	ch, users := testChannelWithOps(t, "alice")

	accepted, diags := ApplyChannelModes(users[0], ch, []ModeChange{{Letter: 'k', Adding: true}})

	assert.Empty(t, accepted)
	require.Len(t, diags, 1)
	assert.Equal(t, uint16(ReplyNeedMoreParams), diags[0].Numeric)
}

func TestApplyChannelModesUnknownLetter(t *testing.T) {
	ch, users := testChannelWithOps(t, "alice")

	accepted, diags := ApplyChannelModes(users[0], ch, []ModeChange{{Letter: 'Z', Adding: true}})

	assert.Empty(t, accepted)
	require.Len(t, diags, 1)
	assert.Equal(t, uint16(ReplyUnknownMode), diags[0].Numeric)
}

func TestApplyChannelModesListDedupe(t *testing.T) {
	ch, users := testChannelWithOps(t, "alice")
	alice := users[0]

	first, _ := ApplyChannelModes(alice, ch, []ModeChange{{Letter: 'b', Adding: true, Param: "*!*@evil.host"}})
	second, diags := ApplyChannelModes(alice, ch, []ModeChange{{Letter: 'b', Adding: true, Param: "*!*@EVIL.host"}})

	assert.Len(t, first, 1)
	assert.Empty(t, second, "case-insensitive duplicate is dropped")
	assert.Empty(t, diags)

	ch.mu.RLock()
	defer ch.mu.RUnlock()
	assert.Len(t, ch.bans, 1)
}

func TestApplyChannelModesFoldSemantics(t *testing.T) {
	// Applying a batch must equal folding its accepted changes
	// left-to-right over the pre-state: a +l 5 followed by +l 10 in the
	// same batch leaves the limit at 10.
	ch, users := testChannelWithOps(t, "alice")

	accepted, _ := ApplyChannelModes(users[0], ch, []ModeChange{
		{Letter: 'l', Adding: true, Param: "5"},
		{Letter: 'l', Adding: true, Param: "10"},
	})

	assert.Len(t, accepted, 2)
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	assert.Equal(t, 10, ch.limit)
}

func TestInvertModeChangesRestoresState(t *testing.T) {
	ch, users := testChannelWithOps(t, "alice", "bob")
	alice := users[0]

	before := ch.cmodes
	batch := ParseModeChanges(ModeTargetChannel, "+nto-k", []string{"bob", "oldkey"})
	accepted, _ := ApplyChannelModes(alice, ch, batch)

	inverse := InvertModeChanges(accepted)
	reverted, diags := ApplyChannelModes(alice, ch, inverse)

	assert.Len(t, reverted, len(accepted))
	assert.Empty(t, diags)
	assert.Equal(t, before, ch.cmodes)

	bob, _ := ch.MembershipOf(users[1])
	assert.Zero(t, bob.Rank()&RankOp)
}

func TestFormatModeChangesGroupsRuns(t *testing.T) {
	changes := []ModeChange{
		{Letter: 'o', Adding: true, Param: "bob"},
		{Letter: 'v', Adding: true, Param: "carol"},
		{Letter: 'b', Adding: false, Param: "*!*@evil.host"},
	}

	msgs := FormatModeChanges(changes, MaxModeChange)

	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"+ov-b", "bob", "carol", "*!*@evil.host"}, msgs[0])
}

func TestFormatModeChangesSplitsAtCap(t *testing.T) {
	var changes []ModeChange
	for i := 0; i < MaxModeChange+1; i++ {
		changes = append(changes, ModeChange{Letter: 'n', Adding: true})
	}

	msgs := FormatModeChanges(changes, MaxModeChange)

	require.Len(t, msgs, 2)
	assert.Equal(t, "+nnnnnn", msgs[0][0])
	assert.Equal(t, "+n", msgs[1][0])
}

func TestApplyUserModes(t *testing.T) {
	oper := NewUser("42QOPER1", nil)
	oper.SetNick("oper")
	oper.SetPerm(UPermNetOp)

	target := NewUser("42QUSER1", nil)
	target.SetNick("pleb")

	accepted, diags := ApplyUserModes(oper, target, []ModeChange{
		{Letter: 'd', Adding: true},
		{Letter: '!', Adding: true},
	})

	require.Len(t, accepted, 1)
	assert.Equal(t, byte('d'), accepted[0].Letter)
	require.Len(t, diags, 1)
	assert.Equal(t, uint16(ReplyUnknownUserMode), diags[0].Numeric)
	assert.True(t, target.HasUMode(UModeDeaf))
}

func TestApplyUserModesSelf(t *testing.T) {
	u := NewUser("42QSELF1", nil)
	u.SetNick("alice")

	accepted, diags := ApplyUserModes(u, u, []ModeChange{{Letter: 'w', Adding: true}})

	assert.Len(t, accepted, 1)
	assert.Empty(t, diags)
	assert.True(t, u.HasUMode(UModeWhoisInfo))
}
