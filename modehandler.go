/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"strconv"
)

// ModeKind distinguishes how a mode letter consumes parameters and where
// its state lives.
type ModeKind uint8

const (
	// ModeKindFlag toggles a bit on the target and takes no parameter.
	ModeKindFlag ModeKind = iota

	// ModeKindParamOnSet takes a parameter when setting, none when unsetting
	// (channel key, member limit).
	ModeKindParamOnSet

	// ModeKindParamAlways takes a parameter in both directions.
	ModeKindParamAlways

	// ModeKindList manages an ordered mask list (bans, ban exceptions,
	// invite exceptions).
	ModeKindList

	// ModeKindPrefix grants or revokes a rank on a named member.
	ModeKindPrefix
)

// ModeTarget is the entity kind a mode letter applies to.
type ModeTarget uint8

const (
	ModeTargetChannel ModeTarget = iota
	ModeTargetUser
)

// ModeHandler carries the metadata and behavior slots for one mode letter.
// Exactly one of Flag/PrefixRank/list selector is meaningful depending on
// Kind; Validate is optional and only consulted for parameterized kinds.
type ModeHandler struct {
	Letter byte
	Kind   ModeKind
	Target ModeTarget

	// NeedsRank is the minimum channel rank required to change the mode.
	// The server itself bypasses this entirely; operators bypass only when
	// OperBypass is set.
	NeedsRank  Rank
	OperBypass bool

	// HideParam suppresses the parameter when the mode is shown in a
	// MODE-is reply to non-members (the channel key).
	HideParam bool

	// Flag is the cmodes bit for ModeKindFlag handlers.
	Flag uint64

	// PrefixRank is the rank bit granted by ModeKindPrefix handlers.
	PrefixRank Rank

	// Validate checks a parameter before the change is applied.
	Validate func(param string) error
}

// chanModeTable maps channel mode letters to their handlers. The set
// mirrors the ISUPPORT CHANMODES advertisement: list modes (A), param-always
// (B), param-on-set (C), flags (D), plus the PREFIX modes.
var chanModeTable = map[byte]*ModeHandler{
	// List modes
	'b': {Letter: 'b', Kind: ModeKindList, NeedsRank: RankHalfOp, Validate: validateMask},
	'e': {Letter: 'e', Kind: ModeKindList, NeedsRank: RankHalfOp, Validate: validateMask},
	'I': {Letter: 'I', Kind: ModeKindList, NeedsRank: RankHalfOp, Validate: validateMask},

	// Parameterized modes
	'k': {Letter: 'k', Kind: ModeKindParamOnSet, NeedsRank: RankOp, HideParam: true, Validate: validateKey},
	'l': {Letter: 'l', Kind: ModeKindParamOnSet, NeedsRank: RankOp, Validate: validateLimit},

	// Flag modes
	'i': {Letter: 'i', Kind: ModeKindFlag, NeedsRank: RankOp, Flag: CModeInviteOnly},
	'm': {Letter: 'm', Kind: ModeKindFlag, NeedsRank: RankHalfOp, Flag: CModeModerated},
	'n': {Letter: 'n', Kind: ModeKindFlag, NeedsRank: RankOp, Flag: CModeNoExternal},
	's': {Letter: 's', Kind: ModeKindFlag, NeedsRank: RankOp, Flag: CModeSecret},
	'p': {Letter: 'p', Kind: ModeKindFlag, NeedsRank: RankOp, Flag: CModePrivate},
	't': {Letter: 't', Kind: ModeKindFlag, NeedsRank: RankHalfOp, Flag: CModeTopicLock},
	'r': {Letter: 'r', Kind: ModeKindFlag, NeedsRank: RankOp, Flag: CModeRegisteredOnly},
	'c': {Letter: 'c', Kind: ModeKindFlag, NeedsRank: RankHalfOp, Flag: CModeNoColor},
	'P': {Letter: 'P', Kind: ModeKindFlag, NeedsRank: RankOp, OperBypass: true, Flag: CModePersistent},

	// Prefix modes; setting a rank on another member requires holding at
	// least that rank yourself.
	'q': {Letter: 'q', Kind: ModeKindPrefix, NeedsRank: RankOwner, PrefixRank: RankOwner},
	'a': {Letter: 'a', Kind: ModeKindPrefix, NeedsRank: RankAdmin, PrefixRank: RankAdmin},
	'o': {Letter: 'o', Kind: ModeKindPrefix, NeedsRank: RankOp, PrefixRank: RankOp},
	'h': {Letter: 'h', Kind: ModeKindPrefix, NeedsRank: RankOp, PrefixRank: RankHalfOp},
	'v': {Letter: 'v', Kind: ModeKindPrefix, NeedsRank: RankHalfOp, PrefixRank: RankVoice},
}

// userModeTable maps user mode letters onto the umode bitmask constants.
// Permission checks ride on UModeReqs, so only the letter->bit mapping
// lives here.
var userModeTable = map[byte]uint64{
	'a': UModeAway,
	'B': UModeBot,
	'd': UModeDeaf,
	'i': UModeInvisible,
	'o': UModeNetOp,
	'h': UModeHelpOp,
	'r': UModeRegistered,
	'x': UModeHiddenHost,
	'z': UModeSecured,
	'w': UModeWhoisInfo,
}

// chanFlagLetters returns the letters of every flag-kind mode currently set
// on the bitmask, in table-stable order.
func chanFlagLetters(cmodes uint64) string {
	var out []byte
	for _, letter := range []byte("cimnprstP") {
		h := chanModeTable[letter]
		if cmodes&h.Flag != 0 {
			out = append(out, letter)
		}
	}
	return string(out)
}

// ChanModesToken renders the ISUPPORT CHANMODES value, grouping letters by
// parameter behavior: list, param-always, param-on-set, flag.
func ChanModesToken() string {
	return "beI,,kl,cimnprstP"
}

// PrefixToken renders the ISUPPORT PREFIX value: mode letters and their
// prefix symbols, highest rank first.
func PrefixToken() string {
	return "(qaohv)~&@%+"
}

func validateKey(param string) error {
	if param == "" || len(param) > 32 {
		return ErrInvalidModeParam
	}
	return nil
}

func validateLimit(param string) error {
	n, err := strconv.Atoi(param)
	if err != nil || n < 1 {
		return ErrInvalidModeParam
	}
	return nil
}

func validateMask(param string) error {
	if param == "" {
		return ErrInvalidModeParam
	}
	return nil
}
