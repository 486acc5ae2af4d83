/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"strconv"
	"strings"
)

// ModeChange is one element of a mode batch: a letter, a direction, and the
// parameter the letter's kind requires (empty when none).
type ModeChange struct {
	Letter byte
	Adding bool
	Param  string
}

// ParseModeChanges splits a MODE argument list ("+ov-b", "nick1", "nick2",
// "mask") into an ordered batch, consuming one parameter per change for the
// kinds that take one. Unknown letters are passed through for the apply
// step to reject individually, consuming a parameter only when a known
// handler says the direction needs one.
func ParseModeChanges(target ModeTarget, modestr string, params []string) []ModeChange {
	changes := make([]ModeChange, 0, len(modestr))
	adding := true
	next := 0

	for i := 0; i < len(modestr); i++ {
		letter := modestr[i]
		switch letter {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}

		change := ModeChange{Letter: letter, Adding: adding}
		if modeTakesParam(target, letter, adding) && next < len(params) {
			change.Param = params[next]
			next++
		}
		changes = append(changes, change)
	}

	return changes
}

func modeTakesParam(target ModeTarget, letter byte, adding bool) bool {
	if target == ModeTargetUser {
		return false
	}
	h, ok := chanModeTable[letter]
	if !ok {
		return false
	}
	switch h.Kind {
	case ModeKindParamAlways, ModeKindList, ModeKindPrefix:
		return true
	case ModeKindParamOnSet:
		return adding
	default:
		return false
	}
}

// InvertModeChanges mechanically flips every change's direction, producing
// the batch that undoes the original when folded over the resulting state.
func InvertModeChanges(changes []ModeChange) []ModeChange {
	out := make([]ModeChange, len(changes))
	for i, c := range changes {
		out[i] = ModeChange{Letter: c.Letter, Adding: !c.Adding, Param: c.Param}
	}
	return out
}

// ApplyChannelModes validates and applies a mode batch against ch in order,
// one change at a time. src may be nil to mean the server itself, which
// bypasses all permission checks (the trust boundary for peer-originated
// changes). It returns the accepted changes in application order plus a
// diagnostic for every rejected one.
func ApplyChannelModes(src *User, ch *Channel, changes []ModeChange) (accepted []ModeChange, diags []*IRCError) {
	var rank Rank
	var oper bool
	server := src == nil
	if !server {
		oper = src.IsOper()
		if m, ok := src.MembershipOn(ch); ok {
			rank = m.Rank()
		}
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	for _, change := range changes {
		handler, known := chanModeTable[change.Letter]
		if !known {
			diags = append(diags, NewIRCError(KindProtocol, ReplyUnknownMode, ErrUnknownMode))
			continue
		}

		if !server && !rank.AtLeast(handler.NeedsRank) && !(oper && handler.OperBypass) {
			diags = append(diags, NewIRCError(KindPermission, ReplyChanOpPrivsNeeded, ErrInsuffPerms))
			continue
		}

		if needsParam(handler, change.Adding) {
			if change.Param == "" {
				diags = append(diags, NewIRCError(KindProtocol, ReplyNeedMoreParams, ErrMissingParams))
				continue
			}
			if handler.Validate != nil {
				if err := handler.Validate(change.Param); err != nil {
					diags = append(diags, NewIRCError(KindProtocol, ReplyBadMask, err))
					continue
				}
			}
		}

		setBy := ""
		if !server {
			setBy = src.Nick()
		}
		applied, err := applyOneChange(ch, handler, change, setBy)
		if err != nil {
			diags = append(diags, err)
			continue
		}
		if applied {
			accepted = append(accepted, change)
		}
	}

	return accepted, diags
}

func needsParam(h *ModeHandler, adding bool) bool {
	switch h.Kind {
	case ModeKindParamAlways, ModeKindList, ModeKindPrefix:
		return true
	case ModeKindParamOnSet:
		return adding
	default:
		return false
	}
}

// applyOneChange mutates channel state for a single validated change. The
// caller holds ch.mu. A false return with nil error means the change was a
// silent no-op (duplicate flag), which is dropped from the output batch.
func applyOneChange(ch *Channel, h *ModeHandler, change ModeChange, setBy string) (bool, *IRCError) {
	switch h.Kind {
	case ModeKindFlag:
		already := ch.cmodes&h.Flag != 0
		if change.Adding == already {
			return false, nil
		}
		if change.Adding {
			ch.cmodes |= h.Flag
		} else {
			ch.cmodes &^= h.Flag
		}
		return true, nil

	case ModeKindParamOnSet:
		switch h.Letter {
		case 'k':
			if change.Adding {
				ch.key = change.Param
			} else {
				if ch.key == "" {
					return false, nil
				}
				ch.key = ""
			}
		case 'l':
			if change.Adding {
				ch.limit, _ = strconv.Atoi(change.Param)
			} else {
				if ch.limit == 0 {
					return false, nil
				}
				ch.limit = 0
			}
		}
		return true, nil

	case ModeKindList:
		list := ch.listFor(h.Letter)
		if change.Adding {
			if len(*list) >= MaxListItems {
				return false, NewIRCError(KindResource, ReplyBanListFUll, ErrListFull)
			}
			norm := normalizeMask(change.Param)
			for _, entry := range *list {
				if strings.EqualFold(entry.Pattern, norm) {
					return false, nil
				}
			}
			*list = append(*list, NewBanMask(change.Param, setBy))
			return true, nil
		}
		norm := normalizeMask(change.Param)
		for i, entry := range *list {
			if strings.EqualFold(entry.Pattern, norm) {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return true, nil
			}
		}
		return false, NewIRCError(KindProtocol, ReplyBadMask, ErrNoSuchListEntry)

	case ModeKindPrefix:
		member := ch.findMemberByNick(change.Param)
		if member == nil {
			return false, NewIRCError(KindProtocol, ReplyUserNotInChannel, ErrUserNotInChan)
		}
		already := member.rank&h.PrefixRank != 0
		if change.Adding == already {
			return false, nil
		}
		if change.Adding {
			member.rank |= h.PrefixRank
		} else {
			member.rank &^= h.PrefixRank
		}
		return true, nil
	}

	return false, NewIRCError(KindProtocol, ReplyUnknownMode, ErrUnknownMode)
}

// listFor returns a pointer to the mask list a list-mode letter manages.
// The caller holds ch.mu.
func (c *Channel) listFor(letter byte) *[]*BanMask {
	switch letter {
	case 'e':
		return &c.excepts
	case 'I':
		return &c.invex
	default:
		return &c.bans
	}
}

// findMemberByNick resolves a nick to its Membership on the channel.
// The caller holds ch.mu.
func (c *Channel) findMemberByNick(nick string) *Membership {
	folded := casefold(nick)
	for u, m := range c.members {
		if casefold(u.Nick()) == folded {
			return m
		}
	}
	return nil
}

// ApplyUserModes applies a mode batch against a target user, riding on the
// UModeReqs permission table. src nil means the server, which applies
// changes unchecked.
func ApplyUserModes(src, target *User, changes []ModeChange) (accepted []ModeChange, diags []*IRCError) {
	for _, change := range changes {
		bit, known := userModeTable[change.Letter]
		if !known {
			diags = append(diags, NewIRCError(KindProtocol, ReplyUnknownUserMode, ErrUnknownMode))
			continue
		}

		var err error
		if src == nil {
			err = forceUserMode(bit, target, change.Adding)
		} else if change.Adding {
			err = SetUserMode(bit, src, target)
		} else {
			err = UnsetUserMode(bit, src, target)
		}

		switch err {
		case nil:
			accepted = append(accepted, change)
		case ErrModeAlreadySet, ErrModeNotSet:
			// duplicate direction collapses silently
		default:
			diags = append(diags, classify(err))
		}
	}
	return accepted, diags
}

func forceUserMode(bit uint64, target *User, adding bool) error {
	target.mu.Lock()
	defer target.mu.Unlock()
	already := target.umode&bit == bit
	if adding == already {
		if adding {
			return ErrModeAlreadySet
		}
		return ErrModeNotSet
	}
	if adding {
		target.umode |= bit
	} else {
		target.umode &^= bit
	}
	return nil
}

// FormatModeChanges renders an accepted batch into one or more
// (modestring, params) messages, grouping consecutive same-direction
// changes into +/- runs and splitting whenever a message would exceed
// maxPerMessage changes.
func FormatModeChanges(changes []ModeChange, maxPerMessage int) [][]string {
	if maxPerMessage < 1 {
		maxPerMessage = MaxModeChange
	}

	var out [][]string
	var modes strings.Builder
	var params []string
	count := 0
	lastAdding := true
	started := false

	flush := func() {
		if count == 0 {
			return
		}
		msg := append([]string{modes.String()}, params...)
		out = append(out, msg)
		modes.Reset()
		params = nil
		count = 0
		started = false
	}

	for _, c := range changes {
		if count == maxPerMessage {
			flush()
		}
		if !started || c.Adding != lastAdding {
			if c.Adding {
				modes.WriteByte('+')
			} else {
				modes.WriteByte('-')
			}
			lastAdding = c.Adding
			started = true
		}
		modes.WriteByte(c.Letter)
		if c.Param != "" {
			params = append(params, c.Param)
		}
		count++
	}
	flush()

	return out
}
