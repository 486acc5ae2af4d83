/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"strings"
	"time"
)

// BanMask is one entry in a channel's ban/invex/except list: a glob pattern
// over nick!user@host (and, separately, the connecting IP), plus who set it
// and when, for BAN/INVEX/EXCEPT list replies.
type BanMask struct {
	Pattern string
	SetBy   string
	SetAt   time.Time
}

// NewBanMask records a new mask entry, defaulting any missing nick!user@host
// fields to "*" the way real IRCds expand a partial mask like "baduser" into
// "baduser!*@*".
func NewBanMask(pattern, setBy string) *BanMask {
	return &BanMask{Pattern: normalizeMask(pattern), SetBy: setBy, SetAt: time.Now()}
}

// normalizeMask expands a bare nick or user@host fragment into a full
// nick!user@host glob, defaulting missing segments to "*".
func normalizeMask(mask string) string {
	nick, user, host := "*", "*", "*"

	rest := mask
	if i := strings.IndexByte(rest, '!'); i >= 0 {
		if rest[:i] != "" {
			nick = rest[:i]
		}
		rest = rest[i+1:]
	} else if i := strings.IndexByte(rest, '@'); i < 0 {
		if rest != "" {
			nick = rest
		}
		rest = ""
	}

	if i := strings.IndexByte(rest, '@'); i >= 0 {
		if rest[:i] != "" {
			user = rest[:i]
		}
		if rest[i+1:] != "" {
			host = rest[i+1:]
		}
	} else if rest != "" {
		host = rest
	}

	return nick + "!" + user + "@" + host
}

// Match reports whether hostmask (nick!user@host) matches this ban's glob
// pattern, case-insensitively per RFC 1459 casemapping.
func (b *BanMask) Match(hostmask string) bool {
	return globMatch(casefold(b.Pattern), casefold(hostmask))
}

// globMatch implements simple '*'/'?' glob matching (no character classes),
// the subset IRC hostmasks use. '*' matches any run of characters
// (including none); '?' matches exactly one character.
func globMatch(pattern, s string) bool {
	return globMatchRunes([]rune(pattern), []rune(s))
}

func globMatchRunes(pattern, s []rune) bool {
	var pIdx, sIdx int
	var starIdx = -1
	var starMatch int

	for sIdx < len(s) {
		if pIdx < len(pattern) && (pattern[pIdx] == '?' || pattern[pIdx] == s[sIdx]) {
			pIdx++
			sIdx++
			continue
		}
		if pIdx < len(pattern) && pattern[pIdx] == '*' {
			starIdx = pIdx
			starMatch = sIdx
			pIdx++
			continue
		}
		if starIdx != -1 {
			pIdx = starIdx + 1
			starMatch++
			sIdx = starMatch
			continue
		}
		return false
	}

	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}

	return pIdx == len(pattern)
}
