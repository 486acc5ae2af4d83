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

func TestBanMask_NormalizeExpandsWildcards(t *testing.T) {
	b := NewBanMask("baduser", "oper")
	assert.Equal(t, "baduser!*@*", b.Pattern)

	b2 := NewBanMask("*!*@evil.example.com", "oper")
	assert.Equal(t, "*!*@evil.example.com", b2.Pattern)
}

func TestBanMask_Match(t *testing.T) {
	b := NewBanMask("*!*@*.evil.example.com", "oper")
	assert.True(t, b.Match("troll!ident@host.evil.example.com"))
	assert.False(t, b.Match("troll!ident@host.example.com"))
}

func TestBanMask_MatchCaseInsensitive(t *testing.T) {
	b := NewBanMask("TROLL!*@*", "oper")
	assert.True(t, b.Match("troll!ident@somehost"))
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "anything", true},
		{"a*c", "abc", true},
		{"a*c", "ac", true},
		{"a?c", "abc", true},
		{"a?c", "abbc", false},
		{"a*b*c", "axxbxxc", true},
		{"exact", "exact", true},
		{"exact", "exacto", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, globMatch(c.pattern, c.s), "pattern=%s s=%s", c.pattern, c.s)
	}
}
