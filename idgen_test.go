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

func TestIDGenerator_UniqueAndPrefixed(t *testing.T) {
	g := NewIDGenerator("42Q")
	a := g.Next()
	b := g.Next()
	assert.NotEqual(t, a, b)
	assert.Equal(t, "42Q", a[:3])
	assert.Equal(t, "42Q", b[:3])
}

func TestIDGenerator_ReusesReleasedID(t *testing.T) {
	g := NewIDGenerator("42Q")
	a := g.Next()
	g.Release(a)
	b := g.Next()
	assert.Equal(t, a, b)
}

func TestNewCookie_NotEmpty(t *testing.T) {
	a := NewCookie()
	b := NewCookie()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
