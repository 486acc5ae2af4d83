/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var joinThrottleExt = NewExtItem[time.Time]("throttle.lastjoin")

func TestExtItem_SetGetUnset(t *testing.T) {
	e := &Extensible{}

	_, ok := joinThrottleExt.Get(e)
	assert.False(t, ok)

	now := time.Now()
	joinThrottleExt.Set(e, now)

	got, ok := joinThrottleExt.Get(e)
	assert.True(t, ok)
	assert.True(t, got.Equal(now))

	joinThrottleExt.Unset(e)
	_, ok = joinThrottleExt.Get(e)
	assert.False(t, ok)
}

func TestExtItem_GetOrDefault(t *testing.T) {
	e := &Extensible{}
	zero := joinThrottleExt.GetOrDefault(e, time.Unix(0, 0))
	assert.Equal(t, int64(0), zero.Unix())
}

func TestExtensible_Keys(t *testing.T) {
	e := &Extensible{}
	joinThrottleExt.Set(e, time.Now())
	assert.Contains(t, e.ExtKeys(), "throttle.lastjoin")
}
