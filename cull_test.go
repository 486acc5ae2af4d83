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

type fakeCullable struct {
	culled  bool
	adrift  []Cullable
	calls   int
}

func (f *fakeCullable) Cull() []Cullable {
	f.calls++
	if f.culled {
		return nil
	}
	f.culled = true
	return f.adrift
}

func TestCullList_ScheduleIsIdempotent(t *testing.T) {
	cl := NewCullList()
	item := &fakeCullable{}
	cl.AddItem(item)
	cl.AddItem(item)
	assert.Equal(t, 1, cl.Pending())
}

func TestCullList_ApplyFeedsBackAdrift(t *testing.T) {
	cl := NewCullList()
	child := &fakeCullable{}
	parent := &fakeCullable{adrift: []Cullable{child}}

	cl.AddItem(parent)
	cl.Apply()

	assert.True(t, parent.culled)
	assert.True(t, child.culled)
	assert.Equal(t, 0, cl.Pending())
}

func TestCullList_ApplyIsIdempotentPerObject(t *testing.T) {
	cl := NewCullList()
	item := &fakeCullable{}
	cl.AddItem(item)
	cl.Apply()
	assert.Equal(t, 1, item.calls)

	// Re-scheduling after culling still only culls once logically, since
	// Cull() itself must be a no-op on a second invocation.
	cl.AddItem(item)
	cl.Apply()
	assert.Equal(t, 2, item.calls)
	assert.True(t, item.culled)
}
