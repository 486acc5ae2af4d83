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

func TestSendQueue_PushAdvanceDrainsInOrder(t *testing.T) {
	q := &SendQueue{}
	c1 := newChunk([]byte("hello"))
	c2 := newChunk([]byte("world"))

	q.Push(c1)
	q.Push(c2)
	assert.Equal(t, 10, q.Bytes())

	front, ok := q.Front()
	assert.True(t, ok)
	assert.Equal(t, "hello", string(front))

	q.Advance(5)
	front, ok = q.Front()
	assert.True(t, ok)
	assert.Equal(t, "world", string(front))

	q.Advance(5)
	assert.True(t, q.Empty())
}

func TestSendQueue_PartialAdvance(t *testing.T) {
	q := &SendQueue{}
	q.Push(newChunk([]byte("abcdef")))
	q.Advance(2)
	front, _ := q.Front()
	assert.Equal(t, "cdef", string(front))
}

func TestSendQueue_SharedChunkRefcounting(t *testing.T) {
	c := newChunk([]byte("broadcast"))
	assert.EqualValues(t, 1, c.refs)

	q1 := &SendQueue{}
	q2 := &SendQueue{}
	q1.Push(c)
	q2.Push(c)
	assert.EqualValues(t, 3, c.refs)

	q1.Advance(len("broadcast"))
	assert.EqualValues(t, 2, c.refs)
	q2.Drain()
	assert.EqualValues(t, 1, c.refs)
}
