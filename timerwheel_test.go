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

func TestTimerWheel_FiresInOrder(t *testing.T) {
	w := NewTimerWheel()
	var order []int

	w.Schedule(30*time.Millisecond, func(time.Time) time.Duration {
		order = append(order, 2)
		return 0
	})
	w.Schedule(10*time.Millisecond, func(time.Time) time.Duration {
		order = append(order, 1)
		return 0
	})

	w.Fire(time.Now().Add(50 * time.Millisecond))
	assert.Equal(t, []int{1, 2}, order)
}

func TestTimerWheel_CancelPreventsFire(t *testing.T) {
	w := NewTimerWheel()
	fired := false
	handle := w.Schedule(5*time.Millisecond, func(time.Time) time.Duration {
		fired = true
		return 0
	})
	handle.Cancel()
	w.Fire(time.Now().Add(10 * time.Millisecond))
	assert.False(t, fired)
}

func TestTimerWheel_RepeatReschedules(t *testing.T) {
	w := NewTimerWheel()
	count := 0
	w.Schedule(1*time.Millisecond, func(time.Time) time.Duration {
		count++
		if count < 3 {
			return time.Millisecond
		}
		return 0
	})

	now := time.Now()
	for i := 0; i < 3; i++ {
		now = now.Add(2 * time.Millisecond)
		w.Fire(now)
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, 0, w.Len())
}

func TestTimerWheel_NextDeadlineClampsToMax(t *testing.T) {
	w := NewTimerWheel()
	assert.Equal(t, 5*time.Second, w.NextDeadline(5*time.Second))

	w.Schedule(time.Hour, func(time.Time) time.Duration { return 0 })
	assert.Equal(t, 5*time.Second, w.NextDeadline(5*time.Second))
}
