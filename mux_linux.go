/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

//go:build linux

package ircd

// NewMultiplexer returns the best poller backend for this platform,
// falling back to the portable backend if the kernel refuses an epoll
// instance.
func NewMultiplexer() Multiplexer {
	if mux, err := NewEpollMultiplexer(); err == nil {
		return mux
	}
	return newPortableMultiplexer()
}
