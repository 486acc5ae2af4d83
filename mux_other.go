/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

//go:build !linux

package ircd

// NewMultiplexer returns the portable poller backend on platforms without
// a native implementation.
func NewMultiplexer() Multiplexer {
	return newPortableMultiplexer()
}
