/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import "time"

// serverVersion is the software version string advertised in the welcome
// burst.
const serverVersion = "hollowbright-ircd-0.1"

// Limiter Constants
const (
	// Messages
	MaxMsgLength  int = 512
	MaxMsgParams      = 15
	MaxTagsLength int = 4096

	// Channels
	MaxChanLength  = 16
	MaxKickLength  = 400
	MaxTopicLength = 400
	MaxListItems   = 256
	MaxModeChange  = 6

	// Users
	MaxNickLength  = 16
	MaxUserLength  = 16
	MaxVHostLength = 64
	MaxJoinedChans = 32
	MaxAwayLength  = 100

	// Reactor
	maxLinesPerConnPerTick = 10
	defaultTickTimeout     = 100 * time.Millisecond
	readGraceWindow        = 5 * time.Millisecond

	// SendQ
	sendQSoftLimit = 256 * 1024
	sendQHardLimit = 1024 * 1024

	// Registration / idle discipline
	registrationTimeout = 60 * time.Second
	pingInterval        = 90 * time.Second
	pingTimeout         = 30 * time.Second

	// Flood control (token bucket)
	floodBucketSize   = 10
	floodRefillPerSec = 2

	// Snotice coalescing
	snoticeFlushInterval = 2 * time.Second

	// Invites
	inviteTTL = time.Hour
)
