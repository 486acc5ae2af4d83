/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import "fmt"

// Kind classifies an error for the dispatcher: whether it becomes a numeric
// reply to the client, a cull reason, a snotice, or a fatal process exit.
type Kind uint8

const (
	KindProtocol Kind = iota
	KindPermission
	KindResource
	KindTransport
	KindConfiguration
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindPermission:
		return "permission"
	case KindResource:
		return "resource"
	case KindTransport:
		return "transport"
	case KindConfiguration:
		return "configuration"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a workaround to allow for immutable error strings
// which satisfy the error interface.
type Error string

func (err Error) Error() string {
	return string(err)
}

func (err Error) String() string {
	return string(err)
}

// Immutable error strings. These are the stable sentinel values handlers
// compare against; IRCError wraps them with a Kind and a numeric for the
// dispatcher.
const (
	ErrNotEnoughData  Error = "did not receive enough data from the client"
	ErrDataTooLong    Error = "received data from the client is too long"
	ErrCRLF           Error = "no CRLF"
	ErrWhitespace     Error = "all whitespace"
	ErrPrefixed       Error = "prefixed message from client"
	ErrInvalidCapCmd  Error = "invalid CAP command"
	ErrMissingParams  Error = "missing parameters"
	ErrTooManyParams  Error = "too many parameters"
	ErrTagsTooLong    Error = "message tags exceed the length budget"
	ErrUserInUse      Error = "this username is currently in use"
	ErrUserRestricted Error = "this username is restricted"
	ErrUserAlreadySet Error = "you have already registered"
	ErrNickInUse      Error = "this nickname is currently in use"
	ErrNickRestricted Error = "this nickname is restricted"
	ErrNickAlreadySet Error = "you already have that nickname"
	ErrNotImplemented Error = "that command is not yet implemented"
	ErrNotRegistered  Error = "you must register first"
	ErrNoNickGiven    Error = "no nickname given"
	ErrNoSuchNick     Error = "nick not found"
	ErrNoSuchChan     Error = "channel not found"
	ErrInsuffPerms    Error = "insufficient permissions"
	ErrUnknownMode    Error = "unknown mode"
	ErrModeAlreadySet Error = "mode already set"
	ErrModeNotSet     Error = "mode is not set"
	ErrBannedFromChan Error = "banned from channel"
	ErrInviteOnlyChan Error = "invite only channel"
	ErrChannelIsFull  Error = "channel is full"
	ErrBadChannelKey  Error = "bad channel key"
	ErrTooManyChans   Error = "too many channels joined"
	ErrUserNotInChan  Error = "user not in channel"
	ErrAlreadyOnChan  Error = "user already on channel"
	ErrSendQExceeded  Error = "sendq exceeded"
	ErrUnknownCommand Error = "unknown command"
	ErrFloodLimited   Error = "flood limited"

	ErrInvalidModeParam Error = "invalid mode parameter"
	ErrListFull         Error = "channel list is full"
	ErrNoSuchListEntry  Error = "no such list entry"
	ErrPingTimeout      Error = "ping timeout"
	ErrBadChanName      Error = "invalid channel name"

	ErrExtensionExists    Error = "extension key already registered"
	ErrNotPollable        Error = "connection does not expose a pollable descriptor"
	ErrNotWarmedUp        Error = "ircd.Warmup must be called before NewServer"
	ErrNotListening       Error = "server has no bound listener"
	ErrInvariantViolation Error = "internal invariant violated"
)

// IRCError pairs one of the stable Error sentinels above with a Kind and the
// numeric reply that should be rendered to the client, if any. Handlers
// return the bare Error sentinels; the dispatcher wraps/classifies them at
// the boundary so the command bodies never need to know about numerics.
type IRCError struct {
	Kind    Kind
	Numeric uint16
	Err     error
}

func (e *IRCError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *IRCError) Unwrap() error {
	return e.Err
}

// NewIRCError builds an IRCError from a sentinel Error, a Kind, and the
// numeric that should be sent back to the originating client.
func NewIRCError(kind Kind, numeric uint16, err error) *IRCError {
	return &IRCError{Kind: kind, Numeric: numeric, Err: err}
}

// protocolErrors maps the stable sentinels to the classification the
// dispatcher needs. Errors not present here default to KindProtocol with no
// numeric (the caller is expected to have already replied, e.g. cull paths).
var protocolErrors = map[error]IRCError{
	ErrMissingParams:  {Kind: KindProtocol, Numeric: ReplyNeedMoreParams},
	ErrTooManyParams:  {Kind: KindProtocol, Numeric: ReplyNeedMoreParams},
	ErrNickInUse:      {Kind: KindProtocol, Numeric: ReplyNicknameInUse},
	ErrNoNickGiven:    {Kind: KindProtocol, Numeric: ReplyNoNicknameGiven},
	ErrNotRegistered:  {Kind: KindProtocol, Numeric: ReplyNotRegistered},
	ErrUserAlreadySet: {Kind: KindProtocol, Numeric: ReplyAlreadyRegistered},
	ErrNoSuchNick:     {Kind: KindProtocol, Numeric: ReplyNoSuchNick},
	ErrNoSuchChan:     {Kind: KindProtocol, Numeric: ReplyNoSuchChannel},
	ErrUnknownMode:    {Kind: KindProtocol, Numeric: ReplyUnknownMode},
	ErrUnknownCommand: {Kind: KindProtocol, Numeric: ReplyUnknownCommand},
	ErrBannedFromChan: {Kind: KindPermission, Numeric: ReplyBannedFromChan},
	ErrInviteOnlyChan: {Kind: KindPermission, Numeric: ReplyInviteOnlyChan},
	ErrChannelIsFull:  {Kind: KindPermission, Numeric: ReplyChannelIsFull},
	ErrBadChannelKey:  {Kind: KindPermission, Numeric: ReplyBadChannelPass},
	ErrTooManyChans:   {Kind: KindResource, Numeric: ReplyTooManyChannels},
	ErrBadChanName:    {Kind: KindProtocol, Numeric: ReplyBadChannelName},
	ErrUserNotInChan:  {Kind: KindProtocol, Numeric: ReplyNotOnChannel},
	ErrInsuffPerms:    {Kind: KindPermission, Numeric: ReplyNoPrivileges},
	ErrFloodLimited:   {Kind: KindResource, Numeric: ReplyNone},
	ErrSendQExceeded:  {Kind: KindTransport, Numeric: ReplyNone},
}

// classify resolves a bare sentinel error into its IRCError, falling back to
// KindProtocol with no numeric for anything not in the table.
func classify(err error) *IRCError {
	if ie, ok := err.(*IRCError); ok {
		return ie
	}
	if tmpl, ok := protocolErrors[err]; ok {
		return &IRCError{Kind: tmpl.Kind, Numeric: tmpl.Numeric, Err: err}
	}
	return &IRCError{Kind: KindProtocol, Err: err}
}
