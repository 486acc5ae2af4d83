/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"time"
)

// AccessLevel gates who may issue a command.
type AccessLevel uint8

const (
	// AccessPublic commands are usable before registration completes
	// (NICK, USER, PASS, CAP, PING, PONG, QUIT).
	AccessPublic AccessLevel = iota

	// AccessRegistered commands require a fully-registered user.
	AccessRegistered

	// AccessOperator commands require operator status.
	AccessOperator

	// AccessServer commands are only accepted from peer servers; with no
	// link layer present they are rejected for everyone.
	AccessServer
)

// RouteHint describes how a verb would propagate across a server network.
// With no link layer present the hints are advisory metadata, consulted by
// nothing but the command table itself, but every command declares one so
// the propagation policy lives in one place.
type RouteHint uint8

const (
	RouteLocal RouteHint = iota
	RouteBroadcast
	RouteTarget
	RouteUserServer
)

// CommandSpec is the per-verb metadata consulted before a handler runs.
type CommandSpec struct {
	Name      string
	MinParams int
	MaxParams int
	Access    AccessLevel
	Penalty   time.Duration
	Routing   RouteHint
}

func (spec *CommandSpec) accessible(u *User) bool {
	switch spec.Access {
	case AccessPublic:
		return true
	case AccessRegistered:
		return u != nil && u.Registered()
	case AccessOperator:
		return u != nil && u.Registered() && u.IsOper()
	default:
		return false
	}
}

// enoughParams counts the trailing parameter toward the minimum, so an
// empty trailing is legal for any verb whose minimum is already satisfied
// without it.
func (spec *CommandSpec) enoughParams(msg *Message) bool {
	n := len(msg.Params)
	if msg.Trailing != "" {
		n++
	}
	return n >= spec.MinParams
}

// Standard per-command flood penalties. Commands that fan out (JOIN, LIST,
// WHO) carry a heavier penalty than point-to-point chatter.
const (
	penaltyLight  = 500 * time.Millisecond
	penaltyNormal = time.Second
	penaltyHeavy  = 2 * time.Second
)

// registerCommands installs the full verb table onto the server's router.
func registerCommands(server *Server) {
	r := server.router

	r.Handle(CommandSpec{Name: CmdNick, MinParams: 1, MaxParams: 1, Access: AccessPublic, Penalty: penaltyNormal, Routing: RouteBroadcast}, HandleNick)
	r.Handle(CommandSpec{Name: CmdUser, MinParams: 4, MaxParams: 4, Access: AccessPublic, Penalty: penaltyNormal, Routing: RouteLocal}, HandleUser)
	r.Handle(CommandSpec{Name: CmdPass, MinParams: 1, MaxParams: 1, Access: AccessPublic, Penalty: penaltyLight, Routing: RouteLocal}, HandlePass)
	r.Handle(CommandSpec{Name: CmdCap, MinParams: 1, MaxParams: 3, Access: AccessPublic, Penalty: penaltyLight, Routing: RouteLocal}, HandleCap)
	r.Handle(CommandSpec{Name: CmdQuit, MinParams: 0, MaxParams: 1, Access: AccessPublic, Penalty: penaltyLight, Routing: RouteBroadcast}, HandleQuit)
	r.Handle(CommandSpec{Name: CmdPing, MinParams: 1, MaxParams: 2, Access: AccessPublic, Penalty: penaltyLight, Routing: RouteLocal}, HandlePing)
	r.Handle(CommandSpec{Name: CmdPong, MinParams: 1, MaxParams: 2, Access: AccessPublic, Penalty: penaltyLight, Routing: RouteLocal}, HandlePong)

	r.Handle(CommandSpec{Name: CmdJoin, MinParams: 1, MaxParams: 2, Access: AccessRegistered, Penalty: penaltyHeavy, Routing: RouteBroadcast}, HandleJoin)
	r.Handle(CommandSpec{Name: CmdPart, MinParams: 1, MaxParams: 2, Access: AccessRegistered, Penalty: penaltyNormal, Routing: RouteBroadcast}, HandlePart)
	r.Handle(CommandSpec{Name: CmdKick, MinParams: 2, MaxParams: 3, Access: AccessRegistered, Penalty: penaltyNormal, Routing: RouteBroadcast}, HandleKick)
	r.Handle(CommandSpec{Name: CmdMode, MinParams: 1, MaxParams: MaxMsgParams, Access: AccessRegistered, Penalty: penaltyNormal, Routing: RouteBroadcast}, HandleMode)
	r.Handle(CommandSpec{Name: CmdTopic, MinParams: 1, MaxParams: 2, Access: AccessRegistered, Penalty: penaltyNormal, Routing: RouteBroadcast}, HandleTopic)
	r.Handle(CommandSpec{Name: CmdNames, MinParams: 0, MaxParams: 1, Access: AccessRegistered, Penalty: penaltyNormal, Routing: RouteLocal}, HandleNames)
	r.Handle(CommandSpec{Name: CmdInvite, MinParams: 2, MaxParams: 2, Access: AccessRegistered, Penalty: penaltyNormal, Routing: RouteUserServer}, HandleInvite)
	r.Handle(CommandSpec{Name: CmdList, MinParams: 0, MaxParams: 2, Access: AccessRegistered, Penalty: penaltyHeavy, Routing: RouteLocal}, HandleList)

	r.Handle(CommandSpec{Name: CmdPrivMsg, MinParams: 1, MaxParams: 2, Access: AccessRegistered, Penalty: penaltyNormal, Routing: RouteTarget}, HandlePrivmsg)
	r.Handle(CommandSpec{Name: CmdNotice, MinParams: 1, MaxParams: 2, Access: AccessRegistered, Penalty: penaltyNormal, Routing: RouteTarget}, HandleNotice)

	r.Handle(CommandSpec{Name: CmdWho, MinParams: 1, MaxParams: 2, Access: AccessRegistered, Penalty: penaltyHeavy, Routing: RouteLocal}, HandleWho)
	r.Handle(CommandSpec{Name: CmdWhois, MinParams: 1, MaxParams: 2, Access: AccessRegistered, Penalty: penaltyNormal, Routing: RouteUserServer}, HandleWhois)
	r.Handle(CommandSpec{Name: CmdIsOn, MinParams: 1, MaxParams: MaxMsgParams, Access: AccessRegistered, Penalty: penaltyLight, Routing: RouteLocal}, HandleIson)
	r.Handle(CommandSpec{Name: CmdUserhost, MinParams: 1, MaxParams: 5, Access: AccessRegistered, Penalty: penaltyLight, Routing: RouteLocal}, HandleUserhost)
	r.Handle(CommandSpec{Name: CmdAway, MinParams: 0, MaxParams: 1, Access: AccessRegistered, Penalty: penaltyLight, Routing: RouteBroadcast}, HandleAway)
	r.Handle(CommandSpec{Name: CmdOper, MinParams: 2, MaxParams: 2, Access: AccessRegistered, Penalty: penaltyHeavy, Routing: RouteLocal}, HandleOper)
}

// FloodVerdict is the outcome of accruing one command's penalty onto a
// connection's counter.
type FloodVerdict uint8

const (
	FloodOk FloodVerdict = iota
	FloodDefer
	FloodKill
)

const (
	// floodPenaltyBudget is the accumulated virtual delay past which
	// further commands are deferred rather than processed.
	floodPenaltyBudget = 10 * time.Second

	// floodPenaltyHardCap terminates the connection outright.
	floodPenaltyHardCap = 30 * time.Second
)

// AccruePenalty bleeds the connection's penalty counter down at one second
// per elapsed second, then adds p and classifies the result.
func (c *Conn) AccruePenalty(p time.Duration) FloodVerdict {
	now := time.Now()
	if !c.lastBleed.IsZero() {
		c.penalty -= now.Sub(c.lastBleed)
		if c.penalty < 0 {
			c.penalty = 0
		}
	}
	c.lastBleed = now
	c.penalty += p

	switch {
	case c.penalty > floodPenaltyHardCap:
		return FloodKill
	case c.penalty > floodPenaltyBudget:
		return FloodDefer
	default:
		return FloodOk
	}
}

// DeferMessage parks a message for redelivery once the penalty counter has
// bled back under budget. Deferred messages keep their arrival order.
func (c *Conn) DeferMessage(msg *Message) {
	keep := MessagePool.New()
	*keep = Message{
		Source:   msg.Source,
		Command:  msg.Command,
		Code:     msg.Code,
		Params:   append([]string(nil), msg.Params...),
		Trailing: msg.Trailing,
	}
	c.deferred = append(c.deferred, keep)
}

// scheduleDeferredDrain arms a one-shot timer that re-dispatches a
// connection's deferred messages once its penalty counter has bled down.
// Multiple calls while a drain is already pending are no-ops.
func (server *Server) scheduleDeferredDrain(c *Conn) {
	if c.drainPending {
		return
	}
	c.drainPending = true

	wait := c.penalty - floodPenaltyBudget
	if wait < time.Second {
		wait = time.Second
	}

	server.reactor.Timers().Schedule(wait, func(time.Time) time.Duration {
		c.drainPending = false
		if c.closing {
			for _, msg := range c.deferred {
				MessagePool.Recycle(msg)
			}
			c.deferred = nil
			return 0
		}

		pending := c.deferred
		c.deferred = nil
		for _, msg := range pending {
			server.dispatch(c, msg)
			MessagePool.Recycle(msg)
		}
		return 0
	})
}

// CullConn terminates a connection with a client-visible reason, scheduling
// its user and socket for end-of-tick destruction.
func (server *Server) CullConn(c *Conn, reason string) {
	if c.User != nil && c.User.Registered() {
		server.QuitUser(c.User, reason)
		return
	}
	server.reactor.Remove(c)
}
