/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"fmt"
	"path"
	"reflect"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// MessageContext carries one inbound message through a handler chain,
// together with the server and originating connection.
type MessageContext struct {
	Server *Server
	Conn   *Conn
	Msg    *Message

	spec    *CommandSpec
	handler string
	handled bool
	abort   bool
	err     error
}

// User returns the user attached to the originating connection.
func (ctx *MessageContext) User() *User {
	return ctx.Conn.User
}

// Handled signals to the router to not call the next MessageHandler in the
// chain if applicable.
func (ctx *MessageContext) Handled() {
	ctx.handled = true
}

// AbortWithError signals to the router to not call the next MessageHandler
// in the chain if applicable, and to log the error reported.
func (ctx *MessageContext) AbortWithError(err error) {
	ctx.abort = true
	ctx.err = err
}

// MessageHandler defines the function signature of a handler used to
// process IRC messages.
type MessageHandler func(*MessageContext)

// HandlersChain defines a MessageHandler slice.
type HandlersChain []MessageHandler

// route pairs a command's metadata with its handler chain.
type route struct {
	spec  *CommandSpec
	chain HandlersChain
}

// Router maps verbs to handler chains. Global middleware registered with
// Use runs ahead of every command's own chain.
type Router struct {
	logger     *logrus.Entry
	middleware HandlersChain
	handlerMap map[string]*route
}

// NewRouter constructs an empty Router.
func NewRouter(logger *logrus.Entry) *Router {
	if logger == nil {
		panic("must provide a logger to NewRouter")
	}
	return &Router{
		logger:     logger.WithField("sub-component", "router"),
		handlerMap: make(map[string]*route),
	}
}

// Use attaches global middleware, included ahead of the handler chain for
// every command.
func (router *Router) Use(middleware ...MessageHandler) *Router {
	router.middleware = append(router.middleware, middleware...)
	return router
}

// Handle registers a command's spec and handler chain. The last handler is
// the command body; any preceding ones are per-command middleware.
func (router *Router) Handle(spec CommandSpec, handlers ...MessageHandler) *Router {
	if spec.Name == "" {
		panic("command must not be an empty string")
	}
	if len(handlers) == 0 {
		panic("there must be at least one handler")
	}
	key := strings.ToUpper(spec.Name)
	if _, exists := router.handlerMap[key]; exists {
		panic(fmt.Sprintf("handler(s) already registered for command: %s", key))
	}

	chain := make(HandlersChain, 0, len(router.middleware)+len(handlers))
	chain = append(chain, router.middleware...)
	chain = append(chain, handlers...)
	router.handlerMap[key] = &route{spec: &spec, chain: chain}
	return router
}

// Spec returns the registered metadata for a verb, if any.
func (router *Router) Spec(verb string) (*CommandSpec, bool) {
	r, ok := router.handlerMap[strings.ToUpper(verb)]
	if !ok {
		return nil, false
	}
	return r.spec, true
}

// RouteCommand accepts an inbound IRC message and drives it through access,
// parameter, and flood checks before invoking the command's handler chain.
func (router *Router) RouteCommand(server *Server, conn *Conn, msg *Message) {
	log := router.logger.WithField("command", msg.Command)

	r, exists := router.handlerMap[strings.ToUpper(msg.Command)]
	if !exists {
		// unknown commands are consumed silently until registration
		if conn.User != nil && conn.User.Registered() {
			conn.ReplyNumeric(server, ReplyUnknownCommand, msg.Command, ErrUnknownCommand.String())
		}
		return
	}

	ctx := &MessageContext{Server: server, Conn: conn, Msg: msg, spec: r.spec}

	if !r.spec.accessible(conn.User) {
		if conn.User != nil && conn.User.Registered() {
			conn.ReplyNumeric(server, ReplyNoPrivileges, msg.Command, ErrInsuffPerms.String())
		} else {
			conn.ReplyNumeric(server, ReplyNotRegistered, msg.Command, ErrNotRegistered.String())
		}
		return
	}

	if !r.spec.enoughParams(msg) {
		conn.ReplyNumeric(server, ReplyNeedMoreParams, msg.Command, ErrMissingParams.String())
		return
	}

	switch conn.AccruePenalty(r.spec.Penalty) {
	case FloodKill:
		server.Snotices().Notef(SnoFlood, "Excess flood from %s", conn.Describe())
		server.CullConn(conn, "Excess Flood")
		return
	case FloodDefer:
		conn.DeferMessage(msg)
		server.scheduleDeferredDrain(conn)
		return
	}

	for i := range r.chain {
		ctx.handler = nameOfFunction(r.chain[i])
		r.chain[i](ctx)
		if ctx.handled {
			return
		}
		if ctx.err != nil {
			log.Warn(fmt.Errorf("error handling command with handler [%s]: %w", ctx.handler, ctx.err))
		}
		if ctx.abort {
			log.Debugf("command handler chain aborted at: %s", ctx.handler)
			return
		}
	}
}

func nameOfFunction(f any) string {
	return path.Base(runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name())
}
