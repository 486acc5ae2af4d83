/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

// newNumeric builds a numeric reply sourced from the server and addressed
// to this connection's user (or "*" before a nick is known). The caller
// recycles it.
func (c *Conn) newNumeric(server *Server, code uint16) *Message {
	msg := MessagePool.New()
	msg.Source = server.Name()
	msg.Code = code

	nick := "*"
	if c.User != nil && c.User.Nick() != "" {
		nick = c.User.Nick()
	}
	msg.Params = append(msg.Params, nick)
	return msg
}

// ReplyNumeric renders a numeric reply where every argument but the last is
// a middle parameter and the last becomes the trailing text.
func (c *Conn) ReplyNumeric(server *Server, code uint16, args ...string) {
	msg := c.newNumeric(server, code)
	defer MessagePool.Recycle(msg)

	if len(args) > 0 {
		msg.Params = append(msg.Params, args[:len(args)-1]...)
		msg.Trailing = args[len(args)-1]
	}
	c.QueueLine(msg.Render())
}

// ReplyNumericParams renders a numeric reply with middle parameters only,
// for numerics like 333 whose final field must not be a trailing.
func (c *Conn) ReplyNumericParams(server *Server, code uint16, params ...string) {
	msg := c.newNumeric(server, code)
	defer MessagePool.Recycle(msg)

	msg.Params = append(msg.Params, params...)
	c.QueueLine(msg.Render())
}

// Numeric is the MessageContext convenience form of Conn.ReplyNumeric.
func (ctx *MessageContext) Numeric(code uint16, args ...string) {
	ctx.Conn.ReplyNumeric(ctx.Server, code, args...)
}

// NumericParams is the MessageContext convenience form of
// Conn.ReplyNumericParams.
func (ctx *MessageContext) NumericParams(code uint16, params ...string) {
	ctx.Conn.ReplyNumericParams(ctx.Server, code, params...)
}

// errorNumeric maps a handler error onto its numeric reply and sends it,
// falling back to a plain log entry for kinds with no protocol surface.
func (ctx *MessageContext) errorNumeric(err error, context ...string) {
	ie := classify(err)
	if ie.Numeric == ReplyNone {
		ctx.AbortWithError(err)
		return
	}
	args := append(context, ie.Err.Error())
	ctx.Numeric(ie.Numeric, args...)
}

// newCommand builds a server-sourced non-numeric message (PING, ERROR). The
// caller recycles it.
func (c *Conn) newCommand(server *Server, command string) *Message {
	msg := MessagePool.New()
	msg.Source = server.Name()
	msg.Command = command
	return msg
}
