/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"fmt"
	"time"
)

// tryCompleteRegistration advances a connection's registration state and,
// once every prerequisite has settled, promotes the user to fully
// registered and runs the welcome sequence. Prerequisites may arrive in any
// order; this is called after each one lands.
func tryCompleteRegistration(server *Server, c *Conn) {
	u := c.User
	if u == nil || u.Registered() || u.State() == StateClosing {
		return
	}

	switch {
	case !c.nickChosen:
		u.SetState(StateIdentifying)
		return
	case !c.userSent:
		u.SetState(StateNicknameChosen)
		return
	case c.capExchange:
		u.SetState(StateCapabilityNegotiating)
		return
	case server.password != "" && !c.passAccepted:
		u.SetState(StateUserAnnounced)
		return
	case !c.dnsDone:
		// host resolution is still in flight; the helper completion
		// callback re-enters here
		u.SetState(StatePasswordChecked)
		return
	}

	if err := server.RegisterUser(u); err != nil {
		c.ReplyNumeric(server, ReplyNicknameInUse, u.Nick(), err.Error())
		c.nickChosen = false
		u.SetState(StateIdentifying)
		return
	}

	u.SetState(StateFullyRegistered)
	sendWelcomeBurst(server, c)
	startIdleDiscipline(server, c)
	server.Snotices().Notef(SnoConnect, "Client connecting: %s", c.Describe())
}

// sendWelcomeBurst emits the registration numerics in their required order:
// welcome, host, created, version, ISUPPORT, lusers, and the MOTD.
func sendWelcomeBurst(server *Server, c *Conn) {
	u := c.User
	nick := u.Nick()

	c.ReplyNumeric(server, ReplyWelcome,
		fmt.Sprintf("%s %s!%s@%s", server.Welcome(), nick, u.Ident(), u.Host()))
	c.ReplyNumeric(server, ReplyYourHost,
		fmt.Sprintf("Your host is %s, running version %s", server.Name(), serverVersion))
	c.ReplyNumeric(server, ReplyCreated,
		"This server was created "+server.created.UTC().Format(time.RFC1123))
	c.ReplyNumericParams(server, ReplyMyInfo,
		server.Name(), serverVersion, userModeLetters(), chanModeLetters())

	builder := NewReplyBuilder(server, c, ReplyISupport)
	builder.Terminate("are supported by this server")
	for _, token := range server.ISupport() {
		builder.Add(token)
	}
	builder.Flush()

	sendLusers(server, c)
	sendMOTD(server, c)
}

func sendLusers(server *Server, c *Conn) {
	users := server.Users.Length()
	chans := server.Channels.Length()

	c.ReplyNumeric(server, ReplyUsersOnlineGlobal,
		fmt.Sprintf("There are %d users on 1 server", users))
	c.ReplyNumericParams(server, ReplyChannelCount,
		fmt.Sprint(chans), "channels formed")
	c.ReplyNumeric(server, ReplyUsersOnlineLocal,
		fmt.Sprintf("I have %d clients and 0 servers", users))
}

func sendMOTD(server *Server, c *Conn) {
	c.ReplyNumeric(server, ReplyMOTDStart, "- "+server.Name()+" Message of the day -")
	c.ReplyNumeric(server, ReplyMOTD, "- "+server.MOTD())
	c.ReplyNumeric(server, ReplyEndOFMOTD, "End of MOTD command")
}

func userModeLetters() string {
	letters := make([]byte, 0, len(userModeTable))
	for letter := range userModeTable {
		letters = append(letters, letter)
	}
	sortBytes(letters)
	return string(letters)
}

func chanModeLetters() string {
	letters := make([]byte, 0, len(chanModeTable))
	for letter := range chanModeTable {
		letters = append(letters, letter)
	}
	sortBytes(letters)
	return string(letters)
}

func sortBytes(b []byte) {
	for i := 1; i < len(b); i++ {
		for j := i; j > 0 && b[j] < b[j-1]; j-- {
			b[j], b[j-1] = b[j-1], b[j]
		}
	}
}

// startRegistrationTimers arms the registration deadline: a connection that
// hasn't completed the FSM within the timeout is dropped.
func (server *Server) startRegistrationTimers(c *Conn) {
	server.reactor.Timers().Schedule(registrationTimeout, func(time.Time) time.Duration {
		if c.closing || (c.User != nil && c.User.Registered()) {
			return 0
		}
		server.CullConn(c, "Registration timeout")
		return 0
	})
}

// startIdleDiscipline arms the recurring ping check for a registered
// connection: after pingInterval of inbound silence a PING with a random
// cookie goes out, and a further pingTimeout of silence terminates the
// connection.
func startIdleDiscipline(server *Server, c *Conn) {
	c.lastInbound = time.Now()

	server.reactor.Timers().Schedule(pingInterval, func(now time.Time) time.Duration {
		if c.closing {
			return 0
		}

		quiet := now.Sub(c.lastInbound)

		if c.cookie != "" {
			// a ping is outstanding
			if now.Sub(c.lastPingSent) >= pingTimeout {
				server.CullConn(c, "Ping timeout")
				return 0
			}
			return pingTimeout - now.Sub(c.lastPingSent)
		}

		if quiet >= pingInterval {
			c.cookie = NewCookie()
			c.lastPingSent = now

			ping := MessagePool.New()
			ping.Source = server.Name()
			ping.Command = CmdPing
			ping.Trailing = c.cookie
			c.QueueLine(ping.Render())
			MessagePool.Recycle(ping)
			return pingTimeout
		}

		return pingInterval - quiet
	})
}
