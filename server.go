/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hollowbright/ircd/shared/concurrentmap"
)

var log *logrus.Logger

// ServerNode is one server in the network graph: the local server, or one
// learned from a peer. Services (Service set) may bypass permission checks
// the way the mode engine's trust boundary allows for servers.
type ServerNode struct {
	SID     string
	Name    string
	Desc    string
	Parent  *ServerNode
	Service bool
}

// Warmup initializes the package for use: it installs the process logger
// and pre-fills the message pool so the hot path doesn't allocate under
// load.
func Warmup(logger *logrus.Logger) {
	log = logger
	log.Info("irc: Warming up message pool")
	MessagePool.Warmup(256)
}

// Server holds the state of an IRC server instance: the entity indices, the
// reactor driving every connection, the command router, and the snotice
// bus. All live-graph mutation happens on the reactor goroutine; the
// concurrent maps exist so the accept loop and helper workers can do
// read-only lookups without handshaking with the loop first.
type Server struct {
	name    string
	network string
	motd    string
	welcome string
	sid     string
	created time.Time

	// self is the local node in the (single-node, absent a link layer)
	// network graph.
	self *ServerNode

	password string
	opers    map[string]string // oper name -> password

	ids *IDGenerator

	// Users indexes by uid, Nicks by casefolded nick. Both are bijective
	// with the live user set: RegisterUser/UnregisterUser/RenameUser are
	// the only writers.
	Users    concurrentmap.ConcurrentMap[string, *User]
	Nicks    concurrentmap.ConcurrentMap[string, *User]
	Conns    concurrentmap.ConcurrentMap[int, *Conn]
	Channels concurrentmap.ConcurrentMap[string, *Channel]

	support concurrentmap.ConcurrentMap[string, string]

	reactor  *Reactor
	router   *Router
	snotices *SnoticeBus
	helpers  *HelperPool
	metrics  *Metrics
	hooks    ioHookChain

	listener net.Listener
	nextFd   int
}

// NewServer assembles a Server from its configuration, wiring the reactor,
// router, snotice bus, and helper pool together.
func NewServer(cfg *Config, mux Multiplexer) (*Server, error) {
	if log == nil {
		return nil, ErrNotWarmedUp
	}

	sid := cfg.SID
	if sid == "" {
		sid = NewSID()
	}

	server := &Server{
		name:     cfg.ServerName,
		network:  cfg.Network,
		motd:     cfg.MOTD,
		welcome:  cfg.Welcome,
		sid:      sid,
		created:  time.Now(),
		password: cfg.Password,
		opers:    cfg.Opers(),
		ids:      NewIDGenerator(sid),
		Users:    concurrentmap.New[string, *User](),
		Nicks:    concurrentmap.New[string, *User](),
		Conns:    concurrentmap.New[int, *Conn](),
		Channels: concurrentmap.New[string, *Channel](),
		support:  concurrentmap.New[string, string](),
		metrics:  NewMetrics(),
	}
	server.self = &ServerNode{SID: sid, Name: server.name, Desc: "hollowbright ircd"}

	server.reactor = NewReactor(mux, log.WithField("component", "reactor"))
	server.reactor.Cull().OnSweep(func(destroyed int) {
		server.metrics.CullSweeps.Inc()
	})
	server.snotices = NewSnoticeBus(server)
	server.helpers = NewHelperPool(cfg.HelperWorkers)
	server.router = NewRouter(logrus.NewEntry(log))
	registerCommands(server)

	server.reactor.OnMessage(server.dispatch)
	server.reactor.OnClosed(server.connectionClosed)

	server.setISupport()
	return server, nil
}

// Name returns the server's own name, used as the source of every numeric.
func (server *Server) Name() string { return server.name }

// Network returns the configured network name.
func (server *Server) Network() string {
	if server.network == "" {
		return server.name
	}
	return server.network
}

// SID returns the server's 3-character identifier.
func (server *Server) SID() string { return server.sid }

// Self returns the local node in the network graph.
func (server *Server) Self() *ServerNode { return server.self }

// MOTD returns the configured message of the day.
func (server *Server) MOTD() string {
	if server.motd == "" {
		return "Server has no MOTD message set."
	}
	return server.motd
}

// Welcome returns the configured welcome message.
func (server *Server) Welcome() string {
	if server.welcome == "" {
		return "Welcome to the Internet Relay Network"
	}
	return server.welcome
}

// Reactor exposes the server's event loop for timer and cull scheduling.
func (server *Server) Reactor() *Reactor { return server.reactor }

// Snotices exposes the server's operator notification bus.
func (server *Server) Snotices() *SnoticeBus { return server.snotices }

// Metrics exposes the server's instrumentation registry.
func (server *Server) Metrics() *Metrics { return server.metrics }

// ISupport returns the formatted KEY=value tokens advertised in the 005
// burst.
func (server *Server) ISupport() []string {
	tokens := make([]string, 0, server.support.Length())
	_ = server.support.ForEach(func(key, value string) error {
		if value == "" {
			tokens = append(tokens, strings.ToUpper(key))
			return nil
		}
		tokens = append(tokens, strings.ToUpper(key)+"="+value)
		return nil
	})
	return tokens
}

func (server *Server) setISupport() {
	server.support.Set("network", server.Network())
	server.support.Set("casemapping", "rfc1459")
	server.support.Set("prefix", PrefixToken())
	server.support.Set("chanmodes", ChanModesToken())
	server.support.Set("chantypes", "#&")
	server.support.Set("modes", fmt.Sprint(MaxModeChange))
	server.support.Set("maxpara", fmt.Sprint(MaxMsgParams))
	server.support.Set("chanlimit", fmt.Sprintf("#&:%v", MaxJoinedChans))
	server.support.Set("nicklen", fmt.Sprint(MaxNickLength))
	server.support.Set("chanlen", fmt.Sprint(MaxChanLength))
	server.support.Set("topiclen", fmt.Sprint(MaxTopicLength))
	server.support.Set("kicklen", fmt.Sprint(MaxKickLength))
	server.support.Set("awaylen", fmt.Sprint(MaxAwayLength))
	server.support.Set("maxlist", fmt.Sprintf("beI:%v", MaxListItems))
	server.support.Set("excepts", "e")
	server.support.Set("invex", "I")
}

// FindUser resolves a nickname to a live user.
func (server *Server) FindUser(nick string) (*User, bool) {
	return server.Nicks.Get(casefold(nick))
}

// FindUserByID resolves a uid to a live user.
func (server *Server) FindUserByID(id string) (*User, bool) {
	return server.Users.Get(id)
}

// FindChannel resolves a channel name to a live channel.
func (server *Server) FindChannel(name string) (*Channel, bool) {
	return server.Channels.Get(casefold(name))
}

// GetOrCreateChannel returns the named channel, creating it (stamped with
// the current time as its TS) if it doesn't exist.
func (server *Server) GetOrCreateChannel(name string) (*Channel, error) {
	if !validChannelName(name) {
		return nil, ErrBadChanName
	}
	folded := casefold(name)
	if ch, ok := server.Channels.Get(folded); ok {
		return ch, nil
	}
	ch := NewChannel(name)
	ch.server = server
	server.Channels.Set(folded, ch)
	server.metrics.Channels.Inc()
	return ch, nil
}

// RegisterUser inserts a fully-registered user into both indices. Fails if
// the nickname is already held by another live user.
func (server *Server) RegisterUser(u *User) error {
	folded := casefold(u.Nick())
	if existing, ok := server.Nicks.Get(folded); ok && existing != u {
		return ErrNickInUse
	}
	server.Nicks.Set(folded, u)
	server.Users.Set(u.ID, u)
	server.metrics.UsersOnline.Inc()
	return nil
}

// RenameUser atomically moves a user from its old nick to a new one,
// keeping the nick index bijective.
func (server *Server) RenameUser(u *User, newNick string) error {
	oldFolded := casefold(u.Nick())
	newFolded := casefold(newNick)

	if existing, ok := server.Nicks.Get(newFolded); ok && existing != u {
		return ErrNickInUse
	}

	u.SetNick(newNick)
	if oldFolded == newFolded {
		server.Nicks.Set(newFolded, u)
		return nil
	}
	if !server.Nicks.ChangeKey(oldFolded, newFolded) {
		server.Nicks.Set(newFolded, u)
	}
	return nil
}

// UnregisterUser removes a user from every index and releases its uid for
// reuse. Called from QuitUser, before the user is culled.
func (server *Server) UnregisterUser(u *User) {
	if cur, ok := server.Nicks.Get(casefold(u.Nick())); ok && cur == u {
		server.Nicks.Delete(casefold(u.Nick()))
	}
	if server.Users.Delete(u.ID) {
		server.metrics.UsersOnline.Dec()
		server.ids.Release(u.ID)
	}
}

// DestroyChannel removes an emptied channel from the index and schedules it
// for culling. Channels carrying the persistence mode are left alone.
func (server *Server) DestroyChannel(ch *Channel) {
	if ch.HasMode(CModePersistent) {
		return
	}
	if server.Channels.Delete(casefold(ch.Name)) {
		server.metrics.Channels.Dec()
	}
	server.reactor.Cull().AddItem(ch)
}

// CollideNick resolves a nickname collision between a local user and one
// announced by a peer: the lower signon timestamp keeps the nick, equal
// timestamps kill both.
func (server *Server) CollideNick(local, remote *User) {
	lts, rts := local.SignonAt(), remote.SignonAt()
	switch {
	case lts.Before(rts):
		// local keeps the nick; the remote announcement is discarded
	case rts.Before(lts):
		server.QuitUser(local, "Nickname collision")
		server.RegisterUser(remote)
	default:
		server.QuitUser(local, "Nickname collision")
		// remote never enters the indices
	}
}

// QuitUser broadcasts the user's departure to every channel it shares,
// removes it from the indices, and schedules it for culling. Safe to call
// more than once; only the first call does anything.
func (server *Server) QuitUser(u *User, reason string) {
	u.mu.Lock()
	if u.quitSent {
		u.mu.Unlock()
		return
	}
	u.quitSent = true
	u.mu.Unlock()

	quit := MessagePool.New()
	quit.Source = u.Mask()
	quit.Command = CmdQuit
	quit.Trailing = reason
	server.broadcastToPeers(u, quit)
	MessagePool.Recycle(quit)

	server.UnregisterUser(u)

	for _, ch := range u.Channels() {
		if ch.MemberCount() == 1 {
			server.DestroyChannel(ch)
		}
	}

	server.reactor.Cull().AddItem(u)
	if conn := u.Conn(); conn != nil {
		server.reactor.Remove(conn)
	}
}

// broadcastToPeers renders msg once and delivers it to every user sharing
// at least one channel with u, deduplicated, excluding u itself.
func (server *Server) broadcastToPeers(u *User, msg *Message) {
	shared := newChunk([]byte(msg.Render()))
	seen := map[*User]bool{u: true}
	for _, ch := range u.Channels() {
		for _, m := range ch.Members() {
			if seen[m.User] {
				continue
			}
			seen[m.User] = true
			m.User.SendChunk(shared)
		}
	}
	shared.release()
}

// dispatch is the reactor's message callback: it resolves the originating
// user and hands the message to the router.
func (server *Server) dispatch(c *Conn, msg *Message) {
	server.router.RouteCommand(server, c, msg)

	if c.sendq.Bytes() >= sendQHardLimit && !c.overflowed {
		c.overflowed = true
		server.Snotices().Notef(SnoFlood, "SendQ exceeded for %s", c.Describe())
		server.CullConn(c, "SendQ exceeded")
	}
}

// connectionClosed is the reactor's teardown callback. A registered user
// going away is announced as a quit; an unregistered connection just
// disappears.
func (server *Server) connectionClosed(c *Conn) {
	server.Conns.Delete(c.fd)
	u := c.User
	if u == nil {
		return
	}
	if u.Registered() {
		server.QuitUser(u, "Connection closed")
	}
}

// Listen binds the server's listener. Kept separate from Run so the caller
// can distinguish a bind failure (exit code 3) from runtime errors.
func (server *Server) Listen(addr string) error {
	if addr == "" {
		addr = ":6667"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server.listener = listener
	log.Infof("irc: Listening at local address [%s]", listener.Addr())
	return nil
}

// AddIOHook appends a byte-transform hook applied to every subsequently
// accepted connection.
func (server *Server) AddIOHook(hook IOHook) {
	server.hooks = append(server.hooks, hook)
}

// Run starts the accept loop and the reactor and blocks until ctx is
// canceled or the reactor fails. Accepted sockets are handed to the
// reactor goroutine through the helper inbox so that only the loop ever
// touches connection state.
func (server *Server) Run(ctx context.Context) error {
	if server.listener == nil {
		return ErrNotListening
	}

	server.helpers.Start(server.reactor)
	defer server.helpers.Stop()

	server.snotices.StartFlushing(server.reactor.Timers())
	server.startInvitePruning()

	go server.acceptLoop(ctx)

	err := server.reactor.Run(ctx)
	_ = server.listener.Close()
	return err
}

func (server *Server) acceptLoop(ctx context.Context) {
	var tempDelay time.Duration

	for {
		sock, err := server.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Errorf("irc: Error accepting connection: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			log.WithError(err).Error("irc: Accept failed, stopping accept loop")
			return
		}

		tempDelay = 0
		server.helpers.Post(func() {
			server.accepted(sock)
		})
	}
}

// accepted runs on the reactor goroutine for every new socket: it applies
// the IO-hook chain, builds the Conn and its embryonic User, and registers
// both with the reactor.
func (server *Server) accepted(sock net.Conn) {
	wrapped, err := server.hooks.apply(sock)
	if err != nil {
		log.WithError(err).Warn("irc: IO hook rejected connection")
		_ = sock.Close()
		return
	}

	server.nextFd++
	conn := NewConn(server.nextFd, wrapped)
	// no identd client is implemented; the prerequisite is settled as
	// unreachable immediately
	conn.identDone = true

	u := NewUser(server.ids.Next(), conn)
	u.server = server.sid
	if host, _, err := net.SplitHostPort(sock.RemoteAddr().String()); err == nil {
		u.SetHost(host)
	}
	conn.User = u

	if err := server.reactor.Add(conn); err != nil {
		log.WithError(err).Warn("irc: could not register connection")
		_ = wrapped.Close()
		return
	}
	server.Conns.Set(conn.fd, conn)
	server.metrics.ConnsAccepted.Inc()

	server.startRegistrationTimers(conn)

	// resolve the client host off-loop; the result lands back on the
	// reactor through the inbox
	server.helpers.Submit(func() any {
		return lookupHostname(u.Host())
	}, func(result any) {
		if hostname, ok := result.(string); ok && hostname != "" {
			u.SetHost(hostname)
		}
		conn.dnsDone = true
		tryCompleteRegistration(server, conn)
	})
}

// startInvitePruning registers the repeating timer that expires stale
// invites across every channel.
func (server *Server) startInvitePruning() {
	server.reactor.Timers().Schedule(time.Minute, func(now time.Time) time.Duration {
		_ = server.Channels.ForEach(func(_ string, ch *Channel) error {
			ch.PruneInvites(now)
			return nil
		})
		return time.Minute
	})
}

// lookupHostname reverse-resolves an IP to a display hostname, returning ""
// when resolution fails or the result doesn't round-trip.
func lookupHostname(ip string) string {
	names, err := net.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}
