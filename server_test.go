/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nopMux satisfies Multiplexer for tests that never run the reactor loop.
type nopMux struct{}

func (nopMux) Register(int, net.Conn, bool) error     { return nil }
func (nopMux) Modify(int, bool) error                 { return nil }
func (nopMux) Unregister(int) error                   { return nil }
func (nopMux) Wait(time.Duration) ([]ReadyEvent, error) { return nil, nil }
func (nopMux) Close() error                           { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	Warmup(logger)

	server, err := NewServer(&Config{
		ServerName: "irc.test",
		Network:    "TestNet",
		SID:        "42Q",
		OperLogins: []string{"root:secret"},
	}, nopMux{})
	require.NoError(t, err)
	return server
}

var testFd int

// newTestConn fabricates an accepted-but-unregistered connection the way
// Server.accepted would, minus the socket.
func newTestConn(server *Server, host string) *Conn {
	testFd++
	conn := NewConn(testFd, nil)
	u := NewUser(server.ids.Next(), conn)
	u.server = server.SID()
	u.SetHost(host)
	conn.User = u
	conn.dnsDone = true
	server.Conns.Set(conn.fd, conn)
	return conn
}

func inject(t *testing.T, server *Server, conn *Conn, line string) {
	t.Helper()
	msg, err := Parse(line)
	require.NoError(t, err, "line: %s", line)
	server.dispatch(conn, msg)
	MessagePool.Recycle(msg)
}

// queuedLines drains and returns everything queued on the connection.
func queuedLines(c *Conn) []string {
	var raw strings.Builder
	for {
		buf, ok := c.sendq.Front()
		if !ok {
			break
		}
		raw.Write(buf)
		c.sendq.Advance(len(buf))
	}
	out := strings.Split(raw.String(), "\r\n")
	if len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// registerClient drives a connection through NICK/USER registration and
// drains the welcome burst.
func registerClient(t *testing.T, server *Server, nick, host string) *Conn {
	t.Helper()
	conn := newTestConn(server, host)
	inject(t, server, conn, "NICK "+nick)
	inject(t, server, conn, "USER "+nick+" 0 * :"+nick)
	require.True(t, conn.User.Registered(), "client %s should be registered", nick)
	queuedLines(conn)
	return conn
}

func TestRegistrationWelcomeSequence(t *testing.T) {
	server := newTestServer(t)
	conn := newTestConn(server, "host")

	inject(t, server, conn, "NICK alice")
	assert.False(t, conn.User.Registered())
	assert.Equal(t, StateNicknameChosen, conn.User.State())

	inject(t, server, conn, "USER alice 0 * :Alice")
	require.True(t, conn.User.Registered())

	lines := queuedLines(conn)
	require.GreaterOrEqual(t, len(lines), 6)

	assert.True(t, strings.HasPrefix(lines[0], ":irc.test 001 alice :Welcome"), "got: %s", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], ":irc.test 002 alice :Your host is irc.test"))
	assert.True(t, strings.HasPrefix(lines[2], ":irc.test 003 alice :This server was created"))
	assert.True(t, strings.HasPrefix(lines[3], ":irc.test 004 alice irc.test"))
	assert.True(t, strings.HasPrefix(lines[4], ":irc.test 005 alice "), "got: %s", lines[4])

	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, " 251 alice ")
	assert.Contains(t, joined, " 375 alice ")
	assert.Contains(t, joined, " 376 alice ")
}

func TestRegistrationOrderIndependent(t *testing.T) {
	server := newTestServer(t)
	conn := newTestConn(server, "host")

	inject(t, server, conn, "USER bob 0 * :Bob")
	assert.False(t, conn.User.Registered())

	inject(t, server, conn, "NICK bob")
	assert.True(t, conn.User.Registered())
}

func TestRegistrationHeldByCapNegotiation(t *testing.T) {
	server := newTestServer(t)
	conn := newTestConn(server, "host")

	inject(t, server, conn, "CAP LS 302")
	inject(t, server, conn, "NICK carol")
	inject(t, server, conn, "USER carol 0 * :Carol")
	assert.False(t, conn.User.Registered())
	assert.Equal(t, StateCapabilityNegotiating, conn.User.State())

	inject(t, server, conn, "CAP REQ :multi-prefix")
	inject(t, server, conn, "CAP END")
	assert.True(t, conn.User.Registered())
	assert.True(t, conn.User.HasCap(MultiPrefix))
}

func TestNickCollisionRejected(t *testing.T) {
	server := newTestServer(t)
	registerClient(t, server, "alice", "host1")

	second := newTestConn(server, "host2")
	inject(t, server, second, "NICK alice")
	inject(t, server, second, "USER alice 0 * :Other Alice")

	assert.False(t, second.User.Registered())
	lines := queuedLines(second)
	require.NotEmpty(t, lines)
	assert.Contains(t, strings.Join(lines, "\n"), " 433 ")
}

func TestJoinAndTopicScenario(t *testing.T) {
	server := newTestServer(t)
	alice := registerClient(t, server, "alice", "host")

	inject(t, server, alice, "JOIN #room")
	lines := queuedLines(alice)
	joined := strings.Join(lines, "\n")

	assert.Contains(t, joined, ":alice!alice@host JOIN :#room")
	assert.Contains(t, joined, " 353 alice = #room :@alice")
	assert.Contains(t, joined, " 366 alice #room :End of NAMES list")

	inject(t, server, alice, "TOPIC #room :hello")
	lines = queuedLines(alice)
	assert.Contains(t, strings.Join(lines, "\n"), ":alice!alice@host TOPIC #room :hello")

	bob := registerClient(t, server, "bob", "host")
	inject(t, server, bob, "JOIN #room")
	queuedLines(bob)
	inject(t, server, bob, "TOPIC #room")
	lines = queuedLines(bob)
	joined = strings.Join(lines, "\n")
	assert.Contains(t, joined, " 332 bob #room :hello")
	assert.Contains(t, joined, " 333 bob #room alice ")
}

func TestModeBatchScenario(t *testing.T) {
	server := newTestServer(t)
	alice := registerClient(t, server, "alice", "host")
	bob := registerClient(t, server, "bob", "host")
	carol := registerClient(t, server, "carol", "host")

	inject(t, server, alice, "JOIN #room")
	inject(t, server, bob, "JOIN #room")
	inject(t, server, carol, "JOIN #room")
	queuedLines(alice)
	queuedLines(bob)
	queuedLines(carol)

	inject(t, server, alice, "MODE #room +ov-b bob carol badmask!*@*")

	aliceLines := strings.Join(queuedLines(alice), "\n")
	assert.Contains(t, aliceLines, "MODE #room +ov bob carol")
	assert.Contains(t, aliceLines, " 415 alice #room ")

	bobLines := strings.Join(queuedLines(bob), "\n")
	assert.Contains(t, bobLines, "MODE #room +ov bob carol")
	assert.NotContains(t, bobLines, " 415 ")

	ch, ok := server.FindChannel("#room")
	require.True(t, ok)
	mBob, _ := ch.MembershipOf(bob.User)
	mCarol, _ := ch.MembershipOf(carol.User)
	assert.NotZero(t, mBob.Rank()&RankOp)
	assert.NotZero(t, mCarol.Rank()&RankVoice)
}

func TestBanEnforcementScenario(t *testing.T) {
	server := newTestServer(t)
	alice := registerClient(t, server, "alice", "host")

	inject(t, server, alice, "JOIN #room")
	queuedLines(alice)
	inject(t, server, alice, "MODE #room +b *!*@evil.host")
	queuedLines(alice)

	mallory := registerClient(t, server, "mallory", "evil.host")
	inject(t, server, mallory, "JOIN #room")

	lines := strings.Join(queuedLines(mallory), "\n")
	assert.Contains(t, lines, " 474 mallory #room ")

	ch, _ := server.FindChannel("#room")
	_, member := ch.MembershipOf(mallory.User)
	assert.False(t, member)
}

func TestPingTimeoutScenario(t *testing.T) {
	server := newTestServer(t)
	alice := registerClient(t, server, "alice", "host")
	bob := registerClient(t, server, "bob", "host")
	inject(t, server, alice, "JOIN #room")
	inject(t, server, bob, "JOIN #room")
	queuedLines(alice)
	queuedLines(bob)

	start := time.Now()
	alice.lastInbound = start

	// past the idle interval: the server pings with a cookie
	server.reactor.Timers().Fire(start.Add(pingInterval + time.Second))
	require.NotEmpty(t, alice.cookie)
	lines := strings.Join(queuedLines(alice), "\n")
	assert.Contains(t, lines, "PING :"+alice.cookie)

	// bob answers his own idle check so only alice times out
	if bob.cookie != "" {
		inject(t, server, bob, "PONG :"+bob.cookie)
	}
	queuedLines(bob)

	// past the pong deadline with no answer: culled, quit broadcast
	server.reactor.Timers().Fire(start.Add(pingInterval + pingTimeout + 2*time.Second))
	assert.True(t, alice.closing)

	bobLines := strings.Join(queuedLines(bob), "\n")
	assert.Contains(t, bobLines, "QUIT :Ping timeout")

	_, stillThere := server.FindUser("alice")
	assert.False(t, stillThere)
}

func TestPongAnswersIdleCheck(t *testing.T) {
	server := newTestServer(t)
	alice := registerClient(t, server, "alice", "host")

	start := time.Now()
	alice.lastInbound = start
	server.reactor.Timers().Fire(start.Add(pingInterval + time.Second))
	require.NotEmpty(t, alice.cookie)
	queuedLines(alice)

	inject(t, server, alice, "PONG :"+alice.cookie)
	assert.Empty(t, alice.cookie)
}

func TestSendQOverflowCullsConnection(t *testing.T) {
	server := newTestServer(t)
	oper := registerClient(t, server, "watcher", "host")
	inject(t, server, oper, "OPER root secret")
	oper.User.SetSnomask(snoBit(SnoFlood))
	queuedLines(oper)

	victim := registerClient(t, server, "flooder", "host")
	victim.QueueChunk(newChunk(make([]byte, sendQHardLimit)))

	inject(t, server, victim, "PING :x")

	assert.True(t, victim.closing)
	operLines := strings.Join(queuedLines(oper), "\n")
	assert.Contains(t, operLines, "SendQ exceeded")

	_, stillThere := server.FindUser("flooder")
	assert.False(t, stillThere)
}

func TestQuitBroadcastsToSharedChannels(t *testing.T) {
	server := newTestServer(t)
	alice := registerClient(t, server, "alice", "host")
	bob := registerClient(t, server, "bob", "host")
	inject(t, server, alice, "JOIN #room")
	inject(t, server, bob, "JOIN #room")
	queuedLines(alice)
	queuedLines(bob)

	inject(t, server, alice, "QUIT :gone fishing")

	bobLines := strings.Join(queuedLines(bob), "\n")
	assert.Contains(t, bobLines, ":alice!alice@host QUIT :Quit: gone fishing")

	server.reactor.Cull().Apply()
	_, stillThere := server.FindUser("alice")
	assert.False(t, stillThere)
}

func TestEmptyChannelCulledAfterLastPart(t *testing.T) {
	server := newTestServer(t)
	alice := registerClient(t, server, "alice", "host")
	inject(t, server, alice, "JOIN #brief")
	inject(t, server, alice, "PART #brief")

	_, exists := server.FindChannel("#brief")
	assert.False(t, exists)
}

func TestPersistentChannelSurvivesEmptying(t *testing.T) {
	server := newTestServer(t)
	alice := registerClient(t, server, "alice", "host")
	inject(t, server, alice, "JOIN #keep")

	ch, _ := server.FindChannel("#keep")
	_, _ = ApplyChannelModes(nil, ch, []ModeChange{{Letter: 'P', Adding: true}})

	inject(t, server, alice, "PART #keep")

	_, exists := server.FindChannel("#keep")
	assert.True(t, exists)
}

func TestNickRenameBroadcast(t *testing.T) {
	server := newTestServer(t)
	alice := registerClient(t, server, "alice", "host")
	bob := registerClient(t, server, "bob", "host")
	inject(t, server, alice, "JOIN #room")
	inject(t, server, bob, "JOIN #room")
	queuedLines(alice)
	queuedLines(bob)

	inject(t, server, alice, "NICK alicia")

	assert.Equal(t, "alicia", alice.User.Nick())
	_, oldGone := server.FindUser("alice")
	assert.False(t, oldGone)
	renamed, found := server.FindUser("alicia")
	require.True(t, found)
	assert.Same(t, alice.User, renamed)

	bobLines := strings.Join(queuedLines(bob), "\n")
	assert.Contains(t, bobLines, ":alice!alice@host NICK :alicia")
}

func TestNickCollisionOnBurst(t *testing.T) {
	server := newTestServer(t)
	local := registerClient(t, server, "dana", "host")
	local.User.SetSignonAt(time.Now())

	// a remote user with an older signon wins the nick
	remote := NewUser("99ZAAAAAA", nil)
	remote.SetNick("dana")
	remote.server = "99Z"
	remote.SetSignonAt(time.Now().Add(-time.Hour))
	remote.SetState(StateFullyRegistered)

	server.CollideNick(local.User, remote)
	server.reactor.Cull().Apply()

	winner, found := server.FindUser("dana")
	require.True(t, found)
	assert.Same(t, remote, winner)
}

func TestNickCollisionEqualTSKillsBoth(t *testing.T) {
	server := newTestServer(t)
	local := registerClient(t, server, "erin", "host")

	ts := time.Now()
	local.User.SetSignonAt(ts)

	remote := NewUser("99ZBBBBBB", nil)
	remote.SetNick("erin")
	remote.SetSignonAt(ts)

	server.CollideNick(local.User, remote)
	server.reactor.Cull().Apply()

	_, found := server.FindUser("erin")
	assert.False(t, found)
}

func TestUnknownCommandNumericOnlyWhenRegistered(t *testing.T) {
	server := newTestServer(t)

	fresh := newTestConn(server, "host")
	inject(t, server, fresh, "BOGUS")
	assert.Empty(t, queuedLines(fresh), "unregistered connections get silence")

	alice := registerClient(t, server, "alice", "host")
	inject(t, server, alice, "BOGUS")
	lines := strings.Join(queuedLines(alice), "\n")
	assert.Contains(t, lines, " 421 alice BOGUS ")
}

func TestFloodPenaltyDefersAndKills(t *testing.T) {
	server := newTestServer(t)
	conn := newTestConn(server, "host")

	verdicts := make(map[FloodVerdict]int)
	for i := 0; i < 40; i++ {
		verdicts[conn.AccruePenalty(penaltyNormal)]++
	}

	assert.NotZero(t, verdicts[FloodOk])
	assert.NotZero(t, verdicts[FloodDefer])
	assert.NotZero(t, verdicts[FloodKill])
}
