/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// RegState is the explicit connection registration state machine.
type RegState uint8

const (
	StateAccepted RegState = iota
	StateIdentifying
	StateNicknameChosen
	StateUserAnnounced
	StateCapabilityNegotiating
	StatePasswordChecked
	StateFullyRegistered
	StateClosing
)

func (s RegState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateIdentifying:
		return "identifying"
	case StateNicknameChosen:
		return "nickname_chosen"
	case StateUserAnnounced:
		return "user_announced"
	case StateCapabilityNegotiating:
		return "capability_negotiating"
	case StatePasswordChecked:
		return "password_checked"
	case StateFullyRegistered:
		return "fully_registered"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// User represents one registered (or registering) client. The stable ID
// survives nick changes; the nick is just a mutable, indexed attribute.
type User struct {
	Extensible

	mu sync.RWMutex

	ID     string
	nick   string
	name   string // ident/username
	host   string // real connection hostname/address
	vhost  string // vanity/cloaked host shown in place of the real one
	real   string // realname/gecos
	server string // SID of the owning server
	ts     time.Time

	perm  uint8
	umode uint64
	snomask uint32

	away string

	account string // SASL/services account name, empty if not logged in

	caps       Capabilities
	capBits    int
	state      RegState
	lastActive time.Time

	conn *Conn

	memberships map[*Channel]*Membership

	quitSent bool
	culled   bool
}

// NewUser constructs a User in the initial accepted state, bound to conn.
func NewUser(id string, conn *Conn) *User {
	now := time.Now()
	return &User{
		ID:          id,
		conn:        conn,
		ts:          now,
		lastActive:  now,
		perm:        UPermUser,
		state:       StateAccepted,
		memberships: make(map[*Channel]*Membership),
	}
}

// Nick returns the user's current nickname.
func (u *User) Nick() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.nick
}

// SetNick updates the user's nickname. Callers are responsible for keeping
// the server's nick index in sync (Server.RenameUser does both).
func (u *User) SetNick(nick string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nick = nick
}

// Ident returns the user's username ("ident") field.
func (u *User) Ident() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.name
}

// SetIdent sets the user's username field.
func (u *User) SetIdent(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.name = name
}

// Host returns the hostname shown publicly: the vhost if one is set,
// otherwise the real host.
func (u *User) Host() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.vhost != "" {
		return u.vhost
	}
	return u.host
}

// SetHost records the user's real hostname or address.
func (u *User) SetHost(host string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.host = host
}

// SetVHost sets the display hostname shown in place of the real one.
func (u *User) SetVHost(vhost string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.vhost = vhost
}

// RealName returns the user's realname/gecos field.
func (u *User) RealName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.real
}

// SetRealName sets the user's realname/gecos field.
func (u *User) SetRealName(real string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.real = real
}

// Away returns the user's away message, empty when not away.
func (u *User) Away() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.away
}

// SetAway sets or clears (empty string) the user's away message.
func (u *User) SetAway(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.away = msg
}

// Account returns the services account the user is identified to, empty if
// none.
func (u *User) Account() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.account
}

// SignonAt returns when the user connected.
func (u *User) SignonAt() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.ts
}

// SetSignonAt overrides the signon timestamp, used when merging state for
// a user announced by a peer with its own timestamp.
func (u *User) SetSignonAt(ts time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ts = ts
}

// Perm returns the user's server permission level.
func (u *User) Perm() uint8 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.perm
}

// SetPerm sets the user's server permission level.
func (u *User) SetPerm(perm uint8) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.perm = perm
}

// Snomask returns the user's snotice subscription bitmask.
func (u *User) Snomask() uint32 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.snomask
}

// SetSnomask replaces the user's snotice subscription bitmask.
func (u *User) SetSnomask(mask uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.snomask = mask
}

// Local reports whether this user is served by this process (has a
// Connection) rather than learned from a peer server.
func (u *User) Local() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.conn != nil
}

// Conn returns the user's connection, nil for remote users.
func (u *User) Conn() *Conn {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.conn
}

// Caps returns the user's negotiated capability bitmask.
func (u *User) Caps() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.capBits
}

// SetCap flips one capability bit on or off.
func (u *User) SetCap(bit int, enabled bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if enabled {
		u.capBits |= bit
	} else {
		u.capBits &^= bit
	}
}

// HasCap reports whether the given capability bit has been negotiated.
func (u *User) HasCap(bit int) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.capBits&bit != 0
}

// Mask renders the standard nick!user@host hostmask, preferring the vhost
// if one has been set.
func (u *User) Mask() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	host := u.host
	if u.vhost != "" {
		host = u.vhost
	}
	return fmt.Sprintf("%s!%s@%s", u.nick, u.name, host)
}

// Registered reports whether the user has completed the registration FSM.
func (u *User) Registered() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state == StateFullyRegistered
}

// State returns the current registration state.
func (u *User) State() RegState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// SetState transitions the user's registration state machine.
func (u *User) SetState(s RegState) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = s
}

// UModeString renders the user's current modes as a "+..." string for the
// 221 user-mode-is reply.
func (u *User) UModeString() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := []byte{'+'}
	for letter, bit := range userModeTable {
		if u.umode&bit != 0 {
			out = append(out, letter)
		}
	}
	if len(out) > 2 {
		sorted := out[1:]
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	}
	return string(out)
}

// HasUMode reports whether umode is currently set on the user.
func (u *User) HasUMode(mode uint64) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.umode&mode == mode
}

// IsOper reports whether the user currently holds operator-or-above perms.
func (u *User) IsOper() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.perm >= UPermHelpOp
}

// Touch records client activity for idle/ping-timeout accounting.
func (u *User) Touch(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastActive = now
}

// IdleFor returns how long it has been since the user was last active.
func (u *User) IdleFor(now time.Time) time.Duration {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return now.Sub(u.lastActive)
}

// Channels returns the set of channels the user currently has membership in.
func (u *User) Channels() []*Channel {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]*Channel, 0, len(u.memberships))
	for ch := range u.memberships {
		out = append(out, ch)
	}
	return out
}

// MembershipOn returns the user's Membership on ch, if any.
func (u *User) MembershipOn(ch *Channel) (*Membership, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	m, ok := u.memberships[ch]
	return m, ok
}

func (u *User) addMembership(m *Membership) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.memberships[m.Channel] = m
}

func (u *User) removeMembership(ch *Channel) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.memberships, ch)
}

// SendLine queues raw (already-rendered) bytes of a message onto the
// user's connection sendq.
func (u *User) SendLine(line string) {
	u.mu.RLock()
	conn := u.conn
	u.mu.RUnlock()
	if conn != nil {
		conn.QueueLine(line)
	}
}

// SendChunk queues an already-rendered shared chunk to the user's
// connection, retaining a reference for this recipient.
func (u *User) SendChunk(ch *chunk) {
	u.mu.RLock()
	conn := u.conn
	u.mu.RUnlock()
	if conn != nil {
		conn.QueueChunk(ch)
	}
}

// Send renders msg with the server's own source and queues it to the user.
func (u *User) Send(msg *Message) {
	u.SendLine(msg.Render())
}

// Cull finalizes a destroyed user: it parts every channel it was a member
// of and reports any channel that became empty as a result so the same
// cull sweep finalizes it too. The user's ID is released earlier, by
// Server.UnregisterUser.
func (u *User) Cull() []Cullable {
	u.mu.Lock()
	if u.culled {
		u.mu.Unlock()
		return nil
	}
	u.culled = true
	memberships := u.memberships
	u.memberships = make(map[*Channel]*Membership)
	u.mu.Unlock()

	u.DisposeExtensions()

	var adrift []Cullable
	for ch, m := range memberships {
		if ch.removeMembership(m) {
			adrift = append(adrift, ch)
		}
	}
	return adrift
}

// casefold implements RFC 1459 casemapping: ASCII lowercased, with
// "[]\~" mapped onto "{}|^" so nick/channel comparisons treat them as
// equivalent.
func casefold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		case r == '[':
			b.WriteRune('{')
		case r == ']':
			b.WriteRune('}')
		case r == '\\':
			b.WriteRune('|')
		case r == '~':
			b.WriteRune('^')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
