/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Channel mode bitmask flags (simple Flag-kind modes; parameterized modes
// like key/limit get their own fields below, set through the Mode Engine).
const (
	CModeInviteOnly uint64 = 1 << iota
	CModeModerated
	CModeNoExternal
	CModeSecret
	CModePrivate
	CModeTopicLock
	CModeRegisteredOnly
	CModeNoColor
	CModePersistent
)

// Channel is the core channel entity: name, topic, creation timestamp (used
// for TS resolution when two servers announce the same channel), and the
// membership edges joining it to its Users. Every (User, Channel) pair has
// exactly one Membership edge carrying a rank bitmask.
type Channel struct {
	Extensible

	mu sync.RWMutex

	Name string
	ts   time.Time

	topic      string
	topicBy    string
	topicAt    time.Time

	key    string
	limit  int
	cmodes uint64

	server *Server

	members map[*User]*Membership
	bans    []*BanMask
	invex   []*BanMask
	excepts []*BanMask
	invited map[string]time.Time // casefolded nick -> expiry

	culled bool
}

// NewChannel constructs an empty channel with the given name, stamped with
// the current time for creation-time (TS) resolution.
func NewChannel(name string) *Channel {
	return &Channel{
		Name:    name,
		ts:      time.Now(),
		members: make(map[*User]*Membership),
		invited: make(map[string]time.Time),
	}
}

// CreatedAt returns the channel's creation timestamp, used for TS
// resolution when two servers announce the same channel independently.
func (c *Channel) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ts
}

// MergeTS resolves a competing creation of the same channel announced with
// its own timestamp and flag modes: the lower TS wins outright and its
// modes replace the loser's, while an equal TS merges the two mode sets.
// A higher remote TS changes nothing.
func (c *Channel) MergeTS(remoteTS time.Time, remoteModes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case remoteTS.Before(c.ts):
		c.ts = remoteTS
		c.cmodes = remoteModes
		c.key = ""
		c.limit = 0
	case remoteTS.Equal(c.ts):
		c.cmodes |= remoteModes
	}
}

// Topic returns the current topic text, setter mask, and set time.
func (c *Channel) Topic() (text, setBy string, setAt time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topic, c.topicBy, c.topicAt
}

// SetTopic updates the topic, recording who set it and when.
func (c *Channel) SetTopic(text, setBy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = text
	c.topicBy = setBy
	c.topicAt = time.Now()
}

// HasMode reports whether cmode is currently set on the channel.
func (c *Channel) HasMode(cmode uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cmodes&cmode == cmode
}

// CurrentModes renders the channel's active modes as a "+..." string plus
// the parameter values for the set parameterized modes. The key is masked
// unless the caller may see it.
func (c *Channel) CurrentModes(showKey bool) (string, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	modes := chanFlagLetters(c.cmodes)
	var params []string
	if c.key != "" {
		modes += "k"
		if showKey {
			params = append(params, c.key)
		} else {
			params = append(params, "*")
		}
	}
	if c.limit > 0 {
		modes += "l"
		params = append(params, strconv.Itoa(c.limit))
	}
	return "+" + modes, params
}

// IsBanned reports whether u matches the ban list without a covering
// exception.
func (c *Channel) IsBanned(u *User) bool {
	mask := u.Mask()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return matchesAny(c.bans, mask) && !matchesAny(c.excepts, mask)
}

// Members returns a snapshot of the channel's current memberships.
func (c *Channel) Members() []*Membership {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Membership, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// MemberCount returns the number of users currently joined.
func (c *Channel) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// MembershipOf returns u's Membership on this channel, if any.
func (c *Channel) MembershipOf(u *User) (*Membership, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[u]
	return m, ok
}

// admission runs the ordered admission checks: ban, key,
// invite-only, limit, registered-only. The first failing check wins.
func (c *Channel) admission(u *User, key string) error {
	mask := u.Mask()

	if matchesAny(c.bans, mask) && !matchesAny(c.excepts, mask) {
		return ErrBannedFromChan
	}

	if c.key != "" && c.key != key {
		return ErrBadChannelKey
	}

	if c.cmodes&CModeInviteOnly != 0 {
		_, invited := c.invited[casefold(u.Nick())]
		if !invited && !matchesAny(c.invex, mask) {
			return ErrInviteOnlyChan
		}
	}

	if c.limit > 0 && len(c.members) >= c.limit {
		return ErrChannelIsFull
	}

	if c.cmodes&CModeRegisteredOnly != 0 && u.account == "" {
		return ErrInsuffPerms
	}

	return nil
}

// Join admits u to the channel after running admission checks, creating a
// Membership (with RankOp if the channel was previously empty) and
// registering it on both sides of the edge.
func (c *Channel) Join(u *User, key string) (*Membership, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, already := c.members[u]; already {
		return nil, ErrAlreadyOnChan
	}

	if err := c.admission(u, key); err != nil {
		return nil, err
	}

	m := &Membership{User: u, Channel: c, joined: time.Now()}
	if len(c.members) == 0 {
		m.rank = RankOp
	}
	c.members[u] = m
	delete(c.invited, casefold(u.Nick()))

	u.addMembership(m)
	return m, nil
}

// Part removes u's membership, returning true if the channel is now empty
// (the caller should then schedule the channel itself for culling).
func (c *Channel) Part(u *User) (empty bool, err error) {
	c.mu.Lock()
	m, ok := c.members[u]
	if !ok {
		c.mu.Unlock()
		return false, ErrUserNotInChan
	}
	delete(c.members, u)
	empty = len(c.members) == 0
	c.mu.Unlock()

	u.removeMembership(c)
	_ = m
	return empty, nil
}

// removeMembership is the Channel-initiated half of Part, used when a User
// is culled and needs to unlink from every channel it belonged to. Returns
// true if the channel became empty as a result.
func (c *Channel) removeMembership(m *Membership) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, m.User)
	return len(c.members) == 0
}

// Invite records an invite for nick, expiring it after the given duration.
func (c *Channel) Invite(nick string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invited[casefold(nick)] = time.Now().Add(ttl)
}

// PruneInvites drops any invite entries that have expired as of now. Wired
// onto the Timer Wheel by the server so invite-only channels don't leak
// memory from stale invites.
func (c *Channel) PruneInvites(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for nick, expiry := range c.invited {
		if now.After(expiry) {
			delete(c.invited, nick)
		}
	}
}

// Names returns the NAMES-reply tokens for the channel: each member's
// prefix (if any, multi if multiPrefix is set) concatenated with their nick.
func (c *Channel) Names(multiPrefix bool) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.members))
	for u, m := range c.members {
		prefix := m.rank.Prefix()
		if multiPrefix {
			prefix = m.rank.AllPrefixes()
		}
		out = append(out, prefix+u.Nick())
	}
	sort.Strings(out)
	return out
}

// Broadcast renders msg once and queues it to every member's connection
// except the excluded user (typically the sender, when not echoing), using
// the same shared chunk so the cost of a broadcast is O(bytes) rendered
// once, not O(bytes) per recipient.
func (c *Channel) Broadcast(msg *Message, except *User) {
	shared := newChunk([]byte(msg.Render()))
	c.mu.RLock()
	defer c.mu.RUnlock()
	for u := range c.members {
		if u == except {
			continue
		}
		u.SendChunk(shared)
	}
	shared.release()
}

// Cull finalizes an emptied channel: it severs any remaining memberships
// (defensive; Part/User.Cull should have already emptied it) and reports no
// further adrift objects, since Memberships carry no independent lifetime
// of their own.
func (c *Channel) Cull() []Cullable {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.culled {
		return nil
	}
	c.culled = true
	for u, m := range c.members {
		delete(c.members, u)
		u.removeMembership(c)
		m.DisposeExtensions()
	}
	c.DisposeExtensions()
	return nil
}

func matchesAny(masks []*BanMask, hostmask string) bool {
	for _, b := range masks {
		if b.Match(hostmask) {
			return true
		}
	}
	return false
}

// validChannelName reports whether name is a syntactically valid channel
// name: starts with '#' (or '&' for local-only channels), contains no
// spaces, commas, or control characters, and respects MaxChanLength.
func validChannelName(name string) bool {
	if len(name) < 2 || len(name) > MaxChanLength {
		return false
	}
	if name[0] != '#' && name[0] != '&' {
		return false
	}
	return !strings.ContainsAny(name, " ,\x07:")
}
