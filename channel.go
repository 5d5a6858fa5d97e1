/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"bytes"
	"sync"
	"time"
)

// Channel mode bitmasks for the no-parameter boolean modes. Param modes
// (+k, +l) and list modes (+b/+e/+I) and prefix modes (+qaohv) live in
// their own fields, driven by the mode engine in modes.go.
const (
	ChanModeNoExternal uint64 = 1 << iota // +n
	ChanModeModerated                     // +m
	ChanModeSecret                        // +s
	ChanModePrivate                       // +p
	ChanModeTopicLock                     // +t
	ChanModeInviteOnly                    // +i
	ChanModeOperOnly                      // +O
	ChanModeRegOnly                       // +r
	ChanModeNoCTCP                        // +C
	ChanModeStripColor                    // +c
)

// Prefix ranks, lowest first. A Membership's Rank is the highest of
// these it currently holds, per spec.md 4.4's "source's prefix rank".
const (
	RankNone uint8 = iota
	RankVoice
	RankHalfOp
	RankOp
	RankAdmin
	RankFounder
)

// rankPrefix maps a rank to its NAMES-list sigil.
func rankPrefix(r uint8) byte {
	switch r {
	case RankFounder:
		return '~'
	case RankAdmin:
		return '&'
	case RankOp:
		return '@'
	case RankHalfOp:
		return '%'
	case RankVoice:
		return '+'
	default:
		return 0
	}
}

// ListEntry is one entry in a channel's ban/except/invex list.
type ListEntry struct {
	Mask   string
	Setter string
	Set    time.Time
}

// Membership links a User to a Channel with the rank/state local to
// that pairing. Per spec.md 9's storage note, memberships are owned by
// the Channel and referenced (non-owning) from the User; destruction of
// either side invalidates the other's reference via RemoveMembership/
// the Channel's own member-map deletion.
type Membership struct {
	User    *User
	Channel *Channel
	Rank    uint8
	Joined  time.Time
}

// HasRank reports whether this membership meets or exceeds the given
// rank, the access check spec.md 4.4/4.5 uses for KICK and mode changes.
func (m *Membership) HasRank(r uint8) bool {
	return m.Rank >= r
}

// Channel represents a single IRC channel: topic, mode state, the
// persisted ban/except/invex/key lists, and the live membership set.
type Channel struct {
	mu sync.RWMutex

	name    string
	created time.Time

	topic       string
	topicSetter string
	topicSet    time.Time

	modes uint64
	key   string
	limit int

	bans    map[string]*ListEntry
	excepts map[string]*ListEntry
	invex   map[string]*ListEntry
	invites map[string]time.Time // folded nick -> expiry (zero = no expiry)

	members map[string]*Membership // folded nick -> membership
}

// NewChannel initializes an empty channel with the given name.
func NewChannel(name string) *Channel {
	return &Channel{
		name:    name,
		created: time.Now(),
		bans:    make(map[string]*ListEntry),
		excepts: make(map[string]*ListEntry),
		invex:   make(map[string]*ListEntry),
		invites: make(map[string]time.Time),
		members: make(map[string]*Membership),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Created returns the channel's creation timestamp.
func (c *Channel) Created() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.created
}

// Topic returns the current topic text, setter hostmask, and set time.
func (c *Channel) Topic() (text, setter string, at time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topic, c.topicSetter, c.topicSet
}

// SetTopic installs a new topic, recording who set it and when.
func (c *Channel) SetTopic(text, setter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = text
	c.topicSetter = setter
	c.topicSet = time.Now()
}

// Modes returns the no-parameter mode bitmask.
func (c *Channel) Modes() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modes
}

// ModeIsSet reports whether every bit in mask is set.
func (c *Channel) ModeIsSet(mask uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modes&mask == mask
}

// AddMode sets the given no-parameter mode bits.
func (c *Channel) AddMode(mask uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes |= mask
}

// DelMode clears the given no-parameter mode bits.
func (c *Channel) DelMode(mask uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes &^= mask
}

// Key returns the current channel key, empty if +k is unset.
func (c *Channel) Key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// SetKey installs (or, passed "", clears) the channel key.
func (c *Channel) SetKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
}

// Limit returns the current join limit; zero means +l is unset.
func (c *Channel) Limit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limit
}

// SetLimit installs (or, passed 0, clears) the join limit.
func (c *Channel) SetLimit(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = n
}

// MemberCount returns the number of current members.
func (c *Channel) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Empty reports whether the channel has no members, the trigger for
// check_destroy in spec.md 4.4.
func (c *Channel) Empty() bool {
	return c.MemberCount() == 0
}

// Find returns the membership for the given folded nick, if present.
func (c *Channel) Find(foldedNick string) (*Membership, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[foldedNick]
	return m, ok
}

// Join creates a membership for user if one does not already exist,
// returning the (possibly pre-existing) Membership, per spec.md 4.4's
// "channel.join(user) -> Membership" contract. The caller is responsible
// for every precondition check (attempt_join) before calling this.
func (c *Channel) Join(user *User, foldedNick string) *Membership {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.members[foldedNick]; ok {
		return m
	}
	m := &Membership{User: user, Channel: c, Joined: time.Now()}
	c.members[foldedNick] = m
	return m
}

// Remove erases a membership, called by part/kick/quit cleanup.
func (c *Channel) Remove(foldedNick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, foldedNick)
}

// Broadcast writes msg to every member whose rank is >= minRank and
// whose folded nick is not in except, per spec.md 4.4's
// "channel.broadcast" contract. except keys must already be folded
// under cm by the caller.
func (c *Channel) Broadcast(msg *Message, minRank uint8, except map[string]bool, cm CaseMapping) {
	c.mu.RLock()
	members := make([]*Membership, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, m)
	}
	c.mu.RUnlock()

	buf := msg.RenderBuffer()
	defer bufpool.Recycle(buf)

	for _, m := range members {
		if m.Rank < minRank {
			continue
		}
		if except != nil && except[FoldString(cm, m.User.Nick())] {
			continue
		}
		if conn := m.User.Conn(); conn != nil {
			conn.Write(buf)
		}
	}
}

// Names returns the prefixed nick list for a NAMES/JOIN reply, per
// spec.md 6.
func (c *Channel) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.members))
	var b bytes.Buffer
	for _, m := range c.members {
		if p := rankPrefix(m.Rank); p != 0 {
			b.WriteByte(p)
		}
		b.WriteString(m.User.Nick())
		names = append(names, b.String())
		b.Reset()
	}
	return names
}

// AddBan adds a mask to the ban list; returns false if already present
// (spec.md 4.5: "attempts to set an already-present mask are silently
// rejected").
func (c *Channel) AddBan(mask, setter string) bool {
	return addListEntry(&c.mu, c.bans, mask, setter)
}

// RemoveBan removes a mask from the ban list; returns false if absent.
func (c *Channel) RemoveBan(mask string) bool {
	return removeListEntry(&c.mu, c.bans, mask)
}

// Bans returns a snapshot of the ban list.
func (c *Channel) Bans() []*ListEntry {
	return snapshotList(&c.mu, c.bans)
}

// AddExcept adds a mask to the ban-exception list.
func (c *Channel) AddExcept(mask, setter string) bool {
	return addListEntry(&c.mu, c.excepts, mask, setter)
}

// RemoveExcept removes a mask from the ban-exception list.
func (c *Channel) RemoveExcept(mask string) bool {
	return removeListEntry(&c.mu, c.excepts, mask)
}

// Excepts returns a snapshot of the ban-exception list.
func (c *Channel) Excepts() []*ListEntry {
	return snapshotList(&c.mu, c.excepts)
}

// AddInvex adds a mask to the invite-exception list.
func (c *Channel) AddInvex(mask, setter string) bool {
	return addListEntry(&c.mu, c.invex, mask, setter)
}

// RemoveInvex removes a mask from the invite-exception list.
func (c *Channel) RemoveInvex(mask string) bool {
	return removeListEntry(&c.mu, c.invex, mask)
}

// Invex returns a snapshot of the invite-exception list.
func (c *Channel) Invex() []*ListEntry {
	return snapshotList(&c.mu, c.invex)
}

// Invite records a one-shot INVITE for the given folded nick.
func (c *Channel) Invite(foldedNick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invites[foldedNick] = time.Time{}
}

// Invited reports whether the given folded nick currently holds an
// outstanding invite.
func (c *Channel) Invited(foldedNick string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.invites[foldedNick]
	return ok
}

// ClearInvite erases an outstanding invite, consumed on successful join.
func (c *Channel) ClearInvite(foldedNick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.invites, foldedNick)
}

// Banned reports whether the given nick/user/host/ip tuple matches any
// entry on the ban list and none on the except list, trying plain
// nick!user@host masks against real host, displayed host, and IP in
// turn, and delegating "name:value" entries to registered extban
// handlers, per spec.md 4.4.
func (c *Channel) Banned(u *User, cm CaseMapping) bool {
	if listMatches(&c.mu, c.excepts, u, cm) {
		return false
	}
	return listMatches(&c.mu, c.bans, u, cm)
}

func listMatches(mu *sync.RWMutex, list map[string]*ListEntry, u *User, cm CaseMapping) bool {
	mu.RLock()
	entries := make([]*ListEntry, 0, len(list))
	for _, e := range list {
		entries = append(entries, e)
	}
	mu.RUnlock()

	nick, name := u.Nick(), u.Name()
	for _, e := range entries {
		if eb, ok := ParseExtBan(e.Mask); ok {
			handler, known := extBanHandlers[eb.Name]
			if !known {
				continue
			}
			matched := handler(eb.Value, u, cm)
			if eb.Invert {
				matched = !matched
			}
			if matched {
				return true
			}
			continue
		}
		m := ParseHostMask(e.Mask)
		if m.MatchesUser(nick, name, u.RealHost(), cm) ||
			m.MatchesUser(nick, name, u.DisplayHost(), cm) ||
			m.MatchesUser(nick, name, u.IP(), cm) {
			return true
		}
	}
	return false
}

func addListEntry(mu *sync.RWMutex, list map[string]*ListEntry, mask, setter string) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := list[mask]; exists {
		return false
	}
	list[mask] = &ListEntry{Mask: mask, Setter: setter, Set: time.Now()}
	return true
}

func removeListEntry(mu *sync.RWMutex, list map[string]*ListEntry, mask string) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := list[mask]; !exists {
		return false
	}
	delete(list, mask)
	return true
}

func snapshotList(mu *sync.RWMutex, list map[string]*ListEntry) []*ListEntry {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]*ListEntry, 0, len(list))
	for _, e := range list {
		out = append(out, e)
	}
	return out
}
