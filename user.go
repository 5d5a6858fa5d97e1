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

// Registration bitset values, per spec.md 3. A session is marked
// FULLY_CONNECTED once both NICK_RECEIVED and USER_RECEIVED are set and
// registration completes.
const (
	RegNone uint8 = 0
	RegNick uint8 = 1 << iota
	RegUser
	RegFullyConnected
)

// User holds all state in the context of a connected (or linked-in)
// client. Identity is split the way spec.md 3 describes it: UID is an
// immutable per-session token assigned at accept and never reused;
// nickname is mutable and unique only under C1 case-folding.
type User struct {
	mu sync.RWMutex

	uid  string
	nick string

	name string // ident/username
	real string // real name ("gecos")

	realHost string // connection-derived, never shown to regular users if cloaked
	dispHost string // displayed/masked host; falls back to realHost when empty
	ip       string

	away string

	perm uint8
	mode uint64

	nickMax int // copied from the governing Config at registration time

	oper *OperBlock

	reg uint8

	signon time.Time
	idle   time.Time

	penalty time.Duration

	channels map[string]*Membership

	conn *Conn
}

// NewUser constructs a User bound to the given connection and UID. The
// caller is expected to fill in nick/name/host as registration proceeds.
func NewUser(uid string, conn *Conn, nickMax int) *User {
	now := time.Now()
	return &User{
		uid:      uid,
		conn:     conn,
		perm:     UPermUser,
		nickMax:  nickMax,
		signon:   now,
		idle:     now,
		channels: make(map[string]*Membership),
	}
}

// UID returns the user's immutable session identifier.
func (u *User) UID() string {
	return u.uid
}

// Hostmask returns "<nick>!<username>@<host>", preferring the displayed
// (possibly cloaked) host over the real one.
func (u *User) Hostmask() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hostmaskLocked(false)
}

// RealHostmask returns "<nick>!<username>@<host>" using the real,
// connection-derived host regardless of any displayed-host override.
func (u *User) RealHostmask() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hostmaskLocked(true)
}

func (u *User) hostmaskLocked(real bool) string {
	var b bytes.Buffer
	b.WriteString(u.nick)
	b.WriteByte('!')
	b.WriteString(u.name)
	b.WriteByte('@')
	if real || u.dispHost == "" {
		b.WriteString(u.realHost)
	} else {
		b.WriteString(u.dispHost)
	}
	return b.String()
}

// Nick returns the current nickname.
func (u *User) Nick() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.nick
}

// setNickLocked is called by EntityStore.RenameUser, which already
// serializes the rename against the old/new index keys, and by
// handleNick for a session's first nick, before the user is indexed; it
// does not itself need the entity store's lock, only the user's own.
func (u *User) setNickLocked(nick string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nick = nick
	u.reg |= RegNick
}

// Name returns the ident/username.
func (u *User) Name() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.name
}

// SetName sets the ident/username and marks USER_RECEIVED.
func (u *User) SetName(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.name = name
	u.reg |= RegUser
}

// Realname returns the real name ("gecos") field.
func (u *User) Realname() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.real
}

// SetRealname sets the real name field.
func (u *User) SetRealname(real string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.real = real
}

// RealHost returns the connection-derived host, never masked.
func (u *User) RealHost() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.realHost
}

// SetRealHost sets the connection-derived host, normally done once at
// accept time from the socket's remote address.
func (u *User) SetRealHost(host string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.realHost = host
}

// DisplayHost returns the host shown to other users: the masked/cloaked
// host if one is set, otherwise the real host.
func (u *User) DisplayHost() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.dispHost != "" {
		return u.dispHost
	}
	return u.realHost
}

// SetDisplayHost installs a masked/cloaked host override. Clearing it
// (empty string) reverts display to the real host.
func (u *User) SetDisplayHost(host string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dispHost = host
}

// IP returns the string form of the connection's remote address, used
// for CIDR ban matching independent of any reverse-DNS host.
func (u *User) IP() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.ip
}

// SetIP sets the connection's remote address.
func (u *User) SetIP(ip string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ip = ip
}

// Away returns the away message, empty if the user is not away.
func (u *User) Away() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.away
}

// SetAway sets the away message. Callers own UModeAway bookkeeping via
// AddMode/DelMode separately, since that also drives mode-change
// notification which this method does not perform.
func (u *User) SetAway(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.away = msg
}

// Account returns the SASL/NickServ account name this user is logged
// into, derived from its operator block name if present. The core ships
// no account database of its own (spec.md 1); services layer this on.
func (u *User) Account() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.oper != nil {
		return u.oper.Name
	}
	return ""
}

// ServerName returns the name of the server this user is local to.
func (u *User) ServerName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return ""
	}
	return u.conn.server.hostname
}

// Permission returns the user's legacy-style permission level.
func (u *User) Permission() uint8 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.perm
}

// SetPermission sets the user's legacy-style permission level.
func (u *User) SetPermission(perm uint8) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.perm = perm
}

// Mode returns the full user-mode bitmask.
func (u *User) Mode() uint64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.mode
}

// AddMode sets the given user-mode bits.
func (u *User) AddMode(umode uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mode |= umode
}

// DelMode clears the given user-mode bits.
func (u *User) DelMode(umode uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mode &^= umode
}

// ModeIsSet reports whether every bit in umode is currently set.
func (u *User) ModeIsSet(umode uint64) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.mode&umode == umode
}

// Oper returns the operator account bound to this user, nil if the user
// has not successfully OPERed.
func (u *User) Oper() *OperBlock {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.oper
}

// SetOper binds (or, passed nil, clears) the operator account.
func (u *User) SetOper(o *OperBlock) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.oper = o
}

// IsOper reports whether this user currently holds an operator account.
func (u *User) IsOper() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.oper != nil
}

// Registration returns the current registration bitset.
func (u *User) Registration() uint8 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.reg
}

// MarkUserReceived records that a USER command has been processed.
func (u *User) MarkUserReceived() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reg |= RegUser
}

// FullyConnected reports whether the session has crossed into the
// fully-registered state from spec.md 4.3, i.e. whether
// MarkFullyConnected has latched FULLY_CONNECTED.
func (u *User) FullyConnected() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.reg&RegFullyConnected != 0
}

// MarkFullyConnected records that on_user_register has fired and
// succeeded, latching FULLY_CONNECTED even across later nick changes
// (which otherwise would not re-set RegNick).
func (u *User) MarkFullyConnected() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reg |= RegFullyConnected
}

// SignonTime returns when this session first connected.
func (u *User) SignonTime() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.signon
}

// IdleTime returns the timestamp of the user's last command.
func (u *User) IdleTime() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.idle
}

// Touch refreshes the idle timestamp to now, called by the dispatcher
// after every successfully handled command.
func (u *User) Touch(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.idle = now
}

// Penalty returns the current accumulated penalty, per spec.md 4.3.
func (u *User) Penalty() time.Duration {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.penalty
}

// AddPenalty debits the given cost onto the accumulator.
func (u *User) AddPenalty(cost time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.penalty += cost
}

// DecayPenalty reduces the accumulator by the elapsed wall-clock amount,
// never going below zero. Called once per heartbeat tick.
func (u *User) DecayPenalty(elapsed time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.penalty -= elapsed
	if u.penalty < 0 {
		u.penalty = 0
	}
}

// Throttled reports whether the accumulated penalty exceeds threshold,
// meaning the session's socket reads should be suspended.
func (u *User) Throttled(threshold time.Duration) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.penalty > threshold
}

// Conn returns the underlying connection, nil for a remote/linked user.
func (u *User) Conn() *Conn {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.conn
}

// Membership returns this user's membership record for a channel, keyed
// by the channel's folded name, and whether it exists.
func (u *User) Membership(foldedName string) (*Membership, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	m, ok := u.channels[foldedName]
	return m, ok
}

// AddMembership records that the user has joined a channel.
func (u *User) AddMembership(foldedName string, m *Membership) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.channels[foldedName] = m
}

// RemoveMembership erases a channel membership record, called on part,
// kick, or disconnect.
func (u *User) RemoveMembership(foldedName string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.channels, foldedName)
}

// ChannelCount returns how many channels the user currently occupies,
// checked against Config.MaxJoinedChannels before a JOIN.
func (u *User) ChannelCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.channels)
}

// EachMembership iterates every channel the user currently occupies. fn
// must not call back into the user's own locked methods.
func (u *User) EachMembership(fn func(*Membership)) {
	u.mu.RLock()
	memberships := make([]*Membership, 0, len(u.channels))
	for _, m := range u.channels {
		memberships = append(memberships, m)
	}
	u.mu.RUnlock()
	for _, m := range memberships {
		fn(m)
	}
}

// HigherPerms reports whether this user outranks target under the
// legacy permission ladder.
func (u *User) HigherPerms(target uint8) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.perm > target
}
