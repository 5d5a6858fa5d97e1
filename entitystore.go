/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"sync"

	"github.com/coredaemon/ircd/shared/concurrentmap"
)

// EntityStore is the process-wide C3 component: it owns the mappings from
// name/UID/SID to User, Channel, and Server objects. Adapted from the
// teacher's hand-rolled chan_map.go/conn_map.go (which only ever covered
// channels and raw connections, and never shipped the UserMap type their
// own Server struct references) into one generic component built on
// shared/concurrentmap, so every lookup goes through the same casemap
// fold (spec.md 4.2) instead of three divergent copy-pasted maps.
type EntityStore struct {
	casemap CaseMapping

	// rebuildMu serializes RebuildIndices against concurrent dispatch,
	// satisfying spec.md 4.1's "MUST complete atomically with respect to
	// inbound command dispatch".
	rebuildMu sync.Mutex

	usersByNick concurrentmap.ConcurrentMap[string, *User]
	usersByUID  concurrentmap.ConcurrentMap[string, *User]
	channels    concurrentmap.ConcurrentMap[string, *Channel]
	serversByName concurrentmap.ConcurrentMap[string, *ServerLink]
	serversBySID  concurrentmap.ConcurrentMap[string, *ServerLink]
}

// NewEntityStore constructs an empty store under the given casemap.
func NewEntityStore(cm CaseMapping) *EntityStore {
	return &EntityStore{
		casemap:       cm,
		usersByNick:   concurrentmap.New[string, *User](),
		usersByUID:    concurrentmap.New[string, *User](),
		channels:      concurrentmap.New[string, *Channel](),
		serversByName: concurrentmap.New[string, *ServerLink](),
		serversBySID:  concurrentmap.New[string, *ServerLink](),
	}
}

// CaseMap returns the casemap currently governing index keys.
func (s *EntityStore) CaseMap() CaseMapping {
	return s.casemap
}

func (s *EntityStore) fold(name string) string {
	return FoldString(s.casemap, name)
}

// FindUserByNick looks up a user by nickname under the current casemap.
func (s *EntityStore) FindUserByNick(nick string) (*User, bool) {
	return s.usersByNick.Get(s.fold(nick))
}

// FindUserByUID looks up a user by its immutable UID (never case-folded;
// UIDs are opaque server-generated tokens per spec.md 3).
func (s *EntityStore) FindUserByUID(uid string) (*User, bool) {
	return s.usersByUID.Get(uid)
}

// InsertUser adds a newly-registered user to both indices. Fails with
// ErrDuplicateNick or ErrDuplicateUID if either key is already taken.
func (s *EntityStore) InsertUser(u *User) error {
	nick := s.fold(u.Nick())
	if s.usersByNick.Exists(nick) {
		return ErrDuplicateNick
	}
	if s.usersByUID.Exists(u.UID()) {
		return ErrDuplicateUID
	}
	s.usersByNick.Set(nick, u)
	s.usersByUID.Set(u.UID(), u)
	return nil
}

// RenameUser performs the atomic erase-then-insert nick rename described
// in spec.md 4.2. The old nick must belong to u, and newNick must not
// already be registered.
func (s *EntityStore) RenameUser(u *User, newNick string) error {
	if !IsValidNick(newNick, u.nickMax) {
		return ErrInvalidNick
	}
	oldKey := s.fold(u.Nick())
	newKey := s.fold(newNick)
	if newKey != oldKey && s.usersByNick.Exists(newKey) {
		return ErrNickInUse
	}
	s.usersByNick.Delete(oldKey)
	u.setNickLocked(newNick)
	s.usersByNick.Set(newKey, u)
	return nil
}

// RemoveUser erases a user from both indices. Called once the user has
// already been drained from every channel membership set (spec.md 3).
func (s *EntityStore) RemoveUser(u *User) {
	s.usersByNick.Delete(s.fold(u.Nick()))
	s.usersByUID.Delete(u.UID())
}

// FindChannel looks up a channel by name under the current casemap.
func (s *EntityStore) FindChannel(name string) (*Channel, bool) {
	return s.channels.Get(s.fold(name))
}

// InsertChannel registers a newly-created channel.
func (s *EntityStore) InsertChannel(c *Channel) error {
	key := s.fold(c.Name())
	if s.channels.Exists(key) {
		return ErrDuplicateChan
	}
	s.channels.Set(key, c)
	return nil
}

// RemoveChannel erases a channel, called once its member map is empty and
// no on_channel_pre_delete hook vetoed destruction (spec.md 3).
func (s *EntityStore) RemoveChannel(c *Channel) {
	s.channels.Delete(s.fold(c.Name()))
}

// EachChannel iterates every live channel. Used by RebuildIndices and by
// administrative commands (LIST).
func (s *EntityStore) EachChannel(fn func(*Channel)) {
	for _, c := range s.channels.Values() {
		fn(c)
	}
}

// EachUser iterates every registered user.
func (s *EntityStore) EachUser(fn func(*User)) {
	for _, u := range s.usersByUID.Values() {
		fn(u)
	}
}

// FindServer looks up a linked server by name.
func (s *EntityStore) FindServer(name string) (*ServerLink, bool) {
	return s.serversByName.Get(s.fold(name))
}

// FindServerBySID looks up a linked server by its 3-character SID. SIDs
// are not case-folded; they are fixed-case tokens assigned at link time.
func (s *EntityStore) FindServerBySID(sid string) (*ServerLink, bool) {
	return s.serversBySID.Get(sid)
}

// InsertServer registers a linked server under both indices.
func (s *EntityStore) InsertServer(srv *ServerLink) error {
	key := s.fold(srv.Name)
	if s.serversByName.Exists(key) {
		return ErrNoSuchServer
	}
	s.serversByName.Set(key, srv)
	s.serversBySID.Set(srv.SID, srv)
	return nil
}

// RemoveServer erases a linked server.
func (s *EntityStore) RemoveServer(srv *ServerLink) {
	s.serversByName.Delete(s.fold(srv.Name))
	s.serversBySID.Delete(srv.SID)
}

// RebuildIndices re-inserts every user and channel under a new casemap.
// Per spec.md 4.1, this must complete atomically with respect to inbound
// command dispatch; callers (the rehash path) are expected to hold the
// server's dispatch-suspension guard for the duration, and RebuildIndices
// itself holds rebuildMu so two rehashes can never interleave.
func (s *EntityStore) RebuildIndices(newCM CaseMapping) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	users := s.usersByUID.Values()
	channels := s.channels.Values()
	servers := s.serversBySID.Values()

	s.usersByNick.Clear()
	s.channels.Clear()
	s.serversByName.Clear()

	s.casemap = newCM

	for _, u := range users {
		s.usersByNick.Set(s.fold(u.Nick()), u)
	}
	for _, c := range channels {
		s.channels.Set(s.fold(c.Name()), c)
	}
	for _, srv := range servers {
		s.serversByName.Set(s.fold(srv.Name), srv)
	}
}

// ServerLink is the C3 "Server" entity: identity plus the hop/description
// metadata the core needs to source messages and route replies. The
// actual federation logic lives outside the core (spec.md 1).
type ServerLink struct {
	Name        string
	SID         string
	HopCount    int
	Description string
	Online      bool
	Services    bool
}
